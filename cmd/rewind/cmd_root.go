// Root command configuration for the rewind CLI.
// Defines global flags, logging setup, and top-level command metadata.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand. Empty
// strings mean "not set"; resolveConfig folds them over the environment.
type globalFlags struct {
	Backend     string
	DataDir     string
	DatabaseURL string
	RedisAddr   string
	JSON        bool
	Quiet       bool
	Verbose     bool
}

var globalOpts globalFlags

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Time-travel queries over finished contest standings.",
	Long: `rewind replays a finished contest's submission stream and answers
"what did the standings look like at T seconds in?" — fast, through a
base+delta snapshot chain instead of a full recomputation per query.
Data lives in a local JSON directory or Postgres; both behave the same.`,
	SilenceUsage:  true, // Don't print usage on every error
	SilenceErrors: true, // We handle errors in main
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalOpts.Backend, "backend", "", "Storage backend: file, postgres or memory (default file)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.DataDir, "data-dir", "", "Data directory for the file backend (default .rewind)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.DatabaseURL, "database-url", "", "Postgres DSN for the postgres backend")
	rootCmd.PersistentFlags().StringVar(&globalOpts.RedisAddr, "redis-addr", "", "Redis host:port for the cache and task queue")
	rootCmd.PersistentFlags().BoolVar(&globalOpts.JSON, "json", false, "Output JSON")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "Log errors only")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "Debug logging")

	rootCmd.Version = version
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(globalOpts))
	}
}

// newLogger builds the process logger honoring --quiet and --verbose.
func newLogger(opts globalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case opts.Quiet:
		level = slog.LevelError
	case opts.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		exitErr(err, &globalOpts)
	}
}
