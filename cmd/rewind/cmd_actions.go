// Purpose: Wire cobra subcommands to the engine's operations.
// Exports: none.
// Role: CLI composition layer for user-facing commands.
// Invariants: Flags and command names align with the quickstart doc.
// Notes: init functions register commands and their flags.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/contestops/rewind/internal/metrics"
	"github.com/contestops/rewind/internal/rewind"
	"github.com/contestops/rewind/internal/sched"
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotBuildCmd)
	snapshotCmd.AddCommand(snapshotBulkCmd)
	snapshotCmd.AddCommand(snapshotInitCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRmCmd)
	snapshotCmd.AddCommand(snapshotEnqueueCmd)
	rootCmd.AddCommand(standingsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(quickstartCmd)
	rootCmd.AddCommand(versionCmd)
}

// -- import --
var importCmd = &cobra.Command{
	Use:   "import <dump.json>",
	Short: "Load a contest dump into the configured backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		dump, err := rewind.ReadDump(f)
		if err != nil {
			return err
		}

		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		sum, err := engine.ImportDump(cmd.Context(), dump)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), sum)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported contest %d: %d problems, %d submissions, %d hacks\n",
			sum.ContestID, sum.Problems, sum.Submissions, sum.Hacks)
		return nil
	},
}

// -- export --
var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a contest's records back out as a dump",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		dump, err := engine.ExportDump(cmd.Context(), snapContest)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return rewind.WriteDump(w, dump)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&snapContest, "contest", 0, "Contest ID")
	exportCmd.MarkFlagRequired("contest")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
}

// -- snapshot --
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Build, list and remove standings snapshots",
}

var (
	snapContest int64
	snapAt      int64
)

var snapshotBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the scheduled snapshot at one timestamp",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		res, err := engine.CreateSnapshot(cmd.Context(), snapContest, snapAt)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s snapshot created at t=%d\n", res.Kind, res.TimestampSeconds())
		return nil
	},
}

var (
	bulkFrom          int64
	bulkTo            int64
	bulkBaseInterval  int64
	bulkDeltaInterval int64
)

var snapshotBulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Build every scheduled snapshot in a window",
	Long: `Builds one snapshot per cadence point in [--from, --to]: bases at
base-interval multiples, deltas at delta-interval multiples, bases winning
coincidence points. --to defaults to the contest duration. Individual
failures are reported and skipped; the window always runs to completion.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()

		to := bulkTo
		if !cmd.Flags().Changed("to") {
			contest, err := engine.Data().Contest(cmd.Context(), snapContest)
			if err != nil {
				return err
			}
			if contest == nil || contest.DurationSeconds <= 0 {
				return errors.New("no contest duration on record; pass --to")
			}
			to = contest.DurationSeconds
		}

		report, err := engine.CreateSnapshotsBulk(cmd.Context(), snapContest, bulkFrom, to, bulkBaseInterval, bulkDeltaInterval)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "built %d base and %d delta snapshots (%d errors)\n",
			report.BaseCount, report.DeltaCount, len(report.Errors))
		for _, e := range report.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  t=%d (%s): %s\n", e.TimestampSeconds, e.Kind, e.Message)
		}
		return nil
	},
}

var snapshotInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Replay the whole contest into standingsState",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		report, err := engine.InitializeStandingsState(cmd.Context(), snapContest)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %d participants as of t=%d\n",
			report.Participants, report.AsOfSeconds)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot timestamps for a contest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		data := engine.Data()
		bases, err := data.ListBaseSnapshots(cmd.Context(), snapContest)
		if err != nil {
			return err
		}
		deltas, err := data.ListDeltaSnapshots(cmd.Context(), snapContest)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"baseSnapshots":  bases,
				"deltaSnapshots": deltas,
			})
		}
		for _, b := range bases {
			fmt.Fprintf(cmd.OutOrStdout(), "base  t=%-8d participants=%d\n",
				b.TimestampSeconds, b.ParticipantCount)
		}
		for _, d := range deltas {
			fmt.Fprintf(cmd.OutOrStdout(), "delta t=%-8d base=%-8d changes=%d\n",
				d.TimestampSeconds, d.BaseSnapshotTimestamp, d.ChangeCount)
		}
		if len(bases)+len(deltas) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
		}
		return nil
	},
}

var snapshotRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove the snapshot at one timestamp",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		data := engine.Data()
		baseGone, err := data.RemoveBaseSnapshot(cmd.Context(), snapContest, snapAt)
		if err != nil {
			return err
		}
		deltaGone, err := data.RemoveDeltaSnapshot(cmd.Context(), snapContest, snapAt)
		if err != nil {
			return err
		}
		if !baseGone && !deltaGone {
			fmt.Fprintf(cmd.OutOrStdout(), "no snapshot at t=%d\n", snapAt)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed snapshot at t=%d\n", snapAt)
		return nil
	},
}

var snapshotEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a bulk snapshot build for a worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(globalOpts)
		if err != nil {
			return err
		}
		if cfg.RedisAddr == "" {
			return errors.New("enqueue needs a queue; set REDIS_ADDR or pass --redis-addr")
		}
		client := sched.NewClient(cfg.RedisAddr)
		defer client.Close()
		id, err := client.EnqueueBulk(cmd.Context(), sched.BulkPayload{
			ContestID:     snapContest,
			Start:         bulkFrom,
			End:           bulkTo,
			BaseInterval:  bulkBaseInterval,
			DeltaInterval: bulkDeltaInterval,
		})
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), map[string]string{"taskId": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued task %s\n", id)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{
		snapshotBuildCmd, snapshotBulkCmd, snapshotInitCmd,
		snapshotListCmd, snapshotRmCmd, snapshotEnqueueCmd,
	} {
		cmd.Flags().Int64Var(&snapContest, "contest", 0, "Contest ID")
		cmd.MarkFlagRequired("contest")
	}
	snapshotBuildCmd.Flags().Int64Var(&snapAt, "at", 0, "Relative time T in seconds")
	snapshotBuildCmd.MarkFlagRequired("at")
	snapshotRmCmd.Flags().Int64Var(&snapAt, "at", 0, "Relative time T in seconds")
	snapshotRmCmd.MarkFlagRequired("at")
	for _, cmd := range []*cobra.Command{snapshotBulkCmd, snapshotEnqueueCmd} {
		cmd.Flags().Int64Var(&bulkFrom, "from", 0, "Window start in seconds")
		cmd.Flags().Int64Var(&bulkTo, "to", 0, "Window end in seconds (default: contest duration)")
		cmd.Flags().Int64Var(&bulkBaseInterval, "base-interval", 0, "Base snapshot cadence in seconds")
		cmd.Flags().Int64Var(&bulkDeltaInterval, "delta-interval", 0, "Delta snapshot cadence in seconds")
	}
	snapshotEnqueueCmd.MarkFlagRequired("to")
}

// -- standings --
var (
	standingsAt         int64
	standingsFrom       int
	standingsTo         int
	standingsUnofficial bool
)

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Show the standings at a relative time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		out, err := engine.StandingsAt(cmd.Context(), rewind.StandingsQuery{
			ContestID:         snapContest,
			T:                 standingsAt,
			RankFrom:          standingsFrom,
			RankTo:            standingsTo,
			IncludeUnofficial: standingsUnofficial,
		})
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		renderStandings(cmd.OutOrStdout(), out, stdoutIsTTY())
		return nil
	},
}

func init() {
	standingsCmd.Flags().Int64Var(&snapContest, "contest", 0, "Contest ID")
	standingsCmd.MarkFlagRequired("contest")
	standingsCmd.Flags().Int64Var(&standingsAt, "at", 0, "Relative time T in seconds")
	standingsCmd.MarkFlagRequired("at")
	standingsCmd.Flags().IntVar(&standingsFrom, "from", 1, "First rank position (1-indexed, inclusive)")
	standingsCmd.Flags().IntVar(&standingsTo, "to", 0, "Last rank position (inclusive; 0 = to end)")
	standingsCmd.Flags().BoolVar(&standingsUnofficial, "unofficial", false, "Include virtual/practice/out-of-competition participants")
}

// -- validate --
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check snapshot reconstruction against a full replay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(cmd.Context(), globalOpts)
		if err != nil {
			return err
		}
		defer cleanup()
		report, err := engine.Validate(cmd.Context(), snapContest, snapAt)
		if err != nil {
			return err
		}
		if globalOpts.JSON {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else if report.OK() {
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rows match at t=%d\n", report.RowsChecked, snapAt)
		} else {
			for _, m := range report.Mismatches {
				fmt.Fprintf(cmd.OutOrStdout(), "row %d %s: reference=%s reconstructed=%s\n",
					m.Position, m.Field, m.Reference, m.Reconstructed)
			}
		}
		if !report.OK() {
			return fmt.Errorf("validation failed: %d mismatches at t=%d", len(report.Mismatches), snapAt)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Int64Var(&snapContest, "contest", 0, "Contest ID")
	validateCmd.MarkFlagRequired("contest")
	validateCmd.Flags().Int64Var(&snapAt, "at", 0, "Relative time T in seconds")
	validateCmd.MarkFlagRequired("at")
}

// -- worker --
var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the snapshot build worker",
	Long: `Consumes snapshot:build and snapshot:bulk tasks from the Redis queue
and executes them against the configured backend. With REWIND_METRICS_ADDR
set, serves Prometheus metrics on that address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(globalOpts)
		if err != nil {
			return err
		}
		if cfg.RedisAddr == "" {
			return errors.New("the worker needs a queue; set REDIS_ADDR or pass --redis-addr")
		}
		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		data := rewind.NewDataStore(backend)
		defer data.Close()

		set := metrics.NewSet()
		engine := rewind.New(data, rewind.Options{
			BaseInterval:  cfg.BaseInterval,
			DeltaInterval: cfg.DeltaInterval,
			Logger:        slog.Default(),
			Metrics:       set,
		})

		if cfg.MetricsAddr != "" {
			go serveMetrics(cfg.MetricsAddr, set)
		}

		srv := sched.NewServer(cfg.RedisAddr, workerConcurrency, slog.Default())
		mux := asynq.NewServeMux()
		sched.NewHandler(engine, slog.Default(), set).Register(mux)
		return srv.Run(mux)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 4, "Concurrent task executions")
}

func serveMetrics(addr string, set *metrics.Set) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(set.Registry(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Default().Error("metrics listener failed", "addr", addr, "error", err)
	}
}

// -- version --
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "rewind "+version)
	},
}
