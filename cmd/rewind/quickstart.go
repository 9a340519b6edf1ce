// quickstart command: renders the embedded guide, through glamour on TTYs.
package main

import (
	_ "embed"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

//go:embed quickstart.md
var quickstartMarkdown string

var quickstartCmd = &cobra.Command{
	Use:   "quickstart",
	Short: "Show a short guided tour",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stdoutIsTTY() {
			r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(80),
			)
			if err == nil {
				if out, err := r.Render(quickstartMarkdown); err == nil {
					fmt.Fprint(cmd.OutOrStdout(), out)
					return nil
				}
			}
			// Fall back to plain text if rendering fails.
		}
		fmt.Fprint(cmd.OutOrStdout(), quickstartMarkdown)
		return nil
	},
}
