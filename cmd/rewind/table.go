// Standings table rendering for human-friendly output.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/contestops/rewind/internal/rewind"
)

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorDim   = "\033[2m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

const (
	minHandleWidth = 8
	maxHandleWidth = 24
	cellWidth      = 6
)

// getTerminalWidth returns the terminal width, or a default if unavailable.
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // default fallback
	}
	return width
}

// stdoutIsTTY returns true if stdout is a terminal (supports color).
func stdoutIsTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// renderStandings prints the ranked table: rank, handle, points, penalty,
// then one cell per problem. Problem columns are dropped right-to-left when
// the terminal is too narrow for all of them.
func renderStandings(w io.Writer, st *rewind.Standings, useColor bool) {
	renderStandingsWidth(w, st, useColor, getTerminalWidth())
}

func renderStandingsWidth(w io.Writer, st *rewind.Standings, useColor bool, termWidth int) {
	if st.Contest == nil {
		fmt.Fprintln(w, "unknown contest")
		return
	}
	if st.Contest.Name != "" {
		if useColor {
			fmt.Fprintln(w, colorBold+st.Contest.Name+colorReset)
		} else {
			fmt.Fprintln(w, st.Contest.Name)
		}
	}
	if len(st.Rows) == 0 {
		fmt.Fprintln(w, "no participants")
		return
	}

	indexes := problemColumns(st)

	handleWidth := minHandleWidth
	for _, row := range st.Rows {
		if w := runewidth.StringWidth(rowHandle(row)); w > handleWidth {
			handleWidth = w
		}
	}
	if handleWidth > maxHandleWidth {
		handleWidth = maxHandleWidth
	}

	// rank(5) + gap + handle + gap + points(8) + gap + penalty(7)
	fixed := 5 + 1 + handleWidth + 1 + 8 + 1 + 7
	shown := len(indexes)
	if max := (termWidth - fixed) / (cellWidth + 1); max < shown {
		if max < 0 {
			max = 0
		}
		shown = max
	}

	head := fmt.Sprintf("%5s %-*s %8s %7s", "#", handleWidth, "handle", "points", "pen")
	for _, idx := range indexes[:shown] {
		head += " " + pad(idx, cellWidth)
	}
	if useColor {
		fmt.Fprintln(w, colorDim+head+colorReset)
	} else {
		fmt.Fprintln(w, head)
	}

	for _, row := range st.Rows {
		line := fmt.Sprintf("%5d %-*s %8s %7d",
			row.Rank, handleWidth, truncate(rowHandle(row), handleWidth),
			formatPoints(row.Points), row.Penalty)
		for i := 0; i < shown && i < len(row.ProblemResults); i++ {
			line += " " + colorCell(problemCell(row.ProblemResults[i]), useColor)
		}
		fmt.Fprintln(w, line)
	}
	if shown < len(indexes) {
		fmt.Fprintf(w, "(%d problem columns hidden; widen the terminal or use --json)\n",
			len(indexes)-shown)
	}
}

// problemColumns derives the column order from the first row's cells; every
// row carries the same cell sequence by construction.
func problemColumns(st *rewind.Standings) []string {
	if len(st.Rows) == 0 {
		return nil
	}
	out := make([]string, 0, len(st.Rows[0].ProblemResults))
	for _, res := range st.Rows[0].ProblemResults {
		out = append(out, res.ProblemIndex)
	}
	return out
}

func rowHandle(row rewind.StandingsRow) string {
	if len(row.Party.Members) == 0 {
		return "?"
	}
	return row.Party.Members[0].Handle
}

// problemCell formats one attempt cell the way printed scoreboards do:
// "+" solved first try, "+2" solved after 2 rejects, "-3" still failing
// after 3 attempts, blank for untouched.
func problemCell(res rewind.ProblemResult) string {
	solved := res.BestSubmissionTimeSeconds != nil
	switch {
	case solved && res.RejectedAttemptCount == 0:
		return "+"
	case solved:
		return "+" + strconv.FormatInt(res.RejectedAttemptCount, 10)
	case res.RejectedAttemptCount > 0:
		return "-" + strconv.FormatInt(res.RejectedAttemptCount, 10)
	default:
		return ""
	}
}

// colorCell pads a problem cell and colors solves green, rejects red.
func colorCell(cell string, useColor bool) string {
	padded := pad(cell, cellWidth)
	if !useColor || cell == "" {
		return padded
	}
	if strings.HasPrefix(cell, "+") {
		return colorGreen + padded + colorReset
	}
	if strings.HasPrefix(cell, "-") {
		return colorRed + padded + colorReset
	}
	return padded
}

func pad(s string, width int) string {
	gap := width - runewidth.StringWidth(s)
	if gap <= 0 {
		return truncate(s, width)
	}
	return strings.Repeat(" ", gap) + s
}

func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// formatPoints drops a trailing ".0" so integral scores print clean.
func formatPoints(p float64) string {
	if p == float64(int64(p)) {
		return strconv.FormatInt(int64(p), 10)
	}
	return strconv.FormatFloat(p, 'f', 1, 64)
}
