// Tests for standings table formatting.
package main

import (
	"strings"
	"testing"

	"github.com/contestops/rewind/internal/rewind"
)

func i64(v int64) *int64 { return &v }

func sampleStandings() *rewind.Standings {
	return &rewind.Standings{
		Contest: &rewind.Contest{ID: 1, Name: "Round #1"},
		Problems: []rewind.Problem{
			{ContestID: 1, Index: "A"},
			{ContestID: 1, Index: "B"},
		},
		Rows: []rewind.StandingsRow{
			{
				Party: rewind.Party{Members: []rewind.Member{{Handle: "alice"}},
					ParticipantType: rewind.ParticipantContestant},
				Rank: 1, Points: 1500, Penalty: 27,
				ProblemResults: []rewind.ProblemResult{
					{ProblemIndex: "A", Points: 500, Type: "FINAL", BestSubmissionTimeSeconds: i64(90)},
					{ProblemIndex: "B", Points: 1000, RejectedAttemptCount: 2, Type: "FINAL", BestSubmissionTimeSeconds: i64(700)},
				},
			},
			{
				Party: rewind.Party{Members: []rewind.Member{{Handle: "bob"}},
					ParticipantType: rewind.ParticipantContestant},
				Rank: 2, Points: 500, Penalty: 6,
				ProblemResults: []rewind.ProblemResult{
					{ProblemIndex: "A", Points: 500, Type: "FINAL", BestSubmissionTimeSeconds: i64(400)},
					{ProblemIndex: "B", RejectedAttemptCount: 3, Type: "FINAL"},
				},
			},
		},
	}
}

func TestRenderStandings(t *testing.T) {
	var buf strings.Builder
	renderStandingsWidth(&buf, sampleStandings(), false, 100)
	out := buf.String()

	for _, want := range []string{"Round #1", "alice", "bob", "1500", "27"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// Title, header, two rows.
	if len(lines) != 4 {
		t.Fatalf("lines: got %d\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "+2") {
		t.Fatalf("alice B cell should be +2:\n%s", out)
	}
	if !strings.Contains(lines[3], "-3") {
		t.Fatalf("bob B cell should be -3:\n%s", out)
	}
}

func TestRenderStandings_NarrowTerminalHidesColumns(t *testing.T) {
	var buf strings.Builder
	renderStandingsWidth(&buf, sampleStandings(), false, 40)
	out := buf.String()
	if !strings.Contains(out, "hidden") {
		t.Fatalf("narrow terminal should hide columns:\n%s", out)
	}
}

func TestRenderStandings_EmptyShapes(t *testing.T) {
	var buf strings.Builder
	renderStandingsWidth(&buf, &rewind.Standings{}, false, 80)
	if !strings.Contains(buf.String(), "unknown contest") {
		t.Fatalf("unknown contest output: %q", buf.String())
	}

	buf.Reset()
	renderStandingsWidth(&buf, &rewind.Standings{Contest: &rewind.Contest{Name: "Empty"}}, false, 80)
	if !strings.Contains(buf.String(), "no participants") {
		t.Fatalf("empty standings output: %q", buf.String())
	}
}

func TestProblemCell(t *testing.T) {
	cases := []struct {
		res  rewind.ProblemResult
		want string
	}{
		{rewind.ProblemResult{BestSubmissionTimeSeconds: i64(60)}, "+"},
		{rewind.ProblemResult{BestSubmissionTimeSeconds: i64(60), RejectedAttemptCount: 2}, "+2"},
		{rewind.ProblemResult{RejectedAttemptCount: 4}, "-4"},
		{rewind.ProblemResult{}, ""},
	}
	for _, c := range cases {
		if got := problemCell(c.res); got != c.want {
			t.Errorf("problemCell(%+v) = %q, want %q", c.res, got, c.want)
		}
	}
}

func TestFormatPoints(t *testing.T) {
	if got := formatPoints(1500); got != "1500" {
		t.Errorf("1500: %q", got)
	}
	if got := formatPoints(843.5); got != "843.5" {
		t.Errorf("843.5: %q", got)
	}
}
