// Tests for dump decoding and import.
package rewind

import (
	"context"
	"strings"
	"testing"
)

func TestReadDump(t *testing.T) {
	in := `{
		"contest": {"id": 5, "name": "Trial", "durationSeconds": 3600},
		"problems": [{"index": "A", "points": 250}],
		"submissions": [
			{"id": 1, "problemIndex": "A", "handle": "alice",
			 "participantType": "CONTESTANT", "verdict": "OK", "relativeTimeSeconds": 60}
		]
	}`
	dump, err := ReadDump(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadDump: %v", err)
	}
	if dump.Contest.ID != 5 || len(dump.Problems) != 1 || len(dump.Submissions) != 1 {
		t.Fatalf("dump: %+v", dump)
	}
	// Child records adopt the header's contest id.
	if dump.Problems[0].ContestID != 5 || dump.Submissions[0].ContestID != 5 {
		t.Fatalf("contest ids not adopted: %+v", dump)
	}
}

func TestReadDump_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":            `{`,
		"missing contest id":  `{"contest": {"name": "x"}}`,
		"foreign submission":  `{"contest": {"id": 5}, "submissions": [{"id": 1, "contestId": 9}]}`,
		"empty problem index": `{"contest": {"id": 5}, "problems": [{}]}`,
		"submission no id":    `{"contest": {"id": 5}, "submissions": [{"handle": "a"}]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadDump(strings.NewReader(in)); !isInputError(err) {
				t.Fatalf("got %v, want InputError", err)
			}
		})
	}
}

func TestExportDump_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	dump, err := f.engine.ExportDump(ctx, 1)
	if err != nil {
		t.Fatalf("ExportDump: %v", err)
	}
	if dump.Contest.ID != 1 || len(dump.Problems) != 2 || len(dump.Submissions) != 5 {
		t.Fatalf("export shape: contest=%d problems=%d submissions=%d",
			dump.Contest.ID, len(dump.Problems), len(dump.Submissions))
	}

	var buf strings.Builder
	if err := WriteDump(&buf, dump); err != nil {
		t.Fatalf("WriteDump: %v", err)
	}
	again, err := ReadDump(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadDump of export: %v", err)
	}
	if len(again.Submissions) != len(dump.Submissions) {
		t.Fatalf("round trip lost submissions: %d != %d",
			len(again.Submissions), len(dump.Submissions))
	}

	if _, err := f.engine.ExportDump(ctx, 404); !isDataError(err) {
		t.Fatalf("missing contest: got %v, want DataError", err)
	}
}

func TestImportDump_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	sum, err := f.engine.ImportDump(ctx, twoSolverDump())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Problems != 2 || sum.Submissions != 5 {
		t.Fatalf("summary: %+v", sum)
	}

	// Same dump again: record-by-record upsert, no growth.
	if _, err := f.engine.ImportDump(ctx, twoSolverDump()); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	subs, err := f.data.Submissions(ctx, 1)
	if err != nil {
		t.Fatalf("load submissions: %v", err)
	}
	if len(subs) != 5 {
		t.Fatalf("submissions after re-import: %d", len(subs))
	}
	contest, err := f.data.Contest(ctx, 1)
	if err != nil || contest == nil || contest.Name != "Round #1" {
		t.Fatalf("contest: %+v err=%v", contest, err)
	}
}
