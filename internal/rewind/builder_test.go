// Tests for base/delta snapshot construction and the bulk scheduler.
// Focus: exact diffs, chain contiguity, degrade-to-base, partial success.
package rewind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/contestops/rewind/internal/store"
)

// fixture is a seeded engine over the memory backend: the store is both the
// record sink and the submission/problem/contest source.
type fixture struct {
	engine *Engine
	data   *DataStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	data := NewDataStore(store.NewMemory())
	t.Cleanup(func() { data.Close() })
	return &fixture{engine: New(data, opts), data: data}
}

func (f *fixture) seed(t *testing.T, dump *ContestDump) {
	t.Helper()
	if _, err := f.engine.ImportDump(context.Background(), dump); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func fpoints(v float64) *float64 { return &v }

// twoSolverDump: alice solves A at 90 after one reject, bob solves A at 400
// and B at 700; a virtual participant trails along.
func twoSolverDump() *ContestDump {
	return &ContestDump{
		Contest: Contest{ID: 1, Name: "Round #1", Phase: "FINISHED", DurationSeconds: 7200},
		Problems: []Problem{
			{Index: "A", Points: fpoints(500)},
			{Index: "B", Points: fpoints(1000)},
		},
		Submissions: []Submission{
			{ID: 1, ProblemIndex: "A", Handle: "alice", ParticipantType: ParticipantContestant,
				Verdict: VerdictWrongAnswer, RelativeTimeSeconds: 30},
			{ID: 2, ProblemIndex: "A", Handle: "alice", ParticipantType: ParticipantContestant,
				Verdict: VerdictOK, RelativeTimeSeconds: 90},
			{ID: 3, ProblemIndex: "A", Handle: "bob", ParticipantType: ParticipantContestant,
				Verdict: VerdictOK, RelativeTimeSeconds: 400},
			{ID: 4, ProblemIndex: "B", Handle: "bob", ParticipantType: ParticipantContestant,
				Verdict: VerdictOK, RelativeTimeSeconds: 700},
			{ID: 5, ProblemIndex: "B", Handle: "vcarol", ParticipantType: ParticipantVirtual,
				Verdict: VerdictWrongAnswer, RelativeTimeSeconds: 650},
		},
	}
}

func TestCreateBaseSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	snap, err := f.engine.CreateBaseSnapshot(ctx, 1, 120)
	if err != nil {
		t.Fatalf("CreateBaseSnapshot: %v", err)
	}
	if snap.ParticipantCount != 1 || len(snap.Participants) != 1 {
		t.Fatalf("participants at t=120: got %d, want only alice", snap.ParticipantCount)
	}
	alice := snap.Participants[0]
	if alice.Handle != "alice" || alice.TotalPoints != 500 {
		t.Fatalf("alice state: %+v", alice)
	}
	if alice.TotalPenalty != 1*20+90/60 {
		t.Fatalf("alice penalty: got %d, want 21", alice.TotalPenalty)
	}

	// Same T again must hit the unique key.
	if _, err := f.engine.CreateBaseSnapshot(ctx, 1, 120); !IsSnapshotExists(err) {
		t.Fatalf("duplicate base: got %v, want duplicate-key conflict", err)
	}
}

func TestCreateBaseSnapshot_InputErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	if _, err := f.engine.CreateBaseSnapshot(ctx, 0, 120); !isInputError(err) {
		t.Fatalf("contestId 0: got %v", err)
	}
	if _, err := f.engine.CreateBaseSnapshot(ctx, 1, -5); !isInputError(err) {
		t.Fatalf("negative t: got %v", err)
	}
}

func TestCreateDeltaSnapshot_ExactDiff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	if _, err := f.engine.CreateBaseSnapshot(ctx, 1, 120); err != nil {
		t.Fatalf("base: %v", err)
	}

	// (120, 500]: only bob's accept at 400 happens.
	res, err := f.engine.CreateDeltaSnapshot(ctx, 1, 500)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if res.Kind != KindDelta {
		t.Fatalf("kind: %v", res.Kind)
	}
	d := res.Delta
	if d.BaseSnapshotTimestamp != 120 {
		t.Fatalf("chained base: got %d, want 120", d.BaseSnapshotTimestamp)
	}
	if d.ChangeCount != 1 || d.Changes[0].Handle != "bob" || d.Changes[0].Op != ChangeInsert {
		t.Fatalf("changes: %+v", d.Changes)
	}

	// (500, 700]: bob updates (solves B), vcarol appears. alice untouched.
	res, err = f.engine.CreateDeltaSnapshot(ctx, 1, 700)
	if err != nil {
		t.Fatalf("second delta: %v", err)
	}
	d = res.Delta
	if d.BaseSnapshotTimestamp != 120 {
		t.Fatalf("second delta must chain to the same base, got %d", d.BaseSnapshotTimestamp)
	}
	if d.ChangeCount != 2 {
		t.Fatalf("changes: %+v", d.Changes)
	}
	// Handle order: bob before vcarol.
	if d.Changes[0].Handle != "bob" || d.Changes[0].Op != ChangeUpdate {
		t.Fatalf("bob change: %+v", d.Changes[0])
	}
	if d.Changes[1].Handle != "vcarol" || d.Changes[1].Op != ChangeInsert {
		t.Fatalf("vcarol change: %+v", d.Changes[1])
	}
	if d.Changes[0].State.TotalPoints != 1500 {
		t.Fatalf("delta carries the full new state, got points=%g", d.Changes[0].State.TotalPoints)
	}
}

func TestCreateDeltaSnapshot_QuietWindowIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	if _, err := f.engine.CreateBaseSnapshot(ctx, 1, 1000); err != nil {
		t.Fatalf("base: %v", err)
	}
	res, err := f.engine.CreateDeltaSnapshot(ctx, 1, 1010)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if res.Delta.ChangeCount != 0 {
		t.Fatalf("no submissions in window, changes: %+v", res.Delta.Changes)
	}
}

func TestCreateDeltaSnapshot_DegradesToBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	res, err := f.engine.CreateDeltaSnapshot(ctx, 1, 100)
	if err != nil {
		t.Fatalf("delta without prior: %v", err)
	}
	if res.Kind != KindBase || res.Base == nil {
		t.Fatalf("want degrade to base, got %+v", res)
	}
	if res.Base.TimestampSeconds != 100 {
		t.Fatalf("base t: %d", res.Base.TimestampSeconds)
	}
}

func TestCreateSnapshot_CadenceClassifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	// 240 is both a base and a delta multiple; base must win.
	res, err := f.engine.CreateSnapshot(ctx, 1, 240)
	if err != nil {
		t.Fatalf("t=240: %v", err)
	}
	if res.Kind != KindBase {
		t.Fatalf("coincidence point: got %v, want base", res.Kind)
	}

	res, err = f.engine.CreateSnapshot(ctx, 1, 250)
	if err != nil {
		t.Fatalf("t=250: %v", err)
	}
	if res.Kind != KindDelta {
		t.Fatalf("delta multiple: got %v", res.Kind)
	}

	if _, err := f.engine.CreateSnapshot(ctx, 1, 247); !isInputError(err) {
		t.Fatalf("off-cadence t must be rejected, got %v", err)
	}
}

func TestCreateSnapshotsBulk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	report, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("errors: %+v", report.Errors)
	}
	if report.BaseCount != 3 {
		t.Fatalf("baseCount: got %d, want bases at 0,120,240", report.BaseCount)
	}
	if report.DeltaCount != 22 {
		t.Fatalf("deltaCount: got %d, want 22", report.DeltaCount)
	}
	if report.RunID == "" {
		t.Fatal("runId missing")
	}

	// Chain contiguity: every delta points at the nearest base before it.
	deltas, err := f.data.ListDeltaSnapshots(ctx, 1)
	if err != nil {
		t.Fatalf("list deltas: %v", err)
	}
	for _, d := range deltas {
		want := (d.TimestampSeconds / 120) * 120
		if d.BaseSnapshotTimestamp != want {
			t.Fatalf("delta t=%d chains to %d, want %d",
				d.TimestampSeconds, d.BaseSnapshotTimestamp, want)
		}
	}
}

func TestCreateSnapshotsBulk_PartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	// Pre-existing base at 120 makes exactly that timestamp fail.
	if _, err := f.engine.CreateBaseSnapshot(ctx, 1, 120); err != nil {
		t.Fatalf("pre-base: %v", err)
	}

	report, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if report.BaseCount != 2 {
		t.Fatalf("baseCount: got %d, want 2 of 3", report.BaseCount)
	}
	if report.DeltaCount != 22 {
		t.Fatalf("deltaCount: got %d", report.DeltaCount)
	}
	if len(report.Errors) != 1 || report.Errors[0].TimestampSeconds != 120 || report.Errors[0].Kind != KindBase {
		t.Fatalf("errors: %+v", report.Errors)
	}
}

func TestCreateSnapshotsBulk_Cancellation(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10)
	if err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if report == nil || report.BaseCount != 0 {
		t.Fatalf("partial report: %+v", report)
	}
}

func TestInitializeStandingsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	report, err := f.engine.InitializeStandingsState(ctx, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if report.Participants != 3 {
		t.Fatalf("participants: got %d", report.Participants)
	}
	if report.AsOfSeconds != 7200 {
		t.Fatalf("asOf must be the contest duration, got %d", report.AsOfSeconds)
	}

	recs, err := f.data.StandingsState(ctx, 1)
	if err != nil {
		t.Fatalf("load states: %v", err)
	}
	if len(recs) != 3 || recs[0].Handle != "alice" || recs[2].Handle != "vcarol" {
		t.Fatalf("records: %+v", recs)
	}
	if recs[1].State.TotalPoints != 1500 {
		t.Fatalf("bob total: %g", recs[1].State.TotalPoints)
	}

	// Re-running replaces, not duplicates.
	if _, err := f.engine.InitializeStandingsState(ctx, 1); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	n, err := f.data.StandingsStateCount(ctx, 1)
	if err != nil || n != 3 {
		t.Fatalf("count after re-init: %d, %v", n, err)
	}
}

func TestInitializeStandingsState_NoData(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.InitializeStandingsState(context.Background(), 42)
	if !isDataError(err) {
		t.Fatalf("want DataError, got %v", err)
	}
}

func TestUnknownProblemDefaultsToOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, &ContestDump{
		Contest:  Contest{ID: 1, DurationSeconds: 3600},
		Problems: []Problem{{Index: "A", Points: fpoints(500)}},
		Submissions: []Submission{
			// "Z" is not in the catalogue and carries no problemPoints.
			{ID: 1, ProblemIndex: "Z", Handle: "alice", ParticipantType: ParticipantContestant,
				Verdict: VerdictOK, RelativeTimeSeconds: 60},
		},
	})

	snap, err := f.engine.CreateBaseSnapshot(ctx, 1, 120)
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	if snap.Participants[0].TotalPoints != 1 {
		t.Fatalf("unknown problem points: got %g, want default 1", snap.Participants[0].TotalPoints)
	}
}

func TestMultiplesIn(t *testing.T) {
	cases := []struct {
		start, end, interval int64
		want                 []int64
	}{
		{0, 240, 120, []int64{0, 120, 240}},
		{1, 240, 120, []int64{120, 240}},
		{121, 239, 120, nil},
		{0, 0, 120, []int64{0}},
		{10, 5, 10, nil},
	}
	for _, c := range cases {
		got := multiplesIn(c.start, c.end, c.interval)
		if fmt.Sprint(got) != fmt.Sprint(c.want) {
			t.Errorf("multiplesIn(%d,%d,%d) = %v, want %v",
				c.start, c.end, c.interval, got, c.want)
		}
	}
}

func isInputError(err error) bool {
	var e *InputError
	return errors.As(err, &e)
}

func isDataError(err error) bool {
	var e *DataError
	return errors.As(err, &e)
}
