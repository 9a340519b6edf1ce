// Tests for standings reconstruction, filtering and pagination.
package rewind

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestStandingsAt_FromSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())
	if _, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 720, 120, 10); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	out, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 700, RankFrom: 1})
	if err != nil {
		t.Fatalf("StandingsAt: %v", err)
	}
	if out.Contest == nil || out.Contest.Name != "Round #1" {
		t.Fatalf("contest metadata: %+v", out.Contest)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("official rows: got %d", len(out.Rows))
	}
	// bob leads on points; alice second.
	if rh := out.Rows[0].Party.Members[0].Handle; rh != "bob" || out.Rows[0].Rank != 1 {
		t.Fatalf("row 1: %s rank=%d", rh, out.Rows[0].Rank)
	}
	if out.Rows[0].Points != 1500 {
		t.Fatalf("bob points: %g", out.Rows[0].Points)
	}
	if rh := out.Rows[1].Party.Members[0].Handle; rh != "alice" || out.Rows[1].Rank != 2 {
		t.Fatalf("row 2: %s rank=%d", rh, out.Rows[1].Rank)
	}

	// Problem cells follow the catalogue order.
	cells := out.Rows[1].ProblemResults
	if len(cells) != 2 || cells[0].ProblemIndex != "A" || cells[1].ProblemIndex != "B" {
		t.Fatalf("cells: %+v", cells)
	}
	if cells[0].Type != "FINAL" {
		t.Fatalf("cell type: %q", cells[0].Type)
	}
	if cells[0].RejectedAttemptCount != 1 || *cells[0].BestSubmissionTimeSeconds != 90 {
		t.Fatalf("alice A cell: %+v", cells[0])
	}
	if cells[1].BestSubmissionTimeSeconds != nil {
		t.Fatalf("alice never solved B: %+v", cells[1])
	}
}

func TestStandingsAt_UnofficialFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	official, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 7200, RankFrom: 1})
	if err != nil {
		t.Fatalf("official: %v", err)
	}
	all, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 7200, RankFrom: 1, IncludeUnofficial: true})
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(official.Rows) != 2 || len(all.Rows) != 3 {
		t.Fatalf("rows: official=%d all=%d", len(official.Rows), len(all.Rows))
	}
	for _, row := range official.Rows {
		if row.Party.ParticipantType != ParticipantContestant {
			t.Fatalf("unofficial row leaked: %+v", row.Party)
		}
	}
}

func TestStandingsAt_FallbackWithoutSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())

	// No snapshots at all: answers come from a full replay.
	out, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 400, RankFrom: 1})
	if err != nil {
		t.Fatalf("StandingsAt: %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("rows: %d", len(out.Rows))
	}
	// At t=400 both have 500 points; bob wins on penalty (6 vs alice's 21).
	if out.Rows[0].Party.Members[0].Handle != "bob" {
		t.Fatalf("row 1: %+v", out.Rows[0])
	}
}

func TestStandingsAt_UnknownContest(t *testing.T) {
	f := newFixture(t, Options{})
	out, err := f.engine.StandingsAt(context.Background(), StandingsQuery{ContestID: 999, T: 100, RankFrom: 1})
	if err != nil {
		t.Fatalf("unknown contest must not error: %v", err)
	}
	if out.Contest != nil || len(out.Problems) != 0 || len(out.Rows) != 0 {
		t.Fatalf("want empty shape, got %+v", out)
	}
}

func TestStandingsAt_InputValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	cases := []StandingsQuery{
		{ContestID: 0, T: 10, RankFrom: 1},
		{ContestID: 1, T: -1, RankFrom: 1},
		{ContestID: 1, T: 10, RankFrom: 0},
		{ContestID: 1, T: 10, RankFrom: 5, RankTo: 4},
	}
	for i, q := range cases {
		if _, err := f.engine.StandingsAt(ctx, q); !isInputError(err) {
			t.Errorf("case %d: got %v, want InputError", i, err)
		}
	}
}

func TestStandingsAt_PaginationLaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, manyParticipantsDump(25))

	full, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 7200, RankFrom: 1, IncludeUnofficial: true})
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	if len(full.Rows) != 25 {
		t.Fatalf("full rows: %d", len(full.Rows))
	}

	var stitched []StandingsRow
	for from := 1; from <= 25; from += 7 {
		to := from + 6
		page, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 7200, RankFrom: from, RankTo: to, IncludeUnofficial: true})
		if err != nil {
			t.Fatalf("page %d-%d: %v", from, to, err)
		}
		stitched = append(stitched, page.Rows...)
	}
	if len(stitched) != len(full.Rows) {
		t.Fatalf("stitched %d rows, want %d", len(stitched), len(full.Rows))
	}
	for i := range full.Rows {
		a, _ := json.Marshal(full.Rows[i])
		b, _ := json.Marshal(stitched[i])
		if string(a) != string(b) {
			t.Fatalf("row %d differs:\nfull:     %s\nstitched: %s", i, a, b)
		}
	}

	// Past-the-end page is empty, not an error.
	empty, err := f.engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 7200, RankFrom: 100, IncludeUnofficial: true})
	if err != nil || len(empty.Rows) != 0 {
		t.Fatalf("past-the-end: rows=%d err=%v", len(empty.Rows), err)
	}
}

func TestStandingsAt_SnapshotFidelity(t *testing.T) {
	ctx := context.Background()
	withSnaps := newFixture(t, Options{})
	withSnaps.seed(t, manyParticipantsDump(40))
	if _, err := withSnaps.engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	replayOnly := newFixture(t, Options{})
	replayOnly.seed(t, manyParticipantsDump(40))

	for tm := int64(0); tm <= 240; tm += 10 {
		q := StandingsQuery{ContestID: 1, T: tm, RankFrom: 1, IncludeUnofficial: true}
		a, err := withSnaps.engine.StandingsAt(ctx, q)
		if err != nil {
			t.Fatalf("t=%d snapshot path: %v", tm, err)
		}
		b, err := replayOnly.engine.StandingsAt(ctx, q)
		if err != nil {
			t.Fatalf("t=%d replay path: %v", tm, err)
		}
		aj, _ := json.Marshal(a)
		bj, _ := json.Marshal(b)
		if string(aj) != string(bj) {
			t.Fatalf("t=%d: snapshot path diverges from replay\nsnap:   %s\nreplay: %s", tm, aj, bj)
		}
	}
}

func TestStandingsAt_DoesNotMutateSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, twoSolverDump())
	if _, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 720, 120, 10); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	q := StandingsQuery{ContestID: 1, T: 710, RankFrom: 1, IncludeUnofficial: true}
	first, err := f.engine.StandingsAt(ctx, q)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.engine.StandingsAt(ctx, q)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	fj, _ := json.Marshal(first)
	sj, _ := json.Marshal(second)
	if string(fj) != string(sj) {
		t.Fatal("repeated identical queries disagree; a snapshot was mutated")
	}
}

func TestStandingsAt_ConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.seed(t, manyParticipantsDump(30))
	if _, err := f.engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := StandingsQuery{ContestID: 1, T: int64(10 * (i + 1)), RankFrom: 1}
			if _, err := f.engine.StandingsAt(ctx, q); err != nil {
				errs <- fmt.Errorf("query %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func TestStandingsAt_PageCache(t *testing.T) {
	ctx := context.Background()
	pages := &mapCache{m: make(map[string][]byte)}
	f := newFixture(t, Options{Cache: pages})
	f.seed(t, twoSolverDump())

	q := StandingsQuery{ContestID: 1, T: 700, RankFrom: 1}
	first, err := f.engine.StandingsAt(ctx, q)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if len(pages.m) != 1 {
		t.Fatalf("page not cached: %d entries", len(pages.m))
	}
	second, err := f.engine.StandingsAt(ctx, q)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	fj, _ := json.Marshal(first)
	sj, _ := json.Marshal(second)
	if string(fj) != string(sj) {
		t.Fatal("cached page differs from computed page")
	}
}

// manyParticipantsDump builds n contestants attacking three problems with a
// deterministic spread of accepts, rejects and timings inside [0, 240].
func manyParticipantsDump(n int) *ContestDump {
	dump := &ContestDump{
		Contest: Contest{ID: 1, Name: "Load Round", Phase: "FINISHED", DurationSeconds: 7200},
		Problems: []Problem{
			{Index: "A", Points: fpoints(500)},
			{Index: "B", Points: fpoints(1000)},
			{Index: "C", Points: fpoints(1500)},
		},
	}
	id := int64(0)
	problems := []string{"A", "B", "C"}
	for i := 0; i < n; i++ {
		handle := fmt.Sprintf("user%02d", i)
		ptype := ParticipantContestant
		if i%7 == 3 {
			ptype = ParticipantVirtual
		}
		for p, idx := range problems {
			if (i+p)%4 == 3 {
				continue // never attempted
			}
			at := int64((i*13 + p*41) % 230)
			if (i+p)%3 == 0 {
				id++
				dump.Submissions = append(dump.Submissions, Submission{
					ID: id, ProblemIndex: idx, Handle: handle, ParticipantType: ptype,
					Verdict: VerdictWrongAnswer, RelativeTimeSeconds: at,
				})
				at += 7
			}
			id++
			verdict := VerdictOK
			if (i+p)%5 == 4 {
				verdict = VerdictTimeLimitExceeded
			}
			dump.Submissions = append(dump.Submissions, Submission{
				ID: id, ProblemIndex: idx, Handle: handle, ParticipantType: ptype,
				Verdict: verdict, RelativeTimeSeconds: at,
			})
		}
	}
	return dump
}
