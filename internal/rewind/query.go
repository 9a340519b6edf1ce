// Purpose: Answer standings queries from the snapshot chain.
// Exports: StandingsQuery and the Engine method StandingsAt.
// Role: The read side of the engine: reconstruct, filter, rank, paginate.
// Invariants: Reconstruction never mutates stored snapshots; pagination
// slices positions without renumbering ranks; unknown contests answer an
// empty shape, not an error.
package rewind

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// StandingsQuery carries the arguments of one standings lookup.
// RankTo = 0 means "to the end".
type StandingsQuery struct {
	ContestID         int64
	T                 int64
	RankFrom          int
	RankTo            int
	IncludeUnofficial bool
}

func (q StandingsQuery) validate() error {
	if q.ContestID <= 0 {
		return inputErrf("bad-contest", "contestId must be positive, got %d", q.ContestID)
	}
	if q.T < 0 {
		return inputErrf("bad-timestamp", "relative time must be non-negative, got %d", q.T)
	}
	if q.RankFrom < 1 {
		return inputErrf("bad-range", "rankFrom must be >= 1, got %d", q.RankFrom)
	}
	if q.RankTo != 0 && q.RankTo < q.RankFrom {
		return inputErrf("bad-range", "rankTo %d is before rankFrom %d", q.RankTo, q.RankFrom)
	}
	return nil
}

func (q StandingsQuery) cacheKey() string {
	scope := "official"
	if q.IncludeUnofficial {
		scope = "all"
	}
	return fmt.Sprintf("standings:%d:%d:%d:%d:%s", q.ContestID, q.T, q.RankFrom, q.RankTo, scope)
}

// StandingsAt returns the ranked, paginated standings of a contest at
// relative time T, reconstructed from the nearest base snapshot plus the
// deltas in its window. A contest without any base snapshot at or before T
// answers by full replay, which costs one pass over every submission <= T.
func (e *Engine) StandingsAt(ctx context.Context, q StandingsQuery) (*Standings, error) {
	if err := q.validate(); err != nil {
		e.observeQuery(time.Time{}, "input_error")
		return nil, err
	}
	start := time.Now()

	if cached, ok := e.cacheGet(ctx, q); ok {
		e.observeQuery(start, "cached")
		return cached, nil
	}

	contest, err := e.contests.Contest(ctx, q.ContestID)
	if err != nil {
		e.observeQuery(start, "error")
		return nil, err
	}
	if contest == nil {
		e.observeQuery(start, "empty")
		return &Standings{Problems: []Problem{}, Rows: []StandingsRow{}}, nil
	}

	problems, err := e.problems.Problems(ctx, q.ContestID)
	if err != nil {
		e.observeQuery(start, "error")
		return nil, err
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].Index < problems[j].Index })

	states, err := e.statesAt(ctx, q.ContestID, q.T)
	if err != nil {
		e.observeQuery(start, "error")
		return nil, err
	}

	out := &Standings{
		Contest:  contest,
		Problems: problems,
		Rows:     buildRows(states, problems, q),
	}
	if out.Problems == nil {
		out.Problems = []Problem{}
	}
	e.cacheSet(ctx, q, out)
	e.observeQuery(start, "ok")
	return out, nil
}

// statesAt reconstructs the participant map at t: nearest base at or before
// t, then every delta in (baseT, t]. Without a base it falls back to a full
// replay of the stream.
func (e *Engine) statesAt(ctx context.Context, contestID, t int64) (map[string]*ParticipantState, error) {
	base, err := e.data.LatestBaseAtOrBefore(ctx, contestID, t)
	if err != nil {
		return nil, err
	}
	if base == nil {
		e.log.Warn("no base snapshot at or before t, replaying stream",
			"contestId", contestID, "t", t)
		return e.replayStates(ctx, contestID, t)
	}
	states := base.StateMap()
	deltas, err := e.data.DeltasIn(ctx, contestID, base.TimestampSeconds, t)
	if err != nil {
		return nil, err
	}
	for i := range deltas {
		deltas[i].Apply(states)
	}
	return states, nil
}

func buildRows(states map[string]*ParticipantState, problems []Problem, q StandingsQuery) []StandingsRow {
	kept := make([]*ParticipantState, 0, len(states))
	for _, st := range states {
		if !q.IncludeUnofficial && st.IsUnofficial {
			continue
		}
		kept = append(kept, st)
	}
	SortForStandings(kept)
	ranked := AssignRanks(kept)

	from := q.RankFrom - 1
	if from >= len(ranked) {
		return []StandingsRow{}
	}
	to := len(ranked)
	if q.RankTo > 0 && q.RankTo < to {
		to = q.RankTo
	}
	page := ranked[from:to]

	indexes := problemIndexes(problems, page)
	rows := make([]StandingsRow, 0, len(page))
	for _, r := range page {
		rows = append(rows, buildRow(r, indexes))
	}
	return rows
}

// problemIndexes fixes the per-row cell order: the catalogue first, then
// any stray indexes the states mention that the catalogue lacks.
func problemIndexes(problems []Problem, page []Ranked) []string {
	seen := make(map[string]bool, len(problems))
	out := make([]string, 0, len(problems))
	for _, p := range problems {
		if !seen[p.Index] {
			seen[p.Index] = true
			out = append(out, p.Index)
		}
	}
	var stray []string
	for _, r := range page {
		for idx := range r.State.Problems {
			if !seen[idx] {
				seen[idx] = true
				stray = append(stray, idx)
			}
		}
	}
	sort.Strings(stray)
	return append(out, stray...)
}

func buildRow(r Ranked, indexes []string) StandingsRow {
	st := r.State
	results := make([]ProblemResult, 0, len(indexes))
	for _, idx := range indexes {
		res := ProblemResult{ProblemIndex: idx, Type: "FINAL"}
		if ps, ok := st.Problems[idx]; ok && ps != nil {
			res.Points = ps.Points
			res.RejectedAttemptCount = ps.RejectCount
			res.BestSubmissionTimeSeconds = cloneTime(ps.SolveTime)
		}
		results = append(results, res)
	}
	return StandingsRow{
		Party: Party{
			Members:         []Member{{Handle: st.Handle}},
			ParticipantType: st.ParticipantType,
			Ghost:           st.Ghost,
		},
		Rank:                  r.Rank,
		Points:                st.TotalPoints,
		Penalty:               st.TotalPenalty,
		SuccessfulHackCount:   st.HackSuccess,
		UnsuccessfulHackCount: st.HackFail,
		ProblemResults:        results,
	}
}

func (e *Engine) cacheGet(ctx context.Context, q StandingsQuery) (*Standings, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(ctx, q.cacheKey())
	if err != nil {
		e.log.Debug("standings cache get failed", "key", q.cacheKey(), "error", err)
		return nil, false
	}
	if !ok {
		if e.metrics != nil {
			e.metrics.CacheMisses.Inc()
		}
		return nil, false
	}
	var out Standings
	if err := json.Unmarshal(data, &out); err != nil {
		e.log.Warn("standings cache entry corrupt", "key", q.cacheKey(), "error", err)
		return nil, false
	}
	if e.metrics != nil {
		e.metrics.CacheHits.Inc()
	}
	return &out, true
}

func (e *Engine) cacheSet(ctx context.Context, q StandingsQuery, out *Standings) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, q.cacheKey(), data); err != nil {
		e.log.Debug("standings cache set failed", "key", q.cacheKey(), "error", err)
	}
}

func (e *Engine) observeQuery(start time.Time, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.StandingsQueries.WithLabelValues(status).Inc()
	if status == "ok" && !start.IsZero() {
		e.metrics.StandingsQuerySecs.Observe(time.Since(start).Seconds())
	}
}
