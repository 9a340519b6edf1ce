// Purpose: Build base and delta snapshots from the submission stream.
// Exports: SnapshotKind, SnapshotResult, BulkReport, InitReport and the
// Engine methods CreateBaseSnapshot, CreateDeltaSnapshot, CreateSnapshot,
// CreateSnapshotsBulk, InitializeStandingsState.
// Role: The write side of the engine; everything here is replay-driven.
// Invariants: A delta's timestamp is strictly after its controlling base;
// diffs are exact (any changed field marks the participant changed); bulk
// builds write bases before the deltas that chain to them.
package rewind

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotKind distinguishes the two snapshot collections.
type SnapshotKind string

const (
	KindBase  SnapshotKind = "base"
	KindDelta SnapshotKind = "delta"
)

// SnapshotResult reports what a snapshot build actually produced. A delta
// request degrades to a base when no prior snapshot exists, so exactly one
// of Base and Delta is set, matching Kind.
type SnapshotResult struct {
	Kind  SnapshotKind   `json:"kind"`
	Base  *BaseSnapshot  `json:"base,omitempty"`
	Delta *DeltaSnapshot `json:"delta,omitempty"`
}

// TimestampSeconds returns the built snapshot's time.
func (r *SnapshotResult) TimestampSeconds() int64 {
	if r.Kind == KindBase {
		return r.Base.TimestampSeconds
	}
	return r.Delta.TimestampSeconds
}

// BulkReport is the partial-success summary of a bulk build. Errors carry
// one entry per failed timestamp; the schedule always runs to completion
// unless the context is canceled.
type BulkReport struct {
	RunID      string      `json:"runId"`
	ContestID  int64       `json:"contestId"`
	BaseCount  int         `json:"baseCount"`
	DeltaCount int         `json:"deltaCount"`
	Errors     []BulkError `json:"errors"`
}

// BulkError records one failed timestamp within a bulk build.
type BulkError struct {
	TimestampSeconds int64        `json:"timestampSeconds"`
	Kind             SnapshotKind `json:"kind"`
	Message          string       `json:"message"`
}

// InitReport summarizes an initializeStandingsState run.
type InitReport struct {
	ContestID    int64 `json:"contestId"`
	AsOfSeconds  int64 `json:"asOfSeconds"`
	Participants int   `json:"participants"`
}

// CreateBaseSnapshot replays every submission at or before t and stores the
// full participant state. Re-creation at an existing timestamp fails with a
// duplicate-key StorageError; remove the snapshot first.
func (e *Engine) CreateBaseSnapshot(ctx context.Context, contestID, t int64) (*BaseSnapshot, error) {
	if err := validateContestTime(contestID, t); err != nil {
		return nil, err
	}
	start := time.Now()
	states, err := e.replayStates(ctx, contestID, t)
	if err != nil {
		e.observeBuild(KindBase, start, err)
		return nil, err
	}
	participants := sortedStates(states)
	snap := &BaseSnapshot{
		ContestID:        contestID,
		TimestampSeconds: t,
		Participants:     participants,
		ParticipantCount: len(participants),
	}
	err = e.data.InsertBaseSnapshot(ctx, snap)
	e.observeBuild(KindBase, start, err)
	if err != nil {
		return nil, err
	}
	e.log.Debug("base snapshot created",
		"contestId", contestID, "t", t,
		"participants", snap.ParticipantCount,
		"elapsed", time.Since(start))
	return snap, nil
}

// CreateDeltaSnapshot stores the exact state changes since the previous
// snapshot at or before t-1. With no prior snapshot it degrades to a base
// build at t.
func (e *Engine) CreateDeltaSnapshot(ctx context.Context, contestID, t int64) (*SnapshotResult, error) {
	if err := validateContestTime(contestID, t); err != nil {
		return nil, err
	}
	prev, err := e.data.LatestSnapshotAtOrBefore(ctx, contestID, t-1)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		e.log.Info("no prior snapshot, degrading delta to base", "contestId", contestID, "t", t)
		base, err := e.CreateBaseSnapshot(ctx, contestID, t)
		if err != nil {
			return nil, err
		}
		return &SnapshotResult{Kind: KindBase, Base: base}, nil
	}

	start := time.Now()
	prior, err := e.stateMapAt(ctx, contestID, prev.ControllingBase, prev.TimestampSeconds)
	if err != nil {
		e.observeBuild(KindDelta, start, err)
		return nil, err
	}
	current := cloneStateMap(prior)
	if err := e.applyWindow(ctx, contestID, current, prev.TimestampSeconds, t); err != nil {
		e.observeBuild(KindDelta, start, err)
		return nil, err
	}

	changes := diffStates(prior, current)
	snap := &DeltaSnapshot{
		ContestID:             contestID,
		TimestampSeconds:      t,
		BaseSnapshotTimestamp: prev.ControllingBase,
		Changes:               changes,
		ChangeCount:           len(changes),
	}
	err = e.data.InsertDeltaSnapshot(ctx, snap)
	e.observeBuild(KindDelta, start, err)
	if err != nil {
		return nil, err
	}
	e.log.Debug("delta snapshot created",
		"contestId", contestID, "t", t,
		"base", snap.BaseSnapshotTimestamp,
		"changes", snap.ChangeCount,
		"elapsed", time.Since(start))
	return &SnapshotResult{Kind: KindDelta, Delta: snap}, nil
}

// CreateSnapshot classifies t against the engine's cadence: a base-interval
// multiple builds a base, a delta-interval multiple builds a delta, and
// anything else is rejected.
func (e *Engine) CreateSnapshot(ctx context.Context, contestID, t int64) (*SnapshotResult, error) {
	if err := validateContestTime(contestID, t); err != nil {
		return nil, err
	}
	switch {
	case t%e.baseInterval == 0:
		base, err := e.CreateBaseSnapshot(ctx, contestID, t)
		if err != nil {
			return nil, err
		}
		return &SnapshotResult{Kind: KindBase, Base: base}, nil
	case t%e.deltaInterval == 0:
		return e.CreateDeltaSnapshot(ctx, contestID, t)
	default:
		return nil, inputErrf("off-cadence",
			"t=%d is not a multiple of the base (%ds) or delta (%ds) interval",
			t, e.baseInterval, e.deltaInterval)
	}
}

// CreateSnapshotsBulk builds every scheduled snapshot in [start, end]. Bases
// win coincidence points and are written first, ascending, then deltas
// ascending, so every delta's chain already exists. Per-timestamp failures
// are recorded and the schedule continues; only context cancellation stops
// it early, returning the partial report alongside the context error.
func (e *Engine) CreateSnapshotsBulk(ctx context.Context, contestID, startT, endT, baseInterval, deltaInterval int64) (*BulkReport, error) {
	if err := validateContestTime(contestID, startT); err != nil {
		return nil, err
	}
	if endT < startT {
		return nil, inputErrf("bad-window", "end %d is before start %d", endT, startT)
	}
	if baseInterval <= 0 {
		baseInterval = e.baseInterval
	}
	if deltaInterval <= 0 {
		deltaInterval = e.deltaInterval
	}

	baseTs := multiplesIn(startT, endT, baseInterval)
	onBase := make(map[int64]bool, len(baseTs))
	for _, t := range baseTs {
		onBase[t] = true
	}
	var deltaTs []int64
	for _, t := range multiplesIn(startT, endT, deltaInterval) {
		if !onBase[t] {
			deltaTs = append(deltaTs, t)
		}
	}

	report := &BulkReport{RunID: uuid.NewString(), ContestID: contestID}
	e.log.Info("bulk snapshot build started",
		"runId", report.RunID, "contestId", contestID,
		"start", startT, "end", endT,
		"bases", len(baseTs), "deltas", len(deltaTs))

	for _, t := range baseTs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := e.CreateBaseSnapshot(ctx, contestID, t); err != nil {
			report.Errors = append(report.Errors, BulkError{
				TimestampSeconds: t, Kind: KindBase, Message: err.Error(),
			})
			continue
		}
		report.BaseCount++
	}
	for _, t := range deltaTs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := e.CreateDeltaSnapshot(ctx, contestID, t)
		if err != nil {
			report.Errors = append(report.Errors, BulkError{
				TimestampSeconds: t, Kind: KindDelta, Message: err.Error(),
			})
			continue
		}
		if res.Kind == KindBase {
			report.BaseCount++
		} else {
			report.DeltaCount++
		}
	}

	e.log.Info("bulk snapshot build finished",
		"runId", report.RunID,
		"baseCount", report.BaseCount, "deltaCount", report.DeltaCount,
		"errors", len(report.Errors))
	return report, nil
}

// InitializeStandingsState replays the whole contest and upserts one
// standingsState record per participant. The replay horizon is the contest
// duration when known, otherwise the last submission time.
func (e *Engine) InitializeStandingsState(ctx context.Context, contestID int64) (*InitReport, error) {
	if contestID <= 0 {
		return nil, inputErrf("bad-contest", "contestId must be positive, got %d", contestID)
	}
	contest, err := e.contests.Contest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	subs, err := e.subs.Submissions(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest == nil && len(subs) == 0 {
		return nil, dataErrf("no-data", "contest %d has no metadata and no submissions", contestID)
	}

	var horizon int64
	if contest != nil && contest.DurationSeconds > 0 {
		horizon = contest.DurationSeconds
	}
	for _, s := range subs {
		if s.RelativeTimeSeconds > horizon {
			horizon = s.RelativeTimeSeconds
		}
	}

	states, err := e.replayStates(ctx, contestID, horizon)
	if err != nil {
		return nil, err
	}
	n, err := e.data.ReplaceStandingsState(ctx, contestID, horizon, states)
	if err != nil {
		return nil, err
	}
	e.log.Info("standings state initialized",
		"contestId", contestID, "asOf", horizon, "participants", n)
	return &InitReport{ContestID: contestID, AsOfSeconds: horizon, Participants: n}, nil
}

// replayStates folds every submission and hack at or before t into a fresh
// state map. This is the reference path: snapshots exist to avoid it.
func (e *Engine) replayStates(ctx context.Context, contestID, t int64) (map[string]*ParticipantState, error) {
	states := make(map[string]*ParticipantState)
	if err := e.applyWindow(ctx, contestID, states, -1, t); err != nil {
		return nil, err
	}
	return states, nil
}

// applyWindow folds submissions and hacks with fromExcl < time <= toIncl
// into states, in (time, id) order.
func (e *Engine) applyWindow(ctx context.Context, contestID int64, states map[string]*ParticipantState, fromExcl, toIncl int64) error {
	table, err := e.loadPoints(ctx, contestID)
	if err != nil {
		return err
	}
	subs, err := e.subs.Submissions(ctx, contestID)
	if err != nil {
		return err
	}
	sortSubmissions(subs)
	for _, sub := range subs {
		if sub.RelativeTimeSeconds <= fromExcl || sub.RelativeTimeSeconds > toIncl {
			continue
		}
		// Malformed events are dropped before they can mint a participant.
		if sub.Handle == "" || sub.ProblemIndex == "" || sub.RelativeTimeSeconds < 0 {
			continue
		}
		st, ok := states[sub.Handle]
		if !ok {
			st = NewParticipantState(sub)
			states[sub.Handle] = st
		}
		ApplySubmission(st, sub, table.resolve(sub))
	}

	hacks, err := e.hacks.Hacks(ctx, contestID)
	if err != nil {
		return err
	}
	for _, h := range hacks {
		if h.RelativeTimeSeconds <= fromExcl || h.RelativeTimeSeconds > toIncl {
			continue
		}
		st, ok := states[h.Hacker]
		if !ok {
			// Hack counters attach to participants the submission stream
			// created; a hack from an unknown handle is dropped.
			continue
		}
		ApplyHack(st, h)
	}
	return nil
}

// stateMapAt rebuilds the participant map at time t from the snapshot
// chain: the base at baseT plus every delta in (baseT, t].
func (e *Engine) stateMapAt(ctx context.Context, contestID, baseT, t int64) (map[string]*ParticipantState, error) {
	base, err := e.data.BaseAt(ctx, contestID, baseT)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, dataErrf("missing-base",
			"contest %d has no base snapshot at %d", contestID, baseT)
	}
	states := base.StateMap()
	deltas, err := e.data.DeltasIn(ctx, contestID, baseT, t)
	if err != nil {
		return nil, err
	}
	for i := range deltas {
		deltas[i].Apply(states)
	}
	return states, nil
}

// pointsTable resolves a submission's problem value against the catalogue.
// Unknown problems warn once per index and fall back to the submission's
// own problemPoints, then to 1.
type pointsTable struct {
	engine    *Engine
	contestID int64
	catalogue map[string]float64
	warned    map[string]struct{}
}

func (e *Engine) loadPoints(ctx context.Context, contestID int64) (*pointsTable, error) {
	problems, err := e.problems.Problems(ctx, contestID)
	if err != nil {
		return nil, err
	}
	catalogue := make(map[string]float64, len(problems))
	for _, p := range problems {
		catalogue[p.Index] = p.PointsOrDefault()
	}
	return &pointsTable{
		engine:    e,
		contestID: contestID,
		catalogue: catalogue,
		warned:    make(map[string]struct{}),
	}, nil
}

func (t *pointsTable) resolve(sub Submission) float64 {
	if pts, ok := t.catalogue[sub.ProblemIndex]; ok {
		return pts
	}
	if _, done := t.warned[sub.ProblemIndex]; !done {
		t.engine.log.Warn("problem missing from catalogue, defaulting points",
			"contestId", t.contestID, "problemIndex", sub.ProblemIndex)
		t.warned[sub.ProblemIndex] = struct{}{}
	}
	if sub.ProblemPoints != nil {
		return *sub.ProblemPoints
	}
	return 1
}

// diffStates emits one change per participant whose state differs, in
// handle order. INSERT marks first appearances; there is no delete op.
func diffStates(prior, current map[string]*ParticipantState) []Change {
	handles := make([]string, 0, len(current))
	for h := range current {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	var changes []Change
	for _, h := range handles {
		cur := current[h]
		old, existed := prior[h]
		switch {
		case !existed:
			changes = append(changes, Change{Handle: h, Op: ChangeInsert, State: *cur.Clone()})
		case !old.Equal(cur):
			changes = append(changes, Change{Handle: h, Op: ChangeUpdate, State: *cur.Clone()})
		}
	}
	return changes
}

func cloneStateMap(states map[string]*ParticipantState) map[string]*ParticipantState {
	out := make(map[string]*ParticipantState, len(states))
	for h, st := range states {
		out[h] = st.Clone()
	}
	return out
}

func sortSubmissions(subs []Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].RelativeTimeSeconds != subs[j].RelativeTimeSeconds {
			return subs[i].RelativeTimeSeconds < subs[j].RelativeTimeSeconds
		}
		return subs[i].ID < subs[j].ID
	})
}

// multiplesIn lists the multiples of interval within [start, end].
func multiplesIn(start, end, interval int64) []int64 {
	if interval <= 0 || end < start {
		return nil
	}
	first := ((start + interval - 1) / interval) * interval
	var out []int64
	for t := first; t <= end; t += interval {
		out = append(out, t)
	}
	return out
}

func validateContestTime(contestID, t int64) error {
	if contestID <= 0 {
		return inputErrf("bad-contest", "contestId must be positive, got %d", contestID)
	}
	if t < 0 {
		return inputErrf("bad-timestamp", "relative time must be non-negative, got %d", t)
	}
	return nil
}

func (e *Engine) observeBuild(kind SnapshotKind, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.SnapshotBuilds.WithLabelValues(string(kind), status).Inc()
	if err == nil {
		e.metrics.SnapshotBuildSeconds.WithLabelValues(string(kind)).
			Observe(time.Since(start).Seconds())
	}
}
