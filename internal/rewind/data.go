// Purpose: Bind the engine's seven collections to a storage backend.
// Exports: DataStore, SnapshotRef, CollectionSpecs.
// Role: The only layer that talks to internal/store; everything above works
// with typed records and engine errors.
// Invariants: Submissions and hacks read back ordered by (time, id); base
// and delta listings by timestamp. Store failures surface as StorageError
// with the originating sentinel still reachable via errors.Is.
package rewind

import (
	"context"
	"sort"

	"github.com/contestops/rewind/internal/store"
)

var (
	contestsSpec = store.Spec{
		Name: "contests", Key: store.KeyContest, CIDField: "id",
	}
	problemsSpec = store.Spec{
		Name: "problems", Key: store.KeySKey, SKeyField: "index",
	}
	submissionsSpec = store.Spec{
		Name: "submissions", Key: store.KeyIKey,
		SKeyField: "handle", TKeyField: "relativeTimeSeconds", IKeyField: "id",
	}
	hacksSpec = store.Spec{
		Name: "hacks", Key: store.KeyIKey,
		SKeyField: "hacker", TKeyField: "relativeTimeSeconds", IKeyField: "id",
	}
	statesSpec = store.Spec{
		Name: "standingsState", Key: store.KeySKey,
		SKeyField: "handle", TKeyField: "asOfSeconds",
	}
	basesSpec = store.Spec{
		Name: "baseSnapshots", Key: store.KeyTKey, TKeyField: "timestampSeconds",
	}
	deltasSpec = store.Spec{
		Name: "deltaSnapshots", Key: store.KeyTKey, TKeyField: "timestampSeconds",
	}
)

// CollectionSpecs lists every collection the engine persists. The Postgres
// backend feeds these to EnsureSchema on startup.
func CollectionSpecs() []store.Spec {
	return []store.Spec{
		contestsSpec, problemsSpec, submissionsSpec, hacksSpec,
		statesSpec, basesSpec, deltasSpec,
	}
}

// DataStore is the typed view of one backend. It implements the four source
// contracts, so a store-backed engine needs no separate collaborators.
type DataStore struct {
	backend     store.Backend
	contests    store.Collection[Contest]
	problems    store.Collection[Problem]
	submissions store.Collection[Submission]
	hacks       store.Collection[Hack]
	states      store.Collection[StateRecord]
	bases       store.Collection[BaseSnapshot]
	deltas      store.Collection[DeltaSnapshot]
}

// NewDataStore wraps a backend with the engine's collections.
func NewDataStore(b store.Backend) *DataStore {
	return &DataStore{
		backend:     b,
		contests:    store.NewCollection[Contest](b, contestsSpec),
		problems:    store.NewCollection[Problem](b, problemsSpec),
		submissions: store.NewCollection[Submission](b, submissionsSpec),
		hacks:       store.NewCollection[Hack](b, hacksSpec),
		states:      store.NewCollection[StateRecord](b, statesSpec),
		bases:       store.NewCollection[BaseSnapshot](b, basesSpec),
		deltas:      store.NewCollection[DeltaSnapshot](b, deltasSpec),
	}
}

// Close releases the underlying backend.
func (d *DataStore) Close() error { return d.backend.Close() }

// Contest implements ContestSource; nil when unknown.
func (d *DataStore) Contest(ctx context.Context, contestID int64) (*Contest, error) {
	rec, err := d.contests.FindOne(ctx, store.Filter{ContestID: contestID}, store.FindOptions{})
	if err != nil {
		return nil, storageErr("contests.findOne", err)
	}
	return rec, nil
}

// Problems implements ProblemSource, ordered by index.
func (d *DataStore) Problems(ctx context.Context, contestID int64) ([]Problem, error) {
	out, err := d.problems.Find(ctx, store.Filter{ContestID: contestID}, store.FindOptions{})
	if err != nil {
		return nil, storageErr("problems.find", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Submissions implements SubmissionSource, ordered by (time, id).
func (d *DataStore) Submissions(ctx context.Context, contestID int64) ([]Submission, error) {
	out, err := d.submissions.Find(ctx, store.Filter{ContestID: contestID},
		store.FindOptions{Sort: store.SortTKeyAsc})
	if err != nil {
		return nil, storageErr("submissions.find", err)
	}
	return out, nil
}

// Hacks implements HackSource, ordered by (time, id).
func (d *DataStore) Hacks(ctx context.Context, contestID int64) ([]Hack, error) {
	out, err := d.hacks.Find(ctx, store.Filter{ContestID: contestID},
		store.FindOptions{Sort: store.SortTKeyAsc})
	if err != nil {
		return nil, storageErr("hacks.find", err)
	}
	return out, nil
}

// SnapshotRef locates a snapshot of either kind and the base that controls
// its chain: a base controls itself, a delta names its base.
type SnapshotRef struct {
	TimestampSeconds int64
	ControllingBase  int64
	IsBase           bool
}

// InsertBaseSnapshot writes a new base; duplicates at the same timestamp
// surface store.ErrDuplicateKey through the StorageError chain.
func (d *DataStore) InsertBaseSnapshot(ctx context.Context, snap *BaseSnapshot) error {
	if err := d.bases.Insert(ctx, *snap); err != nil {
		return storageErr("baseSnapshots.insert", err)
	}
	return nil
}

// InsertDeltaSnapshot writes a new delta; duplicate semantics as for bases.
func (d *DataStore) InsertDeltaSnapshot(ctx context.Context, snap *DeltaSnapshot) error {
	if err := d.deltas.Insert(ctx, *snap); err != nil {
		return storageErr("deltaSnapshots.insert", err)
	}
	return nil
}

// BaseAt loads the base snapshot exactly at T, or nil.
func (d *DataStore) BaseAt(ctx context.Context, contestID, t int64) (*BaseSnapshot, error) {
	rec, err := d.bases.FindOne(ctx,
		store.Filter{ContestID: contestID, TKeyEq: &t}, store.FindOptions{})
	if err != nil {
		return nil, storageErr("baseSnapshots.findOne", err)
	}
	return rec, nil
}

// LatestBaseAtOrBefore finds the nearest base with timestamp <= t, or nil.
func (d *DataStore) LatestBaseAtOrBefore(ctx context.Context, contestID, t int64) (*BaseSnapshot, error) {
	rec, err := d.bases.FindOne(ctx,
		store.Filter{ContestID: contestID, TKeyMax: &t},
		store.FindOptions{Sort: store.SortTKeyDesc})
	if err != nil {
		return nil, storageErr("baseSnapshots.findOne", err)
	}
	return rec, nil
}

// LatestSnapshotAtOrBefore finds the nearest snapshot of either kind with
// timestamp <= t. When a base and a delta share a timestamp the base wins;
// it carries the full state.
func (d *DataStore) LatestSnapshotAtOrBefore(ctx context.Context, contestID, t int64) (*SnapshotRef, error) {
	base, err := d.LatestBaseAtOrBefore(ctx, contestID, t)
	if err != nil {
		return nil, err
	}
	delta, err := d.deltas.FindOne(ctx,
		store.Filter{ContestID: contestID, TKeyMax: &t},
		store.FindOptions{Sort: store.SortTKeyDesc, Fields: []string{
			"contestId", "timestampSeconds", "baseSnapshotTimestamp",
		}})
	if err != nil {
		return nil, storageErr("deltaSnapshots.findOne", err)
	}
	switch {
	case base == nil && delta == nil:
		return nil, nil
	case delta == nil || (base != nil && base.TimestampSeconds >= delta.TimestampSeconds):
		return &SnapshotRef{
			TimestampSeconds: base.TimestampSeconds,
			ControllingBase:  base.TimestampSeconds,
			IsBase:           true,
		}, nil
	default:
		return &SnapshotRef{
			TimestampSeconds: delta.TimestampSeconds,
			ControllingBase:  delta.BaseSnapshotTimestamp,
		}, nil
	}
}

// DeltasIn loads delta snapshots with afterExcl < timestamp <= toIncl,
// ascending.
func (d *DataStore) DeltasIn(ctx context.Context, contestID, afterExcl, toIncl int64) ([]DeltaSnapshot, error) {
	out, err := d.deltas.Find(ctx, store.Filter{
		ContestID: contestID,
		TKeyMin:   &afterExcl, TKeyMinEx: true,
		TKeyMax: &toIncl,
	}, store.FindOptions{Sort: store.SortTKeyAsc})
	if err != nil {
		return nil, storageErr("deltaSnapshots.find", err)
	}
	return out, nil
}

// ListBaseSnapshots returns base headers (no participant payloads),
// ascending by timestamp.
func (d *DataStore) ListBaseSnapshots(ctx context.Context, contestID int64) ([]BaseSnapshot, error) {
	out, err := d.bases.Find(ctx, store.Filter{ContestID: contestID},
		store.FindOptions{Sort: store.SortTKeyAsc, Fields: []string{
			"contestId", "timestampSeconds", "participantCount",
		}})
	if err != nil {
		return nil, storageErr("baseSnapshots.find", err)
	}
	return out, nil
}

// ListDeltaSnapshots returns delta headers (no change payloads), ascending.
func (d *DataStore) ListDeltaSnapshots(ctx context.Context, contestID int64) ([]DeltaSnapshot, error) {
	out, err := d.deltas.Find(ctx, store.Filter{ContestID: contestID},
		store.FindOptions{Sort: store.SortTKeyAsc, Fields: []string{
			"contestId", "timestampSeconds", "baseSnapshotTimestamp", "changeCount",
		}})
	if err != nil {
		return nil, storageErr("deltaSnapshots.find", err)
	}
	return out, nil
}

// RemoveBaseSnapshot deletes the base at exactly T. Reports whether one
// existed.
func (d *DataStore) RemoveBaseSnapshot(ctx context.Context, contestID, t int64) (bool, error) {
	n, err := d.bases.Delete(ctx, store.Filter{ContestID: contestID, TKeyEq: &t})
	if err != nil {
		return false, storageErr("baseSnapshots.delete", err)
	}
	return n > 0, nil
}

// RemoveDeltaSnapshot deletes the delta at exactly T.
func (d *DataStore) RemoveDeltaSnapshot(ctx context.Context, contestID, t int64) (bool, error) {
	n, err := d.deltas.Delete(ctx, store.Filter{ContestID: contestID, TKeyEq: &t})
	if err != nil {
		return false, storageErr("deltaSnapshots.delete", err)
	}
	return n > 0, nil
}

// ReplaceStandingsState upserts one StateRecord per participant. Upserts
// tolerate interleaving with concurrent writers, so one bulk call suffices.
func (d *DataStore) ReplaceStandingsState(ctx context.Context, contestID, asOf int64, states map[string]*ParticipantState) (int, error) {
	flat := sortedStates(states)
	ops := make([]store.Op[StateRecord], 0, len(flat))
	for _, st := range flat {
		ops = append(ops, store.Op[StateRecord]{
			Kind: store.OpUpsert,
			Doc:  StateRecord{ContestID: contestID, Handle: st.Handle, AsOfSeconds: asOf, State: st},
		})
	}
	sum, err := d.states.BulkWrite(ctx, ops)
	if err != nil {
		return sum.Upserted, storageErr("standingsState.bulkWrite", err)
	}
	return sum.Upserted, nil
}

// StandingsState loads the initialized per-participant records, ordered by
// handle.
func (d *DataStore) StandingsState(ctx context.Context, contestID int64) ([]StateRecord, error) {
	out, err := d.states.Find(ctx, store.Filter{ContestID: contestID}, store.FindOptions{})
	if err != nil {
		return nil, storageErr("standingsState.find", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// StandingsStateCount counts the initialized records for a contest.
func (d *DataStore) StandingsStateCount(ctx context.Context, contestID int64) (int64, error) {
	n, err := d.states.Count(ctx, store.Filter{ContestID: contestID})
	if err != nil {
		return 0, storageErr("standingsState.count", err)
	}
	return n, nil
}

// PutContest upserts contest metadata.
func (d *DataStore) PutContest(ctx context.Context, c Contest) error {
	if _, err := d.contests.Upsert(ctx, c); err != nil {
		return storageErr("contests.upsert", err)
	}
	return nil
}

// PutProblems upserts catalogue entries; returns how many were written.
func (d *DataStore) PutProblems(ctx context.Context, problems []Problem) (int, error) {
	ops := make([]store.Op[Problem], 0, len(problems))
	for _, p := range problems {
		ops = append(ops, store.Op[Problem]{Kind: store.OpUpsert, Doc: p})
	}
	sum, err := d.problems.BulkWrite(ctx, ops)
	if err != nil {
		return sum.Upserted, storageErr("problems.bulkWrite", err)
	}
	return sum.Upserted, nil
}

// PutSubmissions upserts submissions; returns how many were written.
func (d *DataStore) PutSubmissions(ctx context.Context, subs []Submission) (int, error) {
	ops := make([]store.Op[Submission], 0, len(subs))
	for _, s := range subs {
		ops = append(ops, store.Op[Submission]{Kind: store.OpUpsert, Doc: s})
	}
	sum, err := d.submissions.BulkWrite(ctx, ops)
	if err != nil {
		return sum.Upserted, storageErr("submissions.bulkWrite", err)
	}
	return sum.Upserted, nil
}

// PutHacks upserts hack attempts; returns how many were written.
func (d *DataStore) PutHacks(ctx context.Context, hacks []Hack) (int, error) {
	ops := make([]store.Op[Hack], 0, len(hacks))
	for _, h := range hacks {
		ops = append(ops, store.Op[Hack]{Kind: store.OpUpsert, Doc: h})
	}
	sum, err := d.hacks.BulkWrite(ctx, ops)
	if err != nil {
		return sum.Upserted, storageErr("hacks.bulkWrite", err)
	}
	return sum.Upserted, nil
}
