// Purpose: Define the contest, submission and standings state types the
// engine folds, snapshots and ranks.
// Exports: Contest, Problem, Submission, Hack, ProblemState,
// ParticipantState, BaseSnapshot, DeltaSnapshot, StateRecord, Standings.
// Role: Shared vocabulary for the applier, builder, query and store layers.
// Invariants: isUnofficial mirrors participantType; solved problem cells are
// frozen; totals are derived from the problems map, never set directly.
// Notes: Persisted JSON is camelCase; nullable times serialize as null.
package rewind

import (
	"sort"

	"github.com/contestops/rewind/internal/store"
)

// Verdict is the judge's decision on a submission. Only OK is load-bearing
// for scoring; every other value counts as a rejected attempt.
type Verdict string

const (
	VerdictOK                Verdict = "OK"
	VerdictWrongAnswer       Verdict = "WRONG_ANSWER"
	VerdictTimeLimitExceeded Verdict = "TIME_LIMIT_EXCEEDED"
	VerdictMemoryLimit       Verdict = "MEMORY_LIMIT_EXCEEDED"
	VerdictRuntimeError      Verdict = "RUNTIME_ERROR"
	VerdictCompilationError  Verdict = "COMPILATION_ERROR"
	VerdictChallenged        Verdict = "CHALLENGED"
	VerdictSkipped           Verdict = "SKIPPED"
	VerdictTesting           Verdict = "TESTING"
)

// ParticipantType classifies how a participant entered the contest.
type ParticipantType string

const (
	ParticipantContestant       ParticipantType = "CONTESTANT"
	ParticipantVirtual          ParticipantType = "VIRTUAL"
	ParticipantPractice         ParticipantType = "PRACTICE"
	ParticipantManager          ParticipantType = "MANAGER"
	ParticipantOutOfCompetition ParticipantType = "OUT_OF_COMPETITION"
)

// IsUnofficial reports whether the type is excluded from official standings.
func (t ParticipantType) IsUnofficial() bool { return t != ParticipantContestant }

// HackVerdict is the outcome of a hack attempt.
type HackVerdict string

const (
	HackSuccessful   HackVerdict = "SUCCESSFUL"
	HackUnsuccessful HackVerdict = "UNSUCCESSFUL"
)

// Contest is the metadata record for one contest. Only DurationSeconds is
// load-bearing for the engine (window defaulting); the rest is passed
// through to standings consumers.
type Contest struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Phase            string `json:"phase"`
	StartTimeSeconds *int64 `json:"startTimeSeconds,omitempty"`
	DurationSeconds  int64  `json:"durationSeconds"`
}

func (c Contest) DocKeys() store.Keys {
	return store.Keys{ContestID: c.ID}
}

// Problem is one catalogue entry. Points default to 1 when absent.
type Problem struct {
	ContestID int64    `json:"contestId"`
	Index     string   `json:"index"`
	Points    *float64 `json:"points,omitempty"`
}

func (p Problem) DocKeys() store.Keys {
	return store.Keys{ContestID: p.ContestID, SKey: p.Index}
}

// PointsOrDefault resolves the catalogue's nullable points.
func (p Problem) PointsOrDefault() float64 {
	if p.Points == nil {
		return 1
	}
	return *p.Points
}

// Submission is one immutable judged attempt. The engine consumes
// submissions ordered by (relativeTimeSeconds, id).
type Submission struct {
	ContestID           int64           `json:"contestId"`
	ID                  int64           `json:"id"`
	ProblemIndex        string          `json:"problemIndex"`
	ProblemPoints       *float64        `json:"problemPoints,omitempty"`
	Handle              string          `json:"handle"`
	ParticipantType     ParticipantType `json:"participantType"`
	Ghost               bool            `json:"ghost,omitempty"`
	RelativeTimeSeconds int64           `json:"relativeTimeSeconds"`
	Verdict             Verdict         `json:"verdict"`
}

func (s Submission) DocKeys() store.Keys {
	return store.Keys{ContestID: s.ContestID, SKey: s.Handle, TKey: s.RelativeTimeSeconds, IKey: s.ID}
}

// Hack is one hack attempt. Hacks touch counters only; they never score.
type Hack struct {
	ContestID           int64       `json:"contestId"`
	ID                  int64       `json:"id"`
	Hacker              string      `json:"hacker"`
	Defender            string      `json:"defender,omitempty"`
	Verdict             HackVerdict `json:"verdict"`
	RelativeTimeSeconds int64       `json:"relativeTimeSeconds"`
}

func (h Hack) DocKeys() store.Keys {
	return store.Keys{ContestID: h.ContestID, SKey: h.Hacker, TKey: h.RelativeTimeSeconds, IKey: h.ID}
}

// ProblemState is one participant's progress on one problem. Once solved,
// Points, SolveTime and RejectCount are frozen.
type ProblemState struct {
	Solved           bool    `json:"solved"`
	Points           float64 `json:"points"`
	RejectCount      int64   `json:"rejectCount"`
	SolveTime        *int64  `json:"solveTime"`
	FirstAttemptTime *int64  `json:"firstAttemptTime"`
}

// Clone returns an independent copy.
func (p *ProblemState) Clone() *ProblemState {
	if p == nil {
		return nil
	}
	cp := *p
	cp.SolveTime = cloneTime(p.SolveTime)
	cp.FirstAttemptTime = cloneTime(p.FirstAttemptTime)
	return &cp
}

func (p *ProblemState) equal(o *ProblemState) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Solved == o.Solved &&
		p.Points == o.Points &&
		p.RejectCount == o.RejectCount &&
		timesEqual(p.SolveTime, o.SolveTime) &&
		timesEqual(p.FirstAttemptTime, o.FirstAttemptTime)
}

// ParticipantState is the full scoring state of one participant. Created on
// the first submission; every field is derived by the applier.
type ParticipantState struct {
	Handle             string                   `json:"handle"`
	ParticipantType    ParticipantType          `json:"participantType"`
	Ghost              bool                     `json:"ghost"`
	IsUnofficial       bool                     `json:"isUnofficial"`
	Problems           map[string]*ProblemState `json:"problems"`
	TotalPoints        float64                  `json:"totalPoints"`
	TotalPenalty       int64                    `json:"totalPenalty"`
	SolvedCount        int64                    `json:"solvedCount"`
	LastAcTime         *int64                   `json:"lastAcTime"`
	LastSubmissionTime *int64                   `json:"lastSubmissionTime"`
	HackSuccess        int64                    `json:"hackSuccess"`
	HackFail           int64                    `json:"hackFail"`
}

// Clone deep-copies the state. Snapshots own their payloads exclusively, so
// every hand-off between a snapshot and a working map goes through Clone.
func (s *ParticipantState) Clone() *ParticipantState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.LastAcTime = cloneTime(s.LastAcTime)
	cp.LastSubmissionTime = cloneTime(s.LastSubmissionTime)
	cp.Problems = make(map[string]*ProblemState, len(s.Problems))
	for idx, ps := range s.Problems {
		cp.Problems[idx] = ps.Clone()
	}
	return &cp
}

// Equal reports full field-by-field equality. The delta builder treats any
// difference as a change, so reconstruction stays exact, not approximate.
func (s *ParticipantState) Equal(o *ParticipantState) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Handle != o.Handle ||
		s.ParticipantType != o.ParticipantType ||
		s.Ghost != o.Ghost ||
		s.IsUnofficial != o.IsUnofficial ||
		s.TotalPoints != o.TotalPoints ||
		s.TotalPenalty != o.TotalPenalty ||
		s.SolvedCount != o.SolvedCount ||
		s.HackSuccess != o.HackSuccess ||
		s.HackFail != o.HackFail ||
		!timesEqual(s.LastAcTime, o.LastAcTime) ||
		!timesEqual(s.LastSubmissionTime, o.LastSubmissionTime) {
		return false
	}
	if len(s.Problems) != len(o.Problems) {
		return false
	}
	for idx, ps := range s.Problems {
		if !ps.equal(o.Problems[idx]) {
			return false
		}
	}
	return true
}

// normalize makes a state safe to use after a load: decoding may leave the
// problems map nil, and stored shapes from older writers may omit it.
func (s *ParticipantState) normalize() {
	if s.Problems == nil {
		s.Problems = make(map[string]*ProblemState)
	}
	for idx, ps := range s.Problems {
		if ps == nil {
			s.Problems[idx] = &ProblemState{}
		}
	}
	s.IsUnofficial = s.ParticipantType.IsUnofficial()
}

// StateRecord is one standingsState document: the replayed state of one
// participant as of AsOfSeconds.
type StateRecord struct {
	ContestID   int64            `json:"contestId"`
	Handle      string           `json:"handle"`
	AsOfSeconds int64            `json:"asOfSeconds"`
	State       ParticipantState `json:"state"`
}

func (r StateRecord) DocKeys() store.Keys {
	return store.Keys{ContestID: r.ContestID, SKey: r.Handle, TKey: r.AsOfSeconds}
}

// BaseSnapshot is the full participant state of one contest at one T.
// Immutable after write.
type BaseSnapshot struct {
	ContestID        int64              `json:"contestId"`
	TimestampSeconds int64              `json:"timestampSeconds"`
	Participants     []ParticipantState `json:"participants"`
	ParticipantCount int                `json:"participantCount"`
}

func (b BaseSnapshot) DocKeys() store.Keys {
	return store.Keys{ContestID: b.ContestID, TKey: b.TimestampSeconds}
}

// StateMap returns the snapshot's participants as an owned working map.
func (b *BaseSnapshot) StateMap() map[string]*ParticipantState {
	out := make(map[string]*ParticipantState, len(b.Participants))
	for i := range b.Participants {
		st := b.Participants[i].Clone()
		st.normalize()
		out[st.Handle] = st
	}
	return out
}

// ChangeOp distinguishes a participant's first appearance from an update.
// There is no delete op; participants are never removed.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
)

// Change is one delta entry. State is the entire new participant state, not
// a field patch, so applying a delta is a plain overwrite.
type Change struct {
	Handle string           `json:"handle"`
	Op     ChangeOp         `json:"op"`
	State  ParticipantState `json:"state"`
}

// DeltaSnapshot records the participants whose state changed since the
// previous snapshot, chained to the controlling base snapshot.
type DeltaSnapshot struct {
	ContestID             int64    `json:"contestId"`
	TimestampSeconds      int64    `json:"timestampSeconds"`
	BaseSnapshotTimestamp int64    `json:"baseSnapshotTimestamp"`
	Changes               []Change `json:"changes"`
	ChangeCount           int      `json:"changeCount"`
}

func (d DeltaSnapshot) DocKeys() store.Keys {
	return store.Keys{ContestID: d.ContestID, TKey: d.TimestampSeconds}
}

// Apply overwrites working-map entries with the delta's changed states.
func (d *DeltaSnapshot) Apply(states map[string]*ParticipantState) {
	for i := range d.Changes {
		st := d.Changes[i].State.Clone()
		st.normalize()
		states[st.Handle] = st
	}
}

// Member identifies one party member in the external standings shape.
type Member struct {
	Handle string `json:"handle"`
}

// Party is the external grouping of a standings row.
type Party struct {
	Members         []Member        `json:"members"`
	ParticipantType ParticipantType `json:"participantType"`
	Ghost           bool            `json:"ghost"`
}

// ProblemResult is the per-problem cell of a standings row.
type ProblemResult struct {
	ProblemIndex              string  `json:"problemIndex"`
	Points                    float64 `json:"points"`
	RejectedAttemptCount      int64   `json:"rejectedAttemptCount"`
	Type                      string  `json:"type"`
	BestSubmissionTimeSeconds *int64  `json:"bestSubmissionTimeSeconds,omitempty"`
}

// StandingsRow is one ranked entry of the external standings view.
type StandingsRow struct {
	Party                 Party           `json:"party"`
	Rank                  int             `json:"rank"`
	Points                float64         `json:"points"`
	Penalty               int64           `json:"penalty"`
	SuccessfulHackCount   int64           `json:"successfulHackCount"`
	UnsuccessfulHackCount int64           `json:"unsuccessfulHackCount"`
	ProblemResults        []ProblemResult `json:"problemResults"`
}

// Standings is the full answer to a standings query. Contest is nil when
// the contest is unknown; Problems and Rows are then empty.
type Standings struct {
	Contest  *Contest       `json:"contest"`
	Problems []Problem      `json:"problems"`
	Rows     []StandingsRow `json:"rows"`
}

func cloneTime(t *int64) *int64 {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timesEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sortedStates flattens a working map into handle order for storage and
// diffing. Handle order keeps persisted payloads byte-stable.
func sortedStates(states map[string]*ParticipantState) []ParticipantState {
	handles := make([]string, 0, len(states))
	for h := range states {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	out := make([]ParticipantState, 0, len(handles))
	for _, h := range handles {
		out = append(out, *states[h].Clone())
	}
	return out
}
