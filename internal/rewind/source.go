// Purpose: Contracts for the engine's upstream data collaborators and an
// in-memory fixture implementation for tests.
// Exports: SubmissionSource, ProblemSource, ContestSource, HackSource,
// MemorySource.
package rewind

import "context"

// SubmissionSource yields all judged submissions of a contest. Ordering is
// not guaranteed by the source; the engine sorts by (time, id).
type SubmissionSource interface {
	Submissions(ctx context.Context, contestID int64) ([]Submission, error)
}

// ProblemSource yields a contest's problem catalogue.
type ProblemSource interface {
	Problems(ctx context.Context, contestID int64) ([]Problem, error)
}

// ContestSource resolves contest metadata. Unknown contests return nil, nil.
type ContestSource interface {
	Contest(ctx context.Context, contestID int64) (*Contest, error)
}

// HackSource yields a contest's hack attempts.
type HackSource interface {
	Hacks(ctx context.Context, contestID int64) ([]Hack, error)
}

// MemorySource implements every source contract from plain maps. Tests and
// the quickstart seed it directly; nothing here touches a backend.
type MemorySource struct {
	ContestsByID  map[int64]Contest
	ProblemSets   map[int64][]Problem
	SubmissionLog map[int64][]Submission
	HackLog       map[int64][]Hack
}

// NewMemorySource returns an empty fixture source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		ContestsByID:  make(map[int64]Contest),
		ProblemSets:   make(map[int64][]Problem),
		SubmissionLog: make(map[int64][]Submission),
		HackLog:       make(map[int64][]Hack),
	}
}

// AddContest registers contest metadata.
func (m *MemorySource) AddContest(c Contest) {
	m.ContestsByID[c.ID] = c
}

// AddProblems appends catalogue entries for their contests.
func (m *MemorySource) AddProblems(problems ...Problem) {
	for _, p := range problems {
		m.ProblemSets[p.ContestID] = append(m.ProblemSets[p.ContestID], p)
	}
}

// AddSubmissions appends submissions for their contests.
func (m *MemorySource) AddSubmissions(subs ...Submission) {
	for _, s := range subs {
		m.SubmissionLog[s.ContestID] = append(m.SubmissionLog[s.ContestID], s)
	}
}

// AddHacks appends hack attempts for their contests.
func (m *MemorySource) AddHacks(hacks ...Hack) {
	for _, h := range hacks {
		m.HackLog[h.ContestID] = append(m.HackLog[h.ContestID], h)
	}
}

func (m *MemorySource) Contest(_ context.Context, contestID int64) (*Contest, error) {
	c, ok := m.ContestsByID[contestID]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (m *MemorySource) Problems(_ context.Context, contestID int64) ([]Problem, error) {
	return append([]Problem(nil), m.ProblemSets[contestID]...), nil
}

func (m *MemorySource) Submissions(_ context.Context, contestID int64) ([]Submission, error) {
	return append([]Submission(nil), m.SubmissionLog[contestID]...), nil
}

func (m *MemorySource) Hacks(_ context.Context, contestID int64) ([]Hack, error) {
	return append([]Hack(nil), m.HackLog[contestID]...), nil
}
