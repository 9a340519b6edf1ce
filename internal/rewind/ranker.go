// Purpose: Order participant states and assign competition ranks.
// Exports: CompareStates, SortForStandings, AssignRanks, Ranked.
// Role: Pure ranking stage between reconstruction and pagination.
package rewind

import (
	"math"
	"sort"
)

// CompareStates is the standings total order: higher totalPoints first,
// then lower totalPenalty, then earlier lastAcTime. A participant who never
// solved anything compares as if their last accept were at +infinity.
// Returns -1, 0 or 1.
func CompareStates(a, b *ParticipantState) int {
	switch {
	case a.TotalPoints > b.TotalPoints:
		return -1
	case a.TotalPoints < b.TotalPoints:
		return 1
	}
	switch {
	case a.TotalPenalty < b.TotalPenalty:
		return -1
	case a.TotalPenalty > b.TotalPenalty:
		return 1
	}
	at, bt := acTimeOrMax(a), acTimeOrMax(b)
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	}
	return 0
}

func acTimeOrMax(s *ParticipantState) int64 {
	if s.LastAcTime == nil {
		return math.MaxInt64
	}
	return *s.LastAcTime
}

// SortForStandings sorts states by CompareStates. Exact ties order by
// handle so the printed sequence is identical across runs and backends;
// rank assignment still sees them as tied.
func SortForStandings(states []*ParticipantState) {
	sort.SliceStable(states, func(i, j int) bool {
		if c := CompareStates(states[i], states[j]); c != 0 {
			return c < 0
		}
		return states[i].Handle < states[j].Handle
	})
}

// Ranked pairs a state with its assigned rank.
type Ranked struct {
	State *ParticipantState
	Rank  int
}

// AssignRanks walks an already-sorted slice and applies standard
// competition ranking ("1224"): a state tied with its predecessor inherits
// the predecessor's rank, the next distinct state gets position+1.
func AssignRanks(states []*ParticipantState) []Ranked {
	out := make([]Ranked, len(states))
	for i, st := range states {
		rank := i + 1
		if i > 0 && CompareStates(states[i-1], st) == 0 {
			rank = out[i-1].Rank
		}
		out[i] = Ranked{State: st, Rank: rank}
	}
	return out
}
