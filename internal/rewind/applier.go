// Purpose: Fold single submissions and hacks into participant state.
// Exports: NewParticipantState, ApplySubmission, ApplyHack.
// Role: The deterministic core every replay and snapshot build runs on.
// Invariants: Pure state transforms, no I/O; malformed events are skipped,
// never rejected; a solved problem cell is never touched again.
package rewind

// penaltyPerReject is the fixed per-rejected-attempt charge in minutes.
// Not configurable; changing it silently rewrites history.
const penaltyPerReject int64 = 20

// NewParticipantState seeds a state from a participant's first submission.
func NewParticipantState(sub Submission) *ParticipantState {
	return &ParticipantState{
		Handle:          sub.Handle,
		ParticipantType: sub.ParticipantType,
		Ghost:           sub.Ghost,
		IsUnofficial:    sub.ParticipantType.IsUnofficial(),
		Problems:        make(map[string]*ProblemState),
	}
}

// ApplySubmission folds one judged submission into the state. points is the
// resolved problem value (catalogue points, default 1). Events missing a
// handle, a problem index or a non-negative time are dropped without effect.
func ApplySubmission(state *ParticipantState, sub Submission, points float64) {
	if state == nil || sub.Handle == "" || sub.ProblemIndex == "" || sub.RelativeTimeSeconds < 0 {
		return
	}
	t := sub.RelativeTimeSeconds
	if state.Problems == nil {
		state.Problems = make(map[string]*ProblemState)
	}
	p, ok := state.Problems[sub.ProblemIndex]
	if !ok || p == nil {
		p = &ProblemState{FirstAttemptTime: timePtr(t)}
		state.Problems[sub.ProblemIndex] = p
	}

	switch {
	case sub.Verdict == VerdictOK && !p.Solved:
		p.Solved = true
		p.Points = points
		p.SolveTime = timePtr(t)
		state.TotalPoints += points
		state.TotalPenalty += p.RejectCount*penaltyPerReject + t/60
		state.SolvedCount++
		state.LastAcTime = maxTime(state.LastAcTime, t)
	case sub.Verdict != VerdictOK && !p.Solved:
		p.RejectCount++
		if p.FirstAttemptTime == nil {
			p.FirstAttemptTime = timePtr(t)
		}
	}
	// Verdicts after a solve fall through: the cell is frozen.

	state.LastSubmissionTime = maxTime(state.LastSubmissionTime, t)
}

// ApplyHack bumps the hack counters. Hacks never affect points or penalty.
func ApplyHack(state *ParticipantState, hack Hack) {
	if state == nil {
		return
	}
	switch hack.Verdict {
	case HackSuccessful:
		state.HackSuccess++
	case HackUnsuccessful:
		state.HackFail++
	}
}

func timePtr(t int64) *int64 { return &t }

func maxTime(current *int64, next int64) *int64 {
	if current == nil || next > *current {
		return timePtr(next)
	}
	return current
}
