package schedule

import (
	"fmt"
	"time"
)

// EvalOptions tunes the due window.
type EvalOptions struct {
	// PollInterval is the tick spacing. A StaleAfter shorter than one tick
	// is raised to it so a due occurrence is always seen at least once.
	PollInterval time.Duration
	// StaleAfter caps lateness. Zero means one recurrence period.
	StaleAfter time.Duration
}

// StateAt derives the lifecycle state of s for occurrence occ.
//
// A start counts for occ when it was recorded at or after occ.Start and,
// when a stop is configured, before the stop instant. A start recorded after
// the window closed (a late Play Now) satisfies the occurrence without
// arming its stop.
func StateAt(s *Schedule, occ Occurrence) State {
	if s.LastTriggered == nil || s.LastTriggered.Before(occ.Start) {
		if s.IsOneShot() && s.Consumed {
			return StateDone
		}
		return StateAwaitingStart
	}
	if s.LastAction == ActionStop || occ.Stop == nil {
		return StateDone
	}
	if !s.LastTriggered.Before(*occ.Stop) {
		return StateDone
	}
	return StateRunning
}

// Evaluate decides whether occ is due to start or stop at now. It does no
// I/O; the error is only returned when the timezone cannot be loaded while
// computing the staleness bound.
func Evaluate(s *Schedule, occ Occurrence, now time.Time, opts EvalOptions) (Evaluation, error) {
	if !s.Active {
		return none("paused"), nil
	}

	next, err := NextOf(s, occ)
	if err != nil {
		return Evaluation{}, err
	}
	period := next.Start.Sub(occ.Start)

	switch state := StateAt(s, occ); state {
	case StateDone:
		if s.IsOneShot() && s.Consumed && (s.LastTriggered == nil || s.LastTriggered.Before(occ.Start)) {
			return none("one-shot consumed"), nil
		}
		return none("occurrence complete"), nil

	case StateAwaitingStart:
		if now.Before(occ.Start) {
			return none("start not reached"), nil
		}
		if occ.Start.Before(s.ArmedAt) {
			return none("start precedes arming"), nil
		}
		if occ.Stop != nil && !now.Before(*occ.Stop) {
			return none("window closed before start fired"), nil
		}
		if late, ok := stale(occ.Start, now, period, opts); ok {
			return none(fmt.Sprintf("start stale by %s", late)), nil
		}
		return Evaluation{Decision: DecisionStartDue, Reason: "start due"}, nil

	case StateRunning:
		if occ.Stop == nil {
			// RUNNING is only derived when a stop exists.
			return none("running without stop"), nil
		}
		if now.Before(*occ.Stop) {
			return none("running until stop"), nil
		}
		if occ.Stop.Before(s.ArmedAt) {
			return none("stop precedes arming"), nil
		}
		if late, ok := stale(*occ.Stop, now, period, opts); ok {
			return none(fmt.Sprintf("stop stale by %s", late)), nil
		}
		return Evaluation{Decision: DecisionStopDue, Reason: "stop due"}, nil

	default:
		return none(fmt.Sprintf("unknown state %s", state)), nil
	}
}

// StopWithoutStart reports the invariant violation of a stop instant being
// reached while no start was recorded for the occurrence. Callers log it.
func StopWithoutStart(s *Schedule, occ Occurrence, now time.Time) bool {
	if occ.Stop == nil || now.Before(*occ.Stop) || occ.Stop.Before(s.ArmedAt) || occ.Start.Before(s.ArmedAt) {
		return false
	}
	return StateAt(s, occ) == StateAwaitingStart
}

// stale reports whether due has passed by at least the staleness bound.
func stale(due, now time.Time, period time.Duration, opts EvalOptions) (time.Duration, bool) {
	late := now.Sub(due)
	if late >= period {
		return late, true
	}
	if opts.StaleAfter > 0 {
		bound := opts.StaleAfter
		if bound < opts.PollInterval {
			bound = opts.PollInterval
		}
		if late > bound {
			return late, true
		}
	}
	return late, false
}

func none(reason string) Evaluation {
	return Evaluation{Decision: DecisionNone, Reason: reason}
}
