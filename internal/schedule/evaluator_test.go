package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var tick = EvalOptions{PollInterval: time.Minute}

type fired struct {
	at     time.Time
	action Action
}

// simulate runs the poll decision every minute over [from, to) and applies
// bookkeeping for each fire that succeeds.
func simulate(t *testing.T, s *Schedule, from, to time.Time, opts EvalOptions, succeed func(time.Time) bool) []fired {
	t.Helper()
	var out []fired
	for now := from; now.Before(to); now = now.Add(time.Minute) {
		occ, err := Previous(s, now)
		require.NoError(t, err)
		eval, err := Evaluate(s, occ, now, opts)
		require.NoError(t, err)

		action, due := eval.Decision.Action()
		if !due {
			continue
		}
		out = append(out, fired{at: now, action: action})
		if succeed != nil && !succeed(now) {
			continue
		}
		at := now
		s.LastTriggered = &at
		s.LastAction = action
		if action == ActionStart && s.IsOneShot() {
			s.Consumed = true
		}
	}
	return out
}

func TestEvaluate_OneShotStartThenStopThenNothing(t *testing.T) {
	created := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	s := &Schedule{
		Start:    clock(t, "14:00"),
		Stop:     clockPtr(t, "14:15"),
		Timezone: "UTC",
		Active:   true,
		ArmedAt:  created,
	}

	got := simulate(t, s, created, created.Add(72*time.Hour), tick, nil)

	require.Equal(t, []fired{
		{at: time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC), action: ActionStart},
		{at: time.Date(2024, 6, 1, 14, 15, 0, 0, time.UTC), action: ActionStop},
	}, got)
	require.True(t, s.Consumed)
}

func TestEvaluate_OneShotWithoutStopFiresOnce(t *testing.T) {
	created := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	s := &Schedule{Start: clock(t, "14:00"), Timezone: "UTC", Active: true, ArmedAt: created}

	got := simulate(t, s, created, created.Add(96*time.Hour), tick, nil)

	// Created after today's 14:00, so tomorrow's is the only one.
	require.Equal(t, []fired{{at: time.Date(2024, 6, 2, 14, 0, 0, 0, time.UTC), action: ActionStart}}, got)
}

func TestEvaluate_FailedStartRetriedNextTick(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{Days: days(t, 0, 1, 2, 3, 4, 5, 6), Start: clock(t, "08:00"), Timezone: "UTC", Active: true, ArmedAt: armed}

	failures := 2
	got := simulate(t, s, time.Date(2024, 1, 15, 7, 58, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), tick, func(time.Time) bool {
		failures--
		return failures < 0
	})

	require.Equal(t, []fired{
		{at: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), action: ActionStart},
		{at: time.Date(2024, 1, 15, 8, 1, 0, 0, time.UTC), action: ActionStart},
		{at: time.Date(2024, 1, 15, 8, 2, 0, 0, time.UTC), action: ActionStart},
	}, got)
}

func TestEvaluate_StaleAfterSkipsToNextOccurrence(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{Days: days(t, 0, 1, 2, 3, 4, 5, 6), Start: clock(t, "08:00"), Timezone: "UTC", Active: true, ArmedAt: armed}
	opts := EvalOptions{PollInterval: time.Minute, StaleAfter: 5 * time.Minute}

	day1 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := simulate(t, s, day1.Add(8*time.Hour), day1.Add(32*time.Hour+time.Minute), opts, func(now time.Time) bool {
		return now.Day() != 15
	})

	// Minutes 0..5 late are eligible on the 15th; then the occurrence is stale
	// and the 16th fires on time.
	require.Len(t, got, 7)
	require.Equal(t, time.Date(2024, 1, 15, 8, 5, 0, 0, time.UTC), got[5].at)
	require.Equal(t, time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC), got[6].at)
}

func TestEvaluate_StaleAfterOnePeriod(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Mondays only.
	s := &Schedule{Days: days(t, 0), Start: clock(t, "08:00"), Timezone: "UTC", Active: true, ArmedAt: armed}
	occ := Occurrence{Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}

	eval, err := Evaluate(s, occ, time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC), tick)
	require.NoError(t, err)
	require.Equal(t, DecisionStartDue, eval.Decision)

	eval, err = Evaluate(s, occ, time.Date(2024, 1, 22, 8, 0, 0, 0, time.UTC), tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
}

func TestEvaluate_StaleAfterNeverBelowPollInterval(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{Days: days(t, 0, 1, 2, 3, 4, 5, 6), Start: clock(t, "08:00"), Timezone: "UTC", Active: true, ArmedAt: armed}
	occ := Occurrence{Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}
	opts := EvalOptions{PollInterval: time.Minute, StaleAfter: time.Second}

	eval, err := Evaluate(s, occ, occ.Start.Add(50*time.Second), opts)
	require.NoError(t, err)
	require.Equal(t, DecisionStartDue, eval.Decision)
}

func TestEvaluate_NoFireBeforeArming(t *testing.T) {
	s := &Schedule{
		Days:     days(t, 0, 1, 2, 3, 4, 5, 6),
		Start:    clock(t, "08:00"),
		Timezone: "UTC",
		Active:   true,
		ArmedAt:  time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
	}
	occ := Occurrence{Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}

	eval, err := Evaluate(s, occ, time.Date(2024, 1, 15, 8, 31, 0, 0, time.UTC), tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
}

func TestEvaluate_StopAddedAfterStartDoesNotFireRetroactively(t *testing.T) {
	started := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	s := &Schedule{
		Days:          days(t, 0, 1, 2, 3, 4, 5, 6),
		Start:         clock(t, "08:00"),
		Stop:          clockPtr(t, "09:00"),
		Timezone:      "UTC",
		Active:        true,
		LastTriggered: &started,
		LastAction:    ActionStart,
		// The edit that added the stop re-armed the schedule at 10:00.
		ArmedAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	now := time.Date(2024, 1, 15, 10, 1, 0, 0, time.UTC)
	occ, err := Previous(s, now)
	require.NoError(t, err)
	require.Equal(t, StateRunning, StateAt(s, occ))

	eval, err := Evaluate(s, occ, now, tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
}

func TestEvaluate_StopRequiresRecordedStart(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{
		Days:     days(t, 0, 1, 2, 3, 4, 5, 6),
		Start:    clock(t, "08:00"),
		Stop:     clockPtr(t, "08:30"),
		Timezone: "UTC",
		Active:   true,
		ArmedAt:  armed,
	}
	now := time.Date(2024, 1, 15, 8, 31, 0, 0, time.UTC)
	occ, err := Previous(s, now)
	require.NoError(t, err)

	eval, err := Evaluate(s, occ, now, tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
	require.True(t, StopWithoutStart(s, occ, now))
}

func TestEvaluate_LatePlayNowDoesNotArmStop(t *testing.T) {
	armed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	manual := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	s := &Schedule{
		Days:          days(t, 0, 1, 2, 3, 4, 5, 6),
		Start:         clock(t, "08:00"),
		Stop:          clockPtr(t, "09:00"),
		Timezone:      "UTC",
		Active:        true,
		ArmedAt:       armed,
		LastTriggered: &manual,
		LastAction:    ActionStart,
	}
	now := manual.Add(time.Minute)
	occ, err := Previous(s, now)
	require.NoError(t, err)
	require.Equal(t, StateDone, StateAt(s, occ))

	eval, err := Evaluate(s, occ, now, tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
}

func TestEvaluate_Paused(t *testing.T) {
	s := &Schedule{Days: days(t, 0, 1, 2, 3, 4, 5, 6), Start: clock(t, "08:00"), Timezone: "UTC"}
	occ := Occurrence{Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}

	eval, err := Evaluate(s, occ, occ.Start, tick)
	require.NoError(t, err)
	require.Equal(t, DecisionNone, eval.Decision)
	require.Equal(t, "paused", eval.Reason)
}

func TestEvaluate_BadTimezone(t *testing.T) {
	s := &Schedule{Days: days(t, 0), Start: clock(t, "08:00"), Timezone: "Nowhere/Land", Active: true}
	_, err := Evaluate(s, Occurrence{Start: time.Now()}, time.Now(), tick)
	require.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestStateAt(t *testing.T) {
	start := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)
	occ := Occurrence{Start: start, Stop: &stop}
	before := start.Add(-time.Hour)
	during := start.Add(time.Minute)
	after := stop.Add(time.Minute)

	tests := []struct {
		name     string
		schedule Schedule
		occ      Occurrence
		want     State
	}{
		{"never triggered", Schedule{Days: days(t, 0)}, occ, StateAwaitingStart},
		{"triggered earlier occurrence", Schedule{Days: days(t, 0), LastTriggered: &before, LastAction: ActionStop}, occ, StateAwaitingStart},
		{"started with stop", Schedule{Days: days(t, 0), LastTriggered: &during, LastAction: ActionStart}, occ, StateRunning},
		{"started without stop", Schedule{Days: days(t, 0), LastTriggered: &during, LastAction: ActionStart}, Occurrence{Start: start}, StateDone},
		{"stopped", Schedule{Days: days(t, 0), LastTriggered: &after, LastAction: ActionStop}, occ, StateDone},
		{"consumed one-shot next day", Schedule{Consumed: true, LastTriggered: &before, LastAction: ActionStop}, occ, StateDone},
		{"consumed one-shot running", Schedule{Consumed: true, LastTriggered: &during, LastAction: ActionStart}, occ, StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.schedule
			require.Equal(t, tt.want, StateAt(&s, tt.occ))
		})
	}
}
