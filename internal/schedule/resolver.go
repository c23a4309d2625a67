package schedule

import (
	"errors"
	"time"
)

// scanDays bounds the day-by-day search so resolution always terminates.
const scanDays = 8

// Resolve returns the earliest occurrence whose start is at or after ref.
// A same-day match is allowed while the local start has not passed. The
// result is in UTC and depends only on s's timing fields and ref.
func Resolve(s *Schedule, ref time.Time) (Occurrence, error) {
	loc, err := s.Timezone.Location()
	if err != nil {
		return Occurrence{}, err
	}
	local := ref.In(loc)
	y, m, d := local.Date()

	for i := 0; i < scanDays; i++ {
		if !s.IsOneShot() && !s.Days.Has(dayOf(y, m, d+i, loc)) {
			continue
		}
		occ := occurrenceOn(s, y, m, d+i, loc)
		if !occ.Start.Before(ref) {
			return occ, nil
		}
	}
	return Occurrence{}, errors.New("unable to resolve next occurrence")
}

// Previous returns the latest occurrence whose start is at or before ref,
// i.e. the occurrence currently in effect.
func Previous(s *Schedule, ref time.Time) (Occurrence, error) {
	loc, err := s.Timezone.Location()
	if err != nil {
		return Occurrence{}, err
	}
	local := ref.In(loc)
	y, m, d := local.Date()

	for i := 0; i < scanDays; i++ {
		if !s.IsOneShot() && !s.Days.Has(dayOf(y, m, d-i, loc)) {
			continue
		}
		occ := occurrenceOn(s, y, m, d-i, loc)
		if !occ.Start.After(ref) {
			return occ, nil
		}
	}
	return Occurrence{}, errors.New("unable to resolve previous occurrence")
}

// Upcoming lists the next n occurrences at or after ref. A one-shot has at
// most one.
func Upcoming(s *Schedule, ref time.Time, n int) ([]Occurrence, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.IsOneShot() {
		n = 1
	}

	out := make([]Occurrence, 0, n)
	cursor := ref
	for len(out) < n {
		occ, err := Resolve(s, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
		cursor = occ.Start.Add(time.Second)
	}
	return out, nil
}

// NextOf returns the occurrence that follows occ. Its start bounds how long
// occ stays eligible to fire.
func NextOf(s *Schedule, occ Occurrence) (Occurrence, error) {
	return Resolve(s, occ.Start.Add(time.Second))
}

// Next is the occurrence shown to users: nil for paused schedules and
// consumed one-shots.
func Next(s *Schedule, now time.Time) (*Occurrence, error) {
	if s.Inert() {
		return nil, nil
	}
	occ, err := Resolve(s, now)
	if err != nil {
		return nil, err
	}
	return &occ, nil
}

// occurrenceOn builds the occurrence anchored to local date y-m-d. A stop at
// or before the start falls on the following local day.
func occurrenceOn(s *Schedule, y int, m time.Month, d int, loc *time.Location) Occurrence {
	start := wallClock(y, m, d, s.Start, loc)
	occ := Occurrence{Start: start.UTC()}
	if s.Stop != nil {
		stopDay := d
		if s.Stop.Minutes() <= s.Start.Minutes() {
			stopDay++
		}
		stop := wallClock(y, m, stopDay, *s.Stop, loc).UTC()
		occ.Stop = &stop
	}
	return occ
}

// wallClock converts a local date and time using the offset valid on that
// date. A time inside a spring-forward gap is moved forward by time.Date.
// A time inside a fall-back overlap resolves to its first instance.
func wallClock(y int, m time.Month, d int, c ClockTime, loc *time.Location) time.Time {
	t := time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)

	_, off := t.Zone()
	_, before := t.Add(-3 * time.Hour).Zone()
	if before > off {
		earlier := t.Add(-time.Duration(before-off) * time.Second)
		if sameWallClock(earlier, t) {
			return earlier
		}
	}
	return t
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// dayOf returns the weekday of a local date, normalising overflowed days.
func dayOf(y int, m time.Month, d int, loc *time.Location) time.Weekday {
	return time.Date(y, m, d, 12, 0, 0, 0, loc).Weekday()
}
