package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ==========================================================================
// Validation Errors
// ==========================================================================

var (
	// ErrInvalidTimezone is returned for zone identifiers the zone database cannot load.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidClockTime is returned for local times that are not HH:MM.
	ErrInvalidClockTime = errors.New("invalid clock time")
	// ErrInvalidWeekdays is returned for weekday indices outside 0..6.
	ErrInvalidWeekdays = errors.New("invalid weekdays")
	// ErrStaleTriggerState is returned when a bookkeeping write would move
	// last_triggered backwards.
	ErrStaleTriggerState = errors.New("trigger state older than stored value")
)

// NotFoundError is returned when a schedule does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schedule not found: %s", e.ID)
}

// ==========================================================================
// Weekdays
// ==========================================================================

// Weekdays is a set of recurrence days. Bit 0 is Monday, bit 6 is Sunday.
// The empty set marks a one-shot schedule.
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// WeekdaysFromInts builds a set from 0=Monday..6=Sunday indices.
func WeekdaysFromInts(days []int) (Weekdays, error) {
	var w Weekdays
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekdays, d)
		}
		w |= 1 << uint(d)
	}
	return w, nil
}

// ParseWeekdays parses the stored CSV form, e.g. "0,2,4". "" is one-shot.
func ParseWeekdays(csv string) (Weekdays, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return 0, nil
	}
	parts := strings.Split(csv, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWeekdays, p)
		}
		days = append(days, d)
	}
	return WeekdaysFromInts(days)
}

// Has reports whether the set includes the given Go weekday.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(weekdayIndex(d))) != 0
}

// Ints returns the set as sorted 0=Monday..6=Sunday indices.
func (w Weekdays) Ints() []int {
	days := make([]int, 0, 7)
	for i := 0; i < 7; i++ {
		if w&(1<<uint(i)) != 0 {
			days = append(days, i)
		}
	}
	return days
}

// String returns the stored CSV form.
func (w Weekdays) String() string {
	days := w.Ints()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// IsEmpty reports a one-shot recurrence.
func (w Weekdays) IsEmpty() bool {
	return w&allWeekdays == 0
}

// weekdayIndex maps Go's Sunday-first weekday to a Monday-first index.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ==========================================================================
// ClockTime and Timezone
// ==========================================================================

// ClockTime is a local wall-clock time with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM". A trailing ":SS" is accepted and ignored.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("%w: hour in %q", ErrInvalidClockTime, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return ClockTime{}, fmt.Errorf("%w: minute in %q", ErrInvalidClockTime, s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since local midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// Timezone is an IANA zone identifier. It is resolved through the zone
// database every time it is used.
type Timezone string

// ParseTimezone validates an IANA zone identifier.
func ParseTimezone(s string) (Timezone, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "Local" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimezone, s)
	}
	if _, err := time.LoadLocation(s); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, s, err)
	}
	return Timezone(s), nil
}

// Location loads the zone.
func (z Timezone) Location() (*time.Location, error) {
	if z == "" || z == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, string(z))
	}
	loc, err := time.LoadLocation(string(z))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, string(z), err)
	}
	return loc, nil
}

// ==========================================================================
// Schedule
// ==========================================================================

// Action is the playback action a fire performs.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Schedule is a recurring or one-shot playback window.
type Schedule struct {
	ID         string
	Name       string
	DeviceID   string
	DeviceName string
	SourceURI  string
	SourceName string
	Days       Weekdays
	Start      ClockTime
	Stop       *ClockTime
	Timezone   Timezone
	Volume     *int
	Shuffle    bool

	Active        bool
	Consumed      bool
	LastTriggered *time.Time
	LastAction    Action
	ArmedAt       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOneShot reports whether the schedule fires once and then goes inert.
func (s *Schedule) IsOneShot() bool {
	return s.Days.IsEmpty()
}

// Inert reports whether the schedule can never yield another start.
func (s *Schedule) Inert() bool {
	return !s.Active || (s.IsOneShot() && s.Consumed)
}

// ClampVolume bounds a volume to [0,100].
func ClampVolume(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return &c
}

// Occurrence is one concrete start/stop pair, in UTC.
type Occurrence struct {
	Start time.Time
	Stop  *time.Time
}

// State is the per-occurrence lifecycle of a schedule.
type State string

const (
	StateAwaitingStart State = "AWAITING_START"
	StateRunning       State = "RUNNING"
	StateDone          State = "DONE"
)

// Decision is the outcome of evaluating a schedule on a tick.
type Decision string

const (
	DecisionNone     Decision = "NONE"
	DecisionStartDue Decision = "START_DUE"
	DecisionStopDue  Decision = "STOP_DUE"
)

// Action maps a due decision to the action to fire.
func (d Decision) Action() (Action, bool) {
	switch d {
	case DecisionStartDue:
		return ActionStart, true
	case DecisionStopDue:
		return ActionStop, true
	default:
		return "", false
	}
}

// Evaluation is a decision plus a human-readable reason for logs.
type Evaluation struct {
	Decision Decision
	Reason   string
}

// ==========================================================================
// Input Types
// ==========================================================================

// CreateInput contains the input for creating a schedule.
type CreateInput struct {
	Name       string  `json:"name" yaml:"name,omitempty"`
	DeviceID   string  `json:"device_id" yaml:"device_id" validate:"required"`
	DeviceName string  `json:"device_name" yaml:"device_name,omitempty"`
	SourceURI  string  `json:"source_uri" yaml:"source_uri" validate:"required"`
	SourceName string  `json:"source_name" yaml:"source_name,omitempty"`
	Days       []int   `json:"days_of_week" yaml:"days_of_week,flow" validate:"dive,min=0,max=6"`
	StartTime  string  `json:"start_time" yaml:"start_time" validate:"required"`
	StopTime   *string `json:"stop_time,omitempty" yaml:"stop_time,omitempty"`
	Timezone   string  `json:"timezone" yaml:"timezone,omitempty"`
	Volume     *int    `json:"volume,omitempty" yaml:"volume,omitempty"`
	Shuffle    bool    `json:"shuffle" yaml:"shuffle"`
	Active     *bool   `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// UpdateInput contains the input for editing a schedule. Nil fields are left
// unchanged. An empty StopTime clears the stop.
type UpdateInput struct {
	Name        *string `json:"name,omitempty"`
	DeviceID    *string `json:"device_id,omitempty" validate:"omitempty,min=1"`
	DeviceName  *string `json:"device_name,omitempty"`
	SourceURI   *string `json:"source_uri,omitempty" validate:"omitempty,min=1"`
	SourceName  *string `json:"source_name,omitempty"`
	Days        *[]int  `json:"days_of_week,omitempty" validate:"omitempty,dive,min=0,max=6"`
	StartTime   *string `json:"start_time,omitempty"`
	StopTime    *string `json:"stop_time,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Volume      *int    `json:"volume,omitempty"`
	ClearVolume bool    `json:"clear_volume,omitempty"`
	Shuffle     *bool   `json:"shuffle,omitempty"`
	Active      *bool   `json:"is_active,omitempty"`
}

// TriggerState is the bookkeeping written after a successful fire.
type TriggerState struct {
	At     time.Time
	Action Action
	// Consumed marks a one-shot as consumed. False leaves the flag as stored.
	Consumed bool
}

// sortByNext orders schedules by soonest next start. Schedules without a
// next start sort last, by name.
func sortByNext(items []Listed) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Next, items[j].Next
		switch {
		case a == nil && b == nil:
			return items[i].Schedule.Name < items[j].Schedule.Name
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Start.Before(b.Start)
		}
	})
}

// Listed pairs a schedule with its next occurrence, if any.
type Listed struct {
	Schedule Schedule
	Next     *Occurrence
}
