package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DBPair provides access to separate reader and writer database connections.
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles schedule persistence.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new schedule repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{
		reader: dbPair.Reader(),
		writer: dbPair.Writer(),
		now:    time.Now,
	}
}

const selectColumns = `
	SELECT schedule_id, name, device_id, device_name, source_uri, source_name,
		days_of_week, start_time_local, stop_time_local, timezone, volume, shuffle,
		is_active, consumed, last_triggered_at, last_action, armed_at, created_at, updated_at
	FROM schedules`

// Get retrieves a schedule by ID. Returns nil, nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Schedule, error) {
	return r.get(ctx, r.reader, id)
}

func (r *Repository) get(ctx context.Context, q queryer, id string) (*Schedule, error) {
	row := q.QueryRowContext(ctx, selectColumns+` WHERE schedule_id = ?`, id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List returns every schedule in creation order.
func (r *Repository) List(ctx context.Context) ([]Schedule, error) {
	return r.query(ctx, selectColumns+` ORDER BY created_at, schedule_id`)
}

// ListActive returns schedules the poll loop must evaluate.
func (r *Repository) ListActive(ctx context.Context) ([]Schedule, error) {
	return r.query(ctx, selectColumns+` WHERE is_active = 1 ORDER BY created_at, schedule_id`)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

// Create inserts a new active, armed schedule.
func (r *Repository) Create(ctx context.Context, input CreateInput) (*Schedule, error) {
	s, err := input.toSchedule()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	s.ID = uuid.New().String()
	s.ArmedAt = now
	s.CreatedAt = now
	s.UpdatedAt = now

	if err := r.insert(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Duplicate copies a schedule under a new id with cleared bookkeeping.
// Returns nil, nil when the source does not exist.
func (r *Repository) Duplicate(ctx context.Context, id string) (*Schedule, error) {
	src, err := r.get(ctx, r.writer, id)
	if err != nil || src == nil {
		return nil, err
	}

	now := r.now().UTC()
	dup := *src
	dup.ID = uuid.New().String()
	dup.Consumed = false
	dup.LastTriggered = nil
	dup.LastAction = ""
	dup.ArmedAt = now
	dup.CreatedAt = now
	dup.UpdatedAt = now

	if err := r.insert(ctx, &dup); err != nil {
		return nil, err
	}
	return &dup, nil
}

func (r *Repository) insert(ctx context.Context, s *Schedule) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO schedules (
			schedule_id, name, device_id, device_name, source_uri, source_name,
			days_of_week, start_time_local, stop_time_local, timezone, volume, shuffle,
			is_active, consumed, last_triggered_at, last_action, armed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Name, s.DeviceID, s.DeviceName, s.SourceURI, s.SourceName,
		s.Days.String(), s.Start.String(), nullableClock(s.Stop), string(s.Timezone), nullableInt(s.Volume), boolToInt(s.Shuffle),
		boolToInt(s.Active), boolToInt(s.Consumed), nullableTime(s.LastTriggered), nullableAction(s.LastAction),
		formatTime(s.ArmedAt), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return err
}

// Update applies an edit. Bookkeeping columns are only touched to clear
// consumed on a re-timed one-shot. Returns nil, nil when absent.
func (r *Repository) Update(ctx context.Context, id string, input UpdateInput) (*Schedule, error) {
	existing, err := r.get(ctx, r.writer, id)
	if err != nil || existing == nil {
		return nil, err
	}

	updated := *existing
	retimed, err := input.apply(&updated)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	resumed := !existing.Active && updated.Active
	if retimed || resumed {
		updated.ArmedAt = now
	}
	clearConsumed := retimed && updated.IsOneShot()
	if clearConsumed {
		updated.Consumed = false
	}
	updated.UpdatedAt = now

	_, err = r.writer.ExecContext(ctx, `
		UPDATE schedules SET
			name = ?, device_id = ?, device_name = ?, source_uri = ?, source_name = ?,
			days_of_week = ?, start_time_local = ?, stop_time_local = ?, timezone = ?,
			volume = ?, shuffle = ?, is_active = ?, armed_at = ?,
			consumed = CASE WHEN ? THEN 0 ELSE consumed END,
			updated_at = ?
		WHERE schedule_id = ?
	`,
		updated.Name, updated.DeviceID, updated.DeviceName, updated.SourceURI, updated.SourceName,
		updated.Days.String(), updated.Start.String(), nullableClock(updated.Stop), string(updated.Timezone),
		nullableInt(updated.Volume), boolToInt(updated.Shuffle), boolToInt(updated.Active), formatTime(updated.ArmedAt),
		clearConsumed,
		formatTime(now), id,
	)
	if err != nil {
		return nil, err
	}

	return r.get(ctx, r.writer, id)
}

// ToggleActive flips is_active. Resuming re-arms so occurrences missed while
// paused never fire. Returns nil, nil when absent.
func (r *Repository) ToggleActive(ctx context.Context, id string) (*Schedule, error) {
	now := formatTime(r.now().UTC())
	result, err := r.writer.ExecContext(ctx, `
		UPDATE schedules SET
			armed_at = CASE WHEN is_active = 0 THEN ? ELSE armed_at END,
			is_active = CASE WHEN is_active = 1 THEN 0 ELSE 1 END,
			updated_at = ?
		WHERE schedule_id = ?
	`, now, now, id)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, nil
	}
	return r.get(ctx, r.writer, id)
}

// UpdateTriggerState records a successful fire. Only bookkeeping columns are
// written, and last_triggered_at never moves backwards.
func (r *Repository) UpdateTriggerState(ctx context.Context, id string, state TriggerState) error {
	at := formatTime(state.At.UTC())
	result, err := r.writer.ExecContext(ctx, `
		UPDATE schedules SET
			last_triggered_at = ?,
			last_action = ?,
			consumed = CASE WHEN ? THEN 1 ELSE consumed END,
			updated_at = ?
		WHERE schedule_id = ?
			AND (last_triggered_at IS NULL OR last_triggered_at <= ?)
	`, at, string(state.Action), state.Consumed, formatTime(r.now().UTC()), id, at)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.writer.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE schedule_id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return err
	}
	return ErrStaleTriggerState
}

// Delete removes a schedule. Returns false when it did not exist.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.writer.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ==========================================================================
// Input conversion
// ==========================================================================

func (in CreateInput) toSchedule() (*Schedule, error) {
	days, err := WeekdaysFromInts(in.Days)
	if err != nil {
		return nil, err
	}
	start, err := ParseClockTime(in.StartTime)
	if err != nil {
		return nil, err
	}
	var stop *ClockTime
	if in.StopTime != nil && *in.StopTime != "" {
		c, err := ParseClockTime(*in.StopTime)
		if err != nil {
			return nil, err
		}
		stop = &c
	}
	tz, err := ParseTimezone(in.Timezone)
	if err != nil {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = in.SourceName
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	return &Schedule{
		Name:       name,
		DeviceID:   in.DeviceID,
		DeviceName: in.DeviceName,
		SourceURI:  in.SourceURI,
		SourceName: in.SourceName,
		Days:       days,
		Start:      start,
		Stop:       stop,
		Timezone:   tz,
		Volume:     ClampVolume(in.Volume),
		Shuffle:    in.Shuffle,
		Active:     active,
	}, nil
}

// apply merges the edit into s and reports whether timing changed.
func (in UpdateInput) apply(s *Schedule) (bool, error) {
	retimed := false

	if in.Name != nil {
		s.Name = *in.Name
	}
	if in.DeviceID != nil {
		s.DeviceID = *in.DeviceID
	}
	if in.DeviceName != nil {
		s.DeviceName = *in.DeviceName
	}
	if in.SourceURI != nil {
		s.SourceURI = *in.SourceURI
	}
	if in.SourceName != nil {
		s.SourceName = *in.SourceName
	}
	if in.Days != nil {
		days, err := WeekdaysFromInts(*in.Days)
		if err != nil {
			return false, err
		}
		retimed = retimed || days != s.Days
		s.Days = days
	}
	if in.StartTime != nil {
		start, err := ParseClockTime(*in.StartTime)
		if err != nil {
			return false, err
		}
		retimed = retimed || start != s.Start
		s.Start = start
	}
	if in.StopTime != nil {
		var stop *ClockTime
		if *in.StopTime != "" {
			c, err := ParseClockTime(*in.StopTime)
			if err != nil {
				return false, err
			}
			stop = &c
		}
		retimed = retimed || !sameClock(stop, s.Stop)
		s.Stop = stop
	}
	if in.Timezone != nil {
		tz, err := ParseTimezone(*in.Timezone)
		if err != nil {
			return false, err
		}
		retimed = retimed || tz != s.Timezone
		s.Timezone = tz
	}
	if in.ClearVolume {
		s.Volume = nil
	} else if in.Volume != nil {
		s.Volume = ClampVolume(in.Volume)
	}
	if in.Shuffle != nil {
		s.Shuffle = *in.Shuffle
	}
	if in.Active != nil {
		s.Active = *in.Active
	}

	return retimed, nil
}

func sameClock(a, b *ClockTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ==========================================================================
// Scanning
// ==========================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var s Schedule
	var days, start, tz string
	var stop, lastTriggered, lastAction sql.NullString
	var volume sql.NullInt64
	var shuffle, active, consumed int
	var armedAt, createdAt, updatedAt string

	err := row.Scan(
		&s.ID, &s.Name, &s.DeviceID, &s.DeviceName, &s.SourceURI, &s.SourceName,
		&days, &start, &stop, &tz, &volume, &shuffle,
		&active, &consumed, &lastTriggered, &lastAction, &armedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Rows are validated on write; a bad value here is reported by the
	// resolver when the zone or time is used.
	s.Days, err = ParseWeekdays(days)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	s.Start, err = ParseClockTime(start)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	if stop.Valid && stop.String != "" {
		c, err := ParseClockTime(stop.String)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		s.Stop = &c
	}
	s.Timezone = Timezone(tz)
	if volume.Valid {
		v := int(volume.Int64)
		s.Volume = &v
	}
	s.Shuffle = shuffle != 0
	s.Active = active != 0
	s.Consumed = consumed != 0
	if lastTriggered.Valid {
		t, err := parseTime(lastTriggered.String)
		if err != nil {
			return nil, fmt.Errorf("schedule %s last_triggered_at: %w", s.ID, err)
		}
		s.LastTriggered = &t
	}
	if lastAction.Valid {
		s.LastAction = Action(lastAction.String)
	}
	if s.ArmedAt, err = parseTime(armedAt); err != nil {
		return nil, fmt.Errorf("schedule %s armed_at: %w", s.ID, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("schedule %s created_at: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("schedule %s updated_at: %w", s.ID, err)
	}

	return &s, nil
}

// ==========================================================================
// Helpers
// ==========================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableClock(c *ClockTime) any {
	if c == nil {
		return nil
	}
	return c.String()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableAction(a Action) any {
	if a == "" {
		return nil
	}
	return string(a)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
