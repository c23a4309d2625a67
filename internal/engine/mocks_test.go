package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/strefethen/playsched-go/internal/playback"
	"github.com/strefethen/playsched-go/internal/schedule"
)

// ==========================================================================
// Mock Store
// ==========================================================================

type mockStore struct {
	mu        sync.Mutex
	schedules map[string]*schedule.Schedule
	updates   []schedule.TriggerState
	listErr   error
}

func newMockStore(schedules ...schedule.Schedule) *mockStore {
	m := &mockStore{schedules: make(map[string]*schedule.Schedule)}
	for i := range schedules {
		s := schedules[i]
		m.schedules[s.ID] = &s
	}
	return m
}

func (m *mockStore) Get(_ context.Context, id string) (*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) ListActive(_ context.Context) ([]schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]schedule.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		if s.Active {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateTriggerState(_ context.Context, id string, state schedule.TriggerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return &schedule.NotFoundError{ID: id}
	}
	if s.LastTriggered != nil && state.At.Before(*s.LastTriggered) {
		return schedule.ErrStaleTriggerState
	}
	at := state.At
	s.LastTriggered = &at
	s.LastAction = state.Action
	s.Consumed = s.Consumed || state.Consumed
	m.updates = append(m.updates, state)
	return nil
}

func (m *mockStore) get(id string) schedule.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.schedules[id]
}

func (m *mockStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// ==========================================================================
// Mock Port
// ==========================================================================

type portCall struct {
	Action   schedule.Action
	DeviceID string
	Source   string
	Start    playback.StartOptions
	Stop     playback.StopOptions
}

type mockPort struct {
	mu      sync.Mutex
	calls   []portCall
	err     error
	panics  bool
	block   chan struct{}
	entered chan struct{}
}

func (m *mockPort) enter(ctx context.Context, c portCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	err, panics, block, entered := m.err, m.panics, m.block, m.entered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if panics {
		panic("port exploded")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *mockPort) Start(ctx context.Context, deviceID, sourceURI string, opts playback.StartOptions) error {
	return m.enter(ctx, portCall{Action: schedule.ActionStart, DeviceID: deviceID, Source: sourceURI, Start: opts})
}

func (m *mockPort) Stop(ctx context.Context, deviceID string, opts playback.StopOptions) error {
	return m.enter(ctx, portCall{Action: schedule.ActionStop, DeviceID: deviceID, Stop: opts})
}

func (m *mockPort) ListDevices(context.Context) ([]playback.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	vol := 25
	return []playback.Device{{ID: "dev-1", Name: "Kitchen", Type: "Speaker", VolumePercent: &vol}}, nil
}

func (m *mockPort) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockPort) recorded() []portCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]portCall(nil), m.calls...)
}

// ==========================================================================
// Mock Recorder / Publisher / Firer
// ==========================================================================

type mockSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (m *mockSink) RecordOutcome(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return m.err
}

func (m *mockSink) Publish(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *mockSink) recorded() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes...)
}

type firedCall struct {
	ID     string
	Action schedule.Action
}

type mockFirer struct {
	mu    sync.Mutex
	fired []firedCall
}

func (m *mockFirer) Fire(_ context.Context, s *schedule.Schedule, action schedule.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = append(m.fired, firedCall{ID: s.ID, Action: action})
	return nil
}

func (m *mockFirer) recorded() []firedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]firedCall(nil), m.fired...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ==========================================================================
// Fixtures
// ==========================================================================

var everyDay = schedule.Weekdays(0x7f)

func dailySchedule(id string) schedule.Schedule {
	stop := schedule.ClockTime{Hour: 9}
	vol := 30
	return schedule.Schedule{
		ID:        id,
		DeviceID:  "dev-" + id,
		SourceURI: "spotify:playlist:" + id,
		Days:      everyDay,
		Start:     schedule.ClockTime{Hour: 8},
		Stop:      &stop,
		Timezone:  "UTC",
		Volume:    &vol,
		Shuffle:   true,
		Active:    true,
		ArmedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func oneShot(id string) schedule.Schedule {
	s := dailySchedule(id)
	s.Days = 0
	return s
}
