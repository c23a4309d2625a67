package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrInProgress is returned when a fire for the same key is already running.
var ErrInProgress = errors.New("trigger already in progress")

// Guard provides per-key mutual exclusion for fires. A second acquire of a
// held key is rejected with ErrInProgress rather than queued.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

// ScheduleKey is the guard key for a schedule-bound fire.
func ScheduleKey(id string) string {
	return "schedule:" + id
}

// DeviceKey is the guard key for an ad hoc fire.
func DeviceKey(deviceID string) string {
	return "device:" + deviceID
}

// LocalGuard is an in-process Guard. A key is present only while a fire
// holds it.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Guard = (*LocalGuard)(nil)

// NewLocalGuard creates a new LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

// TryAcquire takes the key without blocking. Release is idempotent and
// forgets the key.
func (g *LocalGuard) TryAcquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[key]; ok {
		return nil, ErrInProgress
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}
