package engine

import (
	"context"
	"fmt"

	"github.com/strefethen/playsched-go/internal/schedule"
)

// AdHocRequest is a Play Now request for a device and source that is not
// bound to a schedule.
type AdHocRequest struct {
	DeviceID  string `json:"device_id" validate:"required"`
	SourceURI string `json:"source_uri" validate:"required"`
	Volume    *int   `json:"volume,omitempty" validate:"omitempty,min=0,max=100"`
	Shuffle   bool   `json:"shuffle"`
}

// Gateway serves manual Play Now requests through the executor, so they
// share the guard and timeout with scheduled fires.
type Gateway struct {
	store    Store
	executor *Executor
}

// NewGateway creates a new Gateway.
func NewGateway(store Store, executor *Executor) *Gateway {
	return &Gateway{store: store, executor: executor}
}

// PlaySchedule starts s now. On success last_triggered is refreshed, which
// satisfies the current occurrence; a one-shot is not consumed. The
// returned schedule reflects the new bookkeeping.
func (g *Gateway) PlaySchedule(ctx context.Context, id string) (*schedule.Schedule, error) {
	s, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if s == nil {
		return nil, &schedule.NotFoundError{ID: id}
	}

	err = g.executor.fire(ctx, fireRequest{
		key:      ScheduleKey(s.ID),
		sched:    s,
		deviceID: s.DeviceID,
		source:   s.SourceURI,
		volume:   s.Volume,
		shuffle:  s.Shuffle,
		action:   schedule.ActionStart,
		origin:   OriginManual,
	})
	if err != nil {
		return nil, err
	}

	refreshed, err := g.store.Get(ctx, id)
	if err != nil || refreshed == nil {
		// Deleted while playing; report what was played.
		return s, nil
	}
	return refreshed, nil
}

// PlayAdHoc starts a source on a device with no bookkeeping.
func (g *Gateway) PlayAdHoc(ctx context.Context, req AdHocRequest) error {
	return g.executor.fire(ctx, fireRequest{
		key:      DeviceKey(req.DeviceID),
		deviceID: req.DeviceID,
		source:   req.SourceURI,
		volume:   schedule.ClampVolume(req.Volume),
		shuffle:  req.Shuffle,
		action:   schedule.ActionStart,
		origin:   OriginManual,
	})
}
