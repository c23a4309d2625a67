// Package engine runs schedules: the poll loop, the trigger executor and the
// manual Play Now gateway.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/playback"
	"github.com/strefethen/playsched-go/internal/schedule"
)

// DefaultTimeout bounds a single playback call.
const DefaultTimeout = 15 * time.Second

// ErrNoLongerDue is returned by a scheduled fire whose action was already
// performed, or whose schedule was paused or deleted, after the tick read it.
var ErrNoLongerDue = errors.New("schedule no longer due")

// Store is the subset of the schedule store the engine uses.
type Store interface {
	Get(ctx context.Context, id string) (*schedule.Schedule, error)
	ListActive(ctx context.Context) ([]schedule.Schedule, error)
	UpdateTriggerState(ctx context.Context, id string, state schedule.TriggerState) error
}

// Origin labels who asked for a fire.
type Origin string

const (
	OriginScheduled Origin = "scheduled"
	OriginManual    Origin = "manual"
)

// Outcome describes one fire attempt.
type Outcome struct {
	ScheduleID string
	DeviceID   string
	SourceURI  string
	Action     schedule.Action
	Origin     Origin
	At         time.Time
	Duration   time.Duration
	// Err is nil on success. Rejections carry ErrInProgress or ErrCircuitOpen.
	Err error
}

// Succeeded reports whether playback was driven successfully.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Rejected reports whether the fire never reached the playback port.
func (o Outcome) Rejected() bool {
	return errors.Is(o.Err, ErrInProgress) || errors.Is(o.Err, ErrCircuitOpen)
}

// Recorder persists fire outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Publisher broadcasts fire outcomes to live listeners.
type Publisher interface {
	Publish(o Outcome)
}

// ExecutorConfig bounds playback calls.
type ExecutorConfig struct {
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRecorder sends every outcome to r.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithPublisher sends every outcome to p.
func WithPublisher(p Publisher) ExecutorOption {
	return func(e *Executor) { e.publisher = p }
}

// Executor drives the playback port for one schedule at a time and records
// bookkeeping after success.
type Executor struct {
	store     Store
	port      playback.Port
	guard     Guard
	breaker   *Breaker
	recorder  Recorder
	publisher Publisher
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewExecutor creates a new Executor.
func NewExecutor(store Store, port playback.Port, guard Guard, cfg ExecutorConfig, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if guard == nil {
		guard = NewLocalGuard()
	}
	e := &Executor{
		store:   store,
		port:    port,
		guard:   guard,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		timeout: cfg.Timeout,
		logger:  logx.Component(logger, "executor"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fireRequest is one unit of work for the executor.
type fireRequest struct {
	key      string
	sched    *schedule.Schedule
	deviceID string
	source   string
	volume   *int
	shuffle  bool
	action   schedule.Action
	origin   Origin
}

// Fire performs a scheduled action for s. Errors are returned for the
// caller's information; bookkeeping is only written on success.
func (e *Executor) Fire(ctx context.Context, s *schedule.Schedule, action schedule.Action) error {
	return e.fire(ctx, fireRequest{
		key:      ScheduleKey(s.ID),
		sched:    s,
		deviceID: s.DeviceID,
		source:   s.SourceURI,
		volume:   s.Volume,
		shuffle:  s.Shuffle,
		action:   action,
		origin:   OriginScheduled,
	})
}

func (e *Executor) fire(ctx context.Context, req fireRequest) error {
	at := e.now()
	log := e.logger.With().
		Str("key", req.key).
		Str("device_id", req.deviceID).
		Str("action", string(req.action)).
		Str("origin", string(req.origin)).
		Logger()

	release, err := e.guard.TryAcquire(ctx, req.key)
	if err != nil {
		if errors.Is(err, ErrInProgress) {
			log.Info().Msg("fire rejected, already in progress")
		} else {
			log.Error().Err(err).Msg("guard unavailable")
		}
		e.report(ctx, req, at, 0, err)
		return err
	}
	defer release()

	if req.origin == OriginScheduled {
		fresh, reason, err := e.stillDue(ctx, req, at)
		if err != nil {
			log.Error().Err(err).Msg("failed to re-check schedule")
			return err
		}
		if fresh == nil {
			log.Info().Str("reason", reason).Msg("fire skipped, no longer due")
			return ErrNoLongerDue
		}
		req.sched = fresh
		req.deviceID = fresh.DeviceID
		req.source = fresh.SourceURI
		req.volume = fresh.Volume
		req.shuffle = fresh.Shuffle
	}

	if req.origin == OriginScheduled && !e.breaker.Allow(req.deviceID) {
		log.Warn().Msg("fire skipped, circuit open for device")
		e.report(ctx, req, at, 0, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	err = e.call(ctx, req)
	elapsed := e.now().Sub(at)
	if err != nil {
		pe := playback.Classify(err)
		if e.breaker.Failure(req.deviceID) {
			log.Warn().Msg("circuit opened for device")
		}
		log.Error().
			Str("reason", string(pe.Reason)).
			Int("upstream_status", pe.Status).
			Dur("elapsed", elapsed).
			Msg(pe.Message)
		e.report(ctx, req, at, elapsed, pe)
		return pe
	}
	e.breaker.Success(req.deviceID)

	if req.sched != nil {
		e.recordTrigger(ctx, req, at, log)
	}

	log.Info().Dur("elapsed", elapsed).Msg("fire succeeded")
	e.report(ctx, req, at, elapsed, nil)
	return nil
}

// stillDue re-reads the schedule under the guard. The tick's copy may
// predate a fire that finished before this one acquired the key. A nil
// schedule means the action is no longer due, with the reason.
func (e *Executor) stillDue(ctx context.Context, req fireRequest, at time.Time) (*schedule.Schedule, string, error) {
	s, err := e.store.Get(ctx, req.sched.ID)
	if err != nil {
		return nil, "", err
	}
	if s == nil {
		return nil, "deleted", nil
	}
	if !s.Active {
		return nil, "paused", nil
	}

	occ, err := schedule.Previous(s, at)
	if err != nil {
		return nil, "", err
	}
	state := schedule.StateAt(s, occ)
	switch {
	case req.action == schedule.ActionStart && state != schedule.StateAwaitingStart:
		return nil, "start already recorded", nil
	case req.action == schedule.ActionStop && state != schedule.StateRunning:
		return nil, "not running", nil
	}
	return s, "", nil
}

// call invokes the port under the executor timeout. Panics in the port are
// converted into errors.
func (e *Executor) call(ctx context.Context, req fireRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("key", req.key).
				Str("stack", string(debug.Stack())).
				Msgf("playback panic: %v", r)
			err = fmt.Errorf("playback panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch req.action {
	case schedule.ActionStart:
		return e.port.Start(callCtx, req.deviceID, req.source, playback.StartOptions{
			Volume:  req.volume,
			Shuffle: req.shuffle,
		})
	case schedule.ActionStop:
		return e.port.Stop(callCtx, req.deviceID, playback.StopOptions{OnlyIfSource: req.source})
	default:
		return fmt.Errorf("unknown action %q", req.action)
	}
}

// recordTrigger writes bookkeeping after a successful call. Manual fires
// never consume a one-shot.
func (e *Executor) recordTrigger(ctx context.Context, req fireRequest, at time.Time, log zerolog.Logger) {
	state := schedule.TriggerState{
		At:       at,
		Action:   req.action,
		Consumed: req.origin == OriginScheduled && req.action == schedule.ActionStart && req.sched.IsOneShot(),
	}

	// Bookkeeping must land even if the caller has gone away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := e.store.UpdateTriggerState(writeCtx, req.sched.ID, state)
	var nf *schedule.NotFoundError
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrStaleTriggerState):
		log.Warn().Msg("newer trigger already recorded, bookkeeping skipped")
	case errors.As(err, &nf):
		log.Warn().Msg("schedule deleted during fire")
	default:
		log.Error().Err(err).Msg("failed to record trigger state")
	}
}

func (e *Executor) report(ctx context.Context, req fireRequest, at time.Time, elapsed time.Duration, err error) {
	o := Outcome{
		DeviceID:  req.deviceID,
		SourceURI: req.source,
		Action:    req.action,
		Origin:    req.origin,
		At:        at,
		Duration:  elapsed,
		Err:       err,
	}
	if req.sched != nil {
		o.ScheduleID = req.sched.ID
	}

	if e.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := e.recorder.RecordOutcome(recCtx, o); rerr != nil {
			e.logger.Warn().Err(rerr).Str("key", req.key).Msg("failed to record fire outcome")
		}
		cancel()
	}
	if e.publisher != nil {
		e.publisher.Publish(o)
	}
}
