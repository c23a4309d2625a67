package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/schedule"
)

// DefaultPollInterval is the default interval between ticks.
const DefaultPollInterval = time.Minute

// Firer performs a due action. *Executor implements it.
type Firer interface {
	Fire(ctx context.Context, s *schedule.Schedule, action schedule.Action) error
}

// PollerConfig controls the poll loop.
type PollerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	// Location is the cron scheduler's zone. Occurrences always use each
	// schedule's own zone.
	Location *time.Location
}

// Poller evaluates every active schedule once per tick and dispatches due
// fires without waiting for them.
type Poller struct {
	store    Store
	firer    Firer
	interval time.Duration
	eval     schedule.EvalOptions
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	wg      sync.WaitGroup
}

// NewPoller creates a new Poller.
func NewPoller(store Store, firer Firer, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Poller{
		store:    store,
		firer:    firer,
		interval: cfg.Interval,
		eval:     schedule.EvalOptions{PollInterval: cfg.Interval, StaleAfter: cfg.StaleAfter},
		loc:      cfg.Location,
		logger:   logx.Component(logger, "poller"),
		now:      time.Now,
	}
}

// Start begins ticking. The first tick runs immediately.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	cronLog := logx.CronLogger{L: p.logger}
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithLogger(cronLog),
	)
	job := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(p.tick))
	c.Schedule(cron.Every(p.interval), job)
	c.Start()

	p.cron = c
	p.running = true
	p.logger.Info().Dur("interval", p.interval).Str("location", p.loc.String()).Msg("poller started")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job.Run()
	}()
}

// Stop halts ticking, waits for the running tick, then waits for in-flight
// fires to finish. Fires are not cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	c := p.cron
	p.mu.Unlock()

	p.logger.Info().Msg("poller stopping")
	<-c.Stop().Done()
	p.wg.Wait()
	p.logger.Info().Msg("poller stopped")
}

// IsRunning reports whether the poller is ticking.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// tick runs one scan over the active schedules.
func (p *Poller) tick() {
	ctx := context.Background()
	now := p.now()

	schedules, err := p.store.ListActive(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list active schedules")
		return
	}

	due := 0
	for i := range schedules {
		s := &schedules[i]
		if p.evaluate(ctx, s, now) {
			due++
		}
	}
	p.logger.Debug().Int("schedules", len(schedules)).Int("due", due).Msg("tick complete")
}

// evaluate decides on one schedule and dispatches a due fire. It reports
// whether a fire was dispatched.
func (p *Poller) evaluate(ctx context.Context, s *schedule.Schedule, now time.Time) bool {
	log := p.logger.With().Str("schedule_id", s.ID).Logger()

	occ, err := schedule.Previous(s, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve occurrence")
		return false
	}

	result, err := schedule.Evaluate(s, occ, now, p.eval)
	if err != nil {
		log.Error().Err(err).Msg("failed to evaluate schedule")
		return false
	}

	action, ok := result.Decision.Action()
	if !ok {
		// Warn once, on the first tick past the stop instant.
		if schedule.StopWithoutStart(s, occ, now) && now.Sub(*occ.Stop) < p.interval {
			log.Warn().
				Time("occurrence_start", occ.Start).
				Time("occurrence_stop", *occ.Stop).
				Msg("stop reached without a recorded start")
		}
		log.Trace().Str("reason", result.Reason).Msg("not due")
		return false
	}

	log.Info().
		Str("decision", string(result.Decision)).
		Str("reason", result.Reason).
		Time("occurrence_start", occ.Start).
		Msg("dispatching fire")

	// s is a snapshot; the executor re-checks it once it holds the guard.
	p.wg.Add(1)
	go func(s schedule.Schedule) {
		defer p.wg.Done()
		_ = p.firer.Fire(ctx, &s, action)
	}(*s)
	return true
}
