package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/auth"
	"github.com/strefethen/playsched-go/internal/engine"
	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/playback"
)

// Default configuration values
const (
	DefaultRetentionDays   = 90
	DefaultPruneInterval   = 24 * time.Hour
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service records trigger history and serves it back.
type Service struct {
	logger              zerolog.Logger
	repo                *Repository
	retentionDays       int
	pruneInterval       time.Duration
	now                 func() time.Time
	stopCh              chan struct{}
	stopOnce            sync.Once
	wg                  sync.WaitGroup
	healthy             bool
	healthMu            sync.RWMutex
	consecutiveFailures int
}

// NewService creates a new audit service.
// Accepts a DBPair for optimal SQLite concurrency with separate reader/writer pools.
func NewService(dbPair DBPair, logger zerolog.Logger) *Service {
	return &Service{
		logger:        logx.Component(logger, "audit"),
		repo:          NewRepository(dbPair),
		retentionDays: DefaultRetentionDays,
		pruneInterval: DefaultPruneInterval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		healthy:       true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	if input.Level == nil {
		level := EventLevelInfo
		input.Level = &level
	}

	s.logger.Debug().
		Str("type", string(input.Type)).
		Str("level", string(*input.Level)).
		Msg(input.Message)

	event, err := s.repo.InsertEvent(ctx, input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}

	s.recordSuccess()
	return event, nil
}

// RecordOutcome stores one fire attempt as a trigger event.
func (s *Service) RecordOutcome(ctx context.Context, o engine.Outcome) error {
	input := WriteEventInput{
		Timestamp: o.At,
		Payload: map[string]any{
			"action":      string(o.Action),
			"origin":      string(o.Origin),
			"source_uri":  o.SourceURI,
			"duration_ms": o.Duration.Milliseconds(),
		},
	}
	if o.ScheduleID != "" {
		input.ScheduleID = &o.ScheduleID
	}
	if o.DeviceID != "" {
		input.DeviceID = &o.DeviceID
	}
	if requestID := api.RequestIDFromContext(ctx); requestID != "" {
		input.RequestID = &requestID
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		input.Payload["client"] = user.Sub
	}

	var level EventLevel
	switch {
	case o.Succeeded():
		input.Type = EventTriggerSucceeded
		level = EventLevelInfo
		input.Message = fmt.Sprintf("%s succeeded", o.Action)
	case o.Rejected():
		input.Type = EventTriggerRejected
		level = EventLevelWarn
		input.Message = fmt.Sprintf("%s rejected: %v", o.Action, o.Err)
		input.Payload["reason"] = rejectionReason(o.Err)
	default:
		pe := playback.Classify(o.Err)
		input.Type = EventTriggerFailed
		level = EventLevelError
		input.Message = fmt.Sprintf("%s failed: %s", o.Action, pe.Message)
		input.Payload["reason"] = string(pe.Reason)
		if pe.Status != 0 {
			input.Payload["upstream_status"] = pe.Status
		}
		input.Payload["error"] = o.Err.Error()
	}
	input.Level = &level

	_, err := s.RecordEvent(ctx, input)
	return err
}

func rejectionReason(err error) string {
	if errors.Is(err, engine.ErrCircuitOpen) {
		return "circuit_open"
	}
	return "in_progress"
}

// QueryEvents retrieves events with filters and pagination.
// Clamps limit to MaxQueryLimit.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(ctx, filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}

	s.recordSuccess()
	hasMore := filters.Offset+len(events) < total
	return events, total, hasMore, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	s.recordSuccess()

	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	return event, nil
}

// StartPruneJob starts the background prune job.
// Runs immediately on start, then at pruneInterval.
func (s *Service) StartPruneJob() {
	s.logger.Info().
		Dur("interval", s.pruneInterval).
		Int("retention_days", s.retentionDays).
		Msg("starting audit prune job")

	s.wg.Add(1)
	go s.runPruneLoop()
}

// StopPruneJob stops the background prune job.
func (s *Service) StopPruneJob() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info().Msg("audit prune job stopped")
}

func (s *Service) runPruneLoop() {
	defer s.wg.Done()

	s.pruneAndLog()

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pruneAndLog()
		}
	}
}

func (s *Service) pruneAndLog() {
	count, err := s.Prune(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune audit events")
		return
	}
	if count > 0 {
		s.logger.Info().Int64("count", count).Msg("pruned audit events")
	}
}

// Prune deletes events past the retention window, returns count deleted.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}
