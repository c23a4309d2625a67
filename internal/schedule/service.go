package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/apperrors"
	"github.com/strefethen/playsched-go/internal/logx"
)

// Service provides schedule management on top of the repository.
type Service struct {
	repo            *Repository
	defaultTimezone Timezone
	logger          zerolog.Logger
	now             func() time.Time
}

// NewService creates a schedule service. defaultTimezone fills creates that
// omit a zone.
func NewService(repo *Repository, defaultTimezone string, logger zerolog.Logger) *Service {
	return &Service{
		repo:            repo,
		defaultTimezone: Timezone(defaultTimezone),
		logger:          logx.Component(logger, "schedule"),
		now:             time.Now,
	}
}

// Repository exposes the store for the engine.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Create validates and stores a new schedule.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Schedule, error) {
	if input.Timezone == "" {
		input.Timezone = string(s.defaultTimezone)
	}
	created, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, mapInputError(err)
	}
	s.logger.Info().Str("schedule_id", created.ID).Str("device_id", created.DeviceID).Msg("schedule created")
	return created, nil
}

// Get returns a schedule or NotFoundError.
func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, &NotFoundError{ID: id}
	}
	return sched, nil
}

// Update edits a schedule.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*Schedule, error) {
	updated, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return nil, mapInputError(err)
	}
	if updated == nil {
		return nil, &NotFoundError{ID: id}
	}
	return updated, nil
}

// Delete removes a schedule.
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	s.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

// Duplicate copies a schedule with cleared bookkeeping.
func (s *Service) Duplicate(ctx context.Context, id string) (*Schedule, error) {
	dup, err := s.repo.Duplicate(ctx, id)
	if err != nil {
		return nil, err
	}
	if dup == nil {
		return nil, &NotFoundError{ID: id}
	}
	return dup, nil
}

// ToggleActive pauses or resumes a schedule.
func (s *Service) ToggleActive(ctx context.Context, id string) (*Schedule, error) {
	toggled, err := s.repo.ToggleActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if toggled == nil {
		return nil, &NotFoundError{ID: id}
	}
	s.logger.Info().Str("schedule_id", id).Bool("active", toggled.Active).Msg("schedule toggled")
	return toggled, nil
}

// List returns all schedules sorted by soonest next start.
func (s *Service) List(ctx context.Context) ([]Listed, error) {
	schedules, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]Listed, 0, len(schedules))
	for i := range schedules {
		items = append(items, Listed{Schedule: schedules[i], Next: s.nextOrNil(&schedules[i], now)})
	}
	sortByNext(items)
	return items, nil
}

// NextOccurrence returns the next occurrence for display, or nil.
func (s *Service) NextOccurrence(sched *Schedule) *Occurrence {
	return s.nextOrNil(sched, s.now())
}

// Upcoming lists the next count occurrences of a schedule.
func (s *Service) Upcoming(ctx context.Context, id string, count int) (*Schedule, []Occurrence, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sched.Inert() {
		return sched, []Occurrence{}, nil
	}
	occs, err := Upcoming(sched, s.now(), count)
	if err != nil {
		return nil, nil, err
	}
	return sched, occs, nil
}

func (s *Service) nextOrNil(sched *Schedule, now time.Time) *Occurrence {
	next, err := Next(sched, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("cannot resolve next occurrence")
		return nil
	}
	return next
}

// mapInputError turns resolution errors into a 400.
func mapInputError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTimezone),
		errors.Is(err, ErrInvalidClockTime),
		errors.Is(err, ErrInvalidWeekdays):
		return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule, err.Error(), 400, nil, nil)
	default:
		return err
	}
}
