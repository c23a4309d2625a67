package schedule

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/strefethen/playsched-go/internal/apperrors"
)

// exportVersion is bumped when the document layout changes.
const exportVersion = 1

// ExportDocument is the YAML backup format. Bookkeeping is not exported;
// imported schedules start fresh.
type ExportDocument struct {
	Version   int           `yaml:"version"`
	Schedules []CreateInput `yaml:"schedules"`
}

// Export writes every schedule as YAML.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	schedules, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	doc := ExportDocument{Version: exportVersion, Schedules: make([]CreateInput, 0, len(schedules))}
	for i := range schedules {
		doc.Schedules = append(doc.Schedules, toInput(&schedules[i]))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return enc.Close()
}

// Import creates a new schedule for each document entry. Entries are
// validated before any is stored.
func (s *Service) Import(ctx context.Context, r io.Reader) ([]Schedule, error) {
	var doc ExportDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.NewValidationError("Invalid YAML document", map[string]any{"reason": err.Error()})
	}
	if doc.Version != exportVersion {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported export version %d", doc.Version), nil)
	}

	for i := range doc.Schedules {
		in := &doc.Schedules[i]
		if in.Timezone == "" {
			in.Timezone = string(s.defaultTimezone)
		}
		if in.DeviceID == "" || in.SourceURI == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("entry %d: device_id and source_uri are required", i), nil)
		}
		if _, err := in.toSchedule(); err != nil {
			return nil, mapInputError(fmt.Errorf("entry %d: %w", i, err))
		}
	}

	created := make([]Schedule, 0, len(doc.Schedules))
	for _, in := range doc.Schedules {
		sched, err := s.repo.Create(ctx, in)
		if err != nil {
			return created, err
		}
		created = append(created, *sched)
	}
	s.logger.Info().Int("count", len(created)).Msg("schedules imported")
	return created, nil
}

func toInput(s *Schedule) CreateInput {
	in := CreateInput{
		Name:       s.Name,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		SourceURI:  s.SourceURI,
		SourceName: s.SourceName,
		Days:       s.Days.Ints(),
		StartTime:  s.Start.String(),
		Timezone:   string(s.Timezone),
		Volume:     s.Volume,
		Shuffle:    s.Shuffle,
	}
	if s.Stop != nil {
		stop := s.Stop.String()
		in.StopTime = &stop
	}
	if !s.Active {
		active := false
		in.Active = &active
	}
	return in
}
