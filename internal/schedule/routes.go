package schedule

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
)

const (
	defaultOccurrenceCount = 5
	maxOccurrenceCount     = 50
)

// rfc3339Millis formats time with milliseconds, e.g. "2026-01-06T15:54:16.696Z".
func rfc3339Millis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// RegisterRoutes wires schedule management routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/schedules", api.Handler(listSchedules(service)))
	router.Method(http.MethodPost, "/v1/schedules", api.Handler(createSchedule(service)))
	router.Method(http.MethodGet, "/v1/schedules/export", api.Handler(exportSchedules(service)))
	router.Method(http.MethodPost, "/v1/schedules/import", api.Handler(importSchedules(service)))
	router.Method(http.MethodGet, "/v1/schedules/{schedule_id}", api.Handler(getSchedule(service)))
	router.Method(http.MethodPatch, "/v1/schedules/{schedule_id}", api.Handler(updateSchedule(service)))
	router.Method(http.MethodDelete, "/v1/schedules/{schedule_id}", api.Handler(deleteSchedule(service)))

	// Schedule actions
	router.Method(http.MethodPost, "/v1/schedules/{schedule_id}/duplicate", api.Handler(duplicateSchedule(service)))
	router.Method(http.MethodPost, "/v1/schedules/{schedule_id}/toggle", api.Handler(toggleSchedule(service)))
	router.Method(http.MethodGet, "/v1/schedules/{schedule_id}/occurrences", api.Handler(listOccurrences(service)))
}

// HTTPError maps schedule errors onto API errors.
func HTTPError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return apperrors.NewAppError(apperrors.ErrorCodeScheduleNotFound, "Schedule not found", http.StatusNotFound, map[string]any{"schedule_id": nf.ID}, nil)
	}
	return err
}

// ==========================================================================
// Handlers
// ==========================================================================

func listSchedules(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		items, err := service.List(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to list schedules")
		}

		formatted := make([]map[string]any, 0, len(items))
		for i := range items {
			formatted = append(formatted, FormatSchedule(&items[i].Schedule, items[i].Next))
		}
		return api.WriteList(w, "/v1/schedules", formatted, false)
	}
}

func createSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input CreateInput
		if err := api.DecodeAndValidate(r, &input); err != nil {
			return err
		}

		created, err := service.Create(r.Context(), input)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusCreated, FormatSchedule(created, service.NextOccurrence(created)))
	}
}

func getSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		sched, err := service.Get(r.Context(), chi.URLParam(r, "schedule_id"))
		if err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatSchedule(sched, service.NextOccurrence(sched)))
	}
}

func updateSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input UpdateInput
		if err := api.DecodeAndValidate(r, &input); err != nil {
			return err
		}

		updated, err := service.Update(r.Context(), chi.URLParam(r, "schedule_id"), input)
		if err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatSchedule(updated, service.NextOccurrence(updated)))
	}
}

func deleteSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "schedule_id")
		if err := service.Delete(r.Context(), id); err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "schedule",
			"id":      id,
			"deleted": true,
		})
	}
}

func duplicateSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		dup, err := service.Duplicate(r.Context(), chi.URLParam(r, "schedule_id"))
		if err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusCreated, FormatSchedule(dup, service.NextOccurrence(dup)))
	}
}

func toggleSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		toggled, err := service.ToggleActive(r.Context(), chi.URLParam(r, "schedule_id"))
		if err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatSchedule(toggled, service.NextOccurrence(toggled)))
	}
}

func listOccurrences(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		count := defaultOccurrenceCount
		if c := r.URL.Query().Get("count"); c != "" {
			parsed, err := strconv.Atoi(c)
			if err != nil || parsed < 1 || parsed > maxOccurrenceCount {
				return apperrors.NewValidationError("count must be between 1 and 50", map[string]any{"count": c})
			}
			count = parsed
		}

		id := chi.URLParam(r, "schedule_id")
		_, occs, err := service.Upcoming(r.Context(), id, count)
		if err != nil {
			return HTTPError(err)
		}

		formatted := make([]map[string]any, 0, len(occs))
		for i := range occs {
			formatted = append(formatted, formatOccurrence(&occs[i]))
		}
		return api.WriteList(w, "/v1/schedules/"+id+"/occurrences", formatted, false)
	}
}

func exportSchedules(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var buf bytes.Buffer
		if err := service.Export(r.Context(), &buf); err != nil {
			return apperrors.NewInternalError("Failed to export schedules")
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="schedules.yaml"`)
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(buf.Bytes())
		return err
	}
}

func importSchedules(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		created, err := service.Import(r.Context(), http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			return err
		}

		formatted := make([]map[string]any, 0, len(created))
		for i := range created {
			formatted = append(formatted, FormatSchedule(&created[i], service.NextOccurrence(&created[i])))
		}
		return api.WriteList(w, "/v1/schedules/import", formatted, false)
	}
}

// ==========================================================================
// Formatting
// ==========================================================================

// FormatSchedule renders a schedule as an API resource.
func FormatSchedule(s *Schedule, next *Occurrence) map[string]any {
	result := map[string]any{
		"object":         "schedule",
		"id":             s.ID,
		"name":           s.Name,
		"device_id":      s.DeviceID,
		"device_name":    s.DeviceName,
		"source_uri":     s.SourceURI,
		"source_name":    s.SourceName,
		"days_of_week":   s.Days.Ints(),
		"one_shot":       s.IsOneShot(),
		"start_time":     s.Start.String(),
		"stop_time":      nil,
		"timezone":       string(s.Timezone),
		"volume":         s.Volume,
		"shuffle":        s.Shuffle,
		"is_active":      s.Active,
		"consumed":       s.Consumed,
		"last_triggered": nil,
		"last_action":    nil,
		"next_start":     nil,
		"next_stop":      nil,
		"created_at":     rfc3339Millis(s.CreatedAt),
		"updated_at":     rfc3339Millis(s.UpdatedAt),
	}

	if s.Stop != nil {
		result["stop_time"] = s.Stop.String()
	}
	if s.LastTriggered != nil {
		result["last_triggered"] = rfc3339Millis(*s.LastTriggered)
		result["last_action"] = string(s.LastAction)
	}
	if next != nil {
		result["next_start"] = rfc3339Millis(next.Start)
		if next.Stop != nil {
			result["next_stop"] = rfc3339Millis(*next.Stop)
		}
	}

	return result
}

func formatOccurrence(o *Occurrence) map[string]any {
	result := map[string]any{
		"object": "occurrence",
		"start":  rfc3339Millis(o.Start),
		"stop":   nil,
	}
	if o.Stop != nil {
		result["stop"] = rfc3339Millis(*o.Stop)
	}
	return result
}
