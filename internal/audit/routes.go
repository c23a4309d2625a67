package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
)

// validEventTypes defines all valid audit event types.
var validEventTypes = map[string]EventType{
	string(EventTriggerSucceeded): EventTriggerSucceeded,
	string(EventTriggerFailed):    EventTriggerFailed,
	string(EventTriggerRejected):  EventTriggerRejected,
	string(EventSystemStartup):    EventSystemStartup,
	string(EventSystemShutdown):   EventSystemShutdown,
}

// validEventLevels defines all valid audit event levels.
var validEventLevels = map[string]EventLevel{
	"DEBUG": EventLevelDebug,
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
	router.Method(http.MethodGet, "/v1/schedules/{schedule_id}/events", api.Handler(scheduleEvents(service)))
}

// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}
		return writeEvents(w, r, service, "/v1/audit/events", filters)
	}
}

// GET /v1/schedules/{schedule_id}/events
func scheduleEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}
		scheduleID := chi.URLParam(r, "schedule_id")
		filters.ScheduleID = &scheduleID
		return writeEvents(w, r, service, "/v1/schedules/"+scheduleID+"/events", filters)
	}
}

func writeEvents(w http.ResponseWriter, r *http.Request, service *Service, url string, filters EventQueryFilters) error {
	events, _, hasMore, err := service.QueryEvents(r.Context(), filters)
	if err != nil {
		return apperrors.NewInternalError("Failed to query audit events")
	}

	formatted := make([]map[string]any, 0, len(events))
	for i := range events {
		formatted = append(formatted, formatEvent(&events[i]))
	}
	return api.WriteList(w, url, formatted, hasMore)
}

// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(r.Context(), eventID)
		if err != nil {
			var notFoundErr *EventNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewAppError(apperrors.ErrorCodeEventNotFound, "Event not found", http.StatusNotFound, map[string]any{
					"event_id": eventID,
				}, nil)
			}
			return apperrors.NewInternalError("Failed to get audit event")
		}

		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

// parseQueryFilters extracts and validates query parameters for event filtering.
func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{Limit: DefaultQueryLimit}
	query := r.URL.Query()

	if from := query.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.From = &t
	}

	if to := query.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.To = &t
	}

	if eventType := query.Get("type"); eventType != "" {
		parsed, ok := validEventTypes[eventType]
		if !ok {
			return filters, apperrors.NewValidationError("invalid event type", map[string]any{"type": eventType})
		}
		filters.Type = &parsed
	}

	if level := query.Get("level"); level != "" {
		parsed, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &parsed
	}

	if deviceID := query.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if scheduleID := query.Get("schedule_id"); scheduleID != "" {
		filters.ScheduleID = &scheduleID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{
				"limit": limitStr,
			})
		}
		filters.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{
				"offset": offsetStr,
			})
		}
		filters.Offset = offset
	}

	return filters, nil
}

// formatEvent formats an AuditEvent for JSON response.
func formatEvent(event *AuditEvent) map[string]any {
	result := map[string]any{
		"object":    "event",
		"id":        event.EventID,
		"timestamp": event.Timestamp.UTC().Format(timestampLayout),
		"type":      string(event.Type),
		"level":     string(event.Level),
		"message":   event.Message,
		"payload":   event.Payload,
	}

	correlation := map[string]any{}
	if event.RequestID != nil {
		correlation["request_id"] = *event.RequestID
	}
	if event.ScheduleID != nil {
		correlation["schedule_id"] = *event.ScheduleID
	}
	if event.DeviceID != nil {
		correlation["device_id"] = *event.DeviceID
	}
	if len(correlation) > 0 {
		result["correlation"] = correlation
	}

	return result
}
