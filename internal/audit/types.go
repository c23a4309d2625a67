package audit

import "time"

// EventType represents the type of audit event.
type EventType string

const (
	EventTriggerSucceeded EventType = "TRIGGER_SUCCEEDED"
	EventTriggerFailed    EventType = "TRIGGER_FAILED"
	EventTriggerRejected  EventType = "TRIGGER_REJECTED"
	EventSystemStartup    EventType = "SYSTEM_STARTUP"
	EventSystemShutdown   EventType = "SYSTEM_SHUTDOWN"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	Level      EventLevel     `json:"level"`
	RequestID  *string        `json:"request_id,omitempty"`
	ScheduleID *string        `json:"schedule_id,omitempty"`
	DeviceID   *string        `json:"device_id,omitempty"`
	Message    string         `json:"message"`
	Payload    map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type       EventType
	Level      *EventLevel
	Timestamp  time.Time // zero means now
	RequestID  *string
	ScheduleID *string
	DeviceID   *string
	Message    string
	Payload    map[string]any
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type       *EventType
	Level      *EventLevel
	From       *time.Time
	To         *time.Time
	ScheduleID *string
	DeviceID   *string
	Limit      int
	Offset     int
}
