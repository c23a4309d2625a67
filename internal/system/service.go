package system

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/audit"
	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/schedule"
)

// Version is the service version, set at build time or defaulted.
var Version = "1.0.0"

const (
	upcomingLimit = 5
	failureWindow = 24 * time.Hour
	failureLimit  = 50
)

// ScheduleLister lists schedules with their next occurrence.
type ScheduleLister interface {
	List(ctx context.Context) ([]schedule.Listed, error)
}

// EventQuerier reads trigger history.
type EventQuerier interface {
	QueryEvents(ctx context.Context, filters audit.EventQueryFilters) ([]audit.AuditEvent, int, bool, error)
}

// StatusProvider reports whether the poll loop is running.
type StatusProvider interface {
	IsRunning() bool
}

// Pinger checks the database connection.
type Pinger interface {
	Ping() error
}

// Dependencies wires the system service.
type Dependencies struct {
	Schedules          ScheduleLister
	Events             EventQuerier
	Poller             StatusProvider
	DB                 Pinger
	PlaybackConfigured bool
}

// Service provides system information and dashboard data.
type Service struct {
	deps      Dependencies
	logger    zerolog.Logger
	startTime time.Time
	now       func() time.Time
}

// NewService creates a new system service.
func NewService(deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{
		deps:      deps,
		logger:    logx.Component(logger, "system"),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// SystemInfo holds system information.
type SystemInfo struct {
	Version            string  `json:"version"`
	Uptime             int64   `json:"uptime_seconds"`
	MemoryUsageMB      float64 `json:"memory_mb"`
	SQLiteConnected    bool    `json:"sqlite_connected"`
	SchedulerRunning   bool    `json:"scheduler_running"`
	PlaybackConfigured bool    `json:"playback_configured"`
	SchedulesTotal     int     `json:"schedules_total"`
	SchedulesActive    int     `json:"schedules_active"`
}

// ScheduleSummary is a summary of a schedule for dashboard display.
type ScheduleSummary struct {
	ScheduleID string     `json:"schedule_id"`
	Name       string     `json:"name"`
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name,omitempty"`
	SourceName string     `json:"source_name,omitempty"`
	NextStart  *time.Time `json:"next_start,omitempty"`
	NextStop   *time.Time `json:"next_stop,omitempty"`
	OneShot    bool       `json:"one_shot"`
}

// AttentionItem represents an item that needs user attention.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	NextSchedule      *ScheduleSummary  `json:"next_schedule,omitempty"`
	UpcomingSchedules []ScheduleSummary `json:"upcoming_schedules"`
	AttentionItems    []AttentionItem   `json:"attention_items"`
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := &SystemInfo{
		Version:            Version,
		Uptime:             int64(s.now().Sub(s.startTime).Seconds()),
		MemoryUsageMB:      float64(memStats.Alloc) / 1024 / 1024,
		SQLiteConnected:    s.deps.DB == nil || s.deps.DB.Ping() == nil,
		SchedulerRunning:   s.deps.Poller != nil && s.deps.Poller.IsRunning(),
		PlaybackConfigured: s.deps.PlaybackConfigured,
	}

	items, err := s.deps.Schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	info.SchedulesTotal = len(items)
	for i := range items {
		if !items[i].Schedule.Inert() {
			info.SchedulesActive++
		}
	}
	return info, nil
}

// GetDashboardData returns the next schedules to play and anything that
// needs attention.
func (s *Service) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	dashboard := &DashboardData{
		UpcomingSchedules: []ScheduleSummary{},
		AttentionItems:    []AttentionItem{},
	}

	items, err := s.deps.Schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	// List is ordered by next start with inert schedules last.
	for i := range items {
		if items[i].Next == nil || len(dashboard.UpcomingSchedules) == upcomingLimit {
			break
		}
		dashboard.UpcomingSchedules = append(dashboard.UpcomingSchedules, summarize(&items[i]))
	}
	if len(dashboard.UpcomingSchedules) > 0 {
		next := dashboard.UpcomingSchedules[0]
		dashboard.NextSchedule = &next
	}

	if !s.deps.PlaybackConfigured {
		dashboard.AttentionItems = append(dashboard.AttentionItems, AttentionItem{
			Type:        "playback_not_configured",
			Severity:    "error",
			Message:     "No playback backend is configured; schedules cannot play",
			ResolveHint: "Set SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET and SPOTIFY_REFRESH_TOKEN",
		})
	}
	if s.deps.Poller != nil && !s.deps.Poller.IsRunning() {
		dashboard.AttentionItems = append(dashboard.AttentionItems, AttentionItem{
			Type:     "scheduler_stopped",
			Severity: "warning",
			Message:  "The scheduler is not running",
		})
	}

	failures, err := s.recentFailures(ctx)
	if err != nil {
		// History is best effort on the dashboard.
		s.logger.Warn().Err(err).Msg("failed to query recent trigger failures")
	}
	dashboard.AttentionItems = append(dashboard.AttentionItems, failures...)

	return dashboard, nil
}

// recentFailures returns one attention item per schedule or device with
// failed triggers inside the failure window.
func (s *Service) recentFailures(ctx context.Context) ([]AttentionItem, error) {
	if s.deps.Events == nil {
		return nil, nil
	}
	failed := audit.EventTriggerFailed
	from := s.now().Add(-failureWindow)
	events, _, _, err := s.deps.Events.QueryEvents(ctx, audit.EventQueryFilters{
		Type:  &failed,
		From:  &from,
		Limit: failureLimit,
	})
	if err != nil {
		return nil, err
	}

	type group struct {
		count  int
		latest audit.AuditEvent
	}
	var order []string
	groups := map[string]*group{}
	for _, e := range events {
		key := targetKey(e)
		g, ok := groups[key]
		if !ok {
			// Events arrive newest first, so the first one seen is the latest.
			g = &group{latest: e}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}

	items := make([]AttentionItem, 0, len(order))
	for _, key := range order {
		g := groups[key]
		details := map[string]any{
			"failures":    g.count,
			"last_failed": g.latest.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		}
		if g.latest.ScheduleID != nil {
			details["schedule_id"] = *g.latest.ScheduleID
		}
		if g.latest.DeviceID != nil {
			details["device_id"] = *g.latest.DeviceID
		}
		if reason, ok := g.latest.Payload["reason"].(string); ok {
			details["reason"] = reason
		}
		items = append(items, AttentionItem{
			Type:        "trigger_failed",
			Severity:    "warning",
			Message:     g.latest.Message,
			Details:     details,
			ResolveHint: resolveHint(details["reason"]),
		})
	}
	return items, nil
}

func targetKey(e audit.AuditEvent) string {
	if e.ScheduleID != nil {
		return "schedule:" + *e.ScheduleID
	}
	if e.DeviceID != nil {
		return "device:" + *e.DeviceID
	}
	return "unknown"
}

func resolveHint(reason any) string {
	switch reason {
	case "device_offline":
		return "Open the streaming app on the speaker so it shows up as a device"
	case "auth_expired":
		return "Reconnect the streaming account and update SPOTIFY_REFRESH_TOKEN"
	case "rate_limited":
		return "Reduce manual plays or lower SPOTIFY_RATE_PER_SEC"
	default:
		return ""
	}
}

func summarize(item *schedule.Listed) ScheduleSummary {
	s := &item.Schedule
	name := s.Name
	if name == "" {
		name = s.SourceName
	}
	summary := ScheduleSummary{
		ScheduleID: s.ID,
		Name:       name,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		SourceName: s.SourceName,
		OneShot:    s.IsOneShot(),
	}
	if item.Next != nil {
		start := item.Next.Start
		summary.NextStart = &start
		summary.NextStop = item.Next.Stop
	}
	return summary
}
