package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(getDashboard(service)))
}

func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info, err := service.GetSystemInfo(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get system info")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":              "system_info",
			"version":             info.Version,
			"uptime_seconds":      info.Uptime,
			"memory_mb":           info.MemoryUsageMB,
			"sqlite_connected":    info.SQLiteConnected,
			"scheduler_running":   info.SchedulerRunning,
			"playback_configured": info.PlaybackConfigured,
			"schedules_total":     info.SchedulesTotal,
			"schedules_active":    info.SchedulesActive,
		})
	}
}

func getDashboard(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		data, err := service.GetDashboardData(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get dashboard data")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":             "dashboard",
			"next_schedule":      data.NextSchedule,
			"upcoming_schedules": data.UpcomingSchedules,
			"attention_items":    data.AttentionItems,
		})
	}
}
