package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
	"github.com/strefethen/playsched-go/internal/playback"
	"github.com/strefethen/playsched-go/internal/schedule"
)

// RegisterRoutes wires Play Now and playback discovery routes.
func RegisterRoutes(router chi.Router, gateway *Gateway, port playback.Port) {
	router.Method(http.MethodPost, "/v1/schedules/{schedule_id}/play", api.Handler(playSchedule(gateway)))
	router.Method(http.MethodPost, "/v1/play", api.Handler(playAdHoc(gateway)))
	router.Method(http.MethodGet, "/v1/devices", api.Handler(listDevices(port)))
	router.Method(http.MethodGet, "/v1/playlists", api.Handler(listPlaylists(port)))
}

// HTTPError maps fire errors onto API errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInProgress):
		return apperrors.NewAppError(apperrors.ErrorCodeTriggerInProgress, "A trigger for this target is already in progress", http.StatusConflict, nil, nil)
	case errors.Is(err, ErrCircuitOpen):
		return apperrors.NewUnavailableError(apperrors.ErrorCodeDeviceOffline, "Device is failing repeatedly; try again later", nil)
	}

	var nf *schedule.NotFoundError
	if errors.As(err, &nf) {
		return schedule.HTTPError(err)
	}
	var pe *playback.Error
	if errors.As(err, &pe) {
		return playback.HTTPError(err)
	}
	return err
}

func playSchedule(gateway *Gateway) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		played, err := gateway.PlaySchedule(r.Context(), chi.URLParam(r, "schedule_id"))
		if err != nil {
			return HTTPError(err)
		}
		next, _ := schedule.Next(played, time.Now())
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":   "play",
			"played":   true,
			"schedule": schedule.FormatSchedule(played, next),
		})
	}
}

func playAdHoc(gateway *Gateway) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req AdHocRequest
		if err := api.DecodeAndValidate(r, &req); err != nil {
			return err
		}
		if err := gateway.PlayAdHoc(r.Context(), req); err != nil {
			return HTTPError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":     "play",
			"played":     true,
			"device_id":  req.DeviceID,
			"source_uri": req.SourceURI,
		})
	}
}

func listDevices(port playback.Port) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		devices, err := port.ListDevices(r.Context())
		if err != nil {
			return playback.HTTPError(err)
		}

		formatted := make([]map[string]any, 0, len(devices))
		for _, d := range devices {
			formatted = append(formatted, map[string]any{
				"object":         "device",
				"id":             d.ID,
				"name":           d.Name,
				"type":           d.Type,
				"is_active":      d.IsActive,
				"volume_percent": d.VolumePercent,
			})
		}
		return api.WriteList(w, "/v1/devices", formatted, false)
	}
}

func listPlaylists(port playback.Port) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		lister, ok := port.(playback.Lister)
		if !ok {
			return playback.HTTPError(playback.NewError(playback.ReasonNotConfigured, "playback backend cannot list playlists"))
		}
		playlists, err := lister.ListPlaylists(r.Context())
		if err != nil {
			return playback.HTTPError(err)
		}

		formatted := make([]map[string]any, 0, len(playlists))
		for _, p := range playlists {
			formatted = append(formatted, map[string]any{
				"object":      "playlist",
				"uri":         p.URI,
				"name":        p.Name,
				"owner":       p.Owner,
				"track_count": p.TrackCount,
				"image_url":   p.ImageURL,
			})
		}
		return api.WriteList(w, "/v1/playlists", formatted, false)
	}
}
