package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/playback"
)

func setupTestRouter(t *testing.T, store *mockStore, port playback.Port) http.Handler {
	t.Helper()
	exec := newTestExecutor(store, port, ExecutorConfig{}, &mockSink{})
	router := chi.NewRouter()
	RegisterRoutes(router, NewGateway(store, exec), port)
	return router
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func errorCode(body map[string]any) any {
	e, _ := body["error"].(map[string]any)
	return e["code"]
}

func TestRoutes_PlaySchedule(t *testing.T) {
	store := newMockStore(dailySchedule("a"))
	router := setupTestRouter(t, store, &mockPort{})

	rec, body := doRequest(t, router, http.MethodPost, "/v1/schedules/a/play", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["played"])
	sched := body["schedule"].(map[string]any)
	assert.Equal(t, "a", sched["id"])
	assert.Equal(t, "start", sched["last_action"])
}

func TestRoutes_PlayScheduleNotFound(t *testing.T) {
	router := setupTestRouter(t, newMockStore(), &mockPort{})

	rec, body := doRequest(t, router, http.MethodPost, "/v1/schedules/missing/play", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SCHEDULE_NOT_FOUND", errorCode(body))
}

func TestRoutes_PlayInProgress(t *testing.T) {
	store := newMockStore(dailySchedule("a"))
	port := &mockPort{}
	exec := newTestExecutor(store, port, ExecutorConfig{}, &mockSink{})
	router := chi.NewRouter()
	RegisterRoutes(router, NewGateway(store, exec), port)

	release, err := exec.guard.TryAcquire(context.Background(), ScheduleKey("a"))
	require.NoError(t, err)
	defer release()

	rec, body := doRequest(t, router, http.MethodPost, "/v1/schedules/a/play", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TRIGGER_IN_PROGRESS", errorCode(body))
}

func TestRoutes_PlaybackErrors(t *testing.T) {
	tests := []struct {
		reason playback.Reason
		status int
		code   string
	}{
		{playback.ReasonDeviceOffline, http.StatusServiceUnavailable, "DEVICE_OFFLINE"},
		{playback.ReasonAuthExpired, http.StatusBadGateway, "PLAYBACK_AUTH_EXPIRED"},
		{playback.ReasonRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{playback.ReasonUnknown, http.StatusBadGateway, "PLAYBACK_FAILED"},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			port := &mockPort{err: playback.NewError(tt.reason, "upstream said no")}
			router := setupTestRouter(t, newMockStore(), port)

			rec, body := doRequest(t, router, http.MethodPost, "/v1/play", map[string]any{
				"device_id":  "dev-1",
				"source_uri": "spotify:playlist:abc",
			})
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestRoutes_PlayAdHocValidation(t *testing.T) {
	router := setupTestRouter(t, newMockStore(), &mockPort{})

	rec, body := doRequest(t, router, http.MethodPost, "/v1/play", map[string]any{"device_id": "dev-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))

	rec, _ = doRequest(t, router, http.MethodPost, "/v1/play", map[string]any{
		"device_id":  "dev-1",
		"source_uri": "spotify:playlist:abc",
		"shuffle":    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_ListDevices(t *testing.T) {
	router := setupTestRouter(t, newMockStore(), &mockPort{})

	rec, body := doRequest(t, router, http.MethodGet, "/v1/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "dev-1", data[0].(map[string]any)["id"])
}

func TestRoutes_PlaylistsNotSupported(t *testing.T) {
	router := setupTestRouter(t, newMockStore(), playback.Unconfigured{})

	rec, body := doRequest(t, router, http.MethodGet, "/v1/playlists", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PLAYBACK_NOT_CONFIGURED", errorCode(body))

	rec, _ = doRequest(t, router, http.MethodGet, "/v1/devices", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
