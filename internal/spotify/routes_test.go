package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/logx"
)

func setupRoutes(t *testing.T) (http.Handler, *Repository) {
	t.Helper()
	repo := setupTestDB(t)
	client := NewClient(Config{ClientID: "client-id", ClientSecret: "client-secret"}, repo, logx.Nop())
	router := chi.NewRouter()
	RegisterRoutes(router, client)
	return router, repo
}

func serve(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRoutes_StatusAndDisconnect(t *testing.T) {
	router, repo := setupRoutes(t)

	code, body := serve(t, router, http.MethodGet, "/v1/spotify/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["connected"])

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.SaveToken(context.Background(), &TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    now.Add(time.Hour),
		TokenType:    "Bearer",
		Scope:        DefaultScope,
		CreatedAt:    now,
	}))

	code, body = serve(t, router, http.MethodGet, "/v1/spotify/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "spotify_status", body["object"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, DefaultScope, body["scope"])

	code, body = serve(t, router, http.MethodPost, "/v1/spotify/disconnect")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["disconnected"])

	// Disconnecting twice is fine.
	code, _ = serve(t, router, http.MethodPost, "/v1/spotify/disconnect")
	assert.Equal(t, http.StatusOK, code)
}
