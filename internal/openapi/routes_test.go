package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter() http.Handler {
	router := chi.NewRouter()
	RegisterRoutes(router)
	return router
}

func TestServeOpenAPIJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/v1/schedules/{schedule_id}/play")
}

func TestServeOpenAPIYAML_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.1.0\n"), 0o600))
	t.Setenv("OPENAPI_SPEC_PATH", path)

	rec := httptest.NewRecorder()
	setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "openapi: 3.1.0\n", rec.Body.String())
}
