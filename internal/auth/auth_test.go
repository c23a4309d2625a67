package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:               "0123456789abcdef0123456789abcdef",
		JWTAccessTokenExpirySec: 60,
		NodeEnv:                 "development",
	}
}

func TestGenerateAndVerifyToken(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "cli", ClientName: "laptop"})
	require.NoError(t, err)

	payload, err := VerifyToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, "cli", payload.Sub)
	require.Equal(t, "laptop", payload.ClientName)
	require.Equal(t, TokenTypeAccess, payload.Type)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "cli"})
	require.NoError(t, err)

	other := cfg
	other.JWTSecret = "ffffffffffffffffffffffffffffffff"
	_, err = VerifyToken(other, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_Expired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTAccessTokenExpirySec = -60
	token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "cli"})
	require.NoError(t, err)

	_, err = VerifyToken(cfg, token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig()
	var seen User
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("public route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad scheme", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
		req.Header.Set("Authorization", "Basic abc")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid bearer", func(t *testing.T) {
		token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "cli", ClientName: "laptop"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "cli", seen.Sub)
	})

	t.Run("websocket query token", func(t *testing.T) {
		token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "ws"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/events/ws?access_token="+token, nil)
		req.Header.Set("Upgrade", "websocket")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "ws", seen.Sub)
	})

	t.Run("test mode", func(t *testing.T) {
		testCfg := cfg
		testCfg.AllowTestMode = true
		h := Middleware(testCfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = UserFromContext(r.Context())
		}))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
		req.Header.Set("x-test-mode", "true")
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "test-client", seen.Sub)
	})
}
