package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
	"github.com/strefethen/playsched-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/health":       {},
	"/v1/health/live":  {},
	"/v1/health/ready": {},
}

var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
}

// Middleware validates JWT tokens for protected routes.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if isTestModeRequest(r, cfg) {
				user := User{
					Sub:        "test-client",
					ClientName: "Test Client",
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			token := bearerToken(r)
			if token == "" && isWebSocketUpgrade(r) {
				// Browsers cannot set headers on websocket handshakes.
				token = r.URL.Query().Get("access_token")
			}
			if token != "" {
				serveVerified(w, r, next, cfg, token)
				return
			}

			if r.Header.Get("Authorization") == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing Authorization header"))
				return
			}
			api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
		})
	}
}

func serveVerified(w http.ResponseWriter, r *http.Request, next http.Handler, cfg config.Config, token string) {
	payload, err := VerifyToken(cfg, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired))
			return
		}
		api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid))
		return
	}

	user := User{
		Sub:        payload.Sub,
		ClientName: payload.ClientName,
	}
	next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isTestModeRequest(r *http.Request, cfg config.Config) bool {
	if !cfg.AllowTestMode {
		return false
	}
	if cfg.NodeEnv != "development" {
		return false
	}
	return r.Header.Get("x-test-mode") == "true"
}
