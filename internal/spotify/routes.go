package spotify

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/apperrors"
)

// RegisterRoutes wires Spotify connection routes to the router.
func RegisterRoutes(router chi.Router, client *Client) {
	router.Method(http.MethodGet, "/v1/spotify/status", api.Handler(connectionStatus(client)))
	router.Method(http.MethodPost, "/v1/spotify/disconnect", api.Handler(disconnect(client)))
}

func connectionStatus(client *Client) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		status, err := client.GetStatus(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get connection status")
		}

		data := map[string]any{
			"object":    "spotify_status",
			"connected": status.Connected,
		}
		if status.ExpiresAt != nil {
			data["expires_at"] = status.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		if status.ConnectedAt != nil {
			data["connected_at"] = status.ConnectedAt.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		if status.Scope != "" {
			data["scope"] = status.Scope
		}
		return api.WriteResource(w, http.StatusOK, data)
	}
}

func disconnect(client *Client) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		// Not found is okay - already disconnected
		if err := client.Disconnect(r.Context()); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewInternalError("Failed to disconnect")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":       "disconnect",
			"disconnected": true,
		})
	}
}
