package events

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/playsched-go/internal/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// RegisterRoutes wires live event routes to the router.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.HandleFunc("/v1/events/ws", websocketHandler(hub))
	router.Method(http.MethodGet, "/v1/events/status", api.Handler(statusHandler(hub)))
}

func websocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		hub.Register(conn)
	}
}

func statusHandler(hub *Hub) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		status := hub.Status()
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "event_stream_status",
			"listeners": status.Listeners,
			"published": status.Published,
			"dropped":   status.Dropped,
		})
	}
}
