// Package events streams trigger outcomes to websocket listeners.
package events

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/engine"
	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/playback"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	sendBuffer          = 32
)

type listener struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *listener) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Hub fans trigger outcomes out to connected websocket listeners. A listener
// that cannot keep up loses messages rather than slowing the executor.
type Hub struct {
	mu           sync.RWMutex
	listeners    map[*listener]struct{}
	pingInterval time.Duration
	logger       zerolog.Logger
	published    atomic.Uint64
	dropped      atomic.Uint64
}

var _ engine.Publisher = (*Hub)(nil)

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		listeners:    make(map[*listener]struct{}),
		pingInterval: defaultPingInterval,
		logger:       logx.Component(logger, "events"),
	}
}

// Register starts serving conn until it disconnects or the hub closes.
func (h *Hub) Register(conn *websocket.Conn) {
	l := &listener{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.listeners[l] = struct{}{}
	count := len(h.listeners)
	h.mu.Unlock()

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("listeners", count).Msg("listener connected")

	go h.writeLoop(l)
	go h.readLoop(l)
}

// Publish implements engine.Publisher.
func (h *Hub) Publish(o engine.Outcome) {
	payload, err := json.Marshal(TriggerMessage{Type: "trigger", Data: triggerData(o)})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode trigger message")
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		select {
		case l.send <- payload:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("remote", l.conn.RemoteAddr().String()).Msg("listener too slow, message dropped")
		}
	}
}

// Status returns the current hub status.
func (h *Hub) Status() HubStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStatus{
		Listeners: len(h.listeners),
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every listener.
func (h *Hub) Close() {
	h.mu.Lock()
	listeners := h.listeners
	h.listeners = make(map[*listener]struct{})
	h.mu.Unlock()

	for l := range listeners {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		l.close()
	}
}

func (h *Hub) remove(l *listener) {
	h.mu.Lock()
	_, ok := h.listeners[l]
	delete(h.listeners, l)
	count := len(h.listeners)
	h.mu.Unlock()

	l.close()
	if ok {
		h.logger.Info().Int("listeners", count).Msg("listener disconnected")
	}
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(l *listener) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(PingMessage{Type: "ping"})

	for {
		var msg []byte
		select {
		case <-l.done:
			return
		case msg = <-l.send:
		case <-ticker.C:
			msg = ping
		}

		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug().Err(err).Msg("write failed")
			h.remove(l)
			return
		}
	}
}

func (h *Hub) readLoop(l *listener) {
	defer h.remove(l)

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("listener read failed")
			}
			return
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			h.logger.Debug().Err(err).Msg("failed to parse listener message")
			continue
		}
		switch incoming.Type {
		case "pong":
		default:
			h.logger.Debug().Str("type", incoming.Type).Msg("unknown message type")
		}
	}
}

func triggerData(o engine.Outcome) TriggerData {
	d := TriggerData{
		ScheduleID: o.ScheduleID,
		DeviceID:   o.DeviceID,
		SourceURI:  o.SourceURI,
		Action:     string(o.Action),
		Origin:     string(o.Origin),
		At:         o.At.UTC().Format("2006-01-02T15:04:05.000Z"),
		DurationMS: o.Duration.Milliseconds(),
	}
	switch {
	case o.Succeeded():
		d.Status = "succeeded"
	case o.Rejected():
		d.Status = "rejected"
		d.Error = o.Err.Error()
		d.Reason = "in_progress"
		if errors.Is(o.Err, engine.ErrCircuitOpen) {
			d.Reason = "circuit_open"
		}
	default:
		pe := playback.Classify(o.Err)
		d.Status = "failed"
		d.Reason = string(pe.Reason)
		d.Error = pe.Message
	}
	return d
}
