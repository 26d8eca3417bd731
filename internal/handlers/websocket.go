package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/geolocation"
	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Snapshotter provides the events a newly connected dashboard needs
type Snapshotter interface {
	Snapshot() []services.WSMessage
}

// PositionFeed receives fixes relayed by the browser
type PositionFeed interface {
	Push(pos models.Position)
	PushError(code geolocation.ErrorCode, message string)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub      *services.WSHub
	snapshot Snapshotter
	feed     PositionFeed
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. feed may be nil when
// positions do not come from the browser. checkOrigin may be nil, in which
// case only pages served from the same host can connect.
func NewWebSocketHandler(hub *services.WSHub, snapshot Snapshotter, feed PositionFeed, checkOrigin func(r *http.Request) bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		snapshot: snapshot,
		feed:     feed,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	id := h.hub.Register(conn)
	defer h.hub.Unregister(id)

	for _, msg := range h.snapshot.Snapshot() {
		if err := h.hub.Send(id, msg); err != nil {
			log.Error().Err(err).Str("conn_id", id).Str("type", msg.Type).Msg("Failed to send snapshot")
			return
		}
	}

	log.Info().Str("conn_id", id).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", id).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("conn_id", id).Msg("Failed to parse WebSocket message")
			h.sendError(id, "Invalid message format")
			continue
		}

		h.handleMessage(id, msg)
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(id string, msg services.WSMessage) {
	switch msg.Type {
	case services.EventPosition:
		if h.feed == nil {
			h.sendError(id, "Positions are not taken from the browser")
			return
		}
		if msg.Lat == nil || msg.Lon == nil {
			h.sendError(id, "lat and lon are required")
			return
		}
		h.feed.Push(models.Position{Lat: *msg.Lat, Lon: *msg.Lon, Accuracy: msg.Accuracy})
	case services.EventPositionError:
		if h.feed == nil {
			return
		}
		code := geolocation.ParseErrorCode(msg.Code)
		log.Warn().Str("conn_id", id).Str("code", code.String()).Str("message", msg.Message).Msg("Browser position error")
		h.feed.PushError(code, msg.Message)
	default:
		h.sendError(id, "Unknown message type")
	}
}

// sendError sends an error message to one connection
func (h *WebSocketHandler) sendError(id, message string) {
	if err := h.hub.Send(id, services.WSMessage{Type: services.EventError, Message: message}); err != nil {
		log.Error().Err(err).Str("conn_id", id).Msg("Failed to send error message")
	}
}
