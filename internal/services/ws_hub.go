package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Dashboard event types
const (
	EventLocation     = "location"
	EventDistance     = "distance"
	EventPair         = "pair"
	EventConnectivity = "connectivity"
	EventAuthState    = "auth_state"
	EventPinState     = "pin_state"
	EventTracking     = "tracking"
	EventError        = "error"

	// sent by the browser
	EventPosition      = "position"
	EventPositionError = "position_error"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`

	// position fix relayed by the browser
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Accuracy float64  `json:"accuracy,omitempty"`
	Code     string   `json:"code,omitempty"`
}

// Broadcaster pushes dashboard events
type Broadcaster interface {
	Broadcast(message WSMessage)
}

type wsClient struct {
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

// WSHub manages the dashboard WebSocket connections
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]*wsClient
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]*wsClient),
	}
}

// Register adds a connection and returns its id
func (h *WSHub) Register(conn *websocket.Conn) string {
	id := uuid.New().String()

	h.mu.Lock()
	h.connections[id] = &wsClient{conn: conn}
	count := len(h.connections)
	h.mu.Unlock()

	log.Info().Str("conn_id", id).Int("connections", count).Msg("WebSocket connection registered")
	return id
}

// Unregister closes and removes a connection
func (h *WSHub) Unregister(id string) {
	h.mu.Lock()
	client, exists := h.connections[id]
	delete(h.connections, id)
	h.mu.Unlock()

	if exists {
		client.conn.Close()
		log.Info().Str("conn_id", id).Msg("WebSocket connection unregistered")
	}
}

// Send sends a message to one connection
func (h *WSHub) Send(id string, message WSMessage) error {
	h.mu.RLock()
	client, exists := h.connections[id]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection %s is not registered", id)
	}

	data, err := encode(message)
	if err != nil {
		return err
	}
	if err := client.write(data); err != nil {
		h.Unregister(id)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Broadcast sends a message to every connection; failed connections are dropped
func (h *WSHub) Broadcast(message WSMessage) {
	data, err := encode(message)
	if err != nil {
		log.Error().Err(err).Str("type", message.Type).Msg("Failed to encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make(map[string]*wsClient, len(h.connections))
	for id, c := range h.connections {
		targets[id] = c
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := c.write(data); err != nil {
			log.Error().Err(err).Str("conn_id", id).Str("type", message.Type).Msg("Failed to broadcast message")
			h.Unregister(id)
		}
	}
}

// Count returns the number of registered connections
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RenderPair pushes both markers and the line between them to the map
func (h *WSHub) RenderPair(a, b models.LocationRecord) {
	km := DistanceBetween(a, b)
	h.Broadcast(WSMessage{
		Type: EventPair,
		Data: map[string]any{
			string(models.SlotA): a,
			string(models.SlotB): b,
			"distance_km":        km,
			"distance_label":     FormatDistance(km),
		},
	})
}

// Close closes every connection
func (h *WSHub) Close() {
	h.mu.Lock()
	clients := h.connections
	h.connections = make(map[string]*wsClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

func (c *wsClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func encode(message WSMessage) ([]byte, error) {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
