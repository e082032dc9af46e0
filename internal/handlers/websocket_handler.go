package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are native apps and CLIs authenticated by API key
		return true
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub    *services.WebSocketHub
	logger *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: observability.GetLogger().WithField("component", "websocket"),
	}
}

// HandleConnection upgrades HTTP to WebSocket and subscribes the connection to the user's change events
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), userID, conn)
	h.hub.Register(client)

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case models.WSTypePing:
		if data, err := json.Marshal(models.WSMessage{Type: models.WSTypePong}); err == nil {
			select {
			case client.Send <- data:
			default:
			}
		}

	default:
		h.logger.Debugf("Unknown WebSocket message type: %s", msg.Type)
	}
}
