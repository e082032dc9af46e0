package models

import (
	"encoding/json"
	"time"
)

// InsertRequest is the request body for POST /api/tables/{table}
type InsertRequest struct {
	Row Row `json:"row"`
	// OnConflict names the columns whose match turns the insert into an update
	OnConflict []string `json:"on_conflict,omitempty"`
}

// RowsResponse is returned by table reads and writes
type RowsResponse struct {
	Rows []Row `json:"rows"`
}

// ChangeEvent is pushed to a user's websocket clients after a remote mutation
type ChangeEvent struct {
	Table     string `json:"table"`
	UserID    string `json:"user_id"`
	Operation OpKind `json:"operation"`
}

// WebSocket message types
const (
	WSTypeRowChanged = "row_changed"
	WSTypePing       = "ping"
	WSTypePong       = "pong"
)

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewWSMessage wraps payload in an envelope of the given type
func NewWSMessage(msgType string, payload any) (WSMessage, error) {
	msg := WSMessage{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, err
	}
	msg.Payload = data
	return msg, nil
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
