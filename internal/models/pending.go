package models

import (
	"strings"
	"time"
)

// OpKind is the mutation a pending operation replays
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether the kind is one of create, update or delete
func (k OpKind) Valid() bool {
	return k == OpCreate || k == OpUpdate || k == OpDelete
}

// PendingOperation is a mutation not yet confirmed by the remote backend
type PendingOperation struct {
	ID        RecordID `json:"id"`
	Operation OpKind   `json:"operation"`
	Table     string   `json:"table"`
	Data      Row      `json:"data"`
	// Timestamp is the enqueue time in unix milliseconds
	Timestamp int64 `json:"timestamp"`

	// Revision increases each time later changes are folded into the operation
	Revision int `json:"revision,omitempty"`

	Attempts      int    `json:"attempts,omitempty"`
	NextAttemptAt int64  `json:"next_attempt_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// OpRef addresses a queued operation
type OpRef struct {
	Table string   `json:"table"`
	ID    RecordID `json:"id"`
}

// NewPendingOperation builds an operation stamped with the current time
func NewPendingOperation(kind OpKind, table string, id RecordID, data Row) PendingOperation {
	return PendingOperation{
		ID:        id,
		Operation: kind,
		Table:     table,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Ref returns the queue address of the operation
func (op PendingOperation) Ref() OpRef {
	return OpRef{Table: op.Table, ID: op.ID}
}

// Ready reports whether the operation's retry backoff has elapsed
func (op PendingOperation) Ready(now time.Time) bool {
	return op.NextAttemptAt == 0 || op.NextAttemptAt <= now.UnixMilli()
}

// Orphaned reports whether the operation mutates a record that only ever existed locally
func (op PendingOperation) Orphaned() bool {
	if op.Operation != OpUpdate && op.Operation != OpDelete {
		return false
	}
	return op.Data.ID().IsTemp()
}

// Validate returns the reason an operation cannot be replayed, or nil
func (op PendingOperation) Validate() error {
	if strings.TrimSpace(string(op.ID)) == "" {
		return ErrInvalidOperationID
	}
	if !op.Operation.Valid() {
		return ErrInvalidOperation
	}
	if _, err := LookupTable(op.Table); err != nil {
		return err
	}
	if op.Data == nil || op.Data.UserID() == "" {
		return ErrMissingUserID
	}
	if op.Orphaned() {
		return ErrTempIDMutation
	}
	return nil
}

// SyncStatus summarizes the reconciliation state
type SyncStatus struct {
	Pending     int        `json:"pending"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
	DeadLetters int        `json:"deadLetters"`
}
