// Package remote talks to the authoritative backend holding every user's records.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zene/zenesync/internal/models"
)

// ErrNotFound is returned by SelectSingle when no row matches
var ErrNotFound = errors.New("remote: no matching row")

// Error is a failure reported by the backend
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

// Is makes a 404 match ErrNotFound
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Temporary reports whether retrying the same request may succeed
func (e *Error) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Query filters and orders a select
type Query struct {
	Eq    map[string]any
	Order string
}

// Backend is the typed insert/update/delete/select surface of the remote store
type Backend interface {
	// Insert creates a row and returns it as stored, with its remote id
	Insert(ctx context.Context, table string, row models.Row) ([]models.Row, error)
	// Upsert inserts row or, when a row matches it on every onConflict column, merges into that row
	Upsert(ctx context.Context, table string, row models.Row, onConflict []string) ([]models.Row, error)
	// Update applies changes to every row matching match
	Update(ctx context.Context, table string, match map[string]any, changes models.Row) ([]models.Row, error)
	// Delete removes every row matching match
	Delete(ctx context.Context, table string, match map[string]any) error
	Select(ctx context.Context, table string, q Query) ([]models.Row, error)
	// SelectSingle returns the single matching row or ErrNotFound
	SelectSingle(ctx context.Context, table string, q Query) (models.Row, error)
}
