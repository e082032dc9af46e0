package repository

import (
	"context"
	"errors"

	"github.com/zene/zenesync/internal/models"
)

var (
	// ErrDuplicateKey is returned when a row's natural key is already taken in its table
	ErrDuplicateKey = errors.New("a row with the same key already exists")
	// ErrTempID is returned when a client sends a local placeholder id
	ErrTempID = errors.New("temporary ids cannot be stored")
)

// TableRepo defines the persistence operations behind /api/tables
type TableRepo interface {
	Insert(ctx context.Context, table models.Table, row models.Row) (models.Row, error)
	Upsert(ctx context.Context, table models.Table, row models.Row, onConflict []string) (models.Row, error)
	Update(ctx context.Context, table models.Table, match map[string]any, changes models.Row) ([]models.Row, error)
	Delete(ctx context.Context, table models.Table, match map[string]any) ([]models.Row, error)
	Select(ctx context.Context, table models.Table, match map[string]any, order string) ([]models.Row, error)
}
