package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/zene/zenesync/internal/models"
)

// Backend operation names, as passed to failure hooks and counted by Calls
const (
	OpInsert       = "insert"
	OpUpsert       = "upsert"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpSelect       = "select"
	OpSelectSingle = "select_single"
)

// MemoryBackend is an in-process Backend enforcing natural-key uniqueness per table
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string][]models.Row
	fail   func(op, table string) error
	calls  map[string]int
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tables: make(map[string][]models.Row),
		calls:  make(map[string]int),
	}
}

// FailWith installs a hook consulted before every call; a non-nil error fails the call.
// Pass nil to clear it.
func (m *MemoryBackend) FailWith(fn func(op, table string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Seed stores rows as-is, assigning ids to rows without one
func (m *MemoryBackend) Seed(table string, rows ...models.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		r = r.Clone()
		if r.ID().IsZero() {
			r["id"] = uuid.NewString()
		}
		m.tables[table] = append(m.tables[table], r)
	}
}

// Rows returns a copy of every row stored in table
func (m *MemoryBackend) Rows(table string) []models.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.tables[table])
}

// Calls returns how many times op was invoked, failed calls included
func (m *MemoryBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryBackend) enter(op, table string) error {
	m.calls[op]++
	if m.fail != nil {
		return m.fail(op, table)
	}
	return nil
}

func (m *MemoryBackend) Insert(ctx context.Context, table string, row models.Row) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsert, table); err != nil {
		return nil, err
	}
	stored, err := m.insert(table, row)
	if err != nil {
		return nil, err
	}
	return []models.Row{stored.Clone()}, nil
}

func (m *MemoryBackend) insert(table string, row models.Row) (models.Row, error) {
	if row.ID().IsTemp() {
		return nil, &Error{Status: http.StatusBadRequest, Message: "temporary ids cannot be stored"}
	}
	if desc, err := models.LookupTable(table); err == nil && desc.UserScoped {
		key := desc.KeyOf(row)
		if !key.Complete() {
			return nil, &Error{Status: http.StatusBadRequest, Message: models.ErrIncompleteKey.Error()}
		}
		for _, existing := range m.tables[table] {
			if desc.KeyOf(existing).Equal(key) {
				return nil, &Error{Status: http.StatusConflict, Message: fmt.Sprintf("duplicate key %s", key)}
			}
		}
	}

	stored := row.Clone()
	if stored.ID().IsZero() {
		stored["id"] = uuid.NewString()
	}
	m.tables[table] = append(m.tables[table], stored)
	return stored, nil
}

func (m *MemoryBackend) Upsert(ctx context.Context, table string, row models.Row, onConflict []string) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsert, table); err != nil {
		return nil, err
	}

	match := make(map[string]any, len(onConflict))
	for _, f := range onConflict {
		match[f] = row[f]
	}
	for i, existing := range m.tables[table] {
		if existing.Matches(match) {
			m.tables[table][i] = existing.Merge(row.WithoutID())
			return []models.Row{m.tables[table][i].Clone()}, nil
		}
	}

	stored, err := m.insert(table, row)
	if err != nil {
		return nil, err
	}
	return []models.Row{stored.Clone()}, nil
}

func (m *MemoryBackend) Update(ctx context.Context, table string, match map[string]any, changes models.Row) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdate, table); err != nil {
		return nil, err
	}

	updated := []models.Row{}
	for i, existing := range m.tables[table] {
		if existing.Matches(match) {
			m.tables[table][i] = existing.Merge(changes.WithoutID())
			updated = append(updated, m.tables[table][i].Clone())
		}
	}
	return updated, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, table string, match map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDelete, table); err != nil {
		return err
	}

	kept := m.tables[table][:0]
	for _, existing := range m.tables[table] {
		if !existing.Matches(match) {
			kept = append(kept, existing)
		}
	}
	m.tables[table] = kept
	return nil
}

func (m *MemoryBackend) Select(ctx context.Context, table string, q Query) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSelect, table); err != nil {
		return nil, err
	}
	return m.selectRows(table, q), nil
}

func (m *MemoryBackend) SelectSingle(ctx context.Context, table string, q Query) (models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSelectSingle, table); err != nil {
		return nil, err
	}
	rows := m.selectRows(table, q)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (m *MemoryBackend) selectRows(table string, q Query) []models.Row {
	out := []models.Row{}
	for _, r := range m.tables[table] {
		if r.Matches(q.Eq) {
			out = append(out, r.Clone())
		}
	}
	if q.Order != "" {
		models.SortRows(out, q.Order)
	}
	return out
}

func cloneRows(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
