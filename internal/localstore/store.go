// Package localstore is the durable on-device key/value store backing the record caches and the
// pending operation queue. Each key holds one JSON document, written wholesale.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zene/zenesync/internal/observability"
)

// Store is a SQLite-backed key/value store. Read-modify-write cycles on the same key are serialized.
type Store struct {
	db     *sql.DB
	logger *observability.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if needed) the store at path. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: observability.GetLogger().WithField("component", "localstore"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get decodes the value stored under key into dst. found is false when the key is absent,
// in which case dst is left untouched.
func (s *Store) Get(ctx context.Context, key string, dst any) (found bool, err error) {
	ctx, span := observability.StartDBSpan(ctx, "sqlite", "SELECT", key)
	defer span.End()

	raw, err := readRaw(ctx, s.db, key)
	if err != nil {
		observability.RecordError(span, err)
		s.logger.WithField("key", key).Errorf("Failed to read: %v", err)
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.WithField("key", key).Errorf("Failed to decode: %v", err)
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Set serializes value and stores it under key, replacing any previous value
func (s *Store) Set(ctx context.Context, key string, value any) error {
	ctx, span := observability.StartDBSpan(ctx, "sqlite", "UPSERT", key)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithField("key", key).Errorf("Failed to encode: %v", err)
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	unlock := s.lock(key)
	defer unlock()

	if err := writeRaw(ctx, s.db, key, data); err != nil {
		observability.RecordError(span, err)
		s.logger.WithField("key", key).Errorf("Failed to write: %v", err)
		return err
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, span := observability.StartDBSpan(ctx, "sqlite", "DELETE", key)
	defer span.End()

	unlock := s.lock(key)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		observability.RecordError(span, err)
		s.logger.WithField("key", key).Errorf("Failed to remove: %v", err)
		return err
	}
	return nil
}

// Update atomically replaces the raw JSON under key with fn's result. fn receives nil when the key
// is absent; returning nil removes the key. fn must not call back into the store.
func (s *Store) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	ctx, span := observability.StartDBSpan(ctx, "sqlite", "UPDATE", key)
	defer span.End()

	unlock := s.lock(key)
	defer unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := readRaw(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
			return err
		}
		return writeRaw(ctx, tx, key, next)
	})
	if err != nil {
		observability.RecordError(span, err)
		s.logger.WithField("key", key).Errorf("Failed to update: %v", err)
	}
	return err
}

// Batch reads and writes a fixed set of keys inside one transaction
type Batch struct {
	ctx  context.Context
	tx   *sql.Tx
	keys map[string]bool
}

func (b *Batch) check(key string) error {
	if !b.keys[key] {
		return fmt.Errorf("key %s is not part of the batch", key)
	}
	return nil
}

// Get decodes the value stored under key into dst, like Store.Get
func (b *Batch) Get(key string, dst any) (bool, error) {
	if err := b.check(key); err != nil {
		return false, err
	}
	raw, err := readRaw(b.ctx, b.tx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key
func (b *Batch) Set(key string, value any) error {
	if err := b.check(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return writeRaw(b.ctx, b.tx, key, data)
}

// Batch runs fn with every key in keys locked, committing its writes together. fn must only touch
// the store through b.
func (s *Store) Batch(ctx context.Context, keys []string, fn func(b *Batch) error) error {
	ctx, span := observability.StartDBSpan(ctx, "sqlite", "BATCH", strings.Join(keys, ","))
	defer span.End()

	locked := append([]string(nil), keys...)
	sort.Strings(locked)
	b := &Batch{ctx: ctx, keys: make(map[string]bool, len(locked))}
	for _, k := range locked {
		if b.keys[k] {
			continue
		}
		b.keys[k] = true
		unlock := s.lock(k)
		defer unlock()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b.tx = tx
		return fn(b)
	})
	if err != nil {
		observability.RecordError(span, err)
		s.logger.WithField("keys", keys).Errorf("Failed to apply batch: %v", err)
	}
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func readRaw(ctx context.Context, q querier, key string) ([]byte, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func writeRaw(ctx context.Context, q querier, key string, data []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), time.Now().UTC())
	return err
}

// GetList returns the list stored under key, or an empty list when absent
func GetList[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	var items []T
	if _, err := s.Get(ctx, key, &items); err != nil {
		return []T{}, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// UpdateList atomically applies fn to the list stored under key
func UpdateList[T any](ctx context.Context, s *Store, key string, fn func(items []T) ([]T, error)) error {
	return s.Update(ctx, key, func(current []byte) ([]byte, error) {
		items := []T{}
		if current != nil {
			if err := json.Unmarshal(current, &items); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		return json.Marshal(next)
	})
}

// BatchList returns the list stored under key within a batch, or an empty list when absent
func BatchList[T any](b *Batch, key string) ([]T, error) {
	items := []T{}
	if _, err := b.Get(key, &items); err != nil {
		return []T{}, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
