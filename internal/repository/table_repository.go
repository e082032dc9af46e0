package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
)

// Dialect selects the placeholder syntax of the underlying driver
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// TableRepository stores the rows of every synced table in one table_rows relation
type TableRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewTableRepository creates a new TableRepository
func NewTableRepository(db *sql.DB, dialect Dialect) *TableRepository {
	return &TableRepository{db: db, dialect: dialect, now: time.Now}
}

type storedRow struct {
	id  string
	row models.Row
}

// naturalKey is the uniqueness column: the canonical natural key when complete, the id otherwise
func naturalKey(table models.Table, row models.Row) string {
	key := table.KeyOf(row)
	if key.Complete() {
		return key.String()
	}
	return "id=" + row.ID().String()
}

// Insert stores a new row, assigning a UUID when the row carries no id
func (r *TableRepository) Insert(ctx context.Context, table models.Table, row models.Row) (models.Row, error) {
	ctx, span := observability.StartDBSpan(ctx, r.dialect.String(), "INSERT", table.Name)
	defer span.End()

	var stored models.Row
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = r.insert(ctx, tx, table, row)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return stored, nil
}

// Upsert merges row into the row matching it on every onConflict column, or inserts it
func (r *TableRepository) Upsert(ctx context.Context, table models.Table, row models.Row, onConflict []string) (models.Row, error) {
	ctx, span := observability.StartDBSpan(ctx, r.dialect.String(), "UPSERT", table.Name)
	defer span.End()

	match := make(map[string]any, len(onConflict))
	for _, f := range onConflict {
		match[f] = row[f]
	}

	var stored models.Row
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if len(match) > 0 {
			existing, err := r.load(ctx, tx, table, match)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				stored = existing[0].row.Merge(row.WithoutID())
				return r.write(ctx, tx, table, existing[0].id, stored)
			}
		}
		var err error
		stored, err = r.insert(ctx, tx, table, row)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return stored, nil
}

// Update applies changes to every row matching match and returns the updated rows
func (r *TableRepository) Update(ctx context.Context, table models.Table, match map[string]any, changes models.Row) ([]models.Row, error) {
	ctx, span := observability.StartDBSpan(ctx, r.dialect.String(), "UPDATE", table.Name)
	defer span.End()

	updated := []models.Row{}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.load(ctx, tx, table, match)
		if err != nil {
			return err
		}
		for _, e := range existing {
			merged := e.row.Merge(changes.WithoutID())
			if err := r.write(ctx, tx, table, e.id, merged); err != nil {
				return err
			}
			updated = append(updated, merged)
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// Delete removes every row matching match and returns the removed rows
func (r *TableRepository) Delete(ctx context.Context, table models.Table, match map[string]any) ([]models.Row, error) {
	ctx, span := observability.StartDBSpan(ctx, r.dialect.String(), "DELETE", table.Name)
	defer span.End()

	deleted := []models.Row{}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.load(ctx, tx, table, match)
		if err != nil {
			return err
		}
		query := r.dialect.rebind(`DELETE FROM table_rows WHERE table_name = ? AND id = ?`)
		for _, e := range existing {
			if _, err := tx.ExecContext(ctx, query, table.Name, e.id); err != nil {
				return err
			}
			deleted = append(deleted, e.row)
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return deleted, nil
}

// Select returns the rows matching match, ordered ascending by order when set
func (r *TableRepository) Select(ctx context.Context, table models.Table, match map[string]any, order string) ([]models.Row, error) {
	ctx, span := observability.StartDBSpan(ctx, r.dialect.String(), "SELECT", table.Name)
	defer span.End()

	existing, err := r.load(ctx, r.db, table, match)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	rows := make([]models.Row, len(existing))
	for i, e := range existing {
		rows[i] = e.row
	}
	if order != "" {
		models.SortRows(rows, order)
	}
	return rows, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// load reads the candidate rows of a table and filters them by match.
// A user_id filter is pushed down to SQL; the remaining fields are compared on the decoded JSON.
func (r *TableRepository) load(ctx context.Context, q querier, table models.Table, match map[string]any) ([]storedRow, error) {
	query := `SELECT id, data FROM table_rows WHERE table_name = ?`
	args := []any{table.Name}
	if userID, ok := match["user_id"]; ok {
		query += ` AND user_id = ?`
		args = append(args, models.IDFromValue(userID).String())
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var row models.Row
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("corrupt row %s/%s: %w", table.Name, id, err)
		}
		row["id"] = storedID(row, id)
		if row.Matches(match) {
			out = append(out, storedRow{id: id, row: row})
		}
	}
	return out, rows.Err()
}

// storedID keeps numeric ids numeric in responses
func storedID(row models.Row, id string) any {
	if v, ok := row["id"]; ok && models.IDFromValue(v).String() == id {
		return v
	}
	return id
}

func (r *TableRepository) insert(ctx context.Context, tx *sql.Tx, table models.Table, row models.Row) (models.Row, error) {
	if row.ID().IsTemp() {
		return nil, ErrTempID
	}
	if table.UserScoped && !table.KeyOf(row).Complete() {
		return nil, models.ErrIncompleteKey
	}

	stored := row.Clone()
	if stored.ID().IsZero() {
		stored["id"] = uuid.NewString()
	}

	key := naturalKey(table, stored)
	var exists int
	err := tx.QueryRowContext(ctx,
		r.dialect.rebind(`SELECT COUNT(*) FROM table_rows WHERE table_name = ? AND (natural_key = ? OR id = ?)`),
		table.Name, key, stored.ID().String(),
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	_, err = tx.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO table_rows (table_name, id, user_id, natural_key, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), table.Name, stored.ID().String(), stored.UserID(), key, string(data), now, now)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// write replaces the stored document, re-deriving the indexed columns
func (r *TableRepository) write(ctx context.Context, tx *sql.Tx, table models.Table, id string, row models.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	key := naturalKey(table, row)
	var clash int
	err = tx.QueryRowContext(ctx,
		r.dialect.rebind(`SELECT COUNT(*) FROM table_rows WHERE table_name = ? AND natural_key = ? AND id <> ?`),
		table.Name, key, id,
	).Scan(&clash)
	if err != nil {
		return err
	}
	if clash > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	_, err = tx.ExecContext(ctx, r.dialect.rebind(`
		UPDATE table_rows SET user_id = ?, natural_key = ?, data = ?, updated_at = ?
		WHERE table_name = ? AND id = ?
	`), row.UserID(), key, string(data), r.now().UTC(), table.Name, id)
	return err
}

func (r *TableRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
