package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS table_rows (
		table_name TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		natural_key TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (table_name, id),
		UNIQUE (table_name, natural_key)
	);

	CREATE INDEX IF NOT EXISTS idx_table_rows_user ON table_rows(table_name, user_id);
	`

	_, err := db.Exec(schema)
	return err
}
