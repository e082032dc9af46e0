package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Rows of every synced table, stored as JSON documents
	CREATE TABLE IF NOT EXISTS table_rows (
		table_name TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		natural_key TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (table_name, id),
		UNIQUE (table_name, natural_key)
	);

	CREATE INDEX IF NOT EXISTS idx_table_rows_user ON table_rows(table_name, user_id);
	`

	_, err := db.Exec(schema)
	return err
}
