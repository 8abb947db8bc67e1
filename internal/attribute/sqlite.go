package attribute

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps attribute tables in a SQLite database in long format.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database at dsn and configures WAL mode.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS region_attributes (
	region_key TEXT NOT NULL,
	variable   TEXT NOT NULL,
	value      REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (region_key, variable)
);

CREATE INDEX IF NOT EXISTS idx_region_attributes_variable ON region_attributes(variable);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every stored value into a new Table.
func (s *SQLiteStore) Load(ctx context.Context) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT region_key, variable, value FROM region_attributes`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query attributes")
	}
	defer func() { _ = rows.Close() }()

	t := NewTable()
	for rows.Next() {
		var key, variable string
		var value float64
		if err := rows.Scan(&key, &variable, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attribute")
		}
		t.Set(key, variable, value)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate attributes")
	}
	return t, nil
}

// Save upserts every value of t in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t *Table) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO region_attributes (region_key, variable, value, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (region_key, variable) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer func() { _ = stmt.Close() }()

	var n int
	var execErr error
	t.Each(func(key, variable string, value float64) {
		if execErr != nil {
			return
		}
		if _, err := stmt.ExecContext(ctx, key, variable, value); err != nil {
			execErr = eris.Wrapf(err, "sqlite: upsert %s/%s", key, variable)
			return
		}
		n++
	})
	if execErr != nil {
		return 0, execErr
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}
