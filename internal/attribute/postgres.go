package attribute

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Querier is the subset of a pgx pool the Postgres source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads a long-format attribute table
// (region_key, variable, value) from Postgres.
type PostgresSource struct {
	q     Querier
	table pgx.Identifier
}

// DefaultPostgresTable is the attribute table read when none is configured.
const DefaultPostgresTable = "region_attributes"

// NewPostgresSource creates a source reading table, which may be
// schema-qualified as "schema.table".
func NewPostgresSource(q Querier, table string) *PostgresSource {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresSource{q: q, table: splitIdentifier(table)}
}

func splitIdentifier(name string) pgx.Identifier {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return pgx.Identifier{name[:i], name[i+1:]}
		}
	}
	return pgx.Identifier{name}
}

// Load reads every row with a non-null value into a new Table.
func (s *PostgresSource) Load(ctx context.Context) (*Table, error) {
	sql := "SELECT region_key, variable, value FROM " + s.table.Sanitize() + " WHERE value IS NOT NULL"
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query attributes")
	}
	defer rows.Close()

	t := NewTable()
	for rows.Next() {
		var key, variable string
		var value float64
		if err := rows.Scan(&key, &variable, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attribute")
		}
		t.Set(key, variable, value)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate attributes")
	}
	return t, nil
}

// ConnectPostgres opens a small pool for attribute loading.
func ConnectPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}
