package usagelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const table = "usage_logs"

var (
	postgresSchema = `CREATE TABLE IF NOT EXISTS usage_logs (
	id TEXT PRIMARY KEY,
	timezone TEXT NOT NULL,
	prompt TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	sqliteSchema = `CREATE TABLE IF NOT EXISTS usage_logs (
	id TEXT PRIMARY KEY,
	timezone TEXT NOT NULL,
	prompt TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
)

// SQLStore writes entries to a usage_logs table through database/sql.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// OpenPostgres connects with lib/pq and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("usagelog: postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("usagelog: open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newSQLStore(ctx, db, sq.StatementBuilder.PlaceholderFormat(sq.Dollar), postgresSchema)
}

// OpenSQLite opens (or creates) a sqlite database file, e.g.
// "file:usage.db" or "file::memory:?cache=shared".
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("usagelog: sqlite dsn is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("usagelog: open sqlite: %w", err)
	}
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sq.StatementBuilder.PlaceholderFormat(sq.Question), sqliteSchema)
}

func newSQLStore(ctx context.Context, db *sql.DB, builder sq.StatementBuilderType, schema string) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("usagelog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("usagelog: create table: %w", err)
	}
	return &SQLStore{db: db, builder: builder}, nil
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	query, args, err := s.builder.Insert(table).
		Columns("id", "timezone", "prompt", "created_at").
		Values(e.ID, e.Timezone, e.Prompt, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("usagelog: build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("usagelog: insert: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
