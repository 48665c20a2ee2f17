// Package postgres implements storage.Store on a PostgreSQL table.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/william-takayama/ecommerce-cart/pkg/database"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	getQuery = `SELECT value FROM kv_store WHERE key = $1`
	setQuery = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
)

// Migrations returns the schema migrations for the kv_store table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store keeps values in the kv_store table.
type Store struct {
	db database.DBTX
}

// New creates a store on db.
func New(db database.DBTX) *Store {
	return &Store{db: db}
}

// Migrate creates the kv_store table if it does not exist.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	return database.RunMigrations(ctx, s.db, Migrations(), logger)
}

func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, "GetValue", getQuery)
	defer func() { end(err) }()

	err = s.db.QueryRow(ctx, getQuery, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := database.TraceQuery(ctx, "SetValue", setQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, setQuery, key, value); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

// Ping checks the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
