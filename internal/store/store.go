// Package store wraps the embedded SQLite database DroneDB uses for entries,
// metadata, and credentials (spec.md §2 component C1). It is a thin layer:
// connection setup, migrations, and the exclusive-transaction helper that
// every batch mutation in index/delta/meta runs through.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection backing one dataset's .ddb/dbase.sqlite.
// Writers are serialized (spec.md §5 "Database writes: serialize via BEGIN
// EXCLUSIVE TRANSACTION") by capping the pool to a single connection,
// mirroring the teacher's BaselineManager sole-writer pattern.
type DB struct {
	sqlDB  *sql.DB
	logger *slog.Logger
	path   string
}

// Open opens (or creates) the SQLite database at path, applies pending
// migrations, and returns a ready-to-use DB. WAL journal mode is enabled per
// spec.md §5's recommendation that readers run concurrently with the single
// writer.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: spec.md §5 requires writes to serialize through a
	// single exclusive transaction; capping the pool to one connection makes
	// that the only possible outcome instead of relying on caller discipline.
	sqlDB.SetMaxOpenConns(1)

	if err := runMigrations(ctx, sqlDB, logger); err != nil {
		sqlDB.Close()

		return nil, err
	}

	return &DB{sqlDB: sqlDB, logger: logger, path: path}, nil
}

// runMigrations applies pending schema migrations via goose's Provider API,
// exactly the pattern the teacher uses in internal/sync/migrations.go.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("store: applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// SQL returns the underlying *sql.DB for packages (index, meta, delta) that
// need direct query access beyond the transaction helper below.
func (d *DB) SQL() *sql.DB {
	return d.sqlDB
}

// Path returns the filesystem path of the database file.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if err := d.sqlDB.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", d.path, err)
	}

	return nil
}

// WithExclusiveTx runs fn inside a single SQL transaction and commits on
// success, rolling back on any error returned by fn (spec.md §4.1.9 "Any SQL
// error inside a multi-row transaction rolls back"). This is the one
// mutation primitive add/remove/move/sync/meta-write all share.
func (d *DB) WithExclusiveTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	return nil
}

// BumpDatasetUpdate advances dataset_info.last_update to now (Unix seconds).
// Called by every metadata write (spec.md §4.2 "Every write bumps the
// dataset last-update timestamp").
func BumpDatasetUpdate(ctx context.Context, tx *sql.Tx, unixSeconds int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE dataset_info SET last_update = ? WHERE id = 1`, unixSeconds)
	if err != nil {
		return fmt.Errorf("store: bumping dataset last_update: %w", err)
	}

	return nil
}
