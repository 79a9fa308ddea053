// Package index implements DroneDB's index engine (spec.md §4.1, component
// C5): open/init, path expansion, add/remove/move/sync/status, pattern
// matching, and stamp derivation over the embedded relational store.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
	"github.com/dronedb/ddb-core/internal/meta"
	"github.com/dronedb/ddb-core/internal/pathutil"
	"github.com/dronedb/ddb-core/internal/store"
)

// ddbSubdir is the reserved directory every dataset root carries, matching
// pathutil.DdbDirName.
const ddbSubdir = pathutil.DdbDirName

// dbFileName is the SQLite file inside .ddb/.
const dbFileName = "dbase.sqlite"

// Database is the open handle on one dataset's index: its root directory,
// its embedded store, and the sub-managers it delegates metadata operations
// to (spec.md §4.1 "maintain the relational+spatial truth of what is in the
// dataset").
type Database struct {
	Root       string
	ddbPath    string
	db         *store.DB
	Meta       *meta.Manager
	Classifier *entry.Classifier
	logger     *slog.Logger
}

// Open walks upward from dir looking for .ddb/dbase.sqlite (spec.md §4.1.1).
// When traverseUp is false, only dir itself is checked.
func Open(ctx context.Context, dir string, traverseUp bool, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root, ddbPath, err := findDatabase(dir, traverseUp)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, filepath.Join(ddbPath, dbFileName), logger)
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", dir, err)
	}

	database := &Database{
		Root:       root,
		ddbPath:    ddbPath,
		db:         db,
		Meta:       meta.NewManager(db, logger),
		Classifier: &entry.Classifier{},
		logger:     logger,
	}

	if err := database.ensureSchemaConsistency(ctx); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

// findDatabase walks upward from dir (when traverseUp) looking for a .ddb
// directory, per spec.md §4.1.1.
func findDatabase(dir string, traverseUp bool) (root, ddbPath string, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("index: resolving %s: %w", dir, err)
	}

	cur := abs

	for {
		candidate := filepath.Join(cur, ddbSubdir)

		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			return cur, candidate, nil
		}

		if !traverseUp {
			break
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}

		cur = parent
	}

	return "", "", ddberr.New(ddberr.KindFilesystem, "index.Open", ddberr.ErrNotADatabase)
}

// Init creates .ddb/ under dir and a freshly migrated database, per spec.md
// §4.1.1. It fails with ErrAlreadyInitialized if .ddb/ already exists — the
// "cached empty template" cost spec.md alludes to is simply goose's
// idempotent migration run, which is cheap enough on a fresh file that no
// separate template cache is warranted.
func Init(ctx context.Context, dir string, logger *slog.Logger) (ddbPath string, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("index: resolving %s: %w", dir, err)
	}

	candidate := filepath.Join(abs, ddbSubdir)

	if _, statErr := os.Stat(candidate); statErr == nil {
		return "", ddberr.New(ddberr.KindFilesystem, "index.Init", ddberr.ErrAlreadyInitialized)
	}

	if err := os.MkdirAll(candidate, 0o755); err != nil {
		return "", fmt.Errorf("index: creating %s: %w", candidate, err)
	}

	db, err := store.Open(ctx, filepath.Join(candidate, dbFileName), logger)
	if err != nil {
		return "", fmt.Errorf("index: initializing database under %s: %w", dir, err)
	}

	if err := db.Close(); err != nil {
		return "", err
	}

	return candidate, nil
}

// ensureSchemaConsistency runs the schema-consistency pass spec.md §4.1.1
// calls for: fill in any missing intermediate directory entries implied by
// tracked file paths. Legacy column renames are not needed here since this
// is a from-scratch schema with no predecessor on-disk format to migrate
// from (spec.md's Non-goals explicitly exclude "arbitrary SQL schema
// compatibility with prior on-disk databases").
func (d *Database) ensureSchemaConsistency(ctx context.Context) error {
	paths, err := d.allPaths(ctx)
	if err != nil {
		return err
	}

	missing := map[string]bool{}

	for _, p := range paths {
		for _, parent := range pathutil.Parents(p) {
			if !paths[parent] {
				missing[parent] = true
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	d.logger.Debug("index: schema consistency pass inserting missing parents", "count", len(missing))

	return d.insertDirectoryEntries(ctx, missing)
}

func (d *Database) allPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.SQL().QueryContext(ctx, `SELECT path FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("index: listing paths: %w", err)
	}
	defer rows.Close()

	set := map[string]bool{}

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("index: scanning path: %w", err)
		}

		set[p] = true
	}

	return set, rows.Err()
}

// Close releases the underlying database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Store exposes the embedded store for packages (delta, build, registry)
// that need direct transactional access beyond Database's own operations.
func (d *Database) Store() *store.DB {
	return d.db
}

// DdbPath returns the absolute path to this dataset's reserved ".ddb"
// directory, the root the build/profile layers lay out their own
// subdirectories (build/, tmp/, tags.json, sync.json) under.
func (d *Database) DdbPath() string {
	return d.ddbPath
}

// insertDirectoryEntries inserts a bare Directory row for every path in
// paths that doesn't already have one, used both by the schema-consistency
// pass and by add/move when a new intermediate parent is implied.
func (d *Database) insertDirectoryEntries(ctx context.Context, paths map[string]bool) error {
	return d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		for p := range paths {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO entries (path, hash, type, properties, mtime, size, depth)
				 VALUES (?, '', ?, '{}', 0, 0, ?)`,
				p, entry.Directory, pathutil.Depth(p),
			); err != nil {
				return fmt.Errorf("index: inserting directory entry %s: %w", p, err)
			}
		}

		return nil
	})
}
