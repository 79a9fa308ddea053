package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx, so read helpers work
// inside and outside a transaction.
type sqlExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// storedEntry is the subset of an entries row checkUpdate and the pattern
// matchers need.
type storedEntry struct {
	Path       string
	Hash       string
	Type       entry.Type
	Properties json.RawMessage
	Mtime      int64
	Size       uint64
}

func queryEntry(ctx context.Context, ex sqlExecutor, path string) (storedEntry, bool, error) {
	row := ex.QueryRowContext(ctx,
		`SELECT path, hash, type, properties, mtime, size FROM entries WHERE path = ?`, path)

	var (
		e    storedEntry
		typ  int
		size int64
		prop string
	)

	switch err := row.Scan(&e.Path, &e.Hash, &typ, &prop, &e.Mtime, &size); {
	case err == sql.ErrNoRows:
		return storedEntry{}, false, nil
	case err != nil:
		return storedEntry{}, false, err
	}

	e.Type = entry.Type(typ)
	e.Size = uint64(size) //nolint:gosec // stored sizes never negative
	e.Properties = json.RawMessage(prop)

	return e, true, nil
}

func allStoredEntries(ctx context.Context, ex sqlExecutor) ([]storedEntry, error) {
	rows, err := ex.QueryContext(ctx, `SELECT path, hash, type, properties, mtime, size FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("index: listing entries: %w", err)
	}
	defer rows.Close()

	var out []storedEntry

	for rows.Next() {
		var (
			e    storedEntry
			typ  int
			size int64
			prop string
		)

		if err := rows.Scan(&e.Path, &e.Hash, &typ, &prop, &e.Mtime, &size); err != nil {
			return nil, fmt.Errorf("index: scanning entry: %w", err)
		}

		e.Type = entry.Type(typ)
		e.Size = uint64(size) //nolint:gosec // stored sizes never negative
		e.Properties = json.RawMessage(prop)
		out = append(out, e)
	}

	return out, rows.Err()
}

func descendantsOf(ctx context.Context, ex sqlExecutor, dir string) ([]string, error) {
	rows, err := ex.QueryContext(ctx,
		`SELECT path FROM entries WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		escapeLike(dir)+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("index: listing descendants of %s: %w", dir, err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("index: scanning descendant: %w", err)
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

// escapeLike escapes SQL LIKE metacharacters in a literal path fragment.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}

// patternToLike implements spec.md §4.1.7: "Patterns use `*` → `%` with
// escaped `_` and `/`" — every LIKE metacharacter in the user pattern is
// escaped to a literal first, then the user-facing `*` wildcard is mapped to
// SQL's `%`.
func patternToLike(pattern string) string {
	var b strings.Builder

	for _, r := range pattern {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// matchPattern resolves one path pattern to the list of matching entry
// paths, honoring an optional maxDepth constraint (0 = unconstrained),
// per spec.md §4.1.7.
func matchPattern(ctx context.Context, ex sqlExecutor, pattern string, maxDepth int) ([]string, error) {
	like := patternToLike(pattern)

	query := `SELECT path FROM entries WHERE path LIKE ? ESCAPE '\'`

	args := []any{like}
	if maxDepth > 0 {
		query += ` AND depth <= ?`
		args = append(args, maxDepth)
	}

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: matching pattern %q: %w", pattern, err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("index: scanning match: %w", err)
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

// pathHash is the (path, hash) pair Remove needs to locate each matched
// entry's build/<hash>/ artifact directory alongside its database rows.
type pathHash struct {
	Path string
	Hash string
}

// matchPatternHashes is matchPattern's sibling for callers that also need
// each match's stored hash (spec.md §4.1.6: removing an entry must also
// remove its build/<hash>/ artifact directory, which is keyed by hash, not
// path).
func matchPatternHashes(ctx context.Context, ex sqlExecutor, pattern string, maxDepth int) ([]pathHash, error) {
	like := patternToLike(pattern)

	query := `SELECT path, hash FROM entries WHERE path LIKE ? ESCAPE '\'`

	args := []any{like}
	if maxDepth > 0 {
		query += ` AND depth <= ?`
		args = append(args, maxDepth)
	}

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: matching pattern %q: %w", pattern, err)
	}
	defer rows.Close()

	var out []pathHash

	for rows.Next() {
		var ph pathHash
		if err := rows.Scan(&ph.Path, &ph.Hash); err != nil {
			return nil, fmt.Errorf("index: scanning match: %w", err)
		}

		out = append(out, ph)
	}

	return out, rows.Err()
}

// List implements spec.md §4.1.7's list operation: resolve patterns,
// deduplicate by path, sort by (type, path).
func (d *Database) List(ctx context.Context, patterns []string, maxDepth int) ([]entry.Entry, error) {
	seen := map[string]bool{}

	var paths []string

	for _, pattern := range patterns {
		matches, err := matchPattern(ctx, d.db.SQL(), pattern, maxDepth)
		if err != nil {
			return nil, ddberr.New(ddberr.KindDatabase, "index.List", err)
		}

		for _, p := range matches {
			if !seen[p] {
				seen[p] = true

				paths = append(paths, p)
			}
		}
	}

	entries := make([]entry.Entry, 0, len(paths))

	for _, p := range paths {
		stored, found, err := queryEntry(ctx, d.db.SQL(), p)
		if err != nil {
			return nil, ddberr.New(ddberr.KindDatabase, "index.List", err)
		}

		if !found {
			continue
		}

		entries = append(entries, entry.Entry{
			Path:       stored.Path,
			Hash:       stored.Hash,
			Type:       stored.Type,
			Properties: stored.Properties,
			Mtime:      stored.Mtime,
			Size:       stored.Size,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}

		return entries[i].Path < entries[j].Path
	})

	return entries, nil
}

// Search is an alias for List scoped to a single free-text pattern wrapped
// in wildcards on both sides, matching spec.md §4.1.7's shared pattern
// matcher.
func (d *Database) Search(ctx context.Context, query string, maxDepth int) ([]entry.Entry, error) {
	return d.List(ctx, []string{"*" + query + "*"}, maxDepth)
}

// Entry returns the stored row for path, used by the delta engine (C7) to
// detect conflicting local modifications during apply.
func (d *Database) Entry(ctx context.Context, path string) (entry.Entry, bool, error) {
	stored, found, err := queryEntry(ctx, d.db.SQL(), path)
	if err != nil {
		return entry.Entry{}, false, ddberr.New(ddberr.KindDatabase, "index.Entry", err)
	}

	if !found {
		return entry.Entry{}, false, nil
	}

	return entry.Entry{
		Path:       stored.Path,
		Hash:       stored.Hash,
		Type:       stored.Type,
		Properties: stored.Properties,
		Mtime:      stored.Mtime,
		Size:       stored.Size,
	}, true, nil
}
