package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
	"github.com/dronedb/ddb-core/internal/hashutil"
	"github.com/dronedb/ddb-core/internal/pathutil"
)

// AddCallback is invoked once per processed path during Add, reporting the
// resulting entry and whether it replaced a previously stored row.
type AddCallback func(e entry.Entry, updated bool)

// AddOptions configures Add's failure semantics (spec.md §4.1.9).
type AddOptions struct {
	StopOnError bool
	Recursive   bool
	MaxDepth    int
}

// Add expands inputs, parses each resulting path, and inserts or updates its
// row in one exclusive transaction (spec.md §4.1.6). Per-file I/O errors are
// aggregated with multierr and never abort the batch unless
// opts.StopOnError is set; missing input paths are always fatal (spec.md
// §4.1.9 "Missing input paths are fatal").
func (d *Database) Add(ctx context.Context, inputs []string, opts AddOptions, cb AddCallback) error {
	expanded, err := ExpandPaths(inputs, opts.Recursive, opts.MaxDepth)
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "index.Add", err)
	}

	files, dirs, err := IndexPathList(d.Root, expanded, true)
	if err != nil {
		return ddberr.New(ddberr.KindInvalidArgs, "index.Add", err)
	}

	var batchErr error

	txErr := d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		for _, rel := range dirs {
			if err := d.upsertEntry(ctx, tx, entry.Entry{Path: rel, Type: entry.Directory}, cb); err != nil {
				batchErr = multierr.Append(batchErr, err)

				if opts.StopOnError {
					return err
				}
			}
		}

		for _, rel := range files {
			parsed, err := d.parseEntry(rel, d.absPath(rel), true)
			if err != nil {
				batchErr = multierr.Append(batchErr, fmt.Errorf("index: add: %s: %w", rel, err))

				if opts.StopOnError {
					return err
				}

				continue
			}

			if err := d.upsertEntry(ctx, tx, parsed.Entry, cb); err != nil {
				batchErr = multierr.Append(batchErr, err)

				if opts.StopOnError {
					return err
				}
			}
		}

		return nil
	})
	if txErr != nil {
		return ddberr.New(ddberr.KindDatabase, "index.Add", txErr)
	}

	if batchErr != nil {
		d.logger.Warn("index: add completed with per-file errors", "err", batchErr)
	}

	return nil
}

// upsertEntry inserts e, or updates it when an existing row's readonly flag
// (the chattr-derived attribute supplementing spec.md, see SPEC_FULL.md §C.1)
// doesn't block the overwrite. cb is invoked with the final row and whether
// it replaced an existing one.
func (d *Database) upsertEntry(ctx context.Context, tx *sql.Tx, e entry.Entry, cb AddCallback) error {
	existing, found, err := queryEntry(ctx, tx, e.Path)
	if err != nil {
		return fmt.Errorf("index: checking existing row for %s: %w", e.Path, err)
	}

	if found && isReadOnly(existing.Properties) {
		return ddberr.New(ddberr.KindInvalidArgs, "index.Add",
			fmt.Errorf("%s is marked read-only", e.Path))
	}

	if e.Properties == nil {
		e.Properties = json.RawMessage(`{}`)
	}

	pointLon, pointLat, pointAlt, hasPoint := pointColumns(e.PointGeom)
	polygonJSON, err := polygonColumn(e.PolygonGeom)
	if err != nil {
		return fmt.Errorf("index: serializing polygon for %s: %w", e.Path, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (path, hash, type, properties, mtime, size, depth, point_lon, point_lat, point_alt, polygon_geom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			type = excluded.type,
			properties = excluded.properties,
			mtime = excluded.mtime,
			size = excluded.size,
			depth = excluded.depth,
			point_lon = excluded.point_lon,
			point_lat = excluded.point_lat,
			point_alt = excluded.point_alt,
			polygon_geom = excluded.polygon_geom`,
		e.Path, e.Hash, int(e.Type), string(e.Properties), e.Mtime, e.Size, pathutil.Depth(e.Path),
		nullableFloat(hasPoint, pointLon), nullableFloat(hasPoint, pointLat), nullableFloat(hasPoint, pointAlt),
		polygonJSON,
	)
	if err != nil {
		return fmt.Errorf("index: upserting %s: %w", e.Path, err)
	}

	if hasPoint || e.PolygonGeom != nil {
		if err := d.upsertSpatial(ctx, tx, e); err != nil {
			return err
		}
	}

	if cb != nil {
		cb(e, found)
	}

	return nil
}

// upsertSpatial maintains the entries_spatial bounding-box shadow row for e
// (see DESIGN.md's resolution of the spatial-index Open Question).
func (d *Database) upsertSpatial(ctx context.Context, tx *sql.Tx, e entry.Entry) error {
	minLon, minLat, maxLon, maxLat := boundingBox(e)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries_spatial (path, min_lon, min_lat, max_lon, max_lat)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			min_lon = excluded.min_lon, min_lat = excluded.min_lat,
			max_lon = excluded.max_lon, max_lat = excluded.max_lat`,
		e.Path, minLon, minLat, maxLon, maxLat,
	)
	if err != nil {
		return fmt.Errorf("index: upserting spatial bbox for %s: %w", e.Path, err)
	}

	return nil
}

func boundingBox(e entry.Entry) (minLon, minLat, maxLon, maxLat float64) {
	if e.PolygonGeom != nil && len(e.PolygonGeom.Points) > 0 {
		minLon, minLat = e.PolygonGeom.Points[0].Lon, e.PolygonGeom.Points[0].Lat
		maxLon, maxLat = minLon, minLat

		for _, p := range e.PolygonGeom.Points[1:] {
			minLon, maxLon = min(minLon, p.Lon), max(maxLon, p.Lon)
			minLat, maxLat = min(minLat, p.Lat), max(maxLat, p.Lat)
		}

		return minLon, minLat, maxLon, maxLat
	}

	if e.PointGeom != nil {
		return e.PointGeom.Lon, e.PointGeom.Lat, e.PointGeom.Lon, e.PointGeom.Lat
	}

	return 0, 0, 0, 0
}

// Remove deletes every entry matching one of patterns (spec.md §4.1.7), plus
// their meta rows, in one transaction; each removed entry's build/<hash>/
// artifact directory is then cleaned up best-effort (spec.md §4.1.9: a
// leftover artifact directory is a cleanup failure, not a reason to fail or
// roll back an otherwise-successful removal).
func (d *Database) Remove(ctx context.Context, patterns []string) (removed []string, err error) {
	var toClean []string

	txErr := d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		for _, pattern := range patterns {
			matches, err := matchPatternHashes(ctx, tx, pattern, 0)
			if err != nil {
				return err
			}

			for _, m := range matches {
				if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, m.Path); err != nil {
					return fmt.Errorf("index: removing %s: %w", m.Path, err)
				}

				if _, err := tx.ExecContext(ctx, `DELETE FROM entries_spatial WHERE path = ?`, m.Path); err != nil {
					return fmt.Errorf("index: removing spatial row for %s: %w", m.Path, err)
				}

				if _, err := tx.ExecContext(ctx, `DELETE FROM entries_meta WHERE path = ?`, m.Path); err != nil {
					return fmt.Errorf("index: removing meta rows for %s: %w", m.Path, err)
				}

				removed = append(removed, m.Path)

				if m.Hash != "" {
					toClean = append(toClean, m.Hash)
				}
			}
		}

		return nil
	})
	if txErr != nil {
		return nil, ddberr.New(ddberr.KindDatabase, "index.Remove", txErr)
	}

	for _, hash := range toClean {
		dir := filepath.Join(d.ddbPath, "build", hash)

		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warn("index: remove: leaving stale build artifact directory", "hash", hash, "err", err)
		}
	}

	return removed, nil
}

// Move implements spec.md §4.1.6's move: rejects dotted path components,
// directory-over-file / file-over-directory collisions, and missing
// sources; rewrites every descendant path and depth for directory moves;
// transports meta rows; fills in any newly-required parent directories.
func (d *Database) Move(ctx context.Context, source, dest string) error {
	if pathutil.HasDottedComponent(source) || pathutil.HasDottedComponent(dest) {
		return ddberr.New(ddberr.KindInvalidArgs, "index.Move", fmt.Errorf("path contains '.' or '..' component"))
	}

	txErr := d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		src, found, err := queryEntry(ctx, tx, source)
		if err != nil {
			return fmt.Errorf("index: move: looking up %s: %w", source, err)
		}

		if !found {
			return ddberr.New(ddberr.KindInvalidArgs, "index.Move", fmt.Errorf("source %s not indexed", source))
		}

		destEntry, destFound, err := queryEntry(ctx, tx, dest)
		if err != nil {
			return fmt.Errorf("index: move: looking up %s: %w", dest, err)
		}

		if destFound && (destEntry.Type == entry.Directory) != (src.Type == entry.Directory) {
			return ddberr.New(ddberr.KindInvalidArgs, "index.Move",
				fmt.Errorf("cannot move %s over %s: directory/file mismatch", source, dest))
		}

		if src.Type != entry.Directory {
			return d.renameRow(ctx, tx, source, dest)
		}

		descendants, err := descendantsOf(ctx, tx, source)
		if err != nil {
			return err
		}

		if err := d.renameRow(ctx, tx, source, dest); err != nil {
			return err
		}

		for _, p := range descendants {
			newPath := dest + p[len(source):]
			if err := d.renameRow(ctx, tx, p, newPath); err != nil {
				return err
			}
		}

		missing := map[string]bool{}
		for _, parent := range pathutil.Parents(dest) {
			missing[parent] = true
		}

		return d.insertMissingParentsTx(ctx, tx, missing)
	})
	if txErr != nil {
		if _, ok := txErr.(*ddberr.Error); ok {
			return txErr
		}

		return ddberr.New(ddberr.KindDatabase, "index.Move", txErr)
	}

	return nil
}

// renameRow updates one entries row's path (and its spatial/meta rows) from
// oldPath to newPath, recomputing depth.
func (d *Database) renameRow(ctx context.Context, tx *sql.Tx, oldPath, newPath string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE entries SET path = ?, depth = ? WHERE path = ?`,
		newPath, pathutil.Depth(newPath), oldPath,
	); err != nil {
		return fmt.Errorf("index: renaming %s to %s: %w", oldPath, newPath, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entries_spatial SET path = ? WHERE path = ?`, newPath, oldPath,
	); err != nil {
		return fmt.Errorf("index: renaming spatial row %s: %w", oldPath, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entries_meta SET path = ? WHERE path = ?`, newPath, oldPath,
	); err != nil {
		return fmt.Errorf("index: renaming meta rows for %s: %w", oldPath, err)
	}

	return os.Rename(d.absPath(oldPath), d.absPath(newPath))
}

func (d *Database) insertMissingParentsTx(ctx context.Context, tx *sql.Tx, missing map[string]bool) error {
	for p := range missing {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM entries WHERE path = ?`, p).Scan(&exists); err != nil {
			return fmt.Errorf("index: checking parent %s: %w", p, err)
		}

		if exists > 0 {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (path, hash, type, properties, mtime, size, depth) VALUES (?, '', ?, '{}', 0, 0, ?)`,
			p, entry.Directory, pathutil.Depth(p),
		); err != nil {
			return fmt.Errorf("index: inserting missing parent %s: %w", p, err)
		}
	}

	return nil
}

// ChangeKind classifies a tracked path during sync/status per spec.md
// §4.1.5.
type ChangeKind int

// Change kinds spec.md §4.1.5 defines.
const (
	NotModified ChangeKind = iota
	Modified
	Deleted
	NotIndexed
)

// checkUpdate implements spec.md §4.1.5: compare filesystem mtime to stored
// mtime; on mismatch, fall back to a content hash comparison.
func (d *Database) checkUpdate(e storedEntry) (ChangeKind, string, error) {
	abs := d.absPath(e.Path)

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Deleted, "", nil
		}

		return NotModified, "", fmt.Errorf("index: stat %s: %w", abs, err)
	}

	if e.Type == entry.Directory {
		return NotModified, "", nil
	}

	if info.ModTime().Unix() == e.Mtime {
		return NotModified, "", nil
	}

	hash, err := hashutil.FileSHA256(abs)
	if err != nil {
		return NotModified, "", fmt.Errorf("index: hashing %s: %w", abs, err)
	}

	if hash == e.Hash {
		return NotModified, hash, nil
	}

	return Modified, hash, nil
}

// SyncCallback receives the ChangeKind and path of each reported entry:
// Modified or Deleted from Sync, plus NotIndexed from Status.
type SyncCallback func(kind ChangeKind, path string)

// Sync applies the Modified/Deleted classification to every tracked entry in
// one transaction, updating stored hash/mtime for Modified rows and deleting
// Deleted rows (spec.md §4.1.6).
func (d *Database) Sync(ctx context.Context, cb SyncCallback) error {
	txErr := d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		entries, err := allStoredEntries(ctx, tx)
		if err != nil {
			return err
		}

		for _, e := range entries {
			kind, hash, err := d.checkUpdate(e)
			if err != nil {
				d.logger.Warn("index: sync: skipping unreadable entry", "path", e.Path, "err", err)

				continue
			}

			switch kind {
			case Modified:
				if isReadOnly(e.Properties) {
					d.logger.Warn("index: sync: skipping read-only entry", "path", e.Path)

					continue
				}

				info, statErr := os.Stat(d.absPath(e.Path))
				if statErr != nil {
					return fmt.Errorf("index: sync: re-stat %s: %w", e.Path, statErr)
				}

				if _, err := tx.ExecContext(ctx,
					`UPDATE entries SET hash = ?, mtime = ?, size = ? WHERE path = ?`,
					hash, info.ModTime().Unix(), info.Size(), e.Path,
				); err != nil {
					return fmt.Errorf("index: sync: updating %s: %w", e.Path, err)
				}

				if cb != nil {
					cb(Modified, e.Path)
				}
			case Deleted:
				if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, e.Path); err != nil {
					return fmt.Errorf("index: sync: deleting %s: %w", e.Path, err)
				}

				if cb != nil {
					cb(Deleted, e.Path)
				}
			}
		}

		return nil
	})
	if txErr != nil {
		return ddberr.New(ddberr.KindDatabase, "index.Sync", txErr)
	}

	return nil
}

// Status is the non-mutating variant of Sync: it reports the same
// Modified/Deleted classification without writing, plus NotIndexed for
// untracked filesystem files under the root (spec.md §4.1.6 "status(cb)").
func (d *Database) Status(ctx context.Context, cb SyncCallback) error {
	entries, err := allStoredEntries(ctx, d.db.SQL())
	if err != nil {
		return ddberr.New(ddberr.KindDatabase, "index.Status", err)
	}

	tracked := map[string]bool{}

	for _, e := range entries {
		tracked[e.Path] = true

		kind, _, err := d.checkUpdate(e)
		if err != nil {
			d.logger.Warn("index: status: skipping unreadable entry", "path", e.Path, "err", err)

			continue
		}

		if kind != NotModified && cb != nil {
			cb(kind, e.Path)
		}
	}

	all, err := ExpandPaths([]string{d.Root}, true, 0)
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "index.Status", err)
	}

	for _, abs := range all {
		rel, err := pathutil.Rel(d.Root, abs)
		if err != nil {
			continue
		}

		if !tracked[rel] && cb != nil {
			cb(NotIndexed, rel)
		}
	}

	return nil
}

func isReadOnly(properties json.RawMessage) bool {
	if len(properties) == 0 {
		return false
	}

	var props map[string]any
	if err := json.Unmarshal(properties, &props); err != nil {
		return false
	}

	ro, _ := props["readonly"].(bool)

	return ro
}

// SetReadOnly toggles the readonly attribute supplementing spec.md
// (SPEC_FULL.md §C.1, grounded in the original tree's chattr command):
// add/sync refuse to overwrite a read-only entry's hash, and neither takes a
// force override. force here only permits clearing a flag that is set.
func (d *Database) SetReadOnly(ctx context.Context, path string, readonly, force bool) error {
	return d.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := queryEntry(ctx, tx, path)
		if err != nil {
			return fmt.Errorf("index: setReadOnly: %w", err)
		}

		if !found {
			return ddberr.New(ddberr.KindInvalidArgs, "index.SetReadOnly", fmt.Errorf("%s not indexed", path))
		}

		if isReadOnly(existing.Properties) && !readonly && !force {
			return ddberr.New(ddberr.KindInvalidArgs, "index.SetReadOnly",
				fmt.Errorf("%s is read-only; pass force to change it", path))
		}

		props := map[string]any{}
		if len(existing.Properties) > 0 {
			_ = json.Unmarshal(existing.Properties, &props)
		}

		props["readonly"] = readonly

		encoded, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("index: setReadOnly: encoding properties: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE entries SET properties = ? WHERE path = ?`, string(encoded), path)
		if err != nil {
			return fmt.Errorf("index: setReadOnly: updating %s: %w", path, err)
		}

		return nil
	})
}

func nullableFloat(has bool, v float64) any {
	if !has {
		return nil
	}

	return v
}

func pointColumns(p *entry.Point) (lon, lat, alt float64, ok bool) {
	if p == nil {
		return 0, 0, 0, false
	}

	return p.Lon, p.Lat, p.Alt, true
}

func polygonColumn(p *entry.Polygon) (any, error) {
	if p == nil {
		return nil, nil
	}

	b, err := json.Marshal(p.Points)
	if err != nil {
		return nil, err
	}

	return string(b), nil
}
