// Package meta implements DroneDB's metadata manager (spec.md §4.2,
// component C6): arbitrary key/value annotations attached to a dataset or to
// individual entry paths, stored in the entries_meta table.
package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dronedb/ddb-core/internal/store"
)

// ErrInvalidJSON is returned when data is neither valid JSON nor a string
// that becomes valid JSON once quote-wrapped (spec.md §4.2 "on second
// failure → InvalidJSON").
var ErrInvalidJSON = fmt.Errorf("meta: data is not valid JSON")

// Item is one metadata row (spec.md §3.1 MetaItem).
type Item struct {
	ID    string
	Path  string
	Key   string
	Data  json.RawMessage
	Mtime int64
}

// Manager implements the add/set/remove/unset/get/list/dump/restore/
// bulkRemove operations spec.md §4.2 tabulates, over the embedded store.
type Manager struct {
	db     *store.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewManager constructs a Manager bound to db. now defaults to time.Now;
// tests may override it for deterministic mtimes.
func NewManager(db *store.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{db: db, logger: logger, now: time.Now}
}

// normalizeData validates data as JSON per spec.md §4.2: "validated by
// JSON-parsing; if parsing fails, the raw string is re-wrapped in quotes and
// re-parsed; on second failure → InvalidJSON".
func normalizeData(data string) (json.RawMessage, error) {
	if json.Valid([]byte(data)) {
		return json.RawMessage(data), nil
	}

	quoted, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if !json.Valid(quoted) {
		return nil, ErrInvalidJSON
	}

	return json.RawMessage(quoted), nil
}

// isPlural reports whether key's trailing character is "s" — spec.md §4.2's
// "the trailing `s` of the key is the authoritative signal of list vs
// singleton".
func isPlural(key string) bool {
	return strings.HasSuffix(key, "s")
}

// Add inserts a new metadata row under a plural key (list semantics). It
// rejects a singular key, since add's row-per-call model only makes sense for
// keys spec.md treats as lists.
func (m *Manager) Add(ctx context.Context, key, path, data string) (*Item, error) {
	if !isPlural(key) {
		return nil, fmt.Errorf("meta: add: key %q must be plural (end in 's')", key)
	}

	normalized, err := normalizeData(data)
	if err != nil {
		return nil, fmt.Errorf("meta: add: %w", err)
	}

	item := &Item{
		ID:    uuid.New().String(),
		Path:  path,
		Key:   key,
		Data:  normalized,
		Mtime: m.now().Unix(),
	}

	err = m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries_meta (id, path, key, data, mtime) VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.Path, item.Key, string(item.Data), item.Mtime,
		); err != nil {
			return fmt.Errorf("meta: add: inserting row: %w", err)
		}

		return store.BumpDatasetUpdate(ctx, tx, item.Mtime)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// Set upserts a singular key keyed by (path, key): at most one row may exist
// for that pair (spec.md §4.2 "UPSERT keyed by (path,key)").
func (m *Manager) Set(ctx context.Context, key, path, data string) (*Item, error) {
	if isPlural(key) {
		return nil, fmt.Errorf("meta: set: key %q must be singular (not end in 's')", key)
	}

	normalized, err := normalizeData(data)
	if err != nil {
		return nil, fmt.Errorf("meta: set: %w", err)
	}

	now := m.now().Unix()

	var item *Item

	err = m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		var id string

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM entries_meta WHERE path = ? AND key = ?`, path, key)

		switch scanErr := row.Scan(&id); {
		case scanErr == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE entries_meta SET data = ?, mtime = ? WHERE id = ?`,
				string(normalized), now, id,
			); err != nil {
				return fmt.Errorf("meta: set: updating row: %w", err)
			}
		case scanErr == sql.ErrNoRows:
			id = uuid.New().String()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries_meta (id, path, key, data, mtime) VALUES (?, ?, ?, ?, ?)`,
				id, path, key, string(normalized), now,
			); err != nil {
				return fmt.Errorf("meta: set: inserting row: %w", err)
			}
		default:
			return fmt.Errorf("meta: set: querying existing row: %w", scanErr)
		}

		item = &Item{ID: id, Path: path, Key: key, Data: normalized, Mtime: now}

		return store.BumpDatasetUpdate(ctx, tx, now)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// Remove deletes one row by id (spec.md §4.2 "DELETE one row by UUID").
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries_meta WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("meta: remove: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("meta: remove: checking rows affected: %w", err)
		}

		if n == 0 {
			return fmt.Errorf("meta: remove: no row with id %q", id)
		}

		return store.BumpDatasetUpdate(ctx, tx, m.now().Unix())
	})
}

// Unset deletes every row matching (path, key) (spec.md §4.2 "DELETE all rows
// with (path,key)").
func (m *Manager) Unset(ctx context.Context, key, path string) error {
	return m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entries_meta WHERE path = ? AND key = ?`, path, key,
		); err != nil {
			return fmt.Errorf("meta: unset: %w", err)
		}

		return store.BumpDatasetUpdate(ctx, tx, m.now().Unix())
	})
}

// Get returns every row for (path, key) when key is plural, or a single row
// otherwise — spec.md §4.2 "SELECT all (list) or one (singleton)".
func (m *Manager) Get(ctx context.Context, key, path string) ([]Item, error) {
	rows, err := m.db.SQL().QueryContext(ctx,
		`SELECT id, path, key, data, mtime FROM entries_meta WHERE path = ? AND key = ? ORDER BY mtime`,
		path, key,
	)
	if err != nil {
		return nil, fmt.Errorf("meta: get: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("meta: get: %w", err)
	}

	if !isPlural(key) && len(items) > 1 {
		items = items[len(items)-1:]
	}

	return items, nil
}

// List returns every distinct key present at path (spec.md §4.2 "SELECT all
// keys at a path").
func (m *Manager) List(ctx context.Context, path string) ([]string, error) {
	rows, err := m.db.SQL().QueryContext(ctx,
		`SELECT DISTINCT key FROM entries_meta WHERE path = ? ORDER BY key`, path,
	)
	if err != nil {
		return nil, fmt.Errorf("meta: list: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("meta: list: scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// Dump returns the rows for ids, or every row when ids is empty (spec.md
// §4.2 "SELECT rows by id set ([] = all)").
func (m *Manager) Dump(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		rows, err := m.db.SQL().QueryContext(ctx,
			`SELECT id, path, key, data, mtime FROM entries_meta ORDER BY path, key, mtime`,
		)
		if err != nil {
			return nil, fmt.Errorf("meta: dump: %w", err)
		}
		defer rows.Close()

		items, err := scanItems(rows)
		if err != nil {
			return nil, fmt.Errorf("meta: dump: %w", err)
		}

		return items, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))

	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT id, path, key, data, mtime FROM entries_meta WHERE id IN (%s) ORDER BY path, key, mtime`,
		strings.Join(placeholders, ","),
	)

	rows, err := m.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("meta: dump: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("meta: dump: %w", err)
	}

	return items, nil
}

// Restore re-inserts each row exactly as dumped (spec.md §4.2 "INSERT each
// row exactly as dumped"), used by the delta engine (C7) to restore
// metaAdds during apply.
func (m *Manager) Restore(ctx context.Context, items []Item) error {
	return m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO entries_meta (id, path, key, data, mtime) VALUES (?, ?, ?, ?, ?)`,
				item.ID, item.Path, item.Key, string(item.Data), item.Mtime,
			); err != nil {
				return fmt.Errorf("meta: restore: inserting %s: %w", item.ID, err)
			}
		}

		return store.BumpDatasetUpdate(ctx, tx, m.now().Unix())
	})
}

// BulkRemove deletes every row whose id is in ids (spec.md §4.2 "DELETE rows
// by id set"), used by the delta engine to apply metaRemoves.
func (m *Manager) BulkRemove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))

	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM entries_meta WHERE id IN (%s)`, strings.Join(placeholders, ","))

	return m.db.WithExclusiveTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("meta: bulkRemove: %w", err)
		}

		return store.BumpDatasetUpdate(ctx, tx, m.now().Unix())
	})
}

// AllIDsSorted returns every metadata row id in sorted order, used by the
// index engine's stamp computation, index.ComputeStamp (spec.md §4.1.8 "build meta by selecting
// all meta ids, sorted").
func (m *Manager) AllIDsSorted(ctx context.Context) ([]string, error) {
	rows, err := m.db.SQL().QueryContext(ctx, `SELECT id FROM entries_meta`)
	if err != nil {
		return nil, fmt.Errorf("meta: allIDsSorted: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("meta: allIDsSorted: scanning: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: allIDsSorted: %w", err)
	}

	sort.Strings(ids)

	return ids, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item

	for rows.Next() {
		var (
			item Item
			data string
		)

		if err := rows.Scan(&item.ID, &item.Path, &item.Key, &data, &item.Mtime); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		item.Data = json.RawMessage(data)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
