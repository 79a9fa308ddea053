package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
	"github.com/dronedb/ddb-core/internal/hashutil"
)

// dirType and droneDBType are the two entry.Type values spec.md §4.1.8
// excludes from a stamp's entry set.
const (
	dirType     = int(entry.Directory)
	droneDBType = int(entry.DroneDBType)
)

// StampEntry is one (path, hash) pair contributing to a Stamp, per spec.md
// §4.1.8. A directory's hash is always "" (the is-directory flag the delta
// engine's diff relies on, spec.md §4.3.1).
type StampEntry struct {
	Path string
	Hash string
}

// Stamp is DroneDB's dataset fingerprint: a sorted list of (path,hash) pairs
// and a sorted list of metadata ids, plus their combined checksum (spec.md
// §4.1.8).
type Stamp struct {
	Entries  []StampEntry
	Meta     []string
	Checksum string
}

// canonicalStamp is the wire-stable shape Stamp.Checksum is computed over.
type canonicalStamp struct {
	Entries []StampEntry `json:"entries"`
	Meta    []string     `json:"meta"`
}

// ComputeStamp implements spec.md §4.1.8: select (path,hash) from entries
// where type is neither Directory nor DroneDB, sorted; select all meta ids,
// sorted; canonically serialize; checksum = SHA256(serialization).
func (d *Database) ComputeStamp(ctx context.Context) (*Stamp, error) {
	rows, err := d.db.SQL().QueryContext(ctx,
		`SELECT path, hash FROM entries WHERE type NOT IN (?, ?) ORDER BY path`,
		dirType, droneDBType,
	)
	if err != nil {
		return nil, ddberr.New(ddberr.KindDatabase, "index.ComputeStamp", err)
	}
	defer rows.Close()

	var entries []StampEntry

	for rows.Next() {
		var e StampEntry
		if err := rows.Scan(&e.Path, &e.Hash); err != nil {
			return nil, ddberr.New(ddberr.KindDatabase, "index.ComputeStamp", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, ddberr.New(ddberr.KindDatabase, "index.ComputeStamp", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	metaIDs, err := d.Meta.AllIDsSorted(ctx)
	if err != nil {
		return nil, ddberr.New(ddberr.KindDatabase, "index.ComputeStamp", err)
	}

	canonical, err := json.Marshal(canonicalStamp{Entries: entries, Meta: metaIDs})
	if err != nil {
		return nil, ddberr.New(ddberr.KindDatabase, "index.ComputeStamp", fmt.Errorf("serializing stamp: %w", err))
	}

	return &Stamp{
		Entries:  entries,
		Meta:     metaIDs,
		Checksum: hashutil.BytesSHA256(canonical),
	}, nil
}
