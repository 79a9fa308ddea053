package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/entry"
	"github.com/dronedb/ddb-core/internal/hashutil"
)

// ParsedEntry is the outcome of running one file through the classification
// pipeline, ready to be inserted or compared against a stored row (spec.md
// §4.1.3).
type ParsedEntry struct {
	Entry entry.Entry
}

// parseEntry implements spec.md §4.1.3: classify absPath, compute its
// geometry when applicable, and (when computeHash is true) its SHA-256
// digest. relPath is the dataset-relative path stored on the Entry.
func (d *Database) parseEntry(relPath, absPath string, computeHash bool) (*ParsedEntry, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("index: stat %s: %w", absPath, err)
	}

	if info.IsDir() {
		return &ParsedEntry{Entry: entry.Entry{
			Path:  relPath,
			Type:  entry.Directory,
			Mtime: info.ModTime().Unix(),
			Size:  0,
		}}, nil
	}

	typ, point, poly, err := d.Classifier.Classify(absPath)
	if err != nil {
		return nil, fmt.Errorf("index: classifying %s: %w", absPath, err)
	}

	e := entry.Entry{
		Path:        relPath,
		Type:        typ,
		Mtime:       info.ModTime().Unix(),
		Size:        uint64(info.Size()), //nolint:gosec // file sizes never negative
		PointGeom:   point,
		PolygonGeom: poly,
		Properties:  json.RawMessage(`{}`),
	}

	if computeHash {
		hash, err := hashutil.FileSHA256(absPath)
		if err != nil {
			return nil, fmt.Errorf("index: hashing %s: %w", absPath, err)
		}

		e.Hash = hash
	}

	return &ParsedEntry{Entry: e}, nil
}

// absPath resolves relPath against the dataset root.
func (d *Database) absPath(relPath string) string {
	if relPath == "" {
		return d.Root
	}

	return filepath.Join(d.Root, filepath.FromSlash(relPath))
}

// AbsPath is the exported form of absPath, used by the delta engine (C7) to
// resolve stamp paths against a destination database's root.
func (d *Database) AbsPath(relPath string) string {
	return d.absPath(relPath)
}
