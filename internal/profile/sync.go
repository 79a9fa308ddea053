package profile

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/index"
)

// SyncBookmarks implements registry.SyncState against a dataset's
// "<root>/.ddb/sync.json", the map from registry URL to that registry's
// last-known stamp (spec.md §6.1: `{"<registryUrl>": <stamp-json>}`).
type SyncBookmarks struct {
	mu   sync.Mutex
	path string
}

// NewSyncBookmarks constructs a SyncBookmarks rooted at a dataset's .ddb
// directory (the same directory holding dbase.sqlite).
func NewSyncBookmarks(ddbDir string) *SyncBookmarks {
	return &SyncBookmarks{path: filepath.Join(ddbDir, "sync.json")}
}

// LastKnownStamp implements registry.SyncState.
func (s *SyncBookmarks) LastKnownStamp(registryURL string) (*index.Stamp, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, false, err
	}

	stamp, ok := entries[registryURL]
	if !ok {
		return nil, false, nil
	}

	return stamp, true, nil
}

// SaveStamp implements registry.SyncState.
func (s *SyncBookmarks) SaveStamp(registryURL string, stamp *index.Stamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	entries[registryURL] = stamp

	return s.save(entries)
}

func (s *SyncBookmarks) load() (map[string]*index.Stamp, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*index.Stamp{}, nil
	}

	if err != nil {
		return nil, ddberr.New(ddberr.KindFilesystem, "profile.SyncBookmarks.load", err)
	}

	var entries map[string]*index.Stamp
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, ddberr.New(ddberr.KindFilesystem, "profile.SyncBookmarks.load", err)
	}

	if entries == nil {
		entries = map[string]*index.Stamp{}
	}

	return entries, nil
}

func (s *SyncBookmarks) save(entries map[string]*index.Stamp) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "profile.SyncBookmarks.save", err)
	}

	return atomicWrite(s.path, data, 0o644)
}

// atomicWrite writes data to path via a temp-file-then-rename, the pattern
// the teacher's tokenfile.Save uses for its own on-disk state files.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "profile.atomicWrite", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return ddberr.New(ddberr.KindFilesystem, "profile.atomicWrite", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return ddberr.New(ddberr.KindFilesystem, "profile.atomicWrite", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)

		return ddberr.New(ddberr.KindFilesystem, "profile.atomicWrite", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return ddberr.New(ddberr.KindFilesystem, "profile.atomicWrite", err)
	}

	return nil
}
