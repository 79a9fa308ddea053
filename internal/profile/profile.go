// Package profile implements DroneDB's user profile layer (spec.md §6.1,
// component C11): the per-user directory ($HOME/.ddb) holding stored
// registry credentials, cached thumbnails and tiles, and empty-database
// templates, plus the per-dataset bookkeeping files (tags.json, sync.json)
// kept alongside each dataset's .ddb directory.
package profile

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// EnvHome overrides the user profile directory, the way the teacher's
// ONEDRIVE_GO_CONFIG overrides its config path (internal/config/env.go) —
// primarily for tests, which should never touch a real $HOME/.ddb.
const EnvHome = "DDB_HOME"

const dirName = ".ddb"

// UserDir returns the user profile root, honoring EnvHome, otherwise
// "$HOME/.ddb" per spec.md §6.1.
func UserDir() (string, error) {
	if override := os.Getenv(EnvHome); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", ddberr.New(ddberr.KindFilesystem, "profile.UserDir", err)
	}

	return filepath.Join(home, dirName), nil
}

// ThumbsDir returns the cache directory for thumbnails of the given pixel
// size: "$HOME/.ddb/thumbs/<size>".
func ThumbsDir(userDir string, size int) string {
	return filepath.Join(userDir, "thumbs", strconv.Itoa(size))
}

// TilesDir returns the cache directory for a source's tile pyramid:
// "$HOME/.ddb/tiles/<crc64>".
func TilesDir(userDir, crc64 string) string {
	return filepath.Join(userDir, "tiles", crc64)
}

// RemoteDownloadPath returns the cached-download path for a remote raster
// source: "$HOME/.ddb/tiles/<crc64>.tif".
func RemoteDownloadPath(userDir, crc64 string) string {
	return filepath.Join(userDir, "tiles", crc64+".tif")
}

// TemplatesDir returns the directory holding empty-database templates:
// "$HOME/.ddb/templates".
func TemplatesDir(userDir string) string {
	return filepath.Join(userDir, "templates")
}

// EmptyDatabaseTemplate returns the template path for a given schema
// version: "$HOME/.ddb/templates/empty-dbase-<ver>.sqlite".
func EmptyDatabaseTemplate(userDir string, version int) string {
	return filepath.Join(TemplatesDir(userDir), "empty-dbase-"+strconv.Itoa(version)+".sqlite")
}

// ensureDir creates dir (and parents) if it does not already exist.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "profile.ensureDir", err)
	}

	return nil
}
