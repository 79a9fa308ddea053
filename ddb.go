package ddb

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/dronedb/ddb-core/internal/build"
	"github.com/dronedb/ddb-core/internal/delta"
	"github.com/dronedb/ddb-core/internal/index"
	"github.com/dronedb/ddb-core/internal/profile"
	"github.com/dronedb/ddb-core/internal/registry"
	"github.com/dronedb/ddb-core/internal/tiling"
)

// initOnce guards the process-wide, run-exactly-once setup spec.md §5
// requires of PROJ/GDAL initialization, locale, and log-file setup — the
// caller's external collaborators own the actual GDAL/PROJ calls, but this
// guard is what the core offers them to hang that one-time work on.
var initOnce sync.Once

// InitProcess runs setup once per process regardless of how many times it
// is called or from how many goroutines; later calls are no-ops. fn should
// perform the caller's one-time external-collaborator setup (PROJ/GDAL
// context creation, locale, log file open).
func InitProcess(fn func()) {
	initOnce.Do(fn)
}

// Database is the root facade spec.md's component list implies but never
// names directly: one dataset's index (C5, embedding meta C6), wired
// together with the delta engine (C7), tile cache (C8), build pipeline
// (C9), registry client (C10), and the bookkeeping the user-profile layer
// (C11) persists for it (tags.json, sync.json).
type Database struct {
	*index.Database

	dispatcher *build.Dispatcher
	tiles      *tiling.Cache
	logger     *slog.Logger
	userDir    string
	config     *profile.Config
}

// Collaborators bundles every external-system dependency a Database needs
// beyond its own SQLite store: GDAL/PDAL probes and transcoders (spec.md
// §1's "external collaborators"). Each field is optional; operations that
// need a missing one return a KindBuildDepMissing error instead of
// panicking, matching internal/build's own per-builder nil check.
type Collaborators struct {
	build.Collaborators

	Raster       tiling.GeoRasterSource
	Geoprojector tiling.ImageGeoprojector
	EPT          tiling.EPTSource
}

// Open opens (or re-opens) the dataset rooted at dir, wiring its build
// dispatcher under its own .ddb directory and its tile cache under the
// shared user profile directory (spec.md §6.1: tiles are cached per-user,
// keyed by source content, not per-dataset). traverseUp mirrors
// index.Open's own upward-search flag. userDir selects the profile root;
// an empty string resolves profile.UserDir()'s default ("$HOME/.ddb").
func Open(ctx context.Context, dir string, traverseUp bool, userDir string, collab Collaborators, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	idx, err := index.Open(ctx, dir, traverseUp, logger)
	if err != nil {
		return nil, err
	}

	if userDir == "" {
		userDir, err = profile.UserDir()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := profile.LoadConfig(userDir, logger)
	if err != nil {
		return nil, err
	}

	ddbPath := idx.DdbPath()

	return &Database{
		Database:   idx,
		dispatcher: build.NewDispatcher(ddbPath, collab.Collaborators, logger),
		tiles:      tiling.NewCache(filepath.Join(userDir, "tiles"), collab.Raster, collab.Geoprojector, collab.EPT, logger),
		logger:     logger,
		userDir:    userDir,
		config:     cfg,
	}, nil
}

// Init wraps index.Init, matching spec.md §4.1.1's init operation.
func Init(ctx context.Context, dir string, logger *slog.Logger) (string, error) {
	return index.Init(ctx, dir, logger)
}

// Build dispatches the build pipeline (C9) over entries matching patterns
// (all entries when patterns is empty). With force it rebuilds every entry
// (BuildAll); otherwise it skips any entry whose artifact directory already
// exists (BuildPending).
func (db *Database) Build(ctx context.Context, patterns []string, force bool) error {
	entries, err := db.List(ctx, defaultPatterns(patterns), 0)
	if err != nil {
		return err
	}

	resolve := func(relPath string) string { return db.AbsPath(relPath) }

	if force {
		return db.dispatcher.BuildAll(ctx, entries, resolve)
	}

	return db.dispatcher.BuildPending(ctx, entries, resolve)
}

// Tiles exposes the tile cache (C8) for callers building a tile server or
// CLI `tile` command on top of this Database.
func (db *Database) Tiles() *tiling.Cache {
	return db.tiles
}

// Tag returns the dataset's registry binding from tags.json, if any.
func (db *Database) Tag() (registryURL, org, dataset string, ok bool, err error) {
	return profile.ReadTag(db.DdbPath())
}

// SetTag writes the dataset's registry binding to tags.json (spec.md §6.2
// `tag` command).
func (db *Database) SetTag(registryURL, org, dataset string) error {
	return profile.WriteTag(db.DdbPath(), registryURL, org, dataset)
}

// RegistryClient builds a registry.Client for this dataset's tagged
// registry, using creds for authentication (typically a
// profile.CredentialStore rooted at the user's profile directory).
func (db *Database) RegistryClient(httpClient *http.Client, creds registry.CredentialSource) (*registry.Client, registry.Tag, error) {
	registryURL, org, dataset, ok, err := db.Tag()
	if err != nil {
		return nil, registry.Tag{}, err
	}

	if !ok {
		return nil, registry.Tag{}, New(KindInvalidArgs, "Database.RegistryClient", ErrNotIndexed)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: db.config.AuthTimeoutDuration()}
	}

	return registry.NewClient(registryURL, httpClient, creds, db.logger), registry.Tag{Org: org, Dataset: dataset}, nil
}

// Sweep clears stale thumbnail/tile cache entries and this dataset's tmp/
// scratch directory, using the user profile's configured cache retention
// (spec.md §4.4.1, generalized by profile.Sweep to §C.2's wider cache set).
func (db *Database) Sweep(ctx context.Context) (int64, error) {
	tmpDir := filepath.Join(db.DdbPath(), "tmp")

	return profile.Sweep(ctx, db.userDir, []string{tmpDir}, db.config.CacheRetention())
}

// Push pushes this dataset's current state to its tagged registry.
func (db *Database) Push(ctx context.Context, httpClient *http.Client, creds registry.CredentialSource) error {
	client, tag, err := db.RegistryClient(httpClient, creds)
	if err != nil {
		return err
	}

	sync := profile.NewSyncBookmarks(db.DdbPath())

	return client.Push(ctx, tag, db.Database, sync)
}

// Pull pulls this dataset's tagged registry's state, applying it under
// strategy.
func (db *Database) Pull(ctx context.Context, httpClient *http.Client, creds registry.CredentialSource, strategy delta.Strategy) (registry.PullResult, error) {
	client, tag, err := db.RegistryClient(httpClient, creds)
	if err != nil {
		return registry.PullResult{}, err
	}

	sync := profile.NewSyncBookmarks(db.DdbPath())

	return client.Pull(ctx, tag, db.Database, sync, strategy)
}

func defaultPatterns(patterns []string) []string {
	if len(patterns) == 0 {
		return []string{"*"}
	}

	return patterns
}
