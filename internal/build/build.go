// Package build implements DroneDB's artifact build pipeline (spec.md §4.5,
// component C9): for each indexed entry, produce a derived artifact — a
// Cloud-Optimized GeoTIFF, a compressed mesh, an EPT point cloud directory,
// a thumbnail, or normalized GeoJSON — under
// "<ddb>/build/<entry.hash>/". Every concrete transcoder (GDAL warp, Nexus
// mesh compression, PDAL EPT, thumbnailing) is an external collaborator
// behind an interface, the same pattern internal/entry and internal/tiling
// use for their own external dependencies (spec.md §1).
package build

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
)

// maxConcurrentBuilds bounds errgroup fan-out so a large buildAll doesn't
// spawn one GDAL/PDAL subprocess per entry simultaneously.
const maxConcurrentBuilds = 4

// Dispatcher routes entries to the builder for their type and tracks
// artifact directories under ddbDir/build/<hash>/, per spec.md §4.5's
// builder table.
type Dispatcher struct {
	ddbDir string
	cog    *cogBuilder
	mesh   MeshCompressor
	ept    EPTBuilder
	thumb  Thumbnailer
	vector VectorNormalizer
	logger *slog.Logger
}

// Collaborators groups the external build dependencies a Dispatcher wires
// in. Any field may be nil; a nil collaborator makes its builder return a
// BuildDepMissing error rather than panicking.
type Collaborators struct {
	Inspector COGInspector
	Warper    GDALWarper
	Mesh      MeshCompressor
	EPT       EPTBuilder
	Thumb     Thumbnailer
	Vector    VectorNormalizer
}

// NewDispatcher constructs a Dispatcher rooted at ddbDir (the dataset's
// ".ddb" directory).
func NewDispatcher(ddbDir string, c Collaborators, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		ddbDir: ddbDir,
		cog:    &cogBuilder{inspector: c.Inspector, warper: c.Warper},
		mesh:   c.Mesh,
		ept:    c.EPT,
		thumb:  c.Thumb,
		vector: c.Vector,
		logger: logger,
	}
}

// ArtifactDir returns the directory a successful build for hash writes to.
func (d *Dispatcher) ArtifactDir(hash string) string {
	return filepath.Join(d.ddbDir, "build", hash)
}

// HasArtifacts reports whether hash already has a non-empty artifact
// directory, the test buildPending uses to skip already-built entries.
func (d *Dispatcher) HasArtifacts(hash string) bool {
	entries, err := os.ReadDir(d.ArtifactDir(hash))

	return err == nil && len(entries) > 0
}

// SourceResolver resolves an entry's dataset-relative path to an absolute
// filesystem path, matching the signature internal/index.Database.AbsPath
// already exposes.
type SourceResolver func(relPath string) string

// BuildAll implements spec.md §4.5's "buildAll iterates entries and
// dispatches": every entry with a builder is (re)built regardless of
// whether an artifact directory already exists.
func (d *Dispatcher) BuildAll(ctx context.Context, entries []entry.Entry, resolve SourceResolver) error {
	return d.dispatch(ctx, entries, resolve, false)
}

// BuildPending implements spec.md §4.5's "buildPending dispatches only
// those whose hash has no artifact directory."
func (d *Dispatcher) BuildPending(ctx context.Context, entries []entry.Entry, resolve SourceResolver) error {
	return d.dispatch(ctx, entries, resolve, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, entries []entry.Entry, resolve SourceResolver, skipExisting bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBuilds)

	for _, e := range entries {
		e := e

		if e.Hash == "" {
			continue // directories and other unhashed entries have no artifact
		}

		if skipExisting && d.HasArtifacts(e.Hash) {
			continue
		}

		builder, ok := d.builderFor(e.Type)
		if !ok {
			continue
		}

		g.Go(func() error {
			dir := d.ArtifactDir(e.Hash)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return ddberr.New(ddberr.KindFilesystem, "build.Dispatch", err)
			}

			src := resolve(e.Path)

			d.logger.Debug("building artifact", "path", e.Path, "type", e.Type.String(), "hash", e.Hash)

			return builder(ctx, src, dir)
		})
	}

	return g.Wait()
}

// builderFunc is the common shape every per-type builder implements:
// produce artifacts for src under dir.
type builderFunc func(ctx context.Context, src, dir string) error

func (d *Dispatcher) builderFor(t entry.Type) (builderFunc, bool) {
	switch t {
	case entry.GeoRaster:
		return d.cog.build, true
	case entry.Model:
		return d.buildNexus, true
	case entry.PointCloud:
		return d.buildEpt, true
	case entry.Image, entry.GeoImage, entry.Panorama, entry.GeoPanorama, entry.Video, entry.GeoVideo:
		return d.generateThumb, true
	case entry.Vector:
		return d.buildVector, true
	default:
		return nil, false
	}
}
