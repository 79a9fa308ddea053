package build

import (
	"context"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// MeshCompressor is the external collaborator (a Nexus/Corto-style mesh
// compressor) buildNexus wraps, per spec.md §4.5's builder table entry for
// Model (obj/ply-mesh) sources.
type MeshCompressor interface {
	CompressMesh(ctx context.Context, src, dstDir string) error
}

// buildNexus implements the Model row of spec.md §4.5's builder table:
// "Nexus-compressed mesh + texture copies."
func (d *Dispatcher) buildNexus(ctx context.Context, src, dir string) error {
	if d.mesh == nil {
		return ddberr.New(ddberr.KindBuildDepMissing, "build.buildNexus", nil)
	}

	if err := d.mesh.CompressMesh(ctx, src, filepath.Join(dir, "mesh")); err != nil {
		return ddberr.New(ddberr.KindGDAL, "build.buildNexus", err)
	}

	return nil
}
