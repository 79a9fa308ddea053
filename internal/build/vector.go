package build

import (
	"context"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// VectorNormalizer is the external collaborator (an OGR-style vector
// reader/writer) buildVector wraps, per spec.md §4.5's builder table entry
// for Vector sources: "Normalized GeoJSON".
type VectorNormalizer interface {
	NormalizeToGeoJSON(ctx context.Context, src, dst string) error
}

// buildVector implements the Vector row of spec.md §4.5's builder table.
func (d *Dispatcher) buildVector(ctx context.Context, src, dir string) error {
	if d.vector == nil {
		return ddberr.New(ddberr.KindBuildDepMissing, "build.buildVector", nil)
	}

	dst := filepath.Join(dir, "vector.geojson")

	if err := d.vector.NormalizeToGeoJSON(ctx, src, dst); err != nil {
		return ddberr.New(ddberr.KindGDAL, "build.buildVector", err)
	}

	return nil
}
