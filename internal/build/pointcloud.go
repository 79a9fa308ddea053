package build

import (
	"context"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// EPTBuilder is the external collaborator (a PDAL EPT writer) buildEpt
// wraps, producing the "ept.json + tiles" directory spec.md §4.5's builder
// table lists for PointCloud (laz/las) sources.
type EPTBuilder interface {
	BuildEPT(ctx context.Context, src, dstDir string) error
}

// buildEpt implements the PointCloud row of spec.md §4.5's builder table.
func (d *Dispatcher) buildEpt(ctx context.Context, src, dir string) error {
	if d.ept == nil {
		return ddberr.New(ddberr.KindBuildDepMissing, "build.buildEpt", nil)
	}

	if err := d.ept.BuildEPT(ctx, src, dir); err != nil {
		return ddberr.New(ddberr.KindPointCloud, "build.buildEpt", err)
	}

	return nil
}
