package build

import (
	"context"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// defaultThumbSize is the longest-edge pixel size generateThumb requests
// when no caller-specific size is wired in.
const defaultThumbSize = 512

// Thumbnailer is the external collaborator (an EXIF/GDAL-aware preview
// generator) generateThumb wraps, per spec.md §4.5's builder table entry
// for Image/GeoImage/… sources: "Thumbnail .jpg".
type Thumbnailer interface {
	GenerateThumbnail(ctx context.Context, src, dst string, maxSize int) error
}

// generateThumb implements the Image/GeoImage/… row of spec.md §4.5's
// builder table.
func (d *Dispatcher) generateThumb(ctx context.Context, src, dir string) error {
	if d.thumb == nil {
		return ddberr.New(ddberr.KindBuildDepMissing, "build.generateThumb", nil)
	}

	dst := filepath.Join(dir, "thumb.jpg")

	if err := d.thumb.GenerateThumbnail(ctx, src, dst, defaultThumbSize); err != nil {
		return ddberr.New(ddberr.KindGDAL, "build.generateThumb", err)
	}

	return nil
}
