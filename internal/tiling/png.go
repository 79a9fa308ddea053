package tiling

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// tileImage is an in-memory RGBA pixel buffer, the shared shape every
// pipeline (georaster, EPT) assembles before PNG-encoding, per spec.md
// §4.4.2 step 3 ("write into an in-memory PNG dataset") and §4.4.3 step 5
// ("PNG-encode as above").
type tileImage struct {
	Size int
	Pix  []color.NRGBA // row-major, len == Size*Size
}

func newTileImage(size int) tileImage {
	return tileImage{Size: size, Pix: make([]color.NRGBA, size*size)}
}

func (t tileImage) at(x, y int) color.NRGBA {
	return t.Pix[y*t.Size+x]
}

func (t *tileImage) set(x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= t.Size || y >= t.Size {
		return
	}

	t.Pix[y*t.Size+x] = c
}

func (t tileImage) toImageNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, t.Size, t.Size))

	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			out.SetNRGBA(x, y, t.at(x, y))
		}
	}

	return out
}

// encodePNG renders img to PNG bytes, the "in-memory-buffer variant" spec.md
// §4.4.2 step 3 offers alongside writing to disk.
func encodePNG(img tileImage) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.toImageNRGBA()); err != nil {
		return nil, ddberr.New(ddberr.KindFilesystem, "tiling.encodePNG", err)
	}

	return buf.Bytes(), nil
}

// writePNG renders img and writes it to dest.
func writePNG(dest string, img tileImage) error {
	b, err := encodePNG(img)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dest, b, 0o644); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.writePNG", err)
	}

	return nil
}

// rescaleToByte implements spec.md §4.4.2 step 2's "if source type is not
// Byte, rescale each band to 0–255 via per-band min/max."
func rescaleToByte(values []float64, min, max float64) []uint8 {
	out := make([]uint8, len(values))

	span := max - min
	if span <= 0 {
		return out
	}

	for i, v := range values {
		scaled := (v - min) / span * 255

		switch {
		case scaled < 0:
			scaled = 0
		case scaled > 255:
			scaled = 255
		}

		out[i] = uint8(scaled)
	}

	return out
}

func bandMinMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}

	min, max = values[0], values[0]

	for _, v := range values[1:] {
		if v < min {
			min = v
		}

		if v > max {
			max = v
		}
	}

	return min, max
}
