package tiling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEPT struct {
	points []EPTPoint
}

func (f *fakeEPT) Query(_ context.Context, _ string, _ MercatorBounds, _ float64) ([]EPTPoint, error) {
	return f.points, nil
}

func TestRenderEPTTilePlacesPointsAndSkipsOutOfBounds(t *testing.T) {
	bounds := MercatorBounds{MinX: 0, MinY: 0, MaxX: 256, MaxY: 256}

	ept := &fakeEPT{points: []EPTPoint{
		{X: 0, Y: 256, R: 10, G: 20, B: 30},   // top-left corner
		{X: 255, Y: 1, R: 40, G: 50, B: 60},   // bottom-right corner
		{X: 1000, Y: 1000, R: 1, G: 1, B: 1},  // out of bounds, skipped
	}}

	cache := &Cache{ept: ept}

	img, err := cache.renderEPTTile(context.Background(), "ept.json", bounds, 256)
	require.NoError(t, err)

	tl := img.at(0, 0)
	require.Equal(t, uint8(10), tl.R)

	br := img.at(255, 255)
	require.Equal(t, uint8(40), br.R)
}

func TestIsEPTDetectsEptJSON(t *testing.T) {
	require.True(t, isEPT("/data/cloud/ept.json"))
	require.False(t, isEPT("/data/cloud/cloud.laz"))
}
