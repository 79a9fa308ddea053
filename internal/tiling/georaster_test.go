package tiling

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRescaleToByteClampsRange(t *testing.T) {
	out := rescaleToByte([]float64{0, 50, 100}, 0, 100)
	require.Equal(t, []uint8{0, 127, 255}, out)
}

func TestRescaleToByteConstantInputIsZero(t *testing.T) {
	out := rescaleToByte([]float64{5, 5, 5}, 5, 5)
	require.Equal(t, []uint8{0, 0, 0}, out)
}

func TestAssembleImageSingleBandBroadcasts(t *testing.T) {
	img := assembleImage(1, [][]uint8{{200}}, nil)

	c := img.at(0, 0)
	require.Equal(t, uint8(200), c.R)
	require.Equal(t, uint8(200), c.G)
	require.Equal(t, uint8(200), c.B)
	require.Equal(t, uint8(255), c.A)
}

func TestAssembleImageRGBWithAlpha(t *testing.T) {
	img := assembleImage(1, [][]uint8{{10}, {20}, {30}}, []uint8{99})

	c := img.at(0, 0)
	require.Equal(t, uint8(10), c.R)
	require.Equal(t, uint8(20), c.G)
	require.Equal(t, uint8(30), c.B)
	require.Equal(t, uint8(99), c.A)
}
