package decode

import (
	"image/color"
	"testing"

	"github.com/go-sif/cassdl/errors"
	cdltesting "github.com/go-sif/cassdl/testing"
	"github.com/stretchr/testify/require"
)

func TestDecodeRGB(t *testing.T) {
	d, err := New(Options{})
	require.Nil(t, err)
	img, err := d.Decode(cdltesting.EncodePNG(3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	require.Nil(t, err)
	sample, shape := ToCHW(img, d.Channels())
	require.Equal(t, []int{3, 2, 3}, shape)
	require.Len(t, sample, 18)
	require.Equal(t, float32(10), sample[0])
	require.Equal(t, float32(20), sample[6])
	require.Equal(t, float32(30), sample[12])
}

func TestDecodeGrayAndResize(t *testing.T) {
	d, err := New(Options{Channels: 1, Width: 8, Height: 6})
	require.Nil(t, err)
	img, err := d.Decode(cdltesting.EncodePNG(4, 4, color.RGBA{R: 100, G: 100, B: 100, A: 255}))
	require.Nil(t, err)
	sample, shape := ToCHW(img, 1)
	require.Equal(t, []int{1, 6, 8}, shape)
	require.InDelta(t, 100, sample[0], 1.5)
}

func TestDecodeFailures(t *testing.T) {
	d, err := New(Options{})
	require.Nil(t, err)
	_, err = d.Decode(nil)
	require.NotNil(t, err)
	_, err = d.Decode([]byte("not an image"))
	require.NotNil(t, err)
}

func TestInvalidOptions(t *testing.T) {
	var ice errors.InvalidConfigError
	_, err := New(Options{Channels: 2})
	require.ErrorAs(t, err, &ice)
	_, err = New(Options{Width: 4})
	require.ErrorAs(t, err, &ice)
}
