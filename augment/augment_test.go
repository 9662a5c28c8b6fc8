package augment

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/go-sif/cassdl/errors"
	"github.com/stretchr/testify/require"
)

// gradient produces an image whose left column is black and right column is white
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestMirror(t *testing.T) {
	src := gradient(4, 2)
	rng := rand.New(rand.NewSource(1))
	out := imaging.Clone(Mirror(1).Apply(src, rng))
	require.Equal(t, uint8(255), out.Pix[0])
	// input is untouched
	require.Equal(t, uint8(0), src.Pix[0])

	out = imaging.Clone(Mirror(0).Apply(src, rng))
	require.Equal(t, uint8(0), out.Pix[0])
}

func TestFlipKeepsColumns(t *testing.T) {
	src := gradient(4, 2)
	out := imaging.Clone(Flip(1).Apply(src, rand.New(rand.NewSource(1))))
	require.Equal(t, src.Pix, out.Pix)
}

func TestRotateKeepsSize(t *testing.T) {
	src := gradient(10, 6)
	out := Rotate(-30, 30).Apply(src, rand.New(rand.NewSource(3)))
	require.Equal(t, 10, out.Bounds().Dx())
	require.Equal(t, 6, out.Bounds().Dy())
}

func TestSequentialIsReproducible(t *testing.T) {
	aug := Sequential(Mirror(0.5), Rotate(-10, 10), GammaContrast(0.8, 1.2), GaussianBlur(0, 1))
	a := imaging.Clone(aug.Apply(gradient(8, 8), rand.New(rand.NewSource(5))))
	b := imaging.Clone(aug.Apply(gradient(8, 8), rand.New(rand.NewSource(5))))
	require.Equal(t, a.Pix, b.Pix)
}

func TestParse(t *testing.T) {
	aug, err := Parse("")
	require.Nil(t, err)
	require.NotNil(t, aug)

	aug, err = Parse("mirror:1 + flip:0")
	require.Nil(t, err)
	out := imaging.Clone(aug.Apply(gradient(4, 2), rand.New(rand.NewSource(1))))
	require.Equal(t, uint8(255), out.Pix[0])

	var ice errors.InvalidConfigError
	_, err = Parse("shear:1")
	require.ErrorAs(t, err, &ice)
	_, err = Parse("rotate:10")
	require.ErrorAs(t, err, &ice)
	_, err = Parse("mirror:x")
	require.ErrorAs(t, err, &ice)
}
