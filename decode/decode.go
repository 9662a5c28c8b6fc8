// Package decode turns stored image payloads into images and images into channel-first
// float32 samples.
package decode

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/go-sif/cassdl/errors"
	pkgerrors "github.com/pkg/errors"
)

// Options configure a Decoder
type Options struct {
	// Channels is 3 for RGB samples or 1 for grayscale. Defaults to 3.
	Channels int
	// Width and Height, if both positive, resize every decoded image
	Width  int
	Height int
}

// Decoder decodes any format registered with the image package (PNG, JPEG, GIF, BMP, TIFF)
type Decoder struct {
	opts Options
}

// New creates a Decoder
func New(opts Options) (*Decoder, error) {
	if opts.Channels == 0 {
		opts.Channels = 3
	}
	if opts.Channels != 1 && opts.Channels != 3 {
		return nil, errors.InvalidConfigf("channels must be 1 or 3, got %d", opts.Channels)
	}
	if opts.Width < 0 || opts.Height < 0 || (opts.Width > 0) != (opts.Height > 0) {
		return nil, errors.InvalidConfigf("resize dimensions must both be positive or both be zero, got %dx%d", opts.Width, opts.Height)
	}
	return &Decoder{opts: opts}, nil
}

// Channels returns the number of channels of decoded samples
func (d *Decoder) Channels() int {
	return d.opts.Channels
}

// Decode decodes, optionally resizes and, for single-channel output, desaturates a payload
func (d *Decoder) Decode(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, pkgerrors.New("empty payload")
	}
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "unable to decode image")
	}
	if d.opts.Width > 0 {
		img = imaging.Resize(img, d.opts.Width, d.opts.Height, imaging.Lanczos)
	}
	if d.opts.Channels == 1 {
		img = imaging.Grayscale(img)
	}
	return img, nil
}

// ToCHW converts an image to a channel-first float32 sample with values in [0, 255].
// shape is [channels, height, width].
func ToCHW(img image.Image, channels int) (sample []float32, shape []int) {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	plane := w * h
	sample = make([]float32, channels*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*src.Stride + x*4
			r, g, b := src.Pix[off], src.Pix[off+1], src.Pix[off+2]
			i := y*w + x
			if channels == 1 {
				sample[i] = 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
				continue
			}
			sample[i] = float32(r)
			sample[plane+i] = float32(g)
			sample[2*plane+i] = float32(b)
		}
	}
	return sample, []int{channels, h, w}
}
