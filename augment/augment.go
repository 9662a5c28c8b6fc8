// Package augment provides stochastic image augmentations built on imaging. Every
// augmentation returns a new image and draws its randomness from the supplied generator.
package augment

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/go-sif/cassdl"
)

// Identity returns its input unchanged
var Identity = cassdl.Identity

type sequential []cassdl.Augmentation

// Sequential applies augmentations in order
func Sequential(augs ...cassdl.Augmentation) cassdl.Augmentation {
	return sequential(augs)
}

func (s sequential) Apply(img image.Image, rng *rand.Rand) image.Image {
	for _, a := range s {
		if a != nil {
			img = a.Apply(img, rng)
		}
	}
	return img
}

// Mirror flips an image horizontally with probability p
func Mirror(p float64) cassdl.Augmentation {
	return cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		if rng.Float64() < p {
			return imaging.FlipH(img)
		}
		return img
	})
}

// Flip flips an image vertically with probability p
func Flip(p float64) cassdl.Augmentation {
	return cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		if rng.Float64() < p {
			return imaging.FlipV(img)
		}
		return img
	})
}

// Rotate rotates an image by a uniformly drawn angle in [minDeg, maxDeg], filling uncovered
// corners with black and cropping back to the original size
func Rotate(minDeg, maxDeg float64) cassdl.Augmentation {
	return cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		angle := minDeg + rng.Float64()*(maxDeg-minDeg)
		if angle == 0 {
			return img
		}
		b := img.Bounds()
		rotated := imaging.Rotate(img, angle, color.Black)
		return imaging.CropCenter(rotated, b.Dx(), b.Dy())
	})
}

// GammaContrast adjusts gamma by a factor drawn uniformly from [lo, hi]
func GammaContrast(lo, hi float64) cassdl.Augmentation {
	return cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		gamma := lo + rng.Float64()*(hi-lo)
		if gamma <= 0 || gamma == 1 {
			return img
		}
		return imaging.AdjustGamma(img, gamma)
	})
}

// GaussianBlur blurs an image with a sigma drawn uniformly from [lo, hi]
func GaussianBlur(lo, hi float64) cassdl.Augmentation {
	return cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		sigma := lo + rng.Float64()*(hi-lo)
		if sigma <= 0 {
			return img
		}
		return imaging.Blur(img, sigma)
	})
}
