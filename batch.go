package cassdl

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is an ordered group of decoded samples and their labels. Inputs[i] and Labels[i]
// belong to IDs[i], and every input is laid out channel-first with dimensions Shape.
type Batch struct {
	IDs        []RowID
	Inputs     [][]float32
	Labels     []int
	Shape      []int // C, H, W of a single sample
	NumClasses int
	SmoothEps  float32
}

// Len returns the number of samples in this Batch
func (b *Batch) Len() int {
	return len(b.IDs)
}

// SampleSize returns the number of values in a single sample
func (b *Batch) SampleSize() int {
	if len(b.Shape) == 0 {
		return 0
	}
	size := 1
	for _, d := range b.Shape {
		size *= d
	}
	return size
}

// Features returns all inputs concatenated, in batch order
func (b *Batch) Features() []float32 {
	size := b.SampleSize()
	flat := make([]float32, 0, size*len(b.Inputs))
	for _, in := range b.Inputs {
		flat = append(flat, in...)
	}
	return flat
}

// OneHot returns labels as a flattened [Len, NumClasses] matrix. With a non-zero SmoothEps the
// true class receives 1-eps and every other class receives eps/(NumClasses-1).
func (b *Batch) OneHot() []float32 {
	one, zero := float32(1), float32(0)
	if b.SmoothEps > 0 && b.NumClasses > 1 {
		one = 1 - b.SmoothEps
		zero = b.SmoothEps / float32(b.NumClasses-1)
	}
	out := make([]float32, len(b.Labels)*b.NumClasses)
	for i, l := range b.Labels {
		row := out[i*b.NumClasses : (i+1)*b.NumClasses]
		for c := range row {
			row[c] = zero
		}
		if l >= 0 && l < b.NumClasses {
			row[l] = one
		}
	}
	return out
}

// Tensors converts this Batch to an input tensor shaped [N, C, H, W] and a one-hot label
// tensor shaped [N, NumClasses]
func (b *Batch) Tensors() (inputs *tensors.Tensor, labels *tensors.Tensor) {
	dims := append([]int{b.Len()}, b.Shape...)
	if len(b.Shape) == 0 {
		dims = []int{b.Len(), 0}
	}
	inputs = tensors.FromFlatDataAndDimensions(b.Features(), dims...)
	labels = tensors.FromFlatDataAndDimensions(b.OneHot(), b.Len(), b.NumClasses)
	return inputs, labels
}
