package tensor

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// FromSlice creates a tensor from a data slice. The slice is copied.
//
// Example:
//
//	x, err := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{2, 2})
func FromSlice(data []float64, shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	r := MustNewRaw(shape)
	copy(r.data, data)
	return r, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	return MustNewRaw(shape)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *RawTensor {
	return Full(shape, 1)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float64) *RawTensor {
	r := MustNewRaw(shape)
	for i := range r.data {
		r.data[i] = value
	}
	return r
}

// Scalar creates a 0-D tensor holding v.
func Scalar(v float64) *RawTensor {
	return &RawTensor{shape: Shape{}, data: []float64{v}}
}

// TruncatedNormal fills a tensor with samples from N(0, stddev²), redrawing
// any sample that falls more than two standard deviations from the mean.
//
// Sampling consumes src sequentially, so a fixed seed yields bit-identical
// tensors across runs.
func TruncatedNormal(shape Shape, stddev float64, src rand.Source) (*RawTensor, error) {
	if stddev <= 0 {
		return nil, fmt.Errorf("truncated normal: stddev must be > 0 (got %g)", stddev)
	}
	r, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	bound := 2 * stddev
	for i := range r.data {
		v := dist.Rand()
		for v < -bound || v > bound {
			v = dist.Rand()
		}
		r.data[i] = v
	}
	return r, nil
}
