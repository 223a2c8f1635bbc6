// Package tensor provides the dense tensor type and the backend contract
// used by the meta-learning engine.
//
// Tensors are float64, row-major and immutable once they have been handed to
// a backend operation: every operation allocates its result. The only code
// allowed to write into an existing tensor is an optimizer step on a shared
// parameter, which happens outside any recorded computation.
package tensor

import (
	"fmt"
	"math"
)

// RawTensor is the low-level tensor representation.
type RawTensor struct {
	shape Shape
	data  []float64
}

// NewRaw creates a new zero-filled RawTensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		shape: shape.Clone(),
		data:  make([]float64, shape.NumElements()),
	}, nil
}

// MustNewRaw is NewRaw for shapes already known to be valid.
func MustNewRaw(shape Shape) *RawTensor {
	r, err := NewRaw(shape)
	if err != nil {
		panic(err)
	}
	return r
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return len(r.data)
}

// Data returns the backing slice.
// WARNING: Direct access to underlying memory. Writers must own the tensor.
func (r *RawTensor) Data() []float64 {
	return r.data
}

// Item returns the value of a single-element tensor.
func (r *RawTensor) Item() float64 {
	if len(r.data) != 1 {
		panic(fmt.Sprintf("item: tensor has %d elements, want 1", len(r.data)))
	}
	return r.data[0]
}

// At returns element (i, j) of a 2D tensor.
func (r *RawTensor) At(i, j int) float64 {
	_, cols := r.shape.Matrix()
	return r.data[i*cols+j]
}

// Clone returns a deep copy. The copy shares no memory with r, so it is
// never connected to any gradient tape that recorded r.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float64, len(r.data))
	copy(data, r.data)
	return &RawTensor{shape: r.shape.Clone(), data: data}
}

// IsFinite reports whether every element is neither NaN nor ±Inf.
func (r *RawTensor) IsFinite() bool {
	for _, v := range r.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor%v%v", r.shape, r.data)
}
