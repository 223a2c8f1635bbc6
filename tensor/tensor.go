// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float64 tensors used by the meta-learner.
//
// # Overview
//
// A RawTensor is a row-major float64 array with a Shape. Matrices are
// [rows, cols]; vectors are 1-D; an empty Shape is a scalar.
//
// Tensors are values flowing through a Backend. The CPU backend computes
// them; the autodiff backend additionally records every operation so the
// result can be differentiated, including a second time.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/maml/backend/cpu"
//	    "github.com/born-ml/maml/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{2, 2})
//	    y := backend.MatMul(x, backend.Transpose(x))
//	}
package tensor

import (
	"math/rand/v2"

	"github.com/born-ml/maml/internal/tensor"
)

// RawTensor is a dense float64 tensor.
type RawTensor = tensor.RawTensor

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// Backend is the operation set every compute backend implements. It is
// closed under differentiation.
type Backend = tensor.Backend

// FromSlice creates a tensor from a copy of data.
func FromSlice(data []float64, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape) *RawTensor { return tensor.Zeros(shape) }

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *RawTensor { return tensor.Ones(shape) }

// Full creates a tensor filled with value.
func Full(shape Shape, value float64) *RawTensor { return tensor.Full(shape, value) }

// Scalar creates a 0-D tensor.
func Scalar(v float64) *RawTensor { return tensor.Scalar(v) }

// TruncatedNormal samples N(0, stddev²) redrawn outside two standard
// deviations.
func TruncatedNormal(shape Shape, stddev float64, src rand.Source) (*RawTensor, error) {
	return tensor.TruncatedNormal(shape, stddev, src)
}
