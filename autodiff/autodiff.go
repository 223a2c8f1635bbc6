// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides automatic differentiation capabilities.
//
// This package implements reverse-mode automatic differentiation using a
// gradient tape. It wraps any backend to add autodiff capabilities.
// Gradients can be recorded on the same tape (createGraph) and
// differentiated again, which second-order meta-learning relies on.
//
// Example:
//
//	import (
//	    "github.com/born-ml/maml/autodiff"
//	    "github.com/born-ml/maml/backend/cpu"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    backend.Tape().StartRecording()
//	    y := backend.Sum(backend.Mul(x, x))
//	    dx := backend.Gradients(y, []*tensor.RawTensor{x}, true)[0] // 2x, differentiable
//	}
package autodiff

import (
	"github.com/born-ml/maml/internal/autodiff"
	"github.com/born-ml/maml/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}
