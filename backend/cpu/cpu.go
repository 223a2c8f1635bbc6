// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend.
//
// Matrix products and transposes run on gonum kernels. The backend holds no
// state and is safe for concurrent use.
package cpu

import (
	internalcpu "github.com/born-ml/maml/internal/backend/cpu"
	"github.com/born-ml/maml/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	y := backend.ReLU(x)
func New() *Backend {
	return internalcpu.New()
}
