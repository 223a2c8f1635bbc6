// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any Backend implementation and adds gradient
// tracking capabilities through a GradientTape.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: Records operations during forward pass
//   - Operation interface: Each op (Add, Mul, MatMul) implements backward pass
//   - Reverse-mode AD: Computes gradients using the chain rule
//
// Higher-order gradients: Backward rules are written against tensor.Backend.
// When a backward pass is run with createGraph set, the tape keeps
// recording while it walks, so the gradient tensors it returns are
// themselves outputs of recorded operations and can be differentiated
// again. This is what second-order meta-learning needs.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	y := backend.Mul(x, x) // y = x²
//	grads := backend.Gradients(backend.Sum(y), []*tensor.RawTensor{x}, false)
//	// grads[0] = 2x
package autodiff

import (
	"github.com/born-ml/maml/internal/autodiff/ops"
	"github.com/born-ml/maml/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records operations in a GradientTape.
//
// An AutodiffBackend is not safe for concurrent use. Use one per goroutine.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

var _ tensor.Backend = (*AutodiffBackend[tensor.Backend])(nil)

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
// Useful for:
//   - Starting/stopping recording
//   - Clearing tape between iterations
//   - Inspecting recorded operations
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	b.tape.Record(ops.NewAddOp(a, c, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(a, c)
	b.tape.Record(ops.NewSubOp(a, c, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(a, c)
	b.tape.Record(ops.NewMulOp(a, c, result))
	return result
}

// Scale multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) Scale(a *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := b.inner.Scale(a, s)
	b.tape.Record(ops.NewScaleOp(a, result, s))
	return result
}

// AddScalar adds a constant and records the operation.
func (b *AutodiffBackend[B]) AddScalar(a *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := b.inner.AddScalar(a, s)
	b.tape.Record(ops.NewAddScalarOp(a, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(a, c)
	b.tape.Record(ops.NewMatMulOp(a, c, result))
	return result
}

// Transpose transposes a matrix and records the operation.
func (b *AutodiffBackend[B]) Transpose(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Transpose(a)
	b.tape.Record(ops.NewTransposeOp(a, result))
	return result
}

// Sum reduces to a scalar and records the operation.
func (b *AutodiffBackend[B]) Sum(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(a)
	b.tape.Record(ops.NewSumOp(a, result))
	return result
}

// Expand broadcasts a scalar and records the operation.
func (b *AutodiffBackend[B]) Expand(s *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Expand(s, shape)
	b.tape.Record(ops.NewExpandOp(s, result))
	return result
}

// SumRows sums over rows and records the operation.
func (b *AutodiffBackend[B]) SumRows(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.SumRows(a)
	b.tape.Record(ops.NewSumRowsOp(a, result))
	return result
}

// BroadcastRows repeats a row vector and records the operation.
func (b *AutodiffBackend[B]) BroadcastRows(v *tensor.RawTensor, rows int) *tensor.RawTensor {
	result := b.inner.BroadcastRows(v, rows)
	b.tape.Record(ops.NewBroadcastRowsOp(v, result))
	return result
}

// SumCols sums over columns and records the operation.
func (b *AutodiffBackend[B]) SumCols(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.SumCols(a)
	b.tape.Record(ops.NewSumColsOp(a, result))
	return result
}

// BroadcastCols repeats a column vector and records the operation.
func (b *AutodiffBackend[B]) BroadcastCols(v *tensor.RawTensor, cols int) *tensor.RawTensor {
	result := b.inner.BroadcastCols(v, cols)
	b.tape.Record(ops.NewBroadcastColsOp(v, result))
	return result
}

// ReLU applies max(0, x) and records the operation.
func (b *AutodiffBackend[B]) ReLU(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(a)
	b.tape.Record(ops.NewReLUOp(a, result))
	return result
}

// Rsqrt applies 1/sqrt(x) and records the operation.
func (b *AutodiffBackend[B]) Rsqrt(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Rsqrt(a)
	b.tape.Record(ops.NewRsqrtOp(a, result))
	return result
}

// Softmax applies a row-wise softmax and records the operation.
func (b *AutodiffBackend[B]) Softmax(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Softmax(a)
	b.tape.Record(ops.NewSoftmaxOp(a, result))
	return result
}

// LogSumExp applies a row-wise log-sum-exp and records the operation.
func (b *AutodiffBackend[B]) LogSumExp(a *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.LogSumExp(a)
	b.tape.Record(ops.NewLogSumExpOp(a, result))
	return result
}
