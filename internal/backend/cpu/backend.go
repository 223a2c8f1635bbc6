// Package cpu implements the CPU backend on top of gonum kernels.
package cpu

import (
	"fmt"

	"github.com/born-ml/maml/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// CPUBackend implements tensor operations on CPU.
// It holds no state, so a single value may be shared across goroutines.
type CPUBackend struct{}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	result := newLike("add", a, b)
	floats.AddTo(result.Data(), a.Data(), b.Data())
	return result
}

// Sub performs element-wise subtraction.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	result := newLike("sub", a, b)
	floats.SubTo(result.Data(), a.Data(), b.Data())
	return result
}

// Mul performs element-wise multiplication.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	result := newLike("mul", a, b)
	floats.MulTo(result.Data(), a.Data(), b.Data())
	return result
}

// Scale multiplies every element by s.
func (cpu *CPUBackend) Scale(a *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := tensor.MustNewRaw(a.Shape())
	floats.ScaleTo(result.Data(), s, a.Data())
	return result
}

// AddScalar adds s to every element.
func (cpu *CPUBackend) AddScalar(a *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := a.Clone()
	floats.AddConst(s, result.Data())
	return result
}

// newLike allocates the result of an element-wise binary op, enforcing that
// both operands have the same shape. No broadcasting is performed here; the
// explicit Broadcast* operations exist for that.
func newLike(op string, a, b *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
	return tensor.MustNewRaw(a.Shape())
}
