package cpu

import (
	"fmt"

	"github.com/born-ml/maml/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N)
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := tensor.MustNewRaw(tensor.Shape{m, n})

	// mat.Dense wraps the backing slices without copying.
	dst := mat.NewDense(m, n, result.Data())
	dst.Mul(mat.NewDense(m, k, a.Data()), mat.NewDense(k, n, b.Data()))

	return result
}

// Transpose swaps the two axes of a 2D tensor.
func (cpu *CPUBackend) Transpose(a *tensor.RawTensor) *tensor.RawTensor {
	shape := a.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("transpose: only 2D tensors supported, got %dD", len(shape)))
	}
	rows, cols := shape[0], shape[1]

	result := tensor.MustNewRaw(tensor.Shape{cols, rows})
	dst := mat.NewDense(cols, rows, result.Data())
	dst.Copy(mat.NewDense(rows, cols, a.Data()).T())

	return result
}
