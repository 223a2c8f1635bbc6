package cpu

import (
	"math"

	"github.com/born-ml/maml/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(a *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNewRaw(a.Shape())
	out := result.Data()
	for i, v := range a.Data() {
		if v > 0 {
			out[i] = v
		}
	}
	return result
}

// Rsqrt computes 1/sqrt(x) element-wise.
func (cpu *CPUBackend) Rsqrt(a *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNewRaw(a.Shape())
	out := result.Data()
	for i, v := range a.Data() {
		out[i] = 1 / math.Sqrt(v)
	}
	return result
}

// Softmax applies softmax along the last dimension of a [n,c] matrix.
//
//	softmax(x)_i = exp(x_i - logsumexp(x))
func (cpu *CPUBackend) Softmax(a *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := matrix("softmax", a)
	result := tensor.MustNewRaw(a.Shape())
	in, out := a.Data(), result.Data()
	for i := 0; i < rows; i++ {
		row := in[i*cols : (i+1)*cols]
		lse := floats.LogSumExp(row)
		for j, v := range row {
			out[i*cols+j] = math.Exp(v - lse)
		}
	}
	return result
}

// LogSumExp computes log(Σ_j exp(x_ij)) for every row of a [n,c] matrix.
// gonum shifts by the row maximum, so large logits do not overflow.
func (cpu *CPUBackend) LogSumExp(a *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := matrix("logsumexp", a)
	result := tensor.MustNewRaw(tensor.Shape{rows})
	in, out := a.Data(), result.Data()
	for i := 0; i < rows; i++ {
		out[i] = floats.LogSumExp(in[i*cols : (i+1)*cols])
	}
	return result
}
