package ops

import "github.com/born-ml/maml/internal/tensor"

// SoftmaxOp represents a row-wise softmax over a [n,c] matrix.
//
// Backward pass (per row):
//
//	∂L/∂x_j = s_j * (∂L/∂s_j - Σ_i ∂L/∂s_i * s_i)
type SoftmaxOp struct{ node }

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(input, output *tensor.RawTensor) *SoftmaxOp {
	return &SoftmaxOp{newNode(output, input)}
}

// Backward computes input gradient for softmax.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	s := op.output
	cols := s.Shape()[1]

	dot := backend.SumCols(backend.Mul(outputGrad, s))
	centered := backend.Sub(outputGrad, backend.BroadcastCols(dot, cols))

	return []*tensor.RawTensor{backend.Mul(s, centered)}
}

// LogSumExpOp represents a row-wise log-sum-exp: [n,c] -> [n].
//
// Backward pass:
//
//	∂L/∂x_ij = ∂L/∂y_i * softmax(x)_ij
//
// The softmax is recomputed through the backend, which records it when a
// graph over the gradient is being built.
type LogSumExpOp struct{ node }

// NewLogSumExpOp creates a new LogSumExpOp.
func NewLogSumExpOp(input, output *tensor.RawTensor) *LogSumExpOp {
	return &LogSumExpOp{newNode(output, input)}
}

// Backward computes input gradient for log-sum-exp.
func (op *LogSumExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	cols := x.Shape()[1]
	return []*tensor.RawTensor{backend.Mul(backend.BroadcastCols(outputGrad, cols), backend.Softmax(x))}
}
