package ops

import "github.com/born-ml/maml/internal/tensor"

// Reductions come in pairs with their broadcasting duals: the gradient of a
// sum is a broadcast of the output gradient, and the gradient of a broadcast
// is a sum. Keeping both directions as recorded operations is what makes
// higher-order gradients flow through reductions.

// SumOp reduces all elements to a scalar.
type SumOp struct{ node }

// NewSumOp creates a new SumOp.
func NewSumOp(a, output *tensor.RawTensor) *SumOp {
	return &SumOp{newNode(output, a)}
}

// Backward expands the scalar gradient back to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Expand(outputGrad, op.inputs[0].Shape())}
}

// ExpandOp broadcasts a scalar to a shape.
type ExpandOp struct{ node }

// NewExpandOp creates a new ExpandOp.
func NewExpandOp(s, output *tensor.RawTensor) *ExpandOp {
	return &ExpandOp{newNode(output, s)}
}

// Backward sums the gradient back to a scalar.
func (op *ExpandOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Sum(outputGrad)}
}

// SumRowsOp reduces [n,d] to [d].
type SumRowsOp struct{ node }

// NewSumRowsOp creates a new SumRowsOp.
func NewSumRowsOp(a, output *tensor.RawTensor) *SumRowsOp {
	return &SumRowsOp{newNode(output, a)}
}

// Backward broadcasts the [d] gradient over the n input rows.
func (op *SumRowsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.BroadcastRows(outputGrad, op.inputs[0].Shape()[0])}
}

// BroadcastRowsOp expands [d] to [n,d].
type BroadcastRowsOp struct{ node }

// NewBroadcastRowsOp creates a new BroadcastRowsOp.
func NewBroadcastRowsOp(v, output *tensor.RawTensor) *BroadcastRowsOp {
	return &BroadcastRowsOp{newNode(output, v)}
}

// Backward sums the [n,d] gradient over rows.
func (op *BroadcastRowsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.SumRows(outputGrad)}
}

// SumColsOp reduces [n,d] to [n].
type SumColsOp struct{ node }

// NewSumColsOp creates a new SumColsOp.
func NewSumColsOp(a, output *tensor.RawTensor) *SumColsOp {
	return &SumColsOp{newNode(output, a)}
}

// Backward broadcasts the [n] gradient over the d input columns.
func (op *SumColsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.BroadcastCols(outputGrad, op.inputs[0].Shape()[1])}
}

// BroadcastColsOp expands [n] to [n,d].
type BroadcastColsOp struct{ node }

// NewBroadcastColsOp creates a new BroadcastColsOp.
func NewBroadcastColsOp(v, output *tensor.RawTensor) *BroadcastColsOp {
	return &BroadcastColsOp{newNode(output, v)}
}

// Backward sums the [n,d] gradient over columns.
func (op *BroadcastColsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.SumCols(outputGrad)}
}
