// Package ops defines operation interfaces and implementations for automatic differentiation.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the backend
//   - Backward pass: computes gradients for inputs given output gradient
//
// Backward rules are written against tensor.Backend, never against raw
// slices, except where the derivative is piecewise constant (the ReLU mask).
// When the backend passed to Backward is a recording autodiff backend, the
// gradient computation is itself recorded and can be differentiated again.
//
// Supported operations:
//   - AddOp, SubOp, MulOp: element-wise arithmetic
//   - ScaleOp, AddScalarOp: arithmetic with a constant
//   - MatMulOp, TransposeOp: matrix products (d(A@B)/dA = grad@B^T, d(A@B)/dB = A^T@grad)
//   - SumOp/ExpandOp, SumRowsOp/BroadcastRowsOp, SumColsOp/BroadcastColsOp: reduction pairs
//   - ReLUOp, RsqrtOp, SoftmaxOp, LogSumExpOp: nonlinearities
package ops

import "github.com/born-ml/maml/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor.
	//
	// Example for AddOp:
	//   inputs: [a, b]
	//   outputGrad: dL/d(a+b)
	//   returns: [dL/d(a+b), dL/d(a+b)] (gradient flows equally to both inputs)
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// node holds the bookkeeping shared by every operation.
type node struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newNode(output *tensor.RawTensor, inputs ...*tensor.RawTensor) node {
	return node{inputs: inputs, output: output}
}

// Inputs returns the input tensors.
func (n *node) Inputs() []*tensor.RawTensor {
	return n.inputs
}

// Output returns the output tensor.
func (n *node) Output() *tensor.RawTensor {
	return n.output
}
