package ops

import (
	"github.com/born-ml/maml/internal/tensor"
)

// ReLUOp represents a ReLU (Rectified Linear Unit) activation: output = max(0, x).
//
// Backward pass:
//   - d(ReLU(x))/dx = 1 if x > 0, else 0
//
// The mask is a constant: ReLU is piecewise linear, so its second
// derivative is zero almost everywhere and nothing is lost by not
// recording it.
type ReLUOp struct{ node }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{newNode(output, input)}
}

// Backward computes input gradient for ReLU.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, reluMask(op.inputs[0]))}
}

// reluMask creates a binary mask where input > 0.
func reluMask(input *tensor.RawTensor) *tensor.RawTensor {
	mask := tensor.MustNewRaw(input.Shape())
	maskData := mask.Data()
	for i, val := range input.Data() {
		if val > 0 {
			maskData[i] = 1
		}
	}
	return mask
}

// RsqrtOp represents output = 1/sqrt(x).
//
// Backward pass:
//   - d(x^-1/2)/dx = -1/2 * x^-3/2 = -1/2 * output³
//
// The rule is written in terms of the recorded output so that the
// derivative itself stays differentiable.
type RsqrtOp struct{ node }

// NewRsqrtOp creates a new RsqrtOp.
func NewRsqrtOp(input, output *tensor.RawTensor) *RsqrtOp {
	return &RsqrtOp{newNode(output, input)}
}

// Backward computes input gradient for Rsqrt.
func (op *RsqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	out := op.output
	cubed := backend.Mul(out, backend.Mul(out, out))
	return []*tensor.RawTensor{backend.Scale(backend.Mul(outputGrad, cubed), -0.5)}
}
