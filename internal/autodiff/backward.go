package autodiff

import (
	"github.com/born-ml/maml/internal/tensor"
)

// Gradients computes d(target)/d(w) for every tensor in wrt.
//
// The target is seeded with ones of its own shape, so for a non-scalar
// target the result is the gradient of the sum of its elements. Tensors in
// wrt that do not influence target receive zeros of their own shape.
//
// When createGraph is true the returned gradients are recorded on this
// backend's tape and may be used in further differentiable computation
// (second-order gradients). When false they are detached constants.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := backend.Sum(backend.Mul(w, w))
//	g := backend.Gradients(loss, []*tensor.RawTensor{w}, true)[0] // 2w, recorded
func (b *AutodiffBackend[B]) Gradients(
	target *tensor.RawTensor,
	wrt []*tensor.RawTensor,
	createGraph bool,
) []*tensor.RawTensor {
	seed := tensor.Ones(target.Shape())
	grads := b.tape.Backward(target, seed, b, createGraph)

	result := make([]*tensor.RawTensor, len(wrt))
	for i, w := range wrt {
		if g, ok := grads[w]; ok {
			result[i] = g
			continue
		}
		result[i] = tensor.Zeros(w.Shape())
	}
	return result
}
