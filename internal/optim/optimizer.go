// Package optim implements optimization algorithms for the shared parameters.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers update parameter tensors in place. State is keyed by
// parameter name, so the same optimizer keeps working when the trainable
// mapping grows (normalization parameters are created lazily) and its
// state can be checkpointed by name.
//
// Example usage:
//
//	opt := optim.NewAdam(optim.AdamConfig{LR: 0.001})
//	grads := ... // nn.Params with the same keys and shapes as params
//	if err := opt.Step(params, grads); err != nil {
//	    return err
//	}
package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to every parameter in place. grads must have
	// exactly params' keys and shapes.
	Step(params, grads *nn.Params) error

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate.
	SetLR(lr float64)

	// StateDict returns the optimizer state as named tensors.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores state produced by StateDict.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float64 // Learning rate
}

// checkGrads verifies grads against params before anything is mutated.
func checkGrads(params, grads *nn.Params) error {
	if err := params.CheckCompatible(grads); err != nil {
		return errors.Wrap(err, "optimizer step")
	}
	return nil
}

// vec views a tensor's storage as a unit-stride BLAS vector.
func vec(t *tensor.RawTensor) blas64.Vector {
	return blas64.Vector{N: t.NumElements(), Inc: 1, Data: t.Data()}
}
