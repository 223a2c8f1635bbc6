package optim

import (
	"strings"

	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	lr         float64
	momentum   float64
	velocities map[string]*tensor.RawTensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate (default: 0.01)
	Momentum float64 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[string]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
func (s *SGD) Step(params, grads *nn.Params) error {
	if err := checkGrads(params, grads); err != nil {
		return err
	}

	for _, name := range params.Names() {
		p, _ := params.Get(name)
		g, _ := grads.Get(name)

		if s.momentum == 0 {
			blas64.Axpy(-s.lr, vec(g), vec(p))
			continue
		}

		v, ok := s.velocities[name]
		if !ok {
			v = tensor.Zeros(p.Shape())
			s.velocities[name] = v
		}
		blas64.Scal(s.momentum, vec(v))
		blas64.Axpy(1, vec(g), vec(v))
		blas64.Axpy(-s.lr, vec(v), vec(p))
	}
	return nil
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// StateDict returns velocities as "velocity.<name>".
func (s *SGD) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(s.velocities))
	for name, v := range s.velocities {
		out["velocity."+name] = v.Clone()
	}
	return out
}

// LoadStateDict restores velocities. Unknown keys are ignored.
func (s *SGD) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for key, v := range state {
		if name, ok := strings.CutPrefix(key, "velocity."); ok {
			s.velocities[name] = v.Clone()
		}
	}
	return nil
}
