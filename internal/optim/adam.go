package optim

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Moments are created on first sight of a parameter name, so parameters
// that join the mapping later start from zero moments.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int                          // Timestep for bias correction
	m     map[string]*tensor.RawTensor // First moment estimates
	v     map[string]*tensor.RawTensor // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float64    // Learning rate (default: 0.001)
	Betas [2]float64 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float64    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer.
//
// Default hyperparameters:
//   - LR: 0.001
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Eps: 1e-8
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		m:     make(map[string]*tensor.RawTensor),
		v:     make(map[string]*tensor.RawTensor),
	}
}

// Step performs a single optimization step using Adam algorithm.
func (a *Adam) Step(params, grads *nn.Params) error {
	if err := checkGrads(params, grads); err != nil {
		return err
	}

	a.t++
	biasCorrection1 := 1.0 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1.0 - math.Pow(a.beta2, float64(a.t))

	for _, name := range params.Names() {
		p, _ := params.Get(name)
		g, _ := grads.Get(name)

		m, ok := a.m[name]
		if !ok {
			m = tensor.Zeros(p.Shape())
			a.m[name] = m
		}
		v, ok := a.v[name]
		if !ok {
			v = tensor.Zeros(p.Shape())
			a.v[name] = v
		}

		a.updateParameter(p, g, m, v, biasCorrection1, biasCorrection2)
	}
	return nil
}

// updateParameter performs Adam update for a single parameter.
func (a *Adam) updateParameter(p, g, m, v *tensor.RawTensor, biasCorrection1, biasCorrection2 float64) {
	// m = beta1*m + (1-beta1)*g
	blas64.Scal(a.beta1, vec(m))
	blas64.Axpy(1-a.beta1, vec(g), vec(m))

	// v = beta2*v + (1-beta2)*g²
	sq := make([]float64, g.NumElements())
	floats.MulTo(sq, g.Data(), g.Data())
	blas64.Scal(a.beta2, vec(v))
	blas64.Axpy(1-a.beta2, blas64.Vector{N: len(sq), Inc: 1, Data: sq}, vec(v))

	paramData, mData, vData := p.Data(), m.Data(), v.Data()
	for i := range paramData {
		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int { return a.t }

// StateDict returns "adam.t", "m.<name>" and "v.<name>".
func (a *Adam) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, 2*len(a.m)+1)
	out["adam.t"] = tensor.Scalar(float64(a.t))
	for name, m := range a.m {
		out["m."+name] = m.Clone()
	}
	for name, v := range a.v {
		out["v."+name] = v.Clone()
	}
	return out
}

// LoadStateDict restores state produced by StateDict.
func (a *Adam) LoadStateDict(state map[string]*tensor.RawTensor) error {
	step, ok := state["adam.t"]
	if !ok {
		return fmt.Errorf("adam state: missing timestep")
	}
	a.t = int(step.Item())
	for key, t := range state {
		switch {
		case strings.HasPrefix(key, "m."):
			a.m[strings.TrimPrefix(key, "m.")] = t.Clone()
		case strings.HasPrefix(key, "v."):
			a.v[strings.TrimPrefix(key, "v.")] = t.Clone()
		}
	}
	return nil
}
