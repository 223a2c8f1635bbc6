package nn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/tensor"
)

// NormMode selects the normalization applied after each hidden affine layer.
type NormMode string

// Supported normalization modes.
const (
	NormNone  NormMode = "none"
	NormBatch NormMode = "batch_norm"
	NormLayer NormMode = "layer_norm"
)

// Epsilons added to the variance before the inverse square root.
const (
	BatchNormEpsilon = 1e-3
	LayerNormEpsilon = 1e-12
)

// ParseNormMode maps a configuration identifier to a NormMode.
// The empty string and "None" select NormNone.
func ParseNormMode(s string) (NormMode, error) {
	switch s {
	case "", "none", "None":
		return NormNone, nil
	case string(NormBatch):
		return NormBatch, nil
	case string(NormLayer):
		return NormLayer, nil
	default:
		return "", errors.Wrapf(ErrUnknownOption, "norm %q", s)
	}
}

// Norm holds the normalization parameters for every hidden layer position.
//
//   - batch_norm: statistics over the batch axis, learned shift (beta) only
//   - layer_norm: statistics over the feature axis, learned scale (gamma) and shift (beta)
//   - none: identity
//
// Batch statistics are always those of the current batch; no running
// averages are kept.
//
// Parameters are created by the first non-reusing forward pass and reused
// by every later one. Names are norm{i}.beta and norm{i}.gamma, i counting
// hidden layers from 1.
type Norm struct {
	mode    NormMode
	widths  []int
	created bool
	params  *Params
}

// NewNorm creates normalization state for hidden layers of the given widths.
func NewNorm(mode NormMode, widths []int) (*Norm, error) {
	switch mode {
	case NormNone, NormBatch, NormLayer:
	default:
		return nil, errors.Wrapf(ErrUnknownOption, "norm %q", mode)
	}
	return &Norm{mode: mode, widths: widths, params: NewParams()}, nil
}

// Mode returns the normalization mode.
func (n *Norm) Mode() NormMode { return n.mode }

// Created reports whether the parameters exist.
func (n *Norm) Created() bool { return n.created }

// Params returns the normalization parameters (empty for NormNone or
// before creation). Tensors are shared with the layer.
func (n *Norm) Params() *Params { return n.params }

// Prepare enforces the reuse contract for one forward pass.
//
// reuse=false creates the parameters and fails with ErrNormExists if they
// already exist. reuse=true requires them to exist (ErrNormMissing).
// With NormNone there is nothing to create or share and reuse is ignored.
func (n *Norm) Prepare(reuse bool) error {
	if n.mode == NormNone {
		return nil
	}
	if !reuse {
		if n.created {
			return ErrNormExists
		}
		n.create()
		return nil
	}
	if !n.created {
		return ErrNormMissing
	}
	return nil
}

func (n *Norm) create() {
	for i, width := range n.widths {
		if n.mode == NormLayer {
			n.params.Set(gammaName(i+1), tensor.Ones(tensor.Shape{width}))
		}
		n.params.Set(betaName(i+1), tensor.Zeros(tensor.Shape{width}))
	}
	n.created = true
}

// Load installs previously saved parameters (checkpoint restore). The key
// set and shapes must match what creation would produce.
func (n *Norm) Load(p *Params) error {
	if n.mode == NormNone {
		if p.Len() != 0 {
			return errors.Wrap(ErrShapeMismatch, "norm none takes no parameters")
		}
		return nil
	}
	expected := &Norm{mode: n.mode, widths: n.widths, params: NewParams()}
	expected.create()
	if err := expected.params.CheckCompatible(p); err != nil {
		return errors.Wrap(err, "load norm parameters")
	}
	n.params = NewParams()
	for _, name := range expected.params.Names() {
		t, _ := p.Get(name)
		n.params.Set(name, t)
	}
	n.created = true
	return nil
}

// Apply normalizes h ([batch, width]) for hidden layer position layer (1-based).
func (n *Norm) Apply(backend tensor.Backend, layer int, h *tensor.RawTensor) *tensor.RawTensor {
	switch n.mode {
	case NormBatch:
		return n.batchNorm(backend, layer, h)
	case NormLayer:
		return n.layerNorm(backend, layer, h)
	default:
		return h
	}
}

func (n *Norm) batchNorm(backend tensor.Backend, layer int, h *tensor.RawTensor) *tensor.RawTensor {
	rows, _ := h.Shape().Matrix()
	beta, _ := n.params.Get(betaName(layer))

	mean := backend.Scale(backend.SumRows(h), 1/float64(rows))
	centered := backend.Sub(h, backend.BroadcastRows(mean, rows))
	variance := backend.Scale(backend.SumRows(backend.Mul(centered, centered)), 1/float64(rows))
	inv := backend.Rsqrt(backend.AddScalar(variance, BatchNormEpsilon))

	normed := backend.Mul(centered, backend.BroadcastRows(inv, rows))
	return backend.Add(normed, backend.BroadcastRows(beta, rows))
}

func (n *Norm) layerNorm(backend tensor.Backend, layer int, h *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := h.Shape().Matrix()
	gamma, _ := n.params.Get(gammaName(layer))
	beta, _ := n.params.Get(betaName(layer))

	mean := backend.Scale(backend.SumCols(h), 1/float64(cols))
	centered := backend.Sub(h, backend.BroadcastCols(mean, cols))
	variance := backend.Scale(backend.SumCols(backend.Mul(centered, centered)), 1/float64(cols))
	inv := backend.Rsqrt(backend.AddScalar(variance, LayerNormEpsilon))

	normed := backend.Mul(centered, backend.BroadcastCols(inv, cols))
	scaled := backend.Mul(normed, backend.BroadcastRows(gamma, rows))
	return backend.Add(scaled, backend.BroadcastRows(beta, rows))
}

func betaName(layer int) string { return fmt.Sprintf("norm%d.beta", layer) }

func gammaName(layer int) string { return fmt.Sprintf("norm%d.gamma", layer) }
