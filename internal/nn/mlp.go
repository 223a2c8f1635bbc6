package nn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/tensor"
)

// BuildState tracks whether a model's shared weights have been installed.
type BuildState int

const (
	// Uninitialized means Build has not run yet.
	Uninitialized BuildState = iota
	// Built means shared weights are installed and their key set is frozen.
	Built
)

func (s BuildState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Built:
		return "built"
	default:
		return fmt.Sprintf("BuildState(%d)", int(s))
	}
}

// LayerShape is the [in, out] shape of one affine layer.
type LayerShape struct {
	In, Out int
}

// MLP is a fully connected network:
//
//	h_1 = relu(norm_1(x @ w1 + b1))
//	...
//	h_L = relu(norm_L(h_{L-1} @ wL + bL))
//	y   = h_L @ w{L+1} + b{L+1}
//
// The network holds its architecture, its normalization parameters and,
// once built, the shared weights. Forward evaluates any compatible weight
// mapping, shared or adapted.
//
// Concurrency: Forward with reuse=true only reads the MLP and may be called
// from many goroutines. Build and Forward with reuse=false mutate it and
// must not overlap with anything else.
type MLP struct {
	dimInput  int
	dimHidden []int
	dimOutput int
	norm      *Norm

	state   BuildState
	weights *Params
}

// NewMLP creates an unbuilt network. dimHidden may be empty, giving a
// single affine layer.
func NewMLP(dimInput int, dimHidden []int, dimOutput int, mode NormMode) (*MLP, error) {
	if dimInput <= 0 || dimOutput <= 0 {
		return nil, fmt.Errorf("mlp: dim_input and dim_output must be > 0 (got %d, %d)", dimInput, dimOutput)
	}
	for i, h := range dimHidden {
		if h <= 0 {
			return nil, fmt.Errorf("mlp: dim_hidden[%d] must be > 0 (got %d)", i, h)
		}
	}
	hidden := make([]int, len(dimHidden))
	copy(hidden, dimHidden)

	norm, err := NewNorm(mode, hidden)
	if err != nil {
		return nil, err
	}

	return &MLP{
		dimInput:  dimInput,
		dimHidden: hidden,
		dimOutput: dimOutput,
		norm:      norm,
	}, nil
}

// Layers returns the affine layer shapes in order.
func (m *MLP) Layers() []LayerShape {
	layers := make([]LayerShape, 0, len(m.dimHidden)+1)
	in := m.dimInput
	for _, h := range m.dimHidden {
		layers = append(layers, LayerShape{In: in, Out: h})
		in = h
	}
	return append(layers, LayerShape{In: in, Out: m.dimOutput})
}

// DimInput returns the input feature count.
func (m *MLP) DimInput() int { return m.dimInput }

// DimOutput returns the output feature count.
func (m *MLP) DimOutput() int { return m.dimOutput }

// DimHidden returns a copy of the hidden layer widths.
func (m *MLP) DimHidden() []int {
	out := make([]int, len(m.dimHidden))
	copy(out, m.dimHidden)
	return out
}

// Norm returns the normalization layer.
func (m *MLP) Norm() *Norm { return m.norm }

// State returns the build state of the shared weights.
func (m *MLP) State() BuildState { return m.state }

// Build installs the shared weights produced by store. It runs once: a
// second call fails with ErrAlreadyBuilt. The produced mapping is
// validated against the architecture before it is installed.
func (m *MLP) Build(store WeightStore) (*Params, error) {
	if m.state == Built {
		return nil, ErrAlreadyBuilt
	}
	weights, err := store.Initialize()
	if err != nil {
		return nil, errors.Wrap(err, "initialize weights")
	}
	if err := m.CheckWeights(weights); err != nil {
		return nil, err
	}
	m.weights = weights
	m.state = Built
	return weights, nil
}

// Weights returns the shared weights, or ErrNotBuilt.
func (m *MLP) Weights() (*Params, error) {
	if m.state != Built {
		return nil, ErrNotBuilt
	}
	return m.weights, nil
}

// Trainable returns the shared weights followed by the normalization
// parameters. Tensors are shared with the model.
func (m *MLP) Trainable() (*Params, error) {
	w, err := m.Weights()
	if err != nil {
		return nil, err
	}
	return w.Merge(m.norm.Params())
}

// WeightNames returns the expected weight names: w1, b1, ..., w{L+1}, b{L+1}.
func (m *MLP) WeightNames() []string {
	names := make([]string, 0, 2*(len(m.dimHidden)+1))
	for i := range m.Layers() {
		names = append(names, weightName(i+1), biasName(i+1))
	}
	return names
}

// CheckWeights verifies that weights holds exactly the architecture's
// tensors with the right shapes. Errors wrap ErrShapeMismatch.
func (m *MLP) CheckWeights(weights *Params) error {
	layers := m.Layers()
	if weights.Len() != 2*len(layers) {
		return errors.Wrapf(ErrShapeMismatch, "expected %d weight tensors, got %d", 2*len(layers), weights.Len())
	}
	for i, l := range layers {
		if err := expectShape(weights, weightName(i+1), tensor.Shape{l.In, l.Out}); err != nil {
			return err
		}
		if err := expectShape(weights, biasName(i+1), tensor.Shape{l.Out}); err != nil {
			return err
		}
	}
	return nil
}

// Forward evaluates the network on x ([batch, dim_input]) with the given
// weight mapping. See Norm.Apply for the meaning of reuse.
//
// Returns [batch, dim_output].
func (m *MLP) Forward(backend tensor.Backend, x *tensor.RawTensor, weights *Params, reuse bool) (*tensor.RawTensor, error) {
	if len(x.Shape()) != 2 || x.Shape()[1] != m.dimInput {
		return nil, errors.Wrapf(ErrShapeMismatch, "input shape %v, expected [batch, %d]", x.Shape(), m.dimInput)
	}
	if err := m.CheckWeights(weights); err != nil {
		return nil, err
	}
	if err := m.norm.Prepare(reuse); err != nil {
		return nil, err
	}

	rows := x.Shape()[0]
	layers := m.Layers()
	h := x
	for i := range layers {
		w, _ := weights.Get(weightName(i + 1))
		b, _ := weights.Get(biasName(i + 1))
		h = backend.Add(backend.MatMul(h, w), backend.BroadcastRows(b, rows))
		if i == len(layers)-1 {
			break
		}
		h = backend.ReLU(m.norm.Apply(backend, i+1, h))
	}
	return h, nil
}

func weightName(layer int) string { return fmt.Sprintf("w%d", layer) }

func biasName(layer int) string { return fmt.Sprintf("b%d", layer) }

func expectShape(p *Params, name string, shape tensor.Shape) error {
	t, ok := p.Get(name)
	if !ok {
		return errors.Wrapf(ErrShapeMismatch, "missing %q", name)
	}
	if !t.Shape().Equal(shape) {
		return errors.Wrapf(ErrShapeMismatch, "%s: shape %v, expected %v", name, t.Shape(), shape)
	}
	return nil
}
