// Package nn implements the feed-forward model used by the meta-learner.
//
// This package provides:
//   - Params: ordered name -> tensor mapping (shared and fast weights)
//   - Update: the key-wise gradient step new[k] = old[k] - lr*grad[k]
//   - MLP: fully connected network evaluated against any Params, with
//     optional batch or layer normalization
//   - Loss functions: MSE and softmax cross-entropy, per sample
//   - WeightStore: initial weights, random or loaded from a pretrained artifact
//
// Weights are not owned by layers. A forward pass takes the mapping to
// evaluate as an argument so the same network can run with the shared
// initialization or with any adapted copy of it.
package nn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/tensor"
)

// Params is an ordered mapping from parameter name to tensor.
//
// Insertion order is preserved and defines iteration order everywhere
// (gradients, optimizer state, checkpoints). A Params value is never mutated
// by the update rule: Update returns a new mapping.
type Params struct {
	names  []string
	values map[string]*tensor.RawTensor
}

// NewParams creates an empty mapping.
func NewParams() *Params {
	return &Params{values: make(map[string]*tensor.RawTensor)}
}

// ParamsFrom builds a mapping from parallel name and tensor slices.
func ParamsFrom(names []string, tensors []*tensor.RawTensor) (*Params, error) {
	if len(names) != len(tensors) {
		return nil, fmt.Errorf("params: %d names for %d tensors", len(names), len(tensors))
	}
	p := NewParams()
	for i, name := range names {
		if p.Has(name) {
			return nil, fmt.Errorf("params: duplicate name %q", name)
		}
		p.Set(name, tensors[i])
	}
	return p, nil
}

// Set stores t under name, appending name to the order if it is new.
func (p *Params) Set(name string, t *tensor.RawTensor) {
	if _, ok := p.values[name]; !ok {
		p.names = append(p.names, name)
	}
	p.values[name] = t
}

// Get returns the tensor stored under name.
func (p *Params) Get(name string) (*tensor.RawTensor, bool) {
	t, ok := p.values[name]
	return t, ok
}

// Has reports whether name is present.
func (p *Params) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Len returns the number of entries.
func (p *Params) Len() int {
	return len(p.names)
}

// Names returns the names in insertion order.
func (p *Params) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Tensors returns the tensors in insertion order.
func (p *Params) Tensors() []*tensor.RawTensor {
	out := make([]*tensor.RawTensor, len(p.names))
	for i, name := range p.names {
		out[i] = p.values[name]
	}
	return out
}

// Clone returns a deep copy: new mapping, new tensors.
func (p *Params) Clone() *Params {
	c := NewParams()
	for _, name := range p.names {
		c.Set(name, p.values[name].Clone())
	}
	return c
}

// Merge returns a new mapping holding p's entries followed by other's.
// Tensors are shared, not copied. Duplicate names are an error.
func (p *Params) Merge(other *Params) (*Params, error) {
	m := NewParams()
	for _, src := range []*Params{p, other} {
		for _, name := range src.names {
			if m.Has(name) {
				return nil, fmt.Errorf("params: duplicate name %q", name)
			}
			m.Set(name, src.values[name])
		}
	}
	return m, nil
}

// StateDict returns an unordered name -> tensor view for serialization.
func (p *Params) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(p.names))
	for name, t := range p.values {
		out[name] = t
	}
	return out
}

// AllFinite reports whether every tensor is free of NaN and Inf.
func (p *Params) AllFinite() bool {
	for _, t := range p.values {
		if !t.IsFinite() {
			return false
		}
	}
	return true
}

// CheckCompatible verifies that other has exactly p's key set and that
// every tensor has the same shape. Errors wrap ErrShapeMismatch.
func (p *Params) CheckCompatible(other *Params) error {
	if p.Len() != other.Len() {
		return errors.Wrapf(ErrShapeMismatch, "key count %d != %d", p.Len(), other.Len())
	}
	for _, name := range p.names {
		o, ok := other.values[name]
		if !ok {
			return errors.Wrapf(ErrShapeMismatch, "missing key %q", name)
		}
		if !p.values[name].Shape().Equal(o.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "%s: shape %v != %v", name, p.values[name].Shape(), o.Shape())
		}
	}
	return nil
}

// Update applies one gradient-descent step key by key:
//
//	new[k] = w[k] - lr * g[k]
//
// The computation runs on backend, so on a recording backend the result
// stays differentiable with respect to w (and to g, unless g is detached).
// The output has w's key order and shapes. Incompatible mappings fail
// with ErrShapeMismatch before any computation.
func Update(backend tensor.Backend, w, g *Params, lr float64) (*Params, error) {
	if err := w.CheckCompatible(g); err != nil {
		return nil, errors.Wrap(err, "update")
	}
	out := NewParams()
	for _, name := range w.names {
		out.Set(name, backend.Sub(w.values[name], backend.Scale(g.values[name], lr)))
	}
	return out, nil
}
