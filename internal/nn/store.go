package nn

import (
	"fmt"
	"io/fs"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/backend/cpu"
	"github.com/born-ml/maml/internal/serialization"
	"github.com/born-ml/maml/internal/tensor"
)

// WeightStore produces the initial shared weight mapping.
type WeightStore interface {
	Initialize() (*Params, error)
}

// InitStddev is the standard deviation of the truncated normal used for
// randomly initialized weight matrices.
const InitStddev = 0.01

// Store identifiers accepted by configuration.
const (
	StoreMLP        = "mlp"
	StorePretrained = "pretrained"
)

// RandomStore initializes every layer of an architecture at random:
// weights [in, out] from a truncated normal (stddev InitStddev, redrawn
// outside two standard deviations), biases zero.
//
// A RandomStore draws from a PCG stream seeded with Seed, so Initialize
// is bit-reproducible.
type RandomStore struct {
	Layers []LayerShape
	Seed   uint64
}

// NewRandomStore creates a random store for m's architecture.
func NewRandomStore(m *MLP, seed uint64) *RandomStore {
	return &RandomStore{Layers: m.Layers(), Seed: seed}
}

// Initialize returns w1, b1, ..., w{L+1}, b{L+1}.
func (s *RandomStore) Initialize() (*Params, error) {
	src := newSource(s.Seed)
	p := NewParams()
	for i, l := range s.Layers {
		if err := addRandomLayer(p, i+1, l, src); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PretrainedStore loads the first three layers from a SafeTensors artifact
// holding arr_0..arr_5 (weight, bias pairs with weights stored [out, in])
// and adds one randomly initialized output layer.
type PretrainedStore struct {
	Path   string
	Layers []LayerShape
	Seed   uint64
}

// PretrainedLayers is the number of layers the artifact supplies.
const PretrainedLayers = 3

// NewPretrainedStore creates a pretrained store for m's architecture,
// which must have exactly PretrainedLayers hidden layers.
func NewPretrainedStore(m *MLP, path string, seed uint64) (*PretrainedStore, error) {
	layers := m.Layers()
	if len(layers) != PretrainedLayers+1 {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"pretrained weights need %d hidden layers, architecture has %d", PretrainedLayers, len(layers)-1)
	}
	return &PretrainedStore{Path: path, Layers: layers, Seed: seed}, nil
}

// Initialize reads the artifact, transposes the weight matrices to
// [in, out] and validates every shape against the architecture.
// A missing file yields ErrArtifactMissing.
func (s *PretrainedStore) Initialize() (*Params, error) {
	file, err := serialization.ReadSafeTensors(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrArtifactMissing, "%s", s.Path)
		}
		return nil, errors.Wrapf(err, "read pretrained artifact %s", s.Path)
	}

	p := NewParams()
	for i := 0; i < PretrainedLayers; i++ {
		l := s.Layers[i]
		w, err := file.Tensor(arrName(2 * i))
		if err != nil {
			return nil, errors.Wrap(err, "pretrained artifact")
		}
		b, err := file.Tensor(arrName(2*i + 1))
		if err != nil {
			return nil, errors.Wrap(err, "pretrained artifact")
		}
		if !w.Shape().Equal(tensor.Shape{l.Out, l.In}) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: shape %v, expected %v",
				arrName(2*i), w.Shape(), tensor.Shape{l.Out, l.In})
		}
		if !b.Shape().Equal(tensor.Shape{l.Out}) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: shape %v, expected %v",
				arrName(2*i+1), b.Shape(), tensor.Shape{l.Out})
		}
		p.Set(weightName(i+1), cpu.New().Transpose(w))
		p.Set(biasName(i+1), b)
	}

	if err := addRandomLayer(p, PretrainedLayers+1, s.Layers[PretrainedLayers], newSource(s.Seed)); err != nil {
		return nil, err
	}
	return p, nil
}

// StaticStore hands out a fixed mapping, e.g. one restored from a checkpoint.
type StaticStore struct {
	Weights *Params
}

// Initialize returns a deep copy of the stored mapping.
func (s *StaticStore) Initialize() (*Params, error) {
	if s.Weights == nil {
		return nil, errors.New("static store: no weights")
	}
	return s.Weights.Clone(), nil
}

func addRandomLayer(p *Params, layer int, l LayerShape, src rand.Source) error {
	w, err := tensor.TruncatedNormal(tensor.Shape{l.In, l.Out}, InitStddev, src)
	if err != nil {
		return errors.Wrapf(err, "layer %d", layer)
	}
	p.Set(weightName(layer), w)
	p.Set(biasName(layer), tensor.Zeros(tensor.Shape{l.Out}))
	return nil
}

func newSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

func arrName(i int) string {
	return fmt.Sprintf("arr_%d", i)
}
