package maml_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func matrix(t *testing.T, rows, cols int, data ...float64) *tensor.RawTensor {
	t.Helper()
	m, err := tensor.FromSlice(data, tensor.Shape{rows, cols})
	require.NoError(t, err)
	return m
}

// linearConfig is a single affine layer regression setup.
func linearConfig(dimInput, k int) maml.Config {
	cfg := maml.DefaultConfig()
	cfg.DimInput = dimInput
	cfg.DimOutput = 1
	cfg.DimHidden = nil
	cfg.NumUpdates = k
	cfg.TestNumUpdates = 0
	cfg.UpdateLR = 0.05
	cfg.MetaLR = 0.01
	cfg.MetaBatchSize = 2
	cfg.NumSamples = 10
	cfg.Objective = maml.ObjectiveMean
	cfg.Parallelism = 1
	cfg.Seed = 1
	return cfg
}

// smallConfig is a one-hidden-layer ReLU network.
func smallConfig(k int) maml.Config {
	cfg := linearConfig(2, k)
	cfg.DimHidden = []int{4}
	return cfg
}

func newLearner(t *testing.T, cfg maml.Config, opts maml.Options) *maml.Learner {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	l, err := maml.NewLearner(cfg, opts)
	require.NoError(t, err)
	return l
}

// linearTask builds y = a·x + c on fixed inputs with dimInput 2.
func linearTask(t *testing.T, a0, a1, c float64) *maml.Task {
	t.Helper()
	train := []float64{-1, 0.5, 0.3, -0.2, 0.8, 1, -0.6, -0.9}
	test := []float64{0.1, 0.7, -0.4, 0.2, 0.9, -1}
	labels := func(x []float64) []float64 {
		y := make([]float64, len(x)/2)
		for i := range y {
			y[i] = a0*x[2*i] + a1*x[2*i+1] + c
		}
		return y
	}
	return &maml.Task{
		TrainInputs: matrix(t, 4, 2, train...),
		TrainLabels: matrix(t, 4, 1, labels(train)...),
		TestInputs:  matrix(t, 3, 2, test...),
		TestLabels:  matrix(t, 3, 1, labels(test)...),
	}
}

func twoTasks(t *testing.T) *maml.Batch {
	return &maml.Batch{Tasks: []*maml.Task{
		linearTask(t, 1, -2, 0.5),
		linearTask(t, -0.5, 3, -1),
	}}
}

func staticStore(t *testing.T, names []string, data ...[]float64) *nn.StaticStore {
	t.Helper()
	p := nn.NewParams()
	for i, name := range names {
		r, err := tensor.FromSlice(data[i], shapeFor(name, len(data[i])))
		require.NoError(t, err)
		p.Set(name, r)
	}
	return &nn.StaticStore{Weights: p}
}

// shapeFor returns [n, 1] for weights and [1] for biases of a
// single-output linear model.
func shapeFor(name string, n int) tensor.Shape {
	if name[0] == 'w' {
		return tensor.Shape{n, 1}
	}
	return tensor.Shape{n}
}

func paramsData(p *nn.Params) map[string][]float64 {
	out := make(map[string][]float64, p.Len())
	for _, name := range p.Names() {
		r, _ := p.Get(name)
		d := make([]float64, len(r.Data()))
		copy(d, r.Data())
		out[name] = d
	}
	return out
}
