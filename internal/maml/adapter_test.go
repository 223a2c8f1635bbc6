package maml_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/nn"
)

func TestAdaptTraceShape(t *testing.T) {
	l := newLearner(t, smallConfig(3), maml.Options{})
	task := linearTask(t, 1, 2, 3)

	trace, err := l.Adapt(task, 3)
	require.NoError(t, err)

	require.Len(t, trace.Steps, 4)
	require.Len(t, trace.Weights, 4)
	assert.Equal(t, 3, trace.K())
	assert.Same(t, l.Weights(), trace.Weights[0])

	assert.Equal(t, 4, trace.Steps[0].Output.Shape()[0], "step 0 runs on the training split")
	for j := 1; j <= 3; j++ {
		assert.Equal(t, 3, trace.Steps[j].Output.Shape()[0], "step %d runs on the held-out split", j)
		assert.True(t, trace.Steps[j].Loss.Shape().IsScalar())

		assert.Equal(t, trace.Weights[0].Names(), trace.Weights[j].Names())
		assert.NoError(t, trace.Weights[0].CheckCompatible(trace.Weights[j]))
		w0, _ := trace.Weights[0].Get("w1")
		wj, _ := trace.Weights[j].Get("w1")
		assert.NotSame(t, w0, wj, "fast weights are new tensors")
	}
	assert.Equal(t, trace.Steps[3], trace.Final())
}

func TestNewAdapterSettings(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	a := maml.NewAdapter(l.Model(), nn.MSE, 0.25, true)
	assert.True(t, a.StopGrad())
	assert.Equal(t, 0.25, a.UpdateLR())

	trace, err := a.Adapt(maml.RecordingBackend(), linearTask(t, 1, 0, 0), l.Weights(), 2, true)
	require.NoError(t, err)
	assert.Equal(t, 2, trace.K())
}

func TestAdaptDoesNotMutateSharedWeights(t *testing.T) {
	l := newLearner(t, smallConfig(2), maml.Options{})
	before := paramsData(l.Weights())

	_, err := l.Adapt(linearTask(t, 1, 2, 3), 2)
	require.NoError(t, err)

	assert.Equal(t, before, paramsData(l.Weights()))
}

func TestAdaptRejectsZeroSteps(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})

	_, err := l.Adapt(linearTask(t, 1, 2, 3), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, maml.ErrConfiguration)

	var ce *maml.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "num_updates", ce.Field)
}

func TestAdaptRejectsMismatchedWeights(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	adapter := maml.NewAdapter(l.Model(), nn.MSE, 0.1, false)

	bad := l.Weights().Clone()
	bad.Set("extra", bad.Tensors()[0])
	_, err := adapter.Adapt(maml.RecordingBackend(), linearTask(t, 1, 1, 1), bad, 1, true)
	assert.ErrorIs(t, err, maml.ErrShapeMismatch)

	var se *maml.ShapeMismatchError
	assert.ErrorAs(t, err, &se)
}

// A single small step on a linear least-squares problem must reduce the
// training loss whatever the starting point.
func TestAdaptSingleStepReducesTrainingLoss(t *testing.T) {
	task := linearTask(t, 1.5, -0.5, 0.25)
	// Evaluate the adapted weights on the training split itself.
	task.TestInputs, task.TestLabels = task.TrainInputs, task.TrainLabels

	var totalDecrease float64
	for seed := uint64(1); seed <= 10; seed++ {
		cfg := linearConfig(2, 1)
		cfg.UpdateLR = 0.1
		cfg.Seed = seed
		l := newLearner(t, cfg, maml.Options{})

		trace, err := l.Adapt(task, 1)
		require.NoError(t, err)

		before, after := trace.Steps[0].Loss.Item(), trace.Steps[1].Loss.Item()
		assert.Less(t, after, before, "seed %d", seed)
		totalDecrease += before - after
	}
	assert.Greater(t, totalDecrease/10, 0.0)
}

func TestAdaptDeterministic(t *testing.T) {
	cfg := smallConfig(3)
	cfg.Seed = 42
	a := newLearner(t, cfg, maml.Options{})
	b := newLearner(t, cfg, maml.Options{})

	require.Equal(t, paramsData(a.Weights()), paramsData(b.Weights()), "seeded initialization is bit-identical")

	task := linearTask(t, 0.3, -1.2, 2)
	ta, err := a.Adapt(task, 3)
	require.NoError(t, err)
	tb, err := b.Adapt(task, 3)
	require.NoError(t, err)
	tc, err := a.Adapt(task, 3)
	require.NoError(t, err)

	for j := range ta.Steps {
		assert.Equal(t, ta.Steps[j].Output.Data(), tb.Steps[j].Output.Data())
		assert.Equal(t, ta.Steps[j].Losses.Data(), tb.Steps[j].Losses.Data())
		assert.Equal(t, ta.Steps[j].Loss.Item(), tc.Steps[j].Loss.Item())
		assert.Equal(t, paramsData(ta.Weights[j]), paramsData(tc.Weights[j]))
	}
}

func TestAdaptLossIsSumOfPerSampleLosses(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	trace, err := l.Adapt(linearTask(t, 1, 1, 1), 1)
	require.NoError(t, err)

	for _, s := range trace.Steps {
		var sum float64
		for _, v := range s.Losses.Data() {
			sum += v
		}
		assert.InDelta(t, sum, s.Loss.Item(), 1e-12)
	}
}
