package maml_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/maml/internal/autodiff"
	"github.com/born-ml/maml/internal/backend/cpu"
	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

func TestAggregateLosses(t *testing.T) {
	l := newLearner(t, smallConfig(2), maml.Options{})
	batch := twoTasks(t)

	res, err := l.Aggregator().Aggregate(batch, l.Weights(), maml.Request{K: 2})
	require.NoError(t, err)
	require.Len(t, res.Traces, 2)
	require.Len(t, res.PostLosses, 2)
	require.Len(t, res.WeightedPostLosses, 2)
	assert.Nil(t, res.Gradient)
	assert.Empty(t, res.Instabilities)

	pre := (res.Traces[0].Steps[0].Loss.Item() + res.Traces[1].Steps[0].Loss.Item()) / 2
	assert.InDelta(t, pre, res.PreLoss, 1e-12)
	for j := 1; j <= 2; j++ {
		a, b := res.Traces[0].Steps[j].Loss.Item(), res.Traces[1].Steps[j].Loss.Item()
		assert.InDelta(t, (a+b)/2, res.PostLosses[j-1], 1e-12)
		assert.InDelta(t, res.TaskWeights[0]*a+res.TaskWeights[1]*b, res.WeightedPostLosses[j-1], 1e-12)
	}
}

func TestTaskWeightsSoftmax(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	batch := twoTasks(t)
	batch.Tasks[0].SetSampleCount(10)
	batch.Tasks[1].SetSampleCount(20)

	w, inst := l.Aggregator().TaskWeights(batch)
	assert.Empty(t, inst)
	// ratios 1 and 2 with num_samples = 10
	z := math.E + math.E*math.E
	assert.InDelta(t, math.E/z, w[0], 1e-12)
	assert.InDelta(t, math.E*math.E/z, w[1], 1e-12)

	batch.Tasks[0].SampleCount = nil
	w, _ = l.Aggregator().TaskWeights(batch)
	// unset count falls back to 4 train + 3 test rows
	z = math.Exp(0.7) + math.Exp(2)
	assert.InDelta(t, math.Exp(0.7)/z, w[0], 1e-12)
}

func TestTaskWeightsExplicitZeroCount(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	batch := twoTasks(t)
	batch.Tasks[0].SetSampleCount(0)
	batch.Tasks[1].SetSampleCount(10)

	w, inst := l.Aggregator().TaskWeights(batch)
	assert.Empty(t, inst)
	// ratios 0 and 1: softmax([0, 1])
	assert.InDelta(t, 1/(1+math.E), w[0], 1e-12)
	assert.InDelta(t, math.E/(1+math.E), w[1], 1e-12)
}

func TestWeightedEqualsMeanForEqualCounts(t *testing.T) {
	batch := &maml.Batch{Tasks: []*maml.Task{
		linearTask(t, 1, -2, 0.5),
		linearTask(t, -0.5, 3, -1),
		linearTask(t, 2, 0, 0),
	}}
	for _, task := range batch.Tasks {
		task.SetSampleCount(7)
	}

	cfg := smallConfig(2)
	weighted := cfg
	weighted.Objective = maml.ObjectiveWeighted
	lw := newLearner(t, weighted, maml.Options{})
	lm := newLearner(t, cfg, maml.Options{})

	res, err := lw.Aggregator().Aggregate(batch, lw.Weights(), maml.Request{K: 2})
	require.NoError(t, err)
	for _, w := range res.TaskWeights {
		assert.InDelta(t, 1.0/3, w, 1e-15)
	}
	for j := range res.PostLosses {
		assert.InDelta(t, res.PostLosses[j], res.WeightedPostLosses[j], 1e-12)
	}

	gw, err := lw.MetaGradient(batch)
	require.NoError(t, err)
	gm, err := lm.MetaGradient(batch)
	require.NoError(t, err)
	dw, dm := paramsData(gw), paramsData(gm)
	for name := range dm {
		assert.InDeltaSlice(t, dm[name], dw[name], 1e-12, name)
	}
}

func TestTaskWeightsSaturationIsReported(t *testing.T) {
	cfg := smallConfig(1)
	cfg.NumSamples = 1
	l := newLearner(t, cfg, maml.Options{})
	batch := twoTasks(t)
	batch.Tasks[0].SetSampleCount(1)
	batch.Tasks[1].SetSampleCount(1000)

	w, inst := l.Aggregator().TaskWeights(batch)
	require.Len(t, inst, 1)
	assert.ErrorIs(t, inst[0], maml.ErrNumericInstability)
	assert.InDelta(t, 1.0, w[1], 1e-9, "saturated weights are kept")
}

func TestTaskWeightsNonFiniteFallsBackToUniform(t *testing.T) {
	cfg := smallConfig(1)
	cfg.NumSamples = 1e-300
	l := newLearner(t, cfg, maml.Options{})
	batch := twoTasks(t)
	batch.Tasks[0].SetSampleCount(math.MaxFloat64)
	batch.Tasks[1].SetSampleCount(math.MaxFloat64)

	w, inst := l.Aggregator().TaskWeights(batch)
	require.Len(t, inst, 1)
	assert.Contains(t, inst[0].Error(), "uniform")
	assert.Equal(t, []float64{0.5, 0.5}, w)
}

func TestAggregateValidatesBatch(t *testing.T) {
	l := newLearner(t, smallConfig(1), maml.Options{})
	agg := l.Aggregator()

	_, err := agg.Aggregate(&maml.Batch{}, l.Weights(), maml.Request{K: 1})
	assert.ErrorIs(t, err, maml.ErrConfiguration)

	_, err = agg.Aggregate(twoTasks(t), l.Weights(), maml.Request{K: 0})
	assert.ErrorIs(t, err, maml.ErrConfiguration)

	_, err = agg.Aggregate(twoTasks(t), l.Weights(), maml.Request{K: 2, Target: maml.TargetPost, Step: 3})
	assert.ErrorIs(t, err, maml.ErrConfiguration)

	wrongDim := twoTasks(t)
	wrongDim.Tasks[1].TestInputs = matrix(t, 3, 1, 1, 2, 3)
	_, err = agg.Aggregate(wrongDim, l.Weights(), maml.Request{K: 1})
	assert.ErrorIs(t, err, maml.ErrShapeMismatch)
	var se *maml.ShapeMismatchError
	assert.ErrorAs(t, err, &se)

	misaligned := twoTasks(t)
	misaligned.Tasks[0].TrainLabels = matrix(t, 2, 1, 1, 2)
	_, err = agg.Aggregate(misaligned, l.Weights(), maml.Request{K: 1})
	assert.ErrorIs(t, err, maml.ErrShapeMismatch)

	negative := twoTasks(t)
	negative.Tasks[0].SetSampleCount(-1)
	_, err = agg.Aggregate(negative, l.Weights(), maml.Request{K: 1})
	assert.ErrorIs(t, err, maml.ErrConfiguration)
}

func TestAggregateParallelMatchesSequential(t *testing.T) {
	batch := &maml.Batch{Tasks: []*maml.Task{
		linearTask(t, 1, -2, 0.5),
		linearTask(t, -0.5, 3, -1),
		linearTask(t, 2, 0, 0),
		linearTask(t, 0, 1, 1),
	}}
	seq := smallConfig(2)
	par := seq
	par.Parallelism = 4

	gs, err := newLearner(t, seq, maml.Options{}).MetaGradient(batch)
	require.NoError(t, err)
	gp, err := newLearner(t, par, maml.Options{}).MetaGradient(batch)
	require.NoError(t, err)

	assert.Equal(t, paramsData(gs), paramsData(gp))
}

// With stop_grad the meta-gradient is the gradient of the held-out loss
// taken at the final fast weights, as if they were leaves.
func TestStopGradMatchesFirstOrderReference(t *testing.T) {
	cfg := smallConfig(2)
	cfg.StopGrad = true
	l := newLearner(t, cfg, maml.Options{})
	batch := twoTasks(t)

	got, err := l.MetaGradient(batch)
	require.NoError(t, err)

	want := make(map[string][]float64)
	for _, task := range batch.Tasks {
		trace, err := l.Adapt(task, 2)
		require.NoError(t, err)

		leaves := trace.Weights[2].Clone()
		backend := autodiff.New(cpu.New())
		backend.Tape().StartRecording()
		out, err := l.Model().Forward(backend, task.TestInputs, leaves, true)
		require.NoError(t, err)
		losses, err := nn.MSE(backend, out, task.TestLabels)
		require.NoError(t, err)
		grads := backend.Gradients(backend.Sum(losses), leaves.Tensors(), false)

		for i, name := range leaves.Names() {
			if want[name] == nil {
				want[name] = make([]float64, grads[i].NumElements())
			}
			for k, v := range grads[i].Data() {
				want[name][k] += v / 2
			}
		}
	}

	gotData := paramsData(got)
	require.Len(t, gotData, len(want))
	for name, w := range want {
		assert.InDeltaSlice(t, w, gotData[name], 1e-12, name)
	}
}

// The full meta-gradient differentiates through the inner updates; check it
// against central finite differences of the aggregated objective.
func TestSecondOrderMetaGradientMatchesFiniteDifferences(t *testing.T) {
	names := []string{"w1", "b1"}
	store := staticStore(t, names, []float64{0.2, -0.3}, []float64{0.1})
	batch := twoTasks(t)
	batch.Tasks[0].SetSampleCount(4)
	batch.Tasks[1].SetSampleCount(9)

	cfg := linearConfig(2, 2)
	cfg.UpdateLR = 0.1
	cfg.Objective = maml.ObjectiveWeighted
	l := newLearner(t, cfg, maml.Options{Store: store})

	got, err := l.MetaGradient(batch)
	require.NoError(t, err)

	objective := func(theta []float64) float64 {
		w, err := tensor.FromSlice(theta[:2], tensor.Shape{2, 1})
		require.NoError(t, err)
		b, err := tensor.FromSlice(theta[2:], tensor.Shape{1})
		require.NoError(t, err)
		p, err := nn.ParamsFrom(names, []*tensor.RawTensor{w, b})
		require.NoError(t, err)
		res, err := l.Aggregator().Aggregate(batch, p, maml.Request{K: 2})
		require.NoError(t, err)
		return res.WeightedPostLosses[1]
	}
	theta := []float64{0.2, -0.3, 0.1}
	numeric := fd.Gradient(nil, objective, theta, &fd.Settings{Formula: fd.Central, Step: 1e-5})

	g := paramsData(got)
	analytic := append(append([]float64{}, g["w1"]...), g["b1"]...)
	assert.InDeltaSlice(t, numeric, analytic, 1e-6)

	// The first-order approximation differs for this problem.
	cfg.StopGrad = true
	first, err := newLearner(t, cfg, maml.Options{Store: store}).MetaGradient(batch)
	require.NoError(t, err)
	f := paramsData(first)
	firstOrder := append(append([]float64{}, f["w1"]...), f["b1"]...)
	var maxDiff float64
	for i := range analytic {
		maxDiff = math.Max(maxDiff, math.Abs(analytic[i]-firstOrder[i]))
	}
	assert.Greater(t, maxDiff, 1e-4)
}

func TestAggregateCreatesNormParametersOnce(t *testing.T) {
	cfg := smallConfig(2)
	cfg.Norm = string(nn.NormBatch)
	l := newLearner(t, cfg, maml.Options{})
	require.False(t, l.Model().Norm().Created())

	g, err := l.MetaGradient(twoTasks(t))
	require.NoError(t, err)
	assert.True(t, l.Model().Norm().Created())
	assert.True(t, g.Has("norm1.beta"))
	assert.False(t, g.Has("norm1.gamma"))

	_, err = l.MetaGradient(twoTasks(t))
	require.NoError(t, err, "later passes reuse the parameters")
}

func TestLayerNormMetaGradientCoversNormParameters(t *testing.T) {
	cfg := smallConfig(1)
	cfg.Norm = string(nn.NormLayer)
	l := newLearner(t, cfg, maml.Options{})

	g, err := l.MetaGradient(twoTasks(t))
	require.NoError(t, err)
	trainable, err := l.Model().Trainable()
	require.NoError(t, err)
	assert.Equal(t, trainable.Names(), g.Names())
	assert.NoError(t, trainable.CheckCompatible(g))
}
