package nn_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/maml/internal/autodiff"
	"github.com/born-ml/maml/internal/backend/cpu"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/serialization"
	"github.com/born-ml/maml/internal/tensor"
)

func mustTensor(t *testing.T, data []float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return r
}

func mustMLP(t *testing.T, hidden []int, mode nn.NormMode) *nn.MLP {
	t.Helper()
	m, err := nn.NewMLP(2, hidden, 1, mode)
	require.NoError(t, err)
	return m
}

func TestParamsOrderAndClone(t *testing.T) {
	p := nn.NewParams()
	p.Set("w1", tensor.Ones(tensor.Shape{2, 2}))
	p.Set("b1", tensor.Zeros(tensor.Shape{2}))
	p.Set("w1", tensor.Full(tensor.Shape{2, 2}, 3))

	assert.Equal(t, []string{"w1", "b1"}, p.Names(), "re-setting keeps position")

	c := p.Clone()
	w, _ := c.Get("w1")
	w.Data()[0] = 100
	orig, _ := p.Get("w1")
	assert.Equal(t, 3.0, orig.Data()[0], "clone is deep")
}

func TestParamsFromRejectsDuplicates(t *testing.T) {
	_, err := nn.ParamsFrom([]string{"a", "a"}, []*tensor.RawTensor{tensor.Scalar(1), tensor.Scalar(2)})
	assert.Error(t, err)

	_, err = nn.ParamsFrom([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestUpdatePreservesKeysAndShapes(t *testing.T) {
	w := nn.NewParams()
	w.Set("w1", mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}))
	w.Set("b1", mustTensor(t, []float64{1, 1, 1}, tensor.Shape{3}))

	g := nn.NewParams()
	g.Set("b1", mustTensor(t, []float64{10, 20, 30}, tensor.Shape{3}))
	g.Set("w1", tensor.Ones(tensor.Shape{2, 3}))

	out, err := nn.Update(cpu.New(), w, g, 0.1)
	require.NoError(t, err)

	assert.Equal(t, w.Names(), out.Names())
	for _, name := range w.Names() {
		a, _ := w.Get(name)
		b, _ := out.Get(name)
		assert.Equal(t, a.Shape(), b.Shape(), name)
	}
	b1, _ := out.Get("b1")
	assert.InDeltaSlice(t, []float64{0, -1, -2}, b1.Data(), 1e-12)

	w1, _ := w.Get("w1")
	assert.Equal(t, 1.0, w1.Data()[0], "source mapping untouched")
}

func TestUpdateRejectsMismatch(t *testing.T) {
	w := nn.NewParams()
	w.Set("w1", tensor.Ones(tensor.Shape{2, 3}))

	wrongShape := nn.NewParams()
	wrongShape.Set("w1", tensor.Ones(tensor.Shape{3, 2}))
	_, err := nn.Update(cpu.New(), w, wrongShape, 0.1)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	wrongKey := nn.NewParams()
	wrongKey.Set("w2", tensor.Ones(tensor.Shape{2, 3}))
	_, err = nn.Update(cpu.New(), w, wrongKey, 0.1)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	extra := nn.NewParams()
	extra.Set("w1", tensor.Ones(tensor.Shape{2, 3}))
	extra.Set("b1", tensor.Ones(tensor.Shape{3}))
	_, err = nn.Update(cpu.New(), w, extra, 0.1)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestMLPLayersAndNames(t *testing.T) {
	m, err := nn.NewMLP(1, []int{40, 40}, 3, nn.NormNone)
	require.NoError(t, err)

	assert.Equal(t, []nn.LayerShape{{1, 40}, {40, 40}, {40, 3}}, m.Layers())
	assert.Equal(t, []string{"w1", "b1", "w2", "b2", "w3", "b3"}, m.WeightNames())

	_, err = nn.NewMLP(0, nil, 1, nn.NormNone)
	assert.Error(t, err)
	_, err = nn.NewMLP(1, []int{0}, 1, nn.NormNone)
	assert.Error(t, err)
	_, err = nn.NewMLP(1, nil, 1, nn.NormMode("group_norm"))
	assert.ErrorIs(t, err, nn.ErrUnknownOption)
}

func TestMLPBuildState(t *testing.T) {
	m := mustMLP(t, []int{4}, nn.NormNone)
	assert.Equal(t, nn.Uninitialized, m.State())

	_, err := m.Weights()
	assert.ErrorIs(t, err, nn.ErrNotBuilt)

	w, err := m.Build(nn.NewRandomStore(m, 1))
	require.NoError(t, err)
	assert.Equal(t, nn.Built, m.State())
	assert.Equal(t, m.WeightNames(), w.Names())

	_, err = m.Build(nn.NewRandomStore(m, 1))
	assert.ErrorIs(t, err, nn.ErrAlreadyBuilt)
}

func TestMLPBuildRejectsWrongArchitecture(t *testing.T) {
	m := mustMLP(t, []int{4}, nn.NormNone)
	other := mustMLP(t, []int{5}, nn.NormNone)

	_, err := m.Build(nn.NewRandomStore(other, 1))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.Equal(t, nn.Uninitialized, m.State())
}

func TestMLPForwardByHand(t *testing.T) {
	m := mustMLP(t, []int{2}, nn.NormNone)

	w := nn.NewParams()
	w.Set("w1", mustTensor(t, []float64{1, -1, 2, 1}, tensor.Shape{2, 2}))
	w.Set("b1", mustTensor(t, []float64{0, 0.5}, tensor.Shape{2}))
	w.Set("w2", mustTensor(t, []float64{1, 2}, tensor.Shape{2, 1}))
	w.Set("b2", mustTensor(t, []float64{-1}, tensor.Shape{1}))

	x := mustTensor(t, []float64{1, 1, 1, -1}, tensor.Shape{2, 2})
	out, err := m.Forward(cpu.New(), x, w, false)
	require.NoError(t, err)

	// Row 1: h = relu([3, 0.5]) -> 3 + 1 - 1 = 3
	// Row 2: h = relu([-1, -1.5]) -> 0 + 0 - 1 = -1
	assert.Equal(t, tensor.Shape{2, 1}, out.Shape())
	assert.InDeltaSlice(t, []float64{3, -1}, out.Data(), 1e-12)
}

func TestMLPForwardRejectsBadInputs(t *testing.T) {
	m := mustMLP(t, []int{3}, nn.NormNone)
	w, err := m.Build(nn.NewRandomStore(m, 7))
	require.NoError(t, err)

	_, err = m.Forward(cpu.New(), tensor.Ones(tensor.Shape{4, 3}), w, true)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	partial := nn.NewParams()
	for _, name := range []string{"w1", "b1", "w2"} {
		v, _ := w.Get(name)
		partial.Set(name, v)
	}
	_, err = m.Forward(cpu.New(), tensor.Ones(tensor.Shape{4, 2}), partial, true)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestNormReuseContract(t *testing.T) {
	for _, mode := range []nn.NormMode{nn.NormBatch, nn.NormLayer} {
		t.Run(string(mode), func(t *testing.T) {
			m := mustMLP(t, []int{3, 2}, mode)
			w, err := m.Build(nn.NewRandomStore(m, 3))
			require.NoError(t, err)
			x := mustTensor(t, []float64{1, 2, -1, 0.5, 3, -2}, tensor.Shape{3, 2})

			_, err = m.Forward(cpu.New(), x, w, true)
			assert.ErrorIs(t, err, nn.ErrNormMissing)

			_, err = m.Forward(cpu.New(), x, w, false)
			require.NoError(t, err)
			assert.True(t, m.Norm().Created())

			_, err = m.Forward(cpu.New(), x, w, false)
			assert.ErrorIs(t, err, nn.ErrNormExists)

			_, err = m.Forward(cpu.New(), x, w, true)
			assert.NoError(t, err)

			names := m.Norm().Params().Names()
			if mode == nn.NormLayer {
				assert.Equal(t, []string{"norm1.gamma", "norm1.beta", "norm2.gamma", "norm2.beta"}, names)
			} else {
				assert.Equal(t, []string{"norm1.beta", "norm2.beta"}, names)
			}

			trainable, err := m.Trainable()
			require.NoError(t, err)
			assert.Equal(t, len(m.WeightNames())+len(names), trainable.Len())
		})
	}
}

func TestNormNoneIgnoresReuse(t *testing.T) {
	m := mustMLP(t, []int{3}, nn.NormNone)
	w, err := m.Build(nn.NewRandomStore(m, 3))
	require.NoError(t, err)
	x := tensor.Ones(tensor.Shape{2, 2})

	_, err = m.Forward(cpu.New(), x, w, true)
	assert.NoError(t, err)
	_, err = m.Forward(cpu.New(), x, w, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, m.Norm().Params().Len())
}

func TestBatchNormNormalizesColumns(t *testing.T) {
	norm, err := nn.NewNorm(nn.NormBatch, []int{2})
	require.NoError(t, err)
	require.NoError(t, norm.Prepare(false))

	h := mustTensor(t, []float64{1, 10, 3, 20, 5, 30}, tensor.Shape{3, 2})
	out := norm.Apply(cpu.New(), 1, h)

	for col := 0; col < 2; col++ {
		var mean, sq float64
		for row := 0; row < 3; row++ {
			mean += out.At(row, col) / 3
		}
		for row := 0; row < 3; row++ {
			d := out.At(row, col) - mean
			sq += d * d / 3
		}
		assert.InDelta(t, 0, mean, 1e-12)
		assert.InDelta(t, 1, sq, 1e-2, "unit variance up to epsilon")
	}
}

func TestLayerNormNormalizesRows(t *testing.T) {
	norm, err := nn.NewNorm(nn.NormLayer, []int{4})
	require.NoError(t, err)
	require.NoError(t, norm.Prepare(false))

	h := mustTensor(t, []float64{1, 2, 3, 4, -5, 0, 5, 10}, tensor.Shape{2, 4})
	out := norm.Apply(cpu.New(), 1, h)

	for row := 0; row < 2; row++ {
		var mean, sq float64
		for col := 0; col < 4; col++ {
			mean += out.At(row, col) / 4
		}
		for col := 0; col < 4; col++ {
			d := out.At(row, col) - mean
			sq += d * d / 4
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, sq, 1e-9)
	}
}

func TestNormLoad(t *testing.T) {
	src, err := nn.NewNorm(nn.NormLayer, []int{3})
	require.NoError(t, err)
	require.NoError(t, src.Prepare(false))

	dst, err := nn.NewNorm(nn.NormLayer, []int{3})
	require.NoError(t, err)
	require.NoError(t, dst.Load(src.Params()))
	assert.True(t, dst.Created())
	assert.NoError(t, dst.Prepare(true))

	wrong, err := nn.NewNorm(nn.NormLayer, []int{4})
	require.NoError(t, err)
	assert.ErrorIs(t, wrong.Load(src.Params()), nn.ErrShapeMismatch)
}

func TestNormGradientsFlow(t *testing.T) {
	m := mustMLP(t, []int{3}, nn.NormLayer)
	w, err := m.Build(nn.NewRandomStore(m, 11))
	require.NoError(t, err)
	x := mustTensor(t, []float64{1, 2, -1, 0.5, 3, -2}, tensor.Shape{3, 2})
	y := mustTensor(t, []float64{1, 0, -1}, tensor.Shape{3, 1})

	b := autodiff.New(cpu.New())
	b.Tape().StartRecording()
	out, err := m.Forward(b, x, w, false)
	require.NoError(t, err)
	losses, err := nn.MSE(b, out, y)
	require.NoError(t, err)

	trainable, err := m.Trainable()
	require.NoError(t, err)
	grads := b.Gradients(b.Sum(losses), trainable.Tensors(), false)

	beta, _ := trainable.Get("norm1.beta")
	idx := -1
	for i, tt := range trainable.Tensors() {
		if tt == beta {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, tensor.Shape{3}, grads[idx].Shape())
}

func TestMSE(t *testing.T) {
	pred := mustTensor(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	label := mustTensor(t, []float64{0, 2, 3, 2}, tensor.Shape{2, 2})

	losses, err := nn.MSE(cpu.New(), pred, label)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{2}, losses.Shape())
	assert.InDeltaSlice(t, []float64{0.25, 1}, losses.Data(), 1e-12)

	_, err = nn.MSE(cpu.New(), pred, tensor.Ones(tensor.Shape{2, 1}))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	logits := mustTensor(t, []float64{0, 0, 1000, 0}, tensor.Shape{2, 2})
	label := mustTensor(t, []float64{1, 0, 1, 0}, tensor.Shape{2, 2})

	losses, err := nn.SoftmaxCrossEntropy(cpu.New(), logits, label)
	require.NoError(t, err)

	assert.InDelta(t, math.Log(2)/2, losses.Data()[0], 1e-12)
	assert.InDelta(t, 0, losses.Data()[1], 1e-12, "stable for large logits")
}

func TestLossByName(t *testing.T) {
	_, err := nn.LossByName("mse")
	assert.NoError(t, err)
	_, err = nn.LossByName("xent")
	assert.NoError(t, err)
	_, err = nn.LossByName("hinge")
	assert.ErrorIs(t, err, nn.ErrUnknownOption)
}

func TestParseNormMode(t *testing.T) {
	for in, want := range map[string]nn.NormMode{
		"": nn.NormNone, "None": nn.NormNone, "batch_norm": nn.NormBatch, "layer_norm": nn.NormLayer,
	} {
		got, err := nn.ParseNormMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := nn.ParseNormMode("instance_norm")
	assert.ErrorIs(t, err, nn.ErrUnknownOption)
}

func TestRandomStoreDeterministic(t *testing.T) {
	m, err := nn.NewMLP(1, []int{40, 40}, 1, nn.NormNone)
	require.NoError(t, err)

	a, err := nn.NewRandomStore(m, 42).Initialize()
	require.NoError(t, err)
	b, err := nn.NewRandomStore(m, 42).Initialize()
	require.NoError(t, err)
	c, err := nn.NewRandomStore(m, 43).Initialize()
	require.NoError(t, err)

	for _, name := range a.Names() {
		ta, _ := a.Get(name)
		tb, _ := b.Get(name)
		assert.Equal(t, ta.Data(), tb.Data(), name)
	}

	w1a, _ := a.Get("w1")
	w1c, _ := c.Get("w1")
	assert.NotEqual(t, w1a.Data(), w1c.Data())

	for _, v := range w1a.Data() {
		assert.LessOrEqual(t, math.Abs(v), 2*nn.InitStddev)
	}
	b1, _ := a.Get("b1")
	assert.Equal(t, make([]float64, 40), b1.Data())
}

func writePretrained(t *testing.T, path string, layers []nn.LayerShape) {
	t.Helper()
	tensors := map[string]*tensor.RawTensor{}
	for i := 0; i < nn.PretrainedLayers; i++ {
		l := layers[i]
		w := tensor.MustNewRaw(tensor.Shape{l.Out, l.In})
		for j := range w.Data() {
			w.Data()[j] = float64(j)
		}
		tensors[arr(2*i)] = w
		tensors[arr(2*i+1)] = tensor.Full(tensor.Shape{l.Out}, float64(i))
	}
	require.NoError(t, serialization.WriteSafeTensors(path, tensors, nil))
}

func arr(i int) string {
	return []string{"arr_0", "arr_1", "arr_2", "arr_3", "arr_4", "arr_5"}[i]
}

func TestPretrainedStore(t *testing.T) {
	m, err := nn.NewMLP(3, []int{4, 5, 2}, 1, nn.NormNone)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pretrained.safetensors")
	writePretrained(t, path, m.Layers())

	store, err := nn.NewPretrainedStore(m, path, 1)
	require.NoError(t, err)
	w, err := m.Build(store)
	require.NoError(t, err)

	w1, _ := w.Get("w1")
	assert.Equal(t, tensor.Shape{3, 4}, w1.Shape(), "transposed to [in, out]")
	// Stored [4,3] with value = flat index; element [in=i, out=j] = j*3 + i.
	assert.Equal(t, 3.0, w1.At(0, 1))
	assert.Equal(t, 1.0, w1.At(1, 0))

	b3, _ := w.Get("b3")
	assert.Equal(t, []float64{2, 2}, b3.Data())

	w4, _ := w.Get("w4")
	assert.Equal(t, tensor.Shape{2, 1}, w4.Shape())
}

func TestPretrainedStoreErrors(t *testing.T) {
	m, err := nn.NewMLP(3, []int{4, 5, 2}, 1, nn.NormNone)
	require.NoError(t, err)

	store, err := nn.NewPretrainedStore(m, filepath.Join(t.TempDir(), "missing.safetensors"), 1)
	require.NoError(t, err)
	_, err = store.Initialize()
	assert.ErrorIs(t, err, nn.ErrArtifactMissing)

	other, err := nn.NewMLP(3, []int{4, 6, 2}, 1, nn.NormNone)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pretrained.safetensors")
	writePretrained(t, path, other.Layers())
	store, err = nn.NewPretrainedStore(m, path, 1)
	require.NoError(t, err)
	_, err = store.Initialize()
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	shallow, err := nn.NewMLP(3, []int{4}, 1, nn.NormNone)
	require.NoError(t, err)
	_, err = nn.NewPretrainedStore(shallow, path, 1)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestStaticStoreCopies(t *testing.T) {
	p := nn.NewParams()
	p.Set("w1", tensor.Ones(tensor.Shape{2}))

	got, err := (&nn.StaticStore{Weights: p}).Initialize()
	require.NoError(t, err)
	w, _ := got.Get("w1")
	w.Data()[0] = 5

	orig, _ := p.Get("w1")
	assert.Equal(t, 1.0, orig.Data()[0])
}
