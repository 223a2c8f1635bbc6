package maml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/maml/internal/autodiff"
	"github.com/born-ml/maml/internal/backend/cpu"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/parallel"
	"github.com/born-ml/maml/internal/tensor"
)

// SaturationThreshold is the largest task weight above which the softmax
// weighting of a multi-task batch is reported as saturated.
const SaturationThreshold = 1 - 1e-6

// Target selects which aggregated loss, if any, is differentiated.
type Target int

const (
	// TargetNone computes losses only.
	TargetNone Target = iota
	// TargetPre differentiates the mean pre-adaptation loss.
	TargetPre
	// TargetPost differentiates the post-adaptation objective at Request.Step.
	TargetPost
)

// Request describes one aggregation pass.
type Request struct {
	K         int       // Adaptation steps traced per task
	Target    Target    // Loss to differentiate
	Step      int       // Post-adaptation step for TargetPost, 1..K
	Objective Objective // Objective for TargetPost
}

// Result holds the batch objectives of one aggregation pass.
//
// Post-loss slices are indexed by step-1: PostLosses[0] is the loss after
// the first adaptation step.
type Result struct {
	PreLoss            float64   // Mean pre-adaptation loss over tasks
	PostLosses         []float64 // Mean held-out loss over tasks, per step
	WeightedPostLosses []float64 // Softmax-weighted held-out loss, per step
	TaskWeights        []float64 // Softmax weights, one per task
	Traces             []*Trace  // One per task, in batch order

	// Gradient is d(target)/d(shared trainable parameters), keyed like the
	// shared weights followed by the normalization parameters. Nil for
	// TargetNone.
	Gradient *nn.Params

	// Instabilities lists soft numeric problems found in this pass.
	Instabilities []*NumericInstabilityError
}

// Aggregator adapts every task of a batch independently and combines the
// results. Each task gets a fresh backend from NewBackend, so tasks never
// share a gradient tape.
type Aggregator struct {
	model      *nn.MLP
	adapter    *Adapter
	numSamples float64
	parallel   parallel.Config

	// NewBackend returns a recording backend for one task.
	NewBackend func() GradBackend
}

// NewAggregator creates an aggregator adapting up to workers tasks at a
// time (0 selects the CPU count).
func NewAggregator(model *nn.MLP, adapter *Adapter, numSamples float64, workers int) *Aggregator {
	return &Aggregator{
		model:      model,
		adapter:    adapter,
		numSamples: numSamples,
		parallel:   parallel.WithWorkers(workers),
		NewBackend: RecordingBackend,
	}
}

// RecordingBackend returns a CPU autodiff backend with recording started.
func RecordingBackend() GradBackend {
	b := autodiff.New(cpu.New())
	b.Tape().StartRecording()
	return b
}

// Prepare creates the normalization parameters, if the model uses any and
// they do not exist yet, by a non-reusing forward pass over the first
// task's training split. The output is discarded. Prepare must not run
// concurrently with Aggregate.
func (a *Aggregator) Prepare(batch *Batch, weights *nn.Params) error {
	norm := a.model.Norm()
	if norm.Mode() == nn.NormNone || norm.Created() {
		return nil
	}
	if err := batch.Validate(a.model.DimInput(), a.model.DimOutput()); err != nil {
		return err
	}
	_, err := a.model.Forward(cpu.New(), batch.Tasks[0].TrainInputs, weights, false)
	return classify("build normalization", err)
}

// Aggregate adapts every task of batch from weights and computes the
// batch objectives. Tasks run concurrently; results are combined in batch
// order, so the outcome does not depend on scheduling.
func (a *Aggregator) Aggregate(batch *Batch, weights *nn.Params, req Request) (*Result, error) {
	if req.K < 1 {
		return nil, &ConfigurationError{Field: "num_updates", Reason: "adaptation needs at least one step"}
	}
	if req.Target == TargetPost && (req.Step < 1 || req.Step > req.K) {
		return nil, &ConfigurationError{Field: "step", Reason: fmt.Sprintf("must be in [1, %d] (got %d)", req.K, req.Step)}
	}
	if err := batch.Validate(a.model.DimInput(), a.model.DimOutput()); err != nil {
		return nil, err
	}
	if err := a.model.CheckWeights(weights); err != nil {
		return nil, &ShapeMismatchError{Op: "aggregate", Err: err}
	}
	if err := a.Prepare(batch, weights); err != nil {
		return nil, err
	}

	wrt, err := weights.Merge(a.model.Norm().Params())
	if err != nil {
		return nil, err
	}

	n := batch.Len()
	traces := make([]*Trace, n)
	grads := make([][]*tensor.RawTensor, n)
	err = parallel.For(n, func(t int) error {
		backend := a.NewBackend()
		trace, err := a.adapter.Adapt(backend, batch.Tasks[t], weights, req.K, true)
		if err != nil {
			return err
		}
		traces[t] = trace

		switch req.Target {
		case TargetPre:
			grads[t] = backend.Gradients(trace.Steps[0].Loss, wrt.Tensors(), false)
		case TargetPost:
			grads[t] = backend.Gradients(trace.Steps[req.Step].Loss, wrt.Tensors(), false)
		}
		return nil
	}, a.parallel)
	if err != nil {
		return nil, err
	}

	res := &Result{Traces: traces}
	res.TaskWeights, res.Instabilities = a.taskWeights(batch)
	a.combineLosses(res, req.K)

	if req.Target != TargetNone {
		coeffs := uniform(n)
		if req.Target == TargetPost && req.Objective == ObjectiveWeighted {
			coeffs = res.TaskWeights
		}
		res.Gradient, err = weightedSum(wrt.Names(), grads, coeffs)
		if err != nil {
			return nil, err
		}
		if !res.Gradient.AllFinite() {
			res.Instabilities = append(res.Instabilities, &NumericInstabilityError{
				Quantity: "meta-gradient", Step: req.Step, Detail: "non-finite gradient entries",
			})
		}
	}
	return res, nil
}

// TaskWeights returns softmax(count_t / num_samples) over the batch.
func (a *Aggregator) TaskWeights(batch *Batch) ([]float64, []*NumericInstabilityError) {
	return a.taskWeights(batch)
}

// taskWeights computes the softmax with the log-sum-exp shift. Non-finite
// weights fall back to uniform; a saturated weighting is kept as computed.
// Both are reported.
func (a *Aggregator) taskWeights(batch *Batch) ([]float64, []*NumericInstabilityError) {
	n := batch.Len()
	ratios := make([]float64, n)
	for i, t := range batch.Tasks {
		ratios[i] = t.Count() / a.numSamples
	}

	lse := floats.LogSumExp(ratios)
	weights := make([]float64, n)
	for i, r := range ratios {
		weights[i] = math.Exp(r - lse)
	}

	if !allFinite(weights) {
		return uniform(n), []*NumericInstabilityError{{
			Quantity: "task weights", Step: -1,
			Detail: "softmax of sample-count ratios is not finite, using uniform weights",
		}}
	}
	if n > 1 && floats.Max(weights) > SaturationThreshold {
		return weights, []*NumericInstabilityError{{
			Quantity: "task weights", Step: -1,
			Detail: fmt.Sprintf("softmax saturated on task %d (weight %.9f)", floats.MaxIdx(weights), floats.Max(weights)),
		}}
	}
	return weights, nil
}

func (a *Aggregator) combineLosses(res *Result, k int) {
	n := len(res.Traces)
	perTask := make([]float64, n)

	for t, tr := range res.Traces {
		perTask[t] = tr.Steps[0].Loss.Item()
	}
	res.PreLoss = floats.Sum(perTask) / float64(n)
	if !allFinite(perTask) {
		res.Instabilities = append(res.Instabilities, &NumericInstabilityError{
			Quantity: "pre-update loss", Step: 0, Detail: "non-finite task loss",
		})
	}

	res.PostLosses = make([]float64, k)
	res.WeightedPostLosses = make([]float64, k)
	for j := 1; j <= k; j++ {
		for t, tr := range res.Traces {
			perTask[t] = tr.Steps[j].Loss.Item()
		}
		res.PostLosses[j-1] = floats.Sum(perTask) / float64(n)
		res.WeightedPostLosses[j-1] = floats.Dot(res.TaskWeights, perTask)
		if !allFinite(perTask) {
			res.Instabilities = append(res.Instabilities, &NumericInstabilityError{
				Quantity: "post-update loss", Step: j, Detail: "non-finite task loss",
			})
		}
	}
}

// weightedSum returns Σ_t coeffs[t] * grads[t] key by key.
func weightedSum(names []string, grads [][]*tensor.RawTensor, coeffs []float64) (*nn.Params, error) {
	backend := cpu.New()
	sum := make([]*tensor.RawTensor, len(names))
	for t, g := range grads {
		for k := range names {
			term := backend.Scale(g[k], coeffs[t])
			if sum[k] == nil {
				sum[k] = term
				continue
			}
			sum[k] = backend.Add(sum[k], term)
		}
	}
	return nn.ParamsFrom(names, sum)
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
