package maml

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/metrics"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/optim"
	"github.com/born-ml/maml/internal/tensor"
)

// Summary name prefixes.
const (
	PrefixTrain = "metatrain_"
	PrefixVal   = "metaval_"
)

// PreUpdateSummary returns the summary name of the pre-adaptation loss.
func PreUpdateSummary(prefix string) string {
	return prefix + "Pre-update loss"
}

// PostUpdateSummary returns the summary name of the loss after step j (1-based).
func PostUpdateSummary(prefix string, j int) string {
	return fmt.Sprintf("%sPost-update loss, step %d", prefix, j)
}

// StepOptions tune one training step.
type StepOptions struct {
	// MetaLR overrides the configured meta_lr for this call when > 0.
	MetaLR float64
	// Pretrain minimizes the mean pre-adaptation loss instead of the
	// post-adaptation objective (non-meta baseline).
	Pretrain bool
	// Iteration keys the emitted summaries.
	Iteration int
}

// Report is the outcome of one training or evaluation pass.
type Report struct {
	*Result

	// Objective holds the reported post-adaptation losses per step: the
	// configured objective in training, the plain mean in evaluation.
	Objective []float64

	// Applied reports whether the shared parameters were updated.
	Applied bool
}

// FinalLoss returns the reported loss at the last traced step.
func (r *Report) FinalLoss() float64 {
	return r.Objective[len(r.Objective)-1]
}

// MetaOptimizer differentiates batch objectives with respect to the shared
// parameters and applies Adam updates to them. It is the only writer of the
// shared parameters and writes once per Step, after every task finished.
//
// The meta and pretrain paths keep separate Adam state.
type MetaOptimizer struct {
	cfg      Config
	model    *nn.MLP
	agg      *Aggregator
	meta     *optim.Adam
	pretrain *optim.Adam
	sink     metrics.Sink
	logger   *slog.Logger
}

// NewMetaOptimizer creates a meta-optimizer for a built model.
func NewMetaOptimizer(cfg Config, model *nn.MLP, agg *Aggregator, sink metrics.Sink, logger *slog.Logger) *MetaOptimizer {
	if sink == nil {
		sink = metrics.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaOptimizer{
		cfg:      cfg,
		model:    model,
		agg:      agg,
		meta:     optim.NewAdam(optim.AdamConfig{LR: cfg.MetaLR}),
		pretrain: optim.NewAdam(optim.AdamConfig{LR: cfg.MetaLR}),
		sink:     sink,
		logger:   logger,
	}
}

// Step runs one training meta-iteration on batch.
//
// The meta path differentiates the configured objective at step
// num_updates through the adaptation chain. The pretrain path
// differentiates the mean pre-adaptation loss. Either way the traced
// losses cover TraceLength steps.
//
// A non-finite gradient is reported and the update is skipped; the
// returned error is nil in that case.
func (o *MetaOptimizer) Step(batch *Batch, opts StepOptions) (*Report, error) {
	weights, err := o.model.Weights()
	if err != nil {
		return nil, err
	}

	req := Request{
		K:         o.cfg.TraceLength(),
		Target:    TargetPost,
		Step:      o.cfg.NumUpdates,
		Objective: o.cfg.Objective,
	}
	opt := o.meta
	if opts.Pretrain {
		req.Target = TargetPre
		opt = o.pretrain
	}

	res, err := o.agg.Aggregate(batch, weights, req)
	if err != nil {
		return nil, err
	}
	report := &Report{Result: res, Objective: res.PostLosses}
	if o.cfg.Objective == ObjectiveWeighted {
		report.Objective = res.WeightedPostLosses
	}
	o.warn(res, opts.Iteration)

	if res.Gradient.AllFinite() {
		if opts.MetaLR > 0 {
			prev := opt.LR()
			opt.SetLR(opts.MetaLR)
			defer opt.SetLR(prev)
		}
		trainable, err := o.model.Trainable()
		if err != nil {
			return nil, err
		}
		if err := opt.Step(trainable, res.Gradient); err != nil {
			return nil, &ShapeMismatchError{Op: "meta update", Err: err}
		}
		report.Applied = true
	}

	o.emit(PrefixTrain, res.PreLoss, report.Objective, opts.Iteration)
	return report, nil
}

// Evaluate computes the pre- and post-adaptation losses on batch without
// updating anything. Post losses are the plain mean over tasks.
func (o *MetaOptimizer) Evaluate(batch *Batch, iteration int) (*Report, error) {
	weights, err := o.model.Weights()
	if err != nil {
		return nil, err
	}
	res, err := o.agg.Aggregate(batch, weights, Request{K: o.cfg.TraceLength(), Target: TargetNone})
	if err != nil {
		return nil, err
	}
	o.warn(res, iteration)
	o.emit(PrefixVal, res.PreLoss, res.PostLosses, iteration)
	return &Report{Result: res, Objective: res.PostLosses}, nil
}

// MetaGradient returns the gradient the meta path of Step would apply,
// without applying it.
func (o *MetaOptimizer) MetaGradient(batch *Batch) (*nn.Params, error) {
	weights, err := o.model.Weights()
	if err != nil {
		return nil, err
	}
	res, err := o.agg.Aggregate(batch, weights, Request{
		K:         o.cfg.NumUpdates,
		Target:    TargetPost,
		Step:      o.cfg.NumUpdates,
		Objective: o.cfg.Objective,
	})
	if err != nil {
		return nil, err
	}
	return res.Gradient, nil
}

// StateDict returns both Adam states, prefixed "meta." and "pretrain.".
func (o *MetaOptimizer) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for k, v := range o.meta.StateDict() {
		out["meta."+k] = v
	}
	for k, v := range o.pretrain.StateDict() {
		out["pretrain."+k] = v
	}
	return out
}

// LoadStateDict restores state produced by StateDict. A path with no saved
// state keeps its current state.
func (o *MetaOptimizer) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for prefix, opt := range map[string]*optim.Adam{"meta.": o.meta, "pretrain.": o.pretrain} {
		sub := make(map[string]*tensor.RawTensor)
		for k, v := range state {
			if name, ok := strings.CutPrefix(k, prefix); ok {
				sub[name] = v
			}
		}
		if len(sub) == 0 {
			continue
		}
		if err := opt.LoadStateDict(sub); err != nil {
			return errors.Wrapf(err, "load %soptimizer state", prefix)
		}
	}
	return nil
}

// MetaLR returns the configured meta learning rate.
func (o *MetaOptimizer) MetaLR() float64 { return o.meta.LR() }

// MetaTimestep returns the number of meta updates applied.
func (o *MetaOptimizer) MetaTimestep() int { return o.meta.Timestep() }

// PretrainTimestep returns the number of pretrain updates applied.
func (o *MetaOptimizer) PretrainTimestep() int { return o.pretrain.Timestep() }

func (o *MetaOptimizer) emit(prefix string, pre float64, post []float64, iteration int) {
	o.sink.Scalar(PreUpdateSummary(prefix), pre, iteration)
	for j, v := range post {
		o.sink.Scalar(PostUpdateSummary(prefix, j+1), v, iteration)
	}
}

func (o *MetaOptimizer) warn(res *Result, iteration int) {
	for _, inst := range res.Instabilities {
		o.logger.Warn("numeric instability",
			"quantity", inst.Quantity,
			"step", inst.Step,
			"detail", inst.Detail,
			"iteration", iteration,
		)
	}
}
