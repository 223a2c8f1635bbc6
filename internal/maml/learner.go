package maml

import (
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/metrics"
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// State dict key prefixes.
const (
	weightsPrefix = "weights."
	normPrefix    = "norm."
	optPrefix     = "opt."
)

// Options carry the collaborators of a Learner. Zero values select
// defaults.
type Options struct {
	Logger *slog.Logger // Default: slog.Default()
	Sink   metrics.Sink // Default: metrics.Discard

	// Store overrides the weight store selected by basemodel.
	Store nn.WeightStore

	// NewBackend overrides the per-task recording backend.
	NewBackend func() GradBackend
}

// Learner is a fully constructed meta-learner: a built model holding the
// shared weights, the inner-loop adapter, the batch aggregator and the
// meta-optimizer.
//
// A Learner is not safe for concurrent use. Step, Evaluate and Adapt fan
// out internally.
type Learner struct {
	cfg     Config
	model   *nn.MLP
	adapter *Adapter
	agg     *Aggregator
	opt     *MetaOptimizer
	logger  *slog.Logger
}

// NewLearner validates cfg and builds the shared weights. Every
// configuration and shape problem is reported here, before any
// meta-iteration runs.
func NewLearner(cfg Config, opts Options) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mode, _ := nn.ParseNormMode(cfg.Norm)
	loss, _ := nn.LossByName(cfg.Loss)
	model, err := nn.NewMLP(cfg.DimInput, cfg.DimHidden, cfg.DimOutput, mode)
	if err != nil {
		return nil, &ConfigurationError{Field: "model", Reason: "invalid architecture", Err: err}
	}

	store := opts.Store
	if store == nil {
		store, err = newStore(cfg, model)
		if err != nil {
			return nil, err
		}
	}
	if _, err := model.Build(store); err != nil {
		return nil, classify("build", err)
	}

	adapter := NewAdapter(model, loss, cfg.UpdateLR, cfg.StopGrad)
	agg := NewAggregator(model, adapter, cfg.NumSamples, cfg.Parallelism)
	if opts.NewBackend != nil {
		agg.NewBackend = opts.NewBackend
	}

	logger.Info("meta-learner built",
		"basemodel", cfg.BaseModel,
		"dim_hidden", cfg.DimHidden,
		"norm", mode,
		"loss", cfg.Loss,
		"objective", cfg.Objective,
		"num_updates", cfg.NumUpdates,
		"update_lr", adapter.UpdateLR(),
		"stop_grad", adapter.StopGrad(),
	)

	return &Learner{
		cfg:     cfg,
		model:   model,
		adapter: adapter,
		agg:     agg,
		opt:     NewMetaOptimizer(cfg, model, agg, opts.Sink, logger),
		logger:  logger,
	}, nil
}

func newStore(cfg Config, model *nn.MLP) (nn.WeightStore, error) {
	if cfg.BaseModel != nn.StorePretrained {
		return nn.NewRandomStore(model, cfg.Seed), nil
	}
	if _, err := os.Stat(cfg.PretrainedPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigurationError{Field: "pretrained_path", Reason: "artifact not found", Err: err}
		}
		return nil, &ConfigurationError{Field: "pretrained_path", Reason: "artifact unreadable", Err: err}
	}
	store, err := nn.NewPretrainedStore(model, cfg.PretrainedPath, cfg.Seed)
	if err != nil {
		return nil, classify("pretrained store", err)
	}
	return store, nil
}

// Config returns the learner's configuration.
func (l *Learner) Config() Config { return l.cfg }

// Model returns the underlying network.
func (l *Learner) Model() *nn.MLP { return l.model }

// Weights returns the shared weights. The tensors are live: they change
// with every applied Step.
func (l *Learner) Weights() *nn.Params {
	w, _ := l.model.Weights()
	return w
}

// Aggregator returns the batch aggregator.
func (l *Learner) Aggregator() *Aggregator { return l.agg }

// Optimizer returns the meta-optimizer.
func (l *Learner) Optimizer() *MetaOptimizer { return l.opt }

// Step runs one training meta-iteration. See MetaOptimizer.Step.
func (l *Learner) Step(batch *Batch, opts StepOptions) (*Report, error) {
	return l.opt.Step(batch, opts)
}

// Evaluate computes losses on batch without updating. See
// MetaOptimizer.Evaluate.
func (l *Learner) Evaluate(batch *Batch, iteration int) (*Report, error) {
	return l.opt.Evaluate(batch, iteration)
}

// MetaGradient returns the meta-gradient for batch without applying it.
func (l *Learner) MetaGradient(batch *Batch) (*nn.Params, error) {
	return l.opt.MetaGradient(batch)
}

// Adapt runs k inner steps from the shared weights on one task.
func (l *Learner) Adapt(task *Task, k int) (*Trace, error) {
	batch := &Batch{Tasks: []*Task{task}}
	if err := batch.Validate(l.cfg.DimInput, l.cfg.DimOutput); err != nil {
		return nil, err
	}
	if err := l.agg.Prepare(batch, l.Weights()); err != nil {
		return nil, err
	}
	return l.adapter.Adapt(l.agg.NewBackend(), task, l.Weights(), k, true)
}

// StateDict returns everything needed to resume training: shared weights
// ("weights."), normalization parameters ("norm.") and optimizer state
// ("opt."). Weight tensors are copies.
func (l *Learner) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	w := l.Weights()
	for _, name := range w.Names() {
		t, _ := w.Get(name)
		out[weightsPrefix+name] = t.Clone()
	}
	norm := l.model.Norm().Params()
	for _, name := range norm.Names() {
		t, _ := norm.Get(name)
		out[normPrefix+name] = t.Clone()
	}
	for k, v := range l.opt.StateDict() {
		out[optPrefix+k] = v
	}
	return out
}

// LoadStateDict restores state produced by StateDict. Shared weights are
// overwritten in place and must match the architecture exactly.
func (l *Learner) LoadStateDict(state map[string]*tensor.RawTensor) error {
	weights, norm, opt := nn.NewParams(), nn.NewParams(), make(map[string]*tensor.RawTensor)
	current := l.Weights()
	for _, name := range current.Names() {
		t, ok := state[weightsPrefix+name]
		if !ok {
			return &ShapeMismatchError{Op: "load state", Err: errors.Wrapf(nn.ErrShapeMismatch, "missing %q", weightsPrefix+name)}
		}
		weights.Set(name, t)
	}
	for k, v := range state {
		switch {
		case strings.HasPrefix(k, normPrefix):
			norm.Set(strings.TrimPrefix(k, normPrefix), v)
		case strings.HasPrefix(k, optPrefix):
			opt[strings.TrimPrefix(k, optPrefix)] = v
		}
	}

	if err := current.CheckCompatible(weights); err != nil {
		return &ShapeMismatchError{Op: "load state", Err: err}
	}
	if norm.Len() > 0 || l.model.Norm().Mode() == nn.NormNone {
		if err := l.model.Norm().Load(norm); err != nil {
			return &ShapeMismatchError{Op: "load state", Err: err}
		}
	}
	if err := l.opt.LoadStateDict(opt); err != nil {
		return err
	}

	for _, name := range current.Names() {
		dst, _ := current.Get(name)
		src, _ := weights.Get(name)
		copy(dst.Data(), src.Data())
	}
	return nil
}
