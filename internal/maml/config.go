// Package maml implements the Model-Agnostic Meta-Learning engine.
//
// The engine learns a shared weight initialization such that a few
// gradient steps on a new task give a model that performs well on it:
//
//   - Adapter: the inner loop, K gradient steps on one task's training split
//     evaluated on its held-out split after every step
//   - Aggregator: the fan-out of the inner loop across a meta-batch and the
//     fan-in into batch objectives (plain mean and softmax-weighted)
//   - MetaOptimizer: differentiates the chosen objective with respect to the
//     shared weights through the adaptation chain and applies Adam
//   - Learner: wires configuration, model, weight store and optimizer
//
// Every task is adapted on its own autodiff backend and gradient tape, so
// no intermediate state is shared between tasks. The batch meta-gradient is
// assembled from per-task gradients by linearity of differentiation.
package maml

import (
	"fmt"
	"math"

	"github.com/born-ml/maml/internal/nn"
)

// Objective selects the aggregated post-adaptation loss the meta update
// minimizes.
type Objective string

// Supported objectives.
const (
	// ObjectiveWeighted is the sample-count weighted softmax objective.
	ObjectiveWeighted Objective = "weighted"
	// ObjectiveMean is the plain mean over tasks.
	ObjectiveMean Objective = "mean"
)

// Config holds every option recognized by the engine.
type Config struct {
	UpdateLR       float64   `yaml:"update_lr"`        // Inner-loop step size
	MetaLR         float64   `yaml:"meta_lr"`          // Outer-loop step size
	NumUpdates     int       `yaml:"num_updates"`      // K, inner steps used by the meta update
	TestNumUpdates int       `yaml:"test_num_updates"` // Inner steps traced for evaluation
	MetaBatchSize  int       `yaml:"meta_batch_size"`  // Tasks per meta-iteration
	StopGrad       bool      `yaml:"stop_grad"`        // First-order approximation
	Norm           string    `yaml:"norm"`             // none | batch_norm | layer_norm
	BaseModel      string    `yaml:"basemodel"`        // mlp | pretrained
	PretrainedPath string    `yaml:"pretrained_path"`  // SafeTensors artifact for basemodel=pretrained
	NumSamples     float64   `yaml:"num_samples"`      // Divisor for sample-count weighting
	DimInput       int       `yaml:"dim_input"`
	DimOutput      int       `yaml:"dim_output"`
	DimHidden      []int     `yaml:"dim_hidden"`
	Loss           string    `yaml:"loss"`        // mse | xent
	Objective      Objective `yaml:"objective"`   // weighted | mean
	Parallelism    int       `yaml:"parallelism"` // Tasks adapted concurrently, 0 = NumCPU
	Seed           uint64    `yaml:"seed"`
}

// DefaultConfig returns the configuration used for sinusoid regression.
func DefaultConfig() Config {
	return Config{
		UpdateLR:       1e-3,
		MetaLR:         1e-3,
		NumUpdates:     1,
		TestNumUpdates: 5,
		MetaBatchSize:  25,
		Norm:           string(nn.NormNone),
		BaseModel:      nn.StoreMLP,
		NumSamples:     100,
		DimInput:       1,
		DimOutput:      1,
		DimHidden:      []int{32, 32, 16},
		Loss:           nn.LossMSE,
		Objective:      ObjectiveWeighted,
	}
}

// TraceLength returns the number of adaptation steps traced per task:
// the larger of NumUpdates and TestNumUpdates.
func (c Config) TraceLength() int {
	return max(c.NumUpdates, c.TestNumUpdates)
}

// Validate checks every option. The first problem found is returned as a
// *ConfigurationError.
func (c Config) Validate() error {
	positive := func(field string, v float64) error {
		if !(v > 0) || math.IsInf(v, 0) {
			return &ConfigurationError{Field: field, Reason: "must be a finite value > 0"}
		}
		return nil
	}
	if err := positive("update_lr", c.UpdateLR); err != nil {
		return err
	}
	if err := positive("meta_lr", c.MetaLR); err != nil {
		return err
	}
	if err := positive("num_samples", c.NumSamples); err != nil {
		return err
	}
	if c.NumUpdates < 1 {
		return &ConfigurationError{Field: "num_updates", Reason: "must be >= 1"}
	}
	if c.TestNumUpdates < 0 {
		return &ConfigurationError{Field: "test_num_updates", Reason: "must be >= 0"}
	}
	if c.MetaBatchSize < 1 {
		return &ConfigurationError{Field: "meta_batch_size", Reason: "must be >= 1"}
	}
	if c.DimInput < 1 || c.DimOutput < 1 {
		return &ConfigurationError{Field: "dim_input/dim_output", Reason: "must be >= 1"}
	}
	for _, h := range c.DimHidden {
		if h < 1 {
			return &ConfigurationError{Field: "dim_hidden", Reason: "widths must be >= 1"}
		}
	}
	if c.Parallelism < 0 {
		return &ConfigurationError{Field: "parallelism", Reason: "must be >= 0"}
	}
	if _, err := nn.ParseNormMode(c.Norm); err != nil {
		return &ConfigurationError{Field: "norm", Reason: "unknown mode", Err: err}
	}
	if _, err := nn.LossByName(c.Loss); err != nil {
		return &ConfigurationError{Field: "loss", Reason: "unknown loss", Err: err}
	}
	switch c.Objective {
	case ObjectiveWeighted, ObjectiveMean:
	default:
		return &ConfigurationError{Field: "objective", Reason: "must be weighted or mean"}
	}
	switch c.BaseModel {
	case nn.StoreMLP:
	case nn.StorePretrained:
		if c.PretrainedPath == "" {
			return &ConfigurationError{Field: "pretrained_path", Reason: "required for basemodel pretrained"}
		}
		if len(c.DimHidden) != nn.PretrainedLayers {
			return &ConfigurationError{Field: "dim_hidden", Reason: "basemodel pretrained needs exactly 3 hidden layers"}
		}
	default:
		return &ConfigurationError{Field: "basemodel", Reason: fmt.Sprintf("unknown identifier %q", c.BaseModel)}
	}
	return nil
}
