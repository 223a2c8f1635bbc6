// Package config loads run configuration from YAML files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/maml/internal/maml"
)

// Config captures the knobs for a meta-training run.
type Config struct {
	MAML  maml.Config `yaml:"maml"`
	Train Train       `yaml:"train"`
	Data  Data        `yaml:"data"`
}

// Train configures the outer training loop.
type Train struct {
	Iterations         int    `yaml:"iterations"`
	PretrainIterations int    `yaml:"pretrain_iterations"`
	LogEvery           int    `yaml:"log_every"`
	EvalEvery          int    `yaml:"eval_every"`
	EvalTasks          int    `yaml:"eval_tasks"`
	SaveEvery          int    `yaml:"save_every"`
	CheckpointDir      string `yaml:"checkpoint_dir"`
	Resume             string `yaml:"resume"`
}

// Data configures the synthetic task generator.
type Data struct {
	NumTrain   int    `yaml:"num_train"`
	NumTest    int    `yaml:"num_test"`
	VaryCounts bool   `yaml:"vary_counts"`
	Seed       uint64 `yaml:"seed"`
	EvalSeed   uint64 `yaml:"eval_seed"`
}

// Overrides captures CLI supplied values. Zero values leave the file value
// in place.
type Overrides struct {
	Iterations    int
	MetaBatchSize int
	NumUpdates    int
	UpdateLR      float64
	MetaLR        float64
	StopGrad      *bool
	Objective     string
	Parallelism   int
	Seed          uint64
	LogEvery      int
	CheckpointDir string
	Resume        string
}

// Default returns the sinusoid regression setup.
func Default() *Config {
	return &Config{
		MAML: maml.DefaultConfig(),
		Train: Train{
			Iterations:    70000,
			LogEvery:      100,
			EvalEvery:     1000,
			EvalTasks:     100,
			SaveEvery:     5000,
			CheckpointDir: "checkpoints",
		},
		Data: Data{
			NumTrain: 10,
			NumTest:  10,
			Seed:     1,
			EvalSeed: 2,
		},
	}
}

// Load reads and validates a Config from a YAML file. Keys absent from
// the file keep their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes and validates a Config from r.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Iterations > 0 {
		c.Train.Iterations = o.Iterations
	}
	if o.MetaBatchSize > 0 {
		c.MAML.MetaBatchSize = o.MetaBatchSize
	}
	if o.NumUpdates > 0 {
		c.MAML.NumUpdates = o.NumUpdates
	}
	if o.UpdateLR > 0 {
		c.MAML.UpdateLR = o.UpdateLR
	}
	if o.MetaLR > 0 {
		c.MAML.MetaLR = o.MetaLR
	}
	if o.StopGrad != nil {
		c.MAML.StopGrad = *o.StopGrad
	}
	if o.Objective != "" {
		c.MAML.Objective = maml.Objective(o.Objective)
	}
	if o.Parallelism > 0 {
		c.MAML.Parallelism = o.Parallelism
	}
	if o.Seed != 0 {
		c.MAML.Seed = o.Seed
		c.Data.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.Train.LogEvery = o.LogEvery
	}
	if o.CheckpointDir != "" {
		c.Train.CheckpointDir = o.CheckpointDir
	}
	if o.Resume != "" {
		c.Train.Resume = o.Resume
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.MAML.Validate(); err != nil {
		return err
	}
	if c.MAML.DimInput != 1 || c.MAML.DimOutput != 1 {
		return fmt.Errorf("sinusoid tasks need dim_input = dim_output = 1 (got %d, %d)", c.MAML.DimInput, c.MAML.DimOutput)
	}
	if c.Train.Iterations <= 0 {
		return fmt.Errorf("iterations must be > 0 (got %d)", c.Train.Iterations)
	}
	if c.Train.PretrainIterations < 0 {
		return fmt.Errorf("pretrain_iterations must be >= 0 (got %d)", c.Train.PretrainIterations)
	}
	if c.Train.EvalEvery > 0 && c.Train.EvalTasks <= 0 {
		return fmt.Errorf("eval_tasks must be > 0 when eval_every is set (got %d)", c.Train.EvalTasks)
	}
	if c.Train.SaveEvery > 0 && c.Train.CheckpointDir == "" {
		return errors.New("checkpoint_dir is required when save_every is set")
	}
	if c.Data.NumTrain <= 0 || c.Data.NumTest <= 0 {
		return fmt.Errorf("num_train and num_test must be > 0 (got %d, %d)", c.Data.NumTrain, c.Data.NumTest)
	}
	if c.Train.LogEvery <= 0 {
		c.Train.LogEvery = 100
	}
	return nil
}
