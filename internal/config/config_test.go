package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/maml/internal/maml"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `maml:
  update_lr: 0.01
  num_updates: 5
  meta_batch_size: 4
  stop_grad: true
  norm: layer_norm
  dim_hidden: [40, 40]
  objective: mean
train:
  iterations: 20
  eval_every: 0
  save_every: 10
  checkpoint_dir: ` + dir + `
data:
  num_train: 5
  vary_counts: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.01, cfg.MAML.UpdateLR)
	assert.Equal(t, 5, cfg.MAML.NumUpdates)
	assert.True(t, cfg.MAML.StopGrad)
	assert.Equal(t, "layer_norm", cfg.MAML.Norm)
	assert.Equal(t, []int{40, 40}, cfg.MAML.DimHidden)
	assert.Equal(t, maml.ObjectiveMean, cfg.MAML.Objective)
	assert.Equal(t, 20, cfg.Train.Iterations)
	assert.Equal(t, 5, cfg.Data.NumTrain)
	assert.True(t, cfg.Data.VaryCounts)

	// Untouched keys keep defaults.
	assert.Equal(t, 0.001, cfg.MAML.MetaLR)
	assert.Equal(t, 10, cfg.Data.NumTest)
	assert.Equal(t, 100.0, cfg.MAML.NumSamples)
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("maml:\n  learning_rate: 0.1\n"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidEngineConfig(t *testing.T) {
	_, err := Parse(strings.NewReader("maml:\n  num_updates: 0\n"))
	assert.ErrorIs(t, err, maml.ErrConfiguration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	stop := true
	cfg.ApplyOverrides(Overrides{
		Iterations:    7,
		MetaBatchSize: 3,
		NumUpdates:    2,
		MetaLR:        0.5,
		StopGrad:      &stop,
		Objective:     "mean",
		Seed:          11,
		Resume:        "ckpt.safetensors",
	})
	assert.Equal(t, 7, cfg.Train.Iterations)
	assert.Equal(t, 3, cfg.MAML.MetaBatchSize)
	assert.Equal(t, 2, cfg.MAML.NumUpdates)
	assert.Equal(t, 0.5, cfg.MAML.MetaLR)
	assert.True(t, cfg.MAML.StopGrad)
	assert.Equal(t, maml.ObjectiveMean, cfg.MAML.Objective)
	assert.Equal(t, uint64(11), cfg.MAML.Seed)
	assert.Equal(t, uint64(11), cfg.Data.Seed)
	assert.Equal(t, "ckpt.safetensors", cfg.Train.Resume)

	// Zero overrides leave values alone.
	cfg.ApplyOverrides(Overrides{})
	assert.Equal(t, 7, cfg.Train.Iterations)
	assert.True(t, cfg.MAML.StopGrad)
}

func TestValidate(t *testing.T) {
	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())

	tests := map[string]func(*Config){
		"iterations":    func(c *Config) { c.Train.Iterations = 0 },
		"eval tasks":    func(c *Config) { c.Train.EvalEvery, c.Train.EvalTasks = 10, 0 },
		"checkpoint":    func(c *Config) { c.Train.SaveEvery, c.Train.CheckpointDir = 10, "" },
		"num_test":      func(c *Config) { c.Data.NumTest = 0 },
		"dim_input":     func(c *Config) { c.MAML.DimInput = 2 },
		"pretrain iter": func(c *Config) { c.Train.PretrainIterations = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
