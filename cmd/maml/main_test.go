package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionAndUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), version)

	out.Reset()
	require.NoError(t, run(nil, &out, &errOut))
	assert.Contains(t, out.String(), "Commands:")

	assert.Error(t, run([]string{"bogus"}, &out, &errOut))
}

func TestTrainThenEval(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`maml:
  dim_hidden: [8]
  meta_batch_size: 2
  test_num_updates: 2
train:
  iterations: 2
  eval_every: 0
  save_every: 2
  checkpoint_dir: `+filepath.Join(dir, "ckpt")+`
  eval_tasks: 3
`), 0o600))

	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"train", "-config", cfgPath, "-log-level", "warn", "-stop-grad"}, &out, &errOut))
	_, err := os.Stat(filepath.Join(dir, "ckpt", "model2.safetensors"))
	require.NoError(t, err)

	require.NoError(t, run([]string{"eval", "-config", cfgPath, "-log-level", "warn"}, &out, &errOut))
	assert.Contains(t, out.String(), "iteration 2")
	assert.Contains(t, out.String(), "metaval_Post-update loss, step 2")
}

func TestTrainRejectsBadFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Error(t, run([]string{"train", "-log-level", "loud"}, &out, &errOut))
	assert.Error(t, run([]string{"train", "-no-such-flag"}, &out, &errOut))
}
