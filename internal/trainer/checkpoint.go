package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/serialization"
	"github.com/born-ml/maml/internal/tensor"
)

// Checkpoint metadata keys.
const (
	MetaFormat    = "format"
	MetaRunID     = "run_id"
	MetaIteration = "iteration"

	checkpointFormat = "maml-checkpoint/v1"
)

// Checkpoint is a saved learner state.
type Checkpoint struct {
	RunID     string
	Iteration int
	State     map[string]*tensor.RawTensor
}

// CheckpointPath returns the file name used for a checkpoint at iteration.
func CheckpointPath(dir string, iteration int) string {
	return filepath.Join(dir, fmt.Sprintf("model%d.safetensors", iteration))
}

// SaveCheckpoint writes c to path, creating parent directories.
func SaveCheckpoint(path string, c *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint dir")
	}
	meta := map[string]string{
		MetaFormat:    checkpointFormat,
		MetaRunID:     c.RunID,
		MetaIteration: strconv.Itoa(c.Iteration),
	}
	if err := serialization.WriteSafeTensors(path, c.State, meta); err != nil {
		return errors.Wrapf(err, "save checkpoint %s", path)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s", path)
	}
	if f.Metadata[MetaFormat] != checkpointFormat {
		return nil, fmt.Errorf("load checkpoint %s: unsupported format %q", path, f.Metadata[MetaFormat])
	}
	iteration, err := strconv.Atoi(f.Metadata[MetaIteration])
	if err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s: iteration", path)
	}

	c := &Checkpoint{
		RunID:     f.Metadata[MetaRunID],
		Iteration: iteration,
		State:     make(map[string]*tensor.RawTensor),
	}
	for _, name := range f.Names() {
		t, err := f.Tensor(name)
		if err != nil {
			return nil, errors.Wrapf(err, "load checkpoint %s", path)
		}
		c.State[name] = t
	}
	return c, nil
}

// LatestCheckpoint returns the checkpoint in dir with the highest
// iteration, or "" when there is none.
func LatestCheckpoint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	best, bestIter := "", -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "model") || !strings.HasSuffix(name, ".safetensors") {
			continue
		}
		iter, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "model"), ".safetensors"))
		if err != nil {
			continue
		}
		if iter > bestIter {
			best, bestIter = filepath.Join(dir, name), iter
		}
	}
	return best, nil
}
