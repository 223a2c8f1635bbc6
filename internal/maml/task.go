package maml

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// Task is one few-shot problem: a training split used for adaptation and a
// held-out split used to evaluate the adapted weights. Row i of an input
// matrix corresponds to row i of the matching label matrix.
type Task struct {
	TrainInputs *tensor.RawTensor // [n_train, dim_input]
	TrainLabels *tensor.RawTensor // [n_train, dim_output]
	TestInputs  *tensor.RawTensor // [n_test, dim_input]
	TestLabels  *tensor.RawTensor // [n_test, dim_output]

	// SampleCount weights the task in the weighted objective. Nil counts
	// the rows of both splits; an explicit zero is a zero count.
	SampleCount *float64
}

// SetSampleCount sets an explicit sample count.
func (t *Task) SetSampleCount(n float64) { t.SampleCount = &n }

// Count returns the sample count used for weighting.
func (t *Task) Count() float64 {
	if t.SampleCount != nil {
		return *t.SampleCount
	}
	return float64(t.TrainInputs.Shape()[0] + t.TestInputs.Shape()[0])
}

// Validate checks that both splits are matrices with aligned rows and the
// given feature widths.
func (t *Task) Validate(dimInput, dimOutput int) error {
	if t.TrainInputs == nil || t.TrainLabels == nil || t.TestInputs == nil || t.TestLabels == nil {
		return &ConfigurationError{Field: "task", Reason: "all four splits are required"}
	}
	if c := t.SampleCount; c != nil && (math.IsNaN(*c) || math.IsInf(*c, 0) || *c < 0) {
		return &ConfigurationError{Field: "sample_count", Reason: fmt.Sprintf("must be finite and >= 0 (got %v)", *c)}
	}
	if err := checkSplit("train", t.TrainInputs, t.TrainLabels, dimInput, dimOutput); err != nil {
		return err
	}
	return checkSplit("test", t.TestInputs, t.TestLabels, dimInput, dimOutput)
}

func checkSplit(split string, x, y *tensor.RawTensor, dimInput, dimOutput int) error {
	xs, ys := x.Shape(), y.Shape()
	if len(xs) != 2 || len(ys) != 2 {
		return &ShapeMismatchError{
			Op:  "task " + split + " split",
			Err: errors.Wrapf(nn.ErrShapeMismatch, "inputs %v and labels %v must be matrices", xs, ys),
		}
	}
	if xs[0] != ys[0] {
		return &ShapeMismatchError{
			Op:  "task " + split + " split",
			Err: errors.Wrapf(nn.ErrShapeMismatch, "%d input rows vs %d label rows", xs[0], ys[0]),
		}
	}
	if xs[1] != dimInput || ys[1] != dimOutput {
		return &ShapeMismatchError{
			Op:  "task " + split + " split",
			Err: errors.Wrapf(nn.ErrShapeMismatch, "inputs %v labels %v, expected [n, %d] and [n, %d]", xs, ys, dimInput, dimOutput),
		}
	}
	return nil
}

// Batch is a meta-batch. Every task is adapted with the same step count.
type Batch struct {
	Tasks []*Task
}

// Len returns the number of tasks.
func (b *Batch) Len() int { return len(b.Tasks) }

// Validate checks that the batch is non-empty and every task is well formed.
func (b *Batch) Validate(dimInput, dimOutput int) error {
	if b == nil || len(b.Tasks) == 0 {
		return &ConfigurationError{Field: "batch", Reason: "at least one task is required"}
	}
	for i, t := range b.Tasks {
		if t == nil {
			return &ConfigurationError{Field: fmt.Sprintf("batch.tasks[%d]", i), Reason: "nil task"}
		}
		if err := t.Validate(dimInput, dimOutput); err != nil {
			return errors.Wrapf(err, "task %d", i)
		}
	}
	return nil
}
