package maml

import (
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// GradBackend is a backend that can differentiate what it computed.
// autodiff.AutodiffBackend satisfies it.
type GradBackend interface {
	tensor.Backend
	Gradients(target *tensor.RawTensor, wrt []*tensor.RawTensor, createGraph bool) []*tensor.RawTensor
}

// StepResult is one trace entry.
type StepResult struct {
	Output *tensor.RawTensor // [batch, dim_output]
	Losses *tensor.RawTensor // per-sample losses [batch]
	Loss   *tensor.RawTensor // scalar, sum of Losses
}

// Trace is the adaptation record for one task.
//
// Steps[0] evaluates the starting weights on the training split. Steps[j]
// for j >= 1 evaluates the fast weights after j updates on the held-out
// split. Weights[0] is the starting mapping and Weights[j] the fast weights
// after j updates; every snapshot is derived from the previous one by
// nn.Update and none is mutated afterwards.
type Trace struct {
	Steps   []StepResult
	Weights []*nn.Params
}

// K returns the number of adaptation steps in the trace.
func (t *Trace) K() int { return len(t.Steps) - 1 }

// Final returns the last held-out evaluation.
func (t *Trace) Final() StepResult { return t.Steps[len(t.Steps)-1] }

// Adapter runs the inner loop for one task at a time.
type Adapter struct {
	model    *nn.MLP
	loss     nn.LossFunc
	updateLR float64
	stopGrad bool
}

// NewAdapter creates an adapter taking steps of size updateLR. With
// stopGrad the inner gradients are treated as constants, which gives the
// first-order approximation of the meta-gradient.
func NewAdapter(model *nn.MLP, loss nn.LossFunc, updateLR float64, stopGrad bool) *Adapter {
	return &Adapter{model: model, loss: loss, updateLR: updateLR, stopGrad: stopGrad}
}

// StopGrad reports whether inner gradients are detached.
func (a *Adapter) StopGrad() bool { return a.stopGrad }

// UpdateLR returns the inner-loop step size.
func (a *Adapter) UpdateLR() float64 { return a.updateLR }

// Adapt performs k gradient steps from weights on task's training split
// and evaluates the held-out split after each one.
//
// All computation runs on backend, which should be recording: the fast
// weights stay connected to weights through the update chain, so the
// held-out losses can be differentiated with respect to weights.
// reuse applies to the first forward pass only; later passes always reuse.
//
// The returned trace has k+1 entries. k < 1 is a configuration error.
func (a *Adapter) Adapt(backend GradBackend, task *Task, weights *nn.Params, k int, reuse bool) (*Trace, error) {
	if k < 1 {
		return nil, &ConfigurationError{Field: "num_updates", Reason: "adaptation needs at least one step"}
	}
	if err := a.model.CheckWeights(weights); err != nil {
		return nil, &ShapeMismatchError{Op: "adapt", Err: err}
	}

	trace := &Trace{
		Steps:   make([]StepResult, 0, k+1),
		Weights: make([]*nn.Params, 0, k+1),
	}

	pre, err := a.evaluate(backend, task.TrainInputs, task.TrainLabels, weights, reuse)
	if err != nil {
		return nil, err
	}
	trace.Steps = append(trace.Steps, pre)
	trace.Weights = append(trace.Weights, weights)

	trainLoss := pre.Loss
	fast := weights
	for j := 1; j <= k; j++ {
		if j > 1 {
			res, err := a.evaluate(backend, task.TrainInputs, task.TrainLabels, fast, true)
			if err != nil {
				return nil, err
			}
			trainLoss = res.Loss
		}

		fast, err = a.step(backend, trainLoss, fast)
		if err != nil {
			return nil, err
		}

		post, err := a.evaluate(backend, task.TestInputs, task.TestLabels, fast, true)
		if err != nil {
			return nil, err
		}
		trace.Steps = append(trace.Steps, post)
		trace.Weights = append(trace.Weights, fast)
	}
	return trace, nil
}

// step returns w - update_lr * d(loss)/d(w) as a new mapping.
func (a *Adapter) step(backend GradBackend, loss *tensor.RawTensor, w *nn.Params) (*nn.Params, error) {
	grads := backend.Gradients(loss, w.Tensors(), !a.stopGrad)
	g, err := nn.ParamsFrom(w.Names(), grads)
	if err != nil {
		return nil, err
	}
	next, err := nn.Update(backend, w, g, a.updateLR)
	if err != nil {
		return nil, &ShapeMismatchError{Op: "inner update", Err: err}
	}
	return next, nil
}

func (a *Adapter) evaluate(backend tensor.Backend, x, y *tensor.RawTensor, w *nn.Params, reuse bool) (StepResult, error) {
	out, err := a.model.Forward(backend, x, w, reuse)
	if err != nil {
		return StepResult{}, classify("forward", err)
	}
	losses, err := a.loss(backend, out, y)
	if err != nil {
		return StepResult{}, classify("loss", err)
	}
	return StepResult{Output: out, Losses: losses, Loss: backend.Sum(losses)}, nil
}
