package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/maml/internal/tensor"
)

// LossFunc computes a per-sample loss vector [batch] from predictions and
// labels of shape [batch, dim_output].
//
// Per-sample losses are pre-divided so that their sum is the batch loss;
// callers aggregate with Sum.
type LossFunc func(backend tensor.Backend, pred, label *tensor.RawTensor) (*tensor.RawTensor, error)

// Loss identifiers accepted by LossByName.
const (
	LossMSE  = "mse"
	LossXent = "xent"
)

// LossByName returns the loss function for a configuration identifier.
func LossByName(name string) (LossFunc, error) {
	switch name {
	case LossMSE:
		return MSE, nil
	case LossXent:
		return SoftmaxCrossEntropy, nil
	default:
		return nil, errors.Wrapf(ErrUnknownOption, "loss %q", name)
	}
}

// MSE is the mean squared error spread over samples:
//
//	loss_i = Σ_j (pred_ij - label_ij)² / (batch * dim_output)
//
// so Σ_i loss_i equals the mean over all elements.
func MSE(backend tensor.Backend, pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := sameMatrix(pred, label); err != nil {
		return nil, err
	}
	rows, cols := pred.Shape().Matrix()
	diff := backend.Sub(pred, label)
	return backend.Scale(backend.SumCols(backend.Mul(diff, diff)), 1/float64(rows*cols)), nil
}

// SoftmaxCrossEntropy computes softmax cross-entropy against (soft) label
// distributions, divided by the batch size:
//
//	loss_i = (logsumexp(logits_i) - Σ_j label_ij * logits_ij) / batch
//
// The log-sum-exp form is exact for labels that sum to one per row and
// stable for large logits.
func SoftmaxCrossEntropy(backend tensor.Backend, logits, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := sameMatrix(logits, label); err != nil {
		return nil, err
	}
	rows, _ := logits.Shape().Matrix()
	lse := backend.LogSumExp(logits)
	dot := backend.SumCols(backend.Mul(label, logits))
	return backend.Scale(backend.Sub(lse, dot), 1/float64(rows)), nil
}

func sameMatrix(a, b *tensor.RawTensor) error {
	if len(a.Shape()) != 2 || !a.Shape().Equal(b.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "predictions %v vs labels %v", a.Shape(), b.Shape())
	}
	return nil
}
