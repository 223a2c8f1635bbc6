package maml

import (
	"errors"
	"fmt"

	"github.com/born-ml/maml/internal/nn"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	// ErrConfiguration reports an invalid option, an unknown identifier or a
	// missing pretrained artifact.
	ErrConfiguration = errors.New("configuration error")

	// ErrNumericInstability reports non-finite or saturated quantities.
	ErrNumericInstability = errors.New("numeric instability")

	// ErrShapeMismatch reports mappings or tensors whose keys or shapes disagree.
	ErrShapeMismatch = nn.ErrShapeMismatch
)

// ConfigurationError is returned when a learner cannot be constructed or a
// call is made with unusable arguments. It is fatal for the run.
type ConfigurationError struct {
	Field  string // Option or argument at fault
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ShapeMismatchError is returned when two parameter mappings, or a mapping
// and a data split, disagree on keys or shapes.
type ShapeMismatchError struct {
	Op  string // Operation that detected the mismatch
	Err error  // Detail, wraps nn.ErrShapeMismatch
}

func (e *ShapeMismatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: shape mismatch", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is matches ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// Unwrap returns the underlying error.
func (e *ShapeMismatchError) Unwrap() error {
	return e.Err
}

// NumericInstabilityError describes a soft failure: a non-finite loss,
// gradient or weighting, or a saturated softmax weighting. It is reported
// on results and logged. It never aborts a meta-iteration.
type NumericInstabilityError struct {
	Quantity string // What went wrong, e.g. "task weights"
	Step     int    // Adaptation step, or -1 when not step specific
	Detail   string
}

func (e *NumericInstabilityError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("numeric instability: %s at step %d: %s", e.Quantity, e.Step, e.Detail)
	}
	return fmt.Sprintf("numeric instability: %s: %s", e.Quantity, e.Detail)
}

// Is matches ErrNumericInstability.
func (e *NumericInstabilityError) Is(target error) bool {
	return target == ErrNumericInstability
}

// classify maps lower-level errors onto the package taxonomy. Errors that
// already carry a maml type pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ce *ConfigurationError
		se *ShapeMismatchError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &se):
		return err
	case errors.Is(err, nn.ErrShapeMismatch):
		return &ShapeMismatchError{Op: op, Err: err}
	case errors.Is(err, nn.ErrUnknownOption), errors.Is(err, nn.ErrArtifactMissing):
		return &ConfigurationError{Field: op, Reason: "invalid option", Err: err}
	default:
		return err
	}
}
