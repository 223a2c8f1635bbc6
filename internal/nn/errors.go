package nn

import "errors"

// Sentinel errors.
var (
	// ErrShapeMismatch reports mappings or tensors whose keys or shapes disagree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNormExists reports a non-reusing forward pass after normalization
	// parameters were already created.
	ErrNormExists = errors.New("normalization parameters already exist")

	// ErrNormMissing reports a reusing forward pass before normalization
	// parameters were created.
	ErrNormMissing = errors.New("normalization parameters not created")

	// ErrAlreadyBuilt reports a second attempt to install shared weights.
	ErrAlreadyBuilt = errors.New("model already built")

	// ErrNotBuilt reports use of the shared weights before Build.
	ErrNotBuilt = errors.New("model not built")

	// ErrUnknownOption reports an unrecognized norm, loss or store identifier.
	ErrUnknownOption = errors.New("unknown option")

	// ErrArtifactMissing reports a pretrained artifact that does not exist.
	ErrArtifactMissing = errors.New("pretrained artifact missing")
)
