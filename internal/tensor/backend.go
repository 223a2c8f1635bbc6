package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// The operation set is deliberately closed under differentiation: the
// backward rule of every operation is expressible with operations from the
// same set. That is what lets a recording backend differentiate its own
// gradient computations (second-order gradients).
//
// Shape conventions: matrices are [rows, cols]; "row vectors" are 1D [cols]
// and "column vectors" are 1D [rows].
//
// Implementations:
//   - cpu.CPUBackend: pure Go with gonum kernels
//   - autodiff.AutodiffBackend: decorator recording a gradient tape
type Backend interface {
	// Name returns a human-readable backend name.
	Name() string

	// Element-wise binary operations (identical shapes).
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// Scalar operations.
	Scale(a *RawTensor, s float64) *RawTensor
	AddScalar(a *RawTensor, s float64) *RawTensor

	// Matrix operations.
	MatMul(a, b *RawTensor) *RawTensor
	Transpose(a *RawTensor) *RawTensor

	// Reductions and their broadcasting duals.
	Sum(a *RawTensor) *RawTensor                      // any -> scalar
	Expand(s *RawTensor, shape Shape) *RawTensor      // scalar -> shape
	SumRows(a *RawTensor) *RawTensor                  // [n,d] -> [d]
	BroadcastRows(v *RawTensor, rows int) *RawTensor  // [d] -> [rows,d]
	SumCols(a *RawTensor) *RawTensor                  // [n,d] -> [n]
	BroadcastCols(v *RawTensor, cols int) *RawTensor  // [n] -> [n,cols]

	// Nonlinearities.
	ReLU(a *RawTensor) *RawTensor
	Rsqrt(a *RawTensor) *RawTensor
	Softmax(a *RawTensor) *RawTensor   // row-wise, [n,c] -> [n,c]
	LogSumExp(a *RawTensor) *RawTensor // row-wise, [n,c] -> [n]
}
