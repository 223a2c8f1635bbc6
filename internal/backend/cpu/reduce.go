package cpu

import (
	"fmt"

	"github.com/born-ml/maml/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// Sum reduces all elements to a scalar.
func (cpu *CPUBackend) Sum(a *tensor.RawTensor) *tensor.RawTensor {
	return tensor.Scalar(floats.Sum(a.Data()))
}

// Expand broadcasts a single-element tensor to shape.
func (cpu *CPUBackend) Expand(s *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return tensor.Full(shape, s.Item())
}

// SumRows sums a [n,d] matrix over its rows, producing [d].
func (cpu *CPUBackend) SumRows(a *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := matrix("sumrows", a)
	result := tensor.MustNewRaw(tensor.Shape{cols})
	out := result.Data()
	data := a.Data()
	for i := 0; i < rows; i++ {
		floats.Add(out, data[i*cols:(i+1)*cols])
	}
	return result
}

// BroadcastRows repeats a [d] vector rows times, producing [rows,d].
func (cpu *CPUBackend) BroadcastRows(v *tensor.RawTensor, rows int) *tensor.RawTensor {
	cols := vector("broadcastrows", v)
	result := tensor.MustNewRaw(tensor.Shape{rows, cols})
	out := result.Data()
	for i := 0; i < rows; i++ {
		copy(out[i*cols:(i+1)*cols], v.Data())
	}
	return result
}

// SumCols sums a [n,d] matrix over its columns, producing [n].
func (cpu *CPUBackend) SumCols(a *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := matrix("sumcols", a)
	result := tensor.MustNewRaw(tensor.Shape{rows})
	out := result.Data()
	data := a.Data()
	for i := 0; i < rows; i++ {
		out[i] = floats.Sum(data[i*cols : (i+1)*cols])
	}
	return result
}

// BroadcastCols repeats each element of a [n] vector cols times, producing [n,cols].
func (cpu *CPUBackend) BroadcastCols(v *tensor.RawTensor, cols int) *tensor.RawTensor {
	rows := vector("broadcastcols", v)
	result := tensor.MustNewRaw(tensor.Shape{rows, cols})
	out := result.Data()
	for i, x := range v.Data() {
		row := out[i*cols : (i+1)*cols]
		for j := range row {
			row[j] = x
		}
	}
	return result
}

func matrix(op string, a *tensor.RawTensor) (rows, cols int) {
	shape := a.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("%s: expected 2D tensor, got shape %v", op, shape))
	}
	return shape[0], shape[1]
}

func vector(op string, v *tensor.RawTensor) int {
	shape := v.Shape()
	if len(shape) != 1 {
		panic(fmt.Sprintf("%s: expected 1D tensor, got shape %v", op, shape))
	}
	return shape[0]
}
