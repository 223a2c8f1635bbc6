package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/born-ml/maml/internal/tensor"
)

// SafeTensorInfo describes a tensor in a SafeTensors header.
type SafeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end]
}

// File is a fully decoded SafeTensors file.
type File struct {
	Tensors  map[string]*tensor.RawTensor
	Metadata map[string]string
}

// Names returns the tensor names in alphabetical order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor returns the named tensor or ErrTensorNotFound.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return t, nil
}

// ReadSafeTensors reads and decodes every tensor of a SafeTensors file.
//
// F32 and F64 tensors are supported and decoded to float64. When the
// metadata carries a checksum it is verified against the data section.
// A missing file satisfies errors.Is(err, fs.ErrNotExist).
func ReadSafeTensors(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return DecodeSafeTensors(raw)
}

// DecodeSafeTensors decodes a SafeTensors file held in memory.
func DecodeSafeTensors(raw []byte) (*File, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("file too short: %d bytes", len(raw))
	}

	headerSize := binary.LittleEndian.Uint64(raw[:8])
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrHeaderTooLarge, headerSize)
	}
	if uint64(len(raw)-8) < headerSize {
		return nil, fmt.Errorf("header size %d exceeds file size %d", headerSize, len(raw))
	}

	headerBytes := raw[8 : 8+headerSize]
	data := raw[8+headerSize:]

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	file := &File{
		Tensors:  make(map[string]*tensor.RawTensor, len(rawMap)),
		Metadata: map[string]string{},
	}

	infos := make(map[string]SafeTensorInfo, len(rawMap))
	spans := make([]tensorSpan, 0, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			if err := json.Unmarshal(value, &file.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
			continue
		}
		if err := ValidateTensorName(key); err != nil {
			return nil, err
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		infos[key] = info
		spans = append(spans, tensorSpan{name: key, start: info.DataOffsets[0], end: info.DataOffsets[1]})
	}

	if err := validateSpans(spans, int64(len(data))); err != nil {
		return nil, err
	}

	if stored, ok := file.Metadata[MetadataChecksum]; ok {
		if err := ValidateChecksum(data, stored); err != nil {
			return nil, err
		}
	}

	for name, info := range infos {
		t, err := decodeTensor(name, info, data[info.DataOffsets[0]:info.DataOffsets[1]])
		if err != nil {
			return nil, err
		}
		file.Tensors[name] = t
	}

	return file, nil
}

// decodeTensor converts little-endian F32/F64 bytes into a tensor.
func decodeTensor(name string, info SafeTensorInfo, buf []byte) (*tensor.RawTensor, error) {
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	var width int
	switch info.DType {
	case DTypeF32:
		width = 4
	case DTypeF64:
		width = 8
	default:
		return nil, fmt.Errorf("%w: %s (tensor %s)", ErrUnsupportedDType, info.DType, name)
	}

	n := shape.NumElements()
	if len(buf) != n*width {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, data has %d", info.Shape, n*width, len(buf)),
			Err:     ErrOutOfBounds,
		}
	}

	t, err := tensor.NewRaw(shape)
	if err != nil {
		return nil, err
	}
	out := t.Data()
	for i := range out {
		if width == 4 {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		} else {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
	return t, nil
}
