// Package serialization reads and writes tensors in the SafeTensors format.
//
// It serves two purposes: loading pretrained weight artifacts (which may be
// stored as F32 or F64) and persisting meta-learning checkpoints (always
// written as F64 so that a round trip is bit-exact).
//
//	File Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}, plus __metadata__]
//	  [Tensor data: raw little-endian bytes]
//
// Writers stamp a SHA-256 checksum of the tensor data section into the
// metadata under MetadataChecksum; readers verify it when present.
//
// Example usage:
//
//	// Save
//	err := serialization.WriteSafeTensors("ckpt.safetensors", tensors, map[string]string{"step": "100"})
//
//	// Load
//	file, err := serialization.ReadSafeTensors("ckpt.safetensors")
//	w1, err := file.Tensor("w1")
package serialization
