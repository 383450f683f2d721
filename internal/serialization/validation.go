package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict checks names, shapes and offsets (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and shapes only.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted input.
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping tensor offsets and
// out-of-bounds regions.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Kind:    ProblemNegativeOffset,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Kind:    ProblemOutOfBounds,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Kind:    ProblemOverlap,
					Tensor:  t.Name,
					Other:   next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}

// ValidateTensorName rejects empty, overlong, or path-like names.
func ValidateTensorName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Kind: ProblemInvalidName, Details: "empty tensor name"}
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Kind:    ProblemNameTooLong,
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	case strings.Contains(name, ".."), strings.ContainsAny(name, "/\\\x00"):
		return &ValidationError{
			Kind:    ProblemInvalidName,
			Tensor:  name,
			Details: "contains '..', a path separator or a null byte",
		}
	}
	return nil
}

// ValidateTensorShape checks the dtype and that Size matches the shape.
func ValidateTensorShape(t TensorMeta) error {
	if t.DType != DTypeFloat64 {
		return &ValidationError{Kind: ProblemUnsupportedDType, Tensor: t.Name, Details: t.DType}
	}
	if len(t.Shape) != 2 || t.Shape[0] < 0 || t.Shape[1] < 0 {
		return &ValidationError{Kind: ProblemInvalidShape, Tensor: t.Name, Details: fmt.Sprintf("shape %v, want [rows, cols]", t.Shape)}
	}
	if want := int64(t.Shape[0]) * int64(t.Shape[1]) * 8; want != t.Size {
		return &ValidationError{
			Kind:    ProblemSizeMismatch,
			Tensor:  t.Name,
			Details: fmt.Sprintf("shape %v needs %d bytes, header says %d", t.Shape, want, t.Size),
		}
	}
	return nil
}

// ValidateHeader performs header validation at the given level.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Kind:    ProblemTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if err := ValidateTensorShape(t); err != nil {
			return err
		}
	}
	if level == ValidationStrict {
		return ValidateTensorOffsets(h.Tensors, dataSize)
	}
	return nil
}
