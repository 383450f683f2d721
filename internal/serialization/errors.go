package serialization

import (
	"errors"
	"fmt"
)

// Sentinel errors of the .ocnn format.
var (
	ErrChecksumMismatch   = errors.New("tensor data checksum mismatch")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("not an .ocnn file")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrNoCheckpoint       = errors.New("no checkpoint found")
)

// Problem classifies a ValidationError.
type Problem string

// Validation problems.
const (
	ProblemInvalidName      Problem = "invalid_name"
	ProblemNameTooLong      Problem = "name_too_long"
	ProblemNegativeOffset   Problem = "negative_offset"
	ProblemOutOfBounds      Problem = "out_of_bounds"
	ProblemOverlap          Problem = "offset_overlap"
	ProblemUnsupportedDType Problem = "unsupported_dtype"
	ProblemInvalidShape     Problem = "invalid_shape"
	ProblemSizeMismatch     Problem = "size_mismatch"
	ProblemTooManyTensors   Problem = "too_many_tensors"
)

// ValidationError reports a malformed tensor table entry.
type ValidationError struct {
	Kind    Problem
	Tensor  string // Offending tensor, if any
	Other   string // Second tensor of an overlap
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Other != "":
		return fmt.Sprintf("%s: %q overlaps %q: %s", e.Kind, e.Tensor, e.Other, e.Details)
	case e.Tensor != "":
		return fmt.Sprintf("%s: %q: %s", e.Kind, e.Tensor, e.Details)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Details)
	}
}
