// Package nn implements the neural network building blocks used by the
// octree autoencoder.
//
// This package provides:
//   - Parameter: Trainable matrix with an accumulated gradient
//   - Linear: Fully connected layer with explicit backward pass
//   - Tanh: Activation with explicit backward pass
//   - Loss functions: CrossEntropy (with accuracy), MSE
//
// All matrices are gonum *mat.Dense values with one row per sample (or
// octree node). Backward passes accumulate into parameter gradients; an
// optimizer consumes and clears them.
package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Common errors.
var (
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrMissingTensor   = errors.New("missing tensor in state dict")
	ErrLabelOutOfRange = errors.New("label out of range")
)

// Module is implemented by every component with trainable parameters.
type Module interface {
	// Parameters returns all trainable parameters, nested modules included.
	Parameters() []*Parameter
}

// StateDict collects parameter values keyed by prefix + parameter name.
func StateDict(prefix string, m Module) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense)
	for _, p := range m.Parameters() {
		out[prefix+p.Name()] = p.Value()
	}
	return out
}

// LoadStateDict copies matching entries of state into the module parameters.
//
// Every parameter must be present with an identical shape.
func LoadStateDict(prefix string, m Module, state map[string]*mat.Dense) error {
	for _, p := range m.Parameters() {
		src, ok := state[prefix+p.Name()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTensor, prefix+p.Name())
		}
		r, c := p.Value().Dims()
		sr, sc := src.Dims()
		if r != sr || c != sc {
			return fmt.Errorf("%w: %s expected [%d, %d], got [%d, %d]",
				ErrShapeMismatch, prefix+p.Name(), r, c, sr, sc)
		}
		p.Value().Copy(src)
	}
	return nil
}

// NewDense allocates an r×c matrix, returning an empty matrix when either
// dimension is zero (gonum rejects zero-sized allocations).
func NewDense(r, c int, data []float64) *mat.Dense {
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(r, c, data)
}

// Rows returns the row count of m, treating nil as empty.
func Rows(m mat.Matrix) int {
	if m == nil {
		return 0
	}
	if d, ok := m.(*mat.Dense); ok && d.IsEmpty() {
		return 0
	}
	r, _ := m.Dims()
	return r
}
