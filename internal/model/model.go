// Package model defines the octree autoencoder interface consumed by the
// training harness and a small baseline implementation.
package model

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
	"github.com/born-ml/ocnn/internal/octree"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid model config")
	ErrNoForward     = errors.New("backward called without a matching forward pass")
	ErrDepthMismatch = errors.New("octree depth does not match the model")
)

// Output is the result of a forward pass.
type Output struct {
	// Logits holds per-depth occupancy logits, one [nodes, 2] matrix per
	// decoded depth. Column 1 scores "non-empty".
	Logits map[int]*mat.Dense

	// Signal is the regressed [non-empty leaves, channelOut] signal
	// (normal + displacement).
	Signal *mat.Dense

	// OctreeOut is the reconstructed octree. Without octree update it is the
	// input octree.
	OctreeOut *octree.Octree
}

// Gradients carries ∂loss/∂output back into a model.
type Gradients struct {
	Logits map[int]*mat.Dense
	Signal *mat.Dense
}

// Model maps an octree to occupancy logits and a leaf signal.
//
// With update the model grows its own octree from the predicted occupancy;
// otherwise it decodes on the structure of the input octree.
type Model interface {
	Forward(oct *octree.Octree, update bool) (*Output, error)
}

// Trainable is a Model whose parameters are updated by an optimizer.
type Trainable interface {
	Model
	nn.Module

	// Backward accumulates parameter gradients for the most recent Forward.
	Backward(g *Gradients) error

	StateDict() map[string]*mat.Dense
	LoadStateDict(state map[string]*mat.Dense) error
}
