// Package optim implements optimization algorithms for training the octree
// autoencoder.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation
//   - Scheduler: Learning rate schedules (constant, step, cos, poly)
//
// Optimizers read the gradients accumulated on nn.Parameter values by the
// model's backward pass and update the parameter matrices in place.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR: 0.001,
//	})
//
//	for it := range iterations {
//	    out, _ := model.Forward(batch.Octree, false)
//	    res, _ := loss.Compute(batch.Octree, out, cfg, logger)
//	    _ = model.Backward(res.Grads)
//	    optimizer.Step()
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
)

// ErrUnknownOptimizer is returned by New for an unsupported optimizer type.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters based on computed gradients to
// minimize the loss function during training.
type Optimizer interface {
	// Step applies the accumulated gradients to all parameters.
	//
	// Parameters without a gradient (did not take part in the forward pass)
	// are skipped.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate (used by schedulers).
	SetLR(lr float64)

	// StateDict returns the optimizer state (moments, velocities, step
	// count) for checkpointing.
	StateDict() map[string]*mat.Dense

	// LoadStateDict restores state produced by StateDict. Missing entries
	// leave the corresponding state at zero.
	LoadStateDict(state map[string]*mat.Dense) error
}

// Config selects and configures an optimizer.
type Config struct {
	Type        string  // "adam" or "sgd"
	LR          float64 // Base learning rate
	Momentum    float64 // SGD momentum
	WeightDecay float64 // L2 penalty added to gradients
}

// New creates the optimizer named by cfg.Type.
func New(params []*nn.Parameter, cfg Config) (Optimizer, error) {
	switch cfg.Type {
	case "", "adam":
		return NewAdam(params, AdamConfig{LR: cfg.LR, WeightDecay: cfg.WeightDecay}), nil
	case "sgd":
		return NewSGD(params, SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum, WeightDecay: cfg.WeightDecay}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, cfg.Type)
	}
}

// zeroGrad clears the gradient of every parameter.
func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// effectiveGrad returns grad + weightDecay * param as a flat slice.
//
// Returns nil if the parameter has no gradient.
func effectiveGrad(p *nn.Parameter, weightDecay float64) []float64 {
	g := p.Grad()
	if g == nil {
		return nil
	}
	grad := append([]float64(nil), g.RawMatrix().Data...)
	if weightDecay != 0 {
		for i, w := range p.Value().RawMatrix().Data {
			grad[i] += weightDecay * w
		}
	}
	return grad
}

// loadBuffer copies a state entry into buf, checking its size.
func loadBuffer(state map[string]*mat.Dense, key string, buf []float64) error {
	src, ok := state[key]
	if !ok {
		return nil
	}
	data := src.RawMatrix().Data
	if len(data) != len(buf) {
		return fmt.Errorf("%w: optimizer state %s has %d values, expected %d",
			nn.ErrShapeMismatch, key, len(data), len(buf))
	}
	copy(buf, data)
	return nil
}

// bufferMatrix wraps a copy of buf in a matrix shaped like p.
func bufferMatrix(p *nn.Parameter, buf []float64) *mat.Dense {
	r, c := p.Value().Dims()
	return mat.NewDense(r, c, append([]float64(nil), buf...))
}
