package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tanh applies the element-wise hyperbolic tangent.
//
// Forward caches the output; Backward uses 1 - y².
type Tanh struct {
	output *mat.Dense
}

// NewTanh creates a new Tanh activation module.
func NewTanh() *Tanh {
	return &Tanh{}
}

// Forward applies tanh element-wise.
func (t *Tanh) Forward(x *mat.Dense) *mat.Dense {
	if Rows(x) == 0 {
		t.output = &mat.Dense{}
		return t.output
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	t.output = &out
	return &out
}

// Backward returns dy * (1 - y²).
func (t *Tanh) Backward(dy *mat.Dense) *mat.Dense {
	if Rows(dy) == 0 {
		return &mat.Dense{}
	}
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		y := t.output.At(i, j)
		return g * (1 - y*y)
	}, dy)
	return &dx
}

// Parameters returns nil (activations have no trainable parameters).
func (t *Tanh) Parameters() []*Parameter {
	return nil
}
