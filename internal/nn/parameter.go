package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Parameter represents a trainable matrix in a neural network.
//
// Gradients are accumulated by backward passes and cleared by ZeroGrad.
//
// Example:
//
//	weight := nn.NewParameter("weight", mat.NewDense(4, 3, nil))
//	weight.AccumulateGrad(dW)
//	grad := weight.Grad()
type Parameter struct {
	name  string     // Parameter name (e.g., "decoder.3.fc1.weight")
	value *mat.Dense // The parameter matrix
	grad  *mat.Dense // Gradient, nil until the first backward pass
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, value *mat.Dense) *Parameter {
	return &Parameter{name: name, value: value}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Value returns the parameter matrix.
func (p *Parameter) Value() *mat.Dense {
	return p.value
}

// Grad returns the accumulated gradient.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter) Grad() *mat.Dense {
	return p.grad
}

// AccumulateGrad adds g to the stored gradient.
func (p *Parameter) AccumulateGrad(g mat.Matrix) {
	if p.grad == nil {
		r, c := p.value.Dims()
		p.grad = mat.NewDense(r, c, nil)
	}
	p.grad.Add(p.grad, g)
}

// ZeroGrad clears the gradient.
//
// This should be called after each optimizer step to avoid
// accumulating gradients from previous iterations.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// Size returns the number of scalar values in the parameter.
func (p *Parameter) Size() int {
	r, c := p.value.Dims()
	return r * c
}

// CountParameters sums the sizes of all parameters of m.
func CountParameters(m Module) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Size()
	}
	return n
}
