package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input with shape [rows, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias row with shape [1, out_features]
//
// Forward caches its input so that Backward can compute weight gradients.
// A Linear therefore serves one forward/backward pair at a time.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter

	input *mat.Dense
}

// NewLinear creates a Linear layer with Xavier weights and zero biases.
//
// Parameters:
//   - name: Prefix for parameter names (e.g., "encoder.fc")
//   - inFeatures: Number of input features
//   - outFeatures: Number of output features
//   - rng: Source for weight initialization
func NewLinear(name string, inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", Xavier(inFeatures, outFeatures, rng)),
		bias:        NewParameter(name+".bias", mat.NewDense(1, outFeatures, nil)),
	}
}

// Forward computes x @ W.T + b.
//
// An empty input yields an empty output.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	l.input = x
	n := Rows(x)
	if n == 0 {
		return &mat.Dense{}
	}
	if _, c := x.Dims(); c != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, c))
	}

	out := mat.NewDense(n, l.outFeatures, nil)
	out.Mul(x, l.weight.Value().T())
	b := l.bias.Value().RawRowView(0)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
	return out
}

// Backward accumulates dW = dy.T @ x and db = Σ_rows dy, and returns
// dx = dy @ W.
func (l *Linear) Backward(dy *mat.Dense) *mat.Dense {
	n := Rows(dy)
	if n == 0 {
		return &mat.Dense{}
	}
	if Rows(l.input) != n {
		panic(fmt.Sprintf("Linear.Backward: gradient has %d rows, cached input has %d", n, Rows(l.input)))
	}

	var dW mat.Dense
	dW.Mul(dy.T(), l.input)
	l.weight.AccumulateGrad(&dW)

	db := mat.NewDense(1, l.outFeatures, nil)
	dbRow := db.RawRowView(0)
	for i := 0; i < n; i++ {
		for j, v := range dy.RawRowView(i) {
			dbRow[j] += v
		}
	}
	l.bias.AccumulateGrad(db)

	dx := mat.NewDense(n, l.inFeatures, nil)
	dx.Mul(dy, l.weight.Value())
	return dx
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}
