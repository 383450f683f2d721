package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
)

// scalarLoss is Σ (y ∘ w) for a fixed weighting w, so ∂loss/∂y = w.
func scalarLoss(y, w *mat.Dense) float64 {
	var prod mat.Dense
	prod.MulElem(y, w)
	return mat.Sum(&prod)
}

// TestLinear_GradientCheck compares Backward with finite differences.
func TestLinear_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := nn.NewLinear("fc", 3, 2, rng)
	act := nn.NewTanh()

	x := mat.NewDense(4, 3, []float64{
		0.1, -0.2, 0.3,
		0.5, 0.4, -0.1,
		-0.3, 0.2, 0.9,
		0.0, -0.6, 0.2,
	})
	w := mat.NewDense(4, 2, []float64{1, -1, 0.5, 2, -0.3, 0.7, 1.5, 0.2})

	forward := func() float64 {
		return scalarLoss(act.Forward(layer.Forward(x)), w)
	}

	forward()
	dx := layer.Backward(act.Backward(w))

	const h = 1e-6
	weight := layer.Weight().Value()
	grad := layer.Weight().Grad()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			orig := weight.At(i, j)
			weight.Set(i, j, orig+h)
			up := forward()
			weight.Set(i, j, orig-h)
			down := forward()
			weight.Set(i, j, orig)
			assert.InDelta(t, (up-down)/(2*h), grad.At(i, j), 1e-6, "dW[%d][%d]", i, j)
		}
	}

	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			orig := x.At(i, j)
			x.Set(i, j, orig+h)
			up := forward()
			x.Set(i, j, orig-h)
			down := forward()
			x.Set(i, j, orig)
			assert.InDelta(t, (up-down)/(2*h), dx.At(i, j), 1e-6, "dx[%d][%d]", i, j)
		}
	}

	bias := layer.Bias().Grad()
	require.NotNil(t, bias)
	r, c := bias.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 2, c)
}

func TestLinear_EmptyInput(t *testing.T) {
	layer := nn.NewLinear("fc", 3, 2, rand.New(rand.NewSource(1)))
	assert.True(t, layer.Forward(&mat.Dense{}).IsEmpty())
	assert.True(t, layer.Backward(&mat.Dense{}).IsEmpty())
	assert.Nil(t, layer.Weight().Grad())
}

func TestParameter_ZeroGrad(t *testing.T) {
	p := nn.NewParameter("w", mat.NewDense(1, 2, []float64{1, 2}))
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{1, 1}))
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{0.5, 0}))
	assert.Equal(t, []float64{1.5, 1}, p.Grad().RawRowView(0))

	p.ZeroGrad()
	assert.Nil(t, p.Grad())
	assert.Equal(t, 2, p.Size())
}

func TestStateDictRoundTrip(t *testing.T) {
	a := nn.NewLinear("fc", 2, 2, rand.New(rand.NewSource(1)))
	b := nn.NewLinear("fc", 2, 2, rand.New(rand.NewSource(2)))

	require.NoError(t, nn.LoadStateDict("m.", b, nn.StateDict("m.", a)))
	assert.True(t, mat.Equal(a.Weight().Value(), b.Weight().Value()))

	err := nn.LoadStateDict("other.", b, nn.StateDict("m.", a))
	assert.ErrorIs(t, err, nn.ErrMissingTensor)

	c := nn.NewLinear("fc", 3, 2, rand.New(rand.NewSource(3)))
	err = nn.LoadStateDict("m.", c, nn.StateDict("m.", a))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}
