package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
)

// TestCrossEntropy_Forward tests the loss value on a single row.
func TestCrossEntropy_Forward(t *testing.T) {
	// log_softmax([2.0, 1.0])[0] = 2.0 - (2.0 + log(1 + e^-1)) = -0.3133
	logits := mat.NewDense(1, 2, []float64{2, 1})

	res, err := nn.CrossEntropy(logits, []int{0})
	require.NoError(t, err)

	assert.InDelta(t, 0.31326, res.Loss, 1e-4)
	assert.Equal(t, 1.0, res.Accuracy)
}

// TestCrossEntropy_Gradient checks softmax - onehot scaled by 1/rows.
func TestCrossEntropy_Gradient(t *testing.T) {
	logits := mat.NewDense(2, 2, []float64{0, 0, 3, -3})

	res, err := nn.CrossEntropy(logits, []int{1, 1})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0.25, -0.25}, res.Grad.RawRowView(0), 1e-9)
	for i := 0; i < 2; i++ {
		row := res.Grad.RawRowView(i)
		assert.InDelta(t, 0, row[0]+row[1], 1e-12, "gradient rows sum to zero")
	}
	// Row 0 ties; argmax picks class 0. Row 1 predicts class 0.
	assert.Equal(t, 0.0, res.Accuracy)
}

// TestCrossEntropy_ConfidentAndCorrect approaches zero loss.
func TestCrossEntropy_ConfidentAndCorrect(t *testing.T) {
	logits := mat.NewDense(3, 2, []float64{20, -20, -20, 20, 20, -20})

	res, err := nn.CrossEntropy(logits, []int{0, 1, 0})
	require.NoError(t, err)

	assert.Less(t, res.Loss, 1e-12)
	assert.Equal(t, 1.0, res.Accuracy)
}

func TestCrossEntropy_Errors(t *testing.T) {
	logits := mat.NewDense(1, 2, []float64{0, 1})

	_, err := nn.CrossEntropy(logits, []int{0, 1})
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	_, err = nn.CrossEntropy(logits, []int{2})
	assert.ErrorIs(t, err, nn.ErrLabelOutOfRange)
}

func TestCrossEntropy_Empty(t *testing.T) {
	res, err := nn.CrossEntropy(&mat.Dense{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Loss)
	assert.True(t, res.Grad.IsEmpty())
}

func TestSquaredError(t *testing.T) {
	pred := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	target := mat.NewDense(2, 2, []float64{1, 0, 0, 4})

	loss, grad, err := nn.SquaredError(pred, target)
	require.NoError(t, err)

	// Row sums: 4 and 9, mean 6.5.
	assert.InDelta(t, 6.5, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 2, 3, 0}, grad.RawMatrix().Data, 1e-12)

	loss, _, err = nn.SquaredError(target, target)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)

	_, _, err = nn.SquaredError(pred, mat.NewDense(1, 2, nil))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestArgmax(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1, 2, 5, -1, 0, 0})
	assert.Equal(t, []int{1, 0, 0}, nn.Argmax(m))
	assert.Empty(t, nn.Argmax(&mat.Dense{}))
}
