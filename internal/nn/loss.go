package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SquaredError computes mean over rows of the squared error summed over
// columns:
//
//	Loss = mean_i Σ_j (target_ij - pred_ij)²
//
// It returns the loss and ∂Loss/∂pred = -2 (target - pred) / rows.
// An empty input yields zero loss.
func SquaredError(pred, target *mat.Dense) (float64, *mat.Dense, error) {
	n := Rows(pred)
	if n != Rows(target) {
		return 0, nil, fmt.Errorf("%w: prediction has %d rows, target %d", ErrShapeMismatch, n, Rows(target))
	}
	if n == 0 {
		return 0, &mat.Dense{}, nil
	}
	_, pc := pred.Dims()
	_, tc := target.Dims()
	if pc != tc {
		return 0, nil, fmt.Errorf("%w: prediction has %d columns, target %d", ErrShapeMismatch, pc, tc)
	}

	var diff mat.Dense
	diff.Sub(target, pred)

	var total float64
	for i := 0; i < n; i++ {
		for _, v := range diff.RawRowView(i) {
			total += v * v
		}
	}

	var grad mat.Dense
	grad.Scale(-2/float64(n), &diff)
	return total / float64(n), &grad, nil
}
