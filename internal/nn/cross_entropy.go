package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CrossEntropyResult holds the outputs of CrossEntropy.
type CrossEntropyResult struct {
	Loss     float64    // Mean negative log-likelihood
	Accuracy float64    // Fraction of rows whose argmax equals the label
	Grad     *mat.Dense // ∂Loss/∂logits = (softmax(logits) - onehot) / rows
}

// CrossEntropy computes the mean cross-entropy of logits against class labels.
//
// Uses the LogSoftmax + NLL decomposition with the log-sum-exp trick:
//
//	Loss = -mean_i log_softmax(logits_i)[label_i]
//
// Accuracy compares argmax (first maximum wins ties) with the labels.
// An empty input yields zero loss, zero accuracy and an empty gradient.
func CrossEntropy(logits *mat.Dense, labels []int) (CrossEntropyResult, error) {
	n := Rows(logits)
	if n != len(labels) {
		return CrossEntropyResult{}, fmt.Errorf("%w: %d logit rows, %d labels", ErrShapeMismatch, n, len(labels))
	}
	if n == 0 {
		return CrossEntropyResult{Grad: &mat.Dense{}}, nil
	}

	_, classes := logits.Dims()
	grad := mat.NewDense(n, classes, nil)
	var total float64
	correct := 0
	inv := 1 / float64(n)

	for i := 0; i < n; i++ {
		row := logits.RawRowView(i)
		label := labels[i]
		if label < 0 || label >= classes {
			return CrossEntropyResult{}, fmt.Errorf("%w: row %d label %d, %d classes", ErrLabelOutOfRange, i, label, classes)
		}

		logProbs := logSoftmax(row)
		total -= logProbs[label]
		if argmax(row) == label {
			correct++
		}

		g := grad.RawRowView(i)
		for j, lp := range logProbs {
			g[j] = math.Exp(lp) * inv
		}
		g[label] -= inv
	}

	return CrossEntropyResult{
		Loss:     total * inv,
		Accuracy: float64(correct) * inv,
		Grad:     grad,
	}, nil
}

// logSoftmax computes log(softmax(z)) in numerically stable way.
//
// Formula:
//
//	LogSoftmax(z)[i] = z[i] - (max(z) + log(Σ exp(z - max(z))))
func logSoftmax(z []float64) []float64 {
	maxZ := z[0]
	for _, v := range z[1:] {
		maxZ = math.Max(maxZ, v)
	}
	var sum float64
	for _, v := range z {
		sum += math.Exp(v - maxZ)
	}
	lse := maxZ + math.Log(sum)

	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = v - lse
	}
	return out
}

// argmax returns the index of the first maximum.
func argmax(z []float64) int {
	best := 0
	for i, v := range z {
		if v > z[best] {
			best = i
		}
	}
	return best
}

// Argmax returns the per-row index of the first maximum.
func Argmax(m *mat.Dense) []int {
	n := Rows(m)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = argmax(m.RawRowView(i))
	}
	return out
}
