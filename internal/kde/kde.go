// Package kde implements Gaussian kernel density estimation and the
// Jensen-Shannon divergence used by the density term of the reconstruction
// loss.
//
// The estimator follows the usual multivariate definition: a full
// covariance from the unbiased sample covariance scaled by Scott's factor
// n^(-1/(d+4)), squared.
package kde

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/ocnn/internal/parallel"
)

var (
	// ErrEmptyPointSet is returned when fewer than two points are given.
	ErrEmptyPointSet = errors.New("kde: point set needs at least two points")

	// ErrDimension is returned when evaluation points do not match the data dimension.
	ErrDimension = errors.New("kde: dimension mismatch")

	// ErrSingular is returned when the covariance stays singular after regularization.
	ErrSingular = errors.New("kde: singular covariance")
)

// ridgeAttempts bounds the number of times the diagonal ridge is grown.
const ridgeAttempts = 8

// Gaussian is a fitted kernel density estimate.
type Gaussian struct {
	data   *mat.Dense    // n×d observations
	cov    *mat.SymDense // kernel covariance
	inv    *mat.SymDense // inverse kernel covariance
	norm   float64       // 1 / (n sqrt((2π)^d det cov))
	factor float64
	ridge  float64
	cfg    parallel.Config
}

// New fits a Gaussian KDE to the rows of data.
//
// A covariance that is not positive definite (for instance coplanar points)
// gets a growing diagonal ridge until the Cholesky factorization succeeds.
func New(data *mat.Dense, cfg parallel.Config) (*Gaussian, error) {
	if data == nil || data.IsEmpty() {
		return nil, ErrEmptyPointSet
	}
	n, d := data.Dims()
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrEmptyPointSet, n)
	}

	factor := math.Pow(float64(n), -1/float64(d+4))

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	cov.ScaleSym(factor*factor, &cov)

	var (
		chol  mat.Cholesky
		ridge float64
	)
	ok := chol.Factorize(&cov)
	for attempt := 0; !ok && attempt < ridgeAttempts; attempt++ {
		if ridge == 0 {
			ridge = 1e-10 * math.Max(1, maxDiag(&cov))
		} else {
			ridge *= 100
		}
		reg := mat.NewSymDense(d, nil)
		reg.CopySym(&cov)
		for i := 0; i < d; i++ {
			reg.SetSym(i, i, reg.At(i, i)+ridge)
		}
		if ok = chol.Factorize(reg); ok {
			cov.CopySym(reg)
		}
	}
	if !ok {
		return nil, ErrSingular
	}

	inv := mat.NewSymDense(d, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	logNorm := -math.Log(float64(n)) - 0.5*(float64(d)*math.Log(2*math.Pi)+chol.LogDet())
	return &Gaussian{
		data:   data,
		cov:    &cov,
		inv:    inv,
		norm:   math.Exp(logNorm),
		factor: factor,
		ridge:  ridge,
		cfg:    cfg,
	}, nil
}

func maxDiag(m *mat.SymDense) float64 {
	var v float64
	for i := 0; i < m.SymmetricDim(); i++ {
		v = math.Max(v, math.Abs(m.At(i, i)))
	}
	return v
}

// Factor returns the Scott bandwidth factor.
func (g *Gaussian) Factor() float64 { return g.factor }

// Covariance returns the kernel covariance.
func (g *Gaussian) Covariance() *mat.SymDense { return g.cov }

// Ridge returns the diagonal regularization that was added, or 0.
func (g *Gaussian) Ridge() float64 { return g.ridge }

// Evaluate returns the estimated density at every row of at.
func (g *Gaussian) Evaluate(at *mat.Dense) ([]float64, error) {
	if at == nil || at.IsEmpty() {
		return nil, nil
	}
	m, d := at.Dims()
	n, dd := g.data.Dims()
	if d != dd {
		return nil, fmt.Errorf("%w: data has %d dims, points have %d", ErrDimension, dd, d)
	}

	out := make([]float64, m)
	parallel.ForRange(m, func(start, end int) {
		diff := make([]float64, d)
		for j := start; j < end; j++ {
			x := at.RawRowView(j)
			var sum float64
			for i := 0; i < n; i++ {
				floats.SubTo(diff, x, g.data.RawRowView(i))
				sum += math.Exp(-0.5 * g.quadratic(diff))
			}
			out[j] = sum * g.norm
		}
	}, g.cfg)
	return out, nil
}

// quadratic returns vᵀ Σ⁻¹ v.
func (g *Gaussian) quadratic(v []float64) float64 {
	var q float64
	for a := range v {
		for b := range v {
			q += v[a] * g.inv.At(a, b) * v[b]
		}
	}
	return q
}

// Linspace returns n evenly spaced values over [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	floats.Span(out, lo, hi)
	return out
}

// DiagonalGrid returns an n×dim matrix whose row i is (t_i, ..., t_i) with
// t = Linspace(lo, hi, n).
func DiagonalGrid(lo, hi float64, n, dim int) *mat.Dense {
	if n <= 0 || dim <= 0 {
		return &mat.Dense{}
	}
	t := Linspace(lo, hi, n)
	grid := mat.NewDense(n, dim, nil)
	for i, v := range t {
		for k := 0; k < dim; k++ {
			grid.Set(i, k, v)
		}
	}
	return grid
}

// JensenShannon returns the Jensen-Shannon divergence (natural log) between
// two non-negative vectors after adding eps to every entry and normalizing
// each to sum to one. The result is the square of the Jensen-Shannon
// distance and lies in [0, ln 2].
func JensenShannon(p, q []float64, eps float64) (float64, error) {
	if len(p) != len(q) {
		return 0, fmt.Errorf("%w: %d vs %d values", ErrDimension, len(p), len(q))
	}
	if len(p) == 0 {
		return 0, nil
	}
	pn := normalized(p, eps)
	qn := normalized(q, eps)
	js := stat.JensenShannon(pn, qn)
	// Rounding can push identical inputs slightly negative.
	return math.Max(js, 0), nil
}

func normalized(v []float64, eps float64) []float64 {
	out := append([]float64(nil), v...)
	floats.AddConst(eps, out)
	if s := floats.Sum(out); s > 0 {
		floats.Scale(1/s, out)
	}
	return out
}

// Distance fits a KDE to each point set, evaluates both at grid and returns
// the Jensen-Shannon divergence of the resulting densities.
func Distance(pred, gt, grid *mat.Dense, eps float64, cfg parallel.Config) (float64, error) {
	pk, err := New(pred, cfg)
	if err != nil {
		return 0, fmt.Errorf("predicted points: %w", err)
	}
	gk, err := New(gt, cfg)
	if err != nil {
		return 0, fmt.Errorf("ground-truth points: %w", err)
	}
	p, err := pk.Evaluate(grid)
	if err != nil {
		return 0, err
	}
	q, err := gk.Evaluate(grid)
	if err != nil {
		return 0, err
	}
	return JensenShannon(p, q, eps)
}
