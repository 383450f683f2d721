// Package loss computes the composite reconstruction loss of the octree
// autoencoder: per-depth occupancy cross-entropy and accuracy, leaf signal
// regression, and a kernel-density term comparing the predicted and
// ground-truth octree shapes.
package loss

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/kde"
	"github.com/born-ml/ocnn/internal/model"
	"github.com/born-ml/ocnn/internal/nn"
	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/parallel"
)

// Keys of the loss terms.
const (
	KeyTotal   = "loss"
	KeyReg     = "loss_reg"
	KeyDensity = "loss_density"
)

// Epsilon is added to both densities before the divergence.
const Epsilon = 1e-10

// ErrMissingOutput is returned when the model output lacks a required field.
var ErrMissingOutput = errors.New("model output is incomplete")

// Output maps term names to scalar values.
type Output map[string]float64

// Keys returns the term names in sorted order.
func (o Output) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prefixed returns a copy with prefix prepended to every key.
func (o Output) Prefixed(prefix string) Output {
	out := make(Output, len(o))
	for k, v := range o {
		out[prefix+k] = v
	}
	return out
}

// Sum adds every term whose key contains "loss", in sorted key order.
func (o Output) Sum() float64 {
	var total float64
	for _, k := range o.Keys() {
		if strings.Contains(k, KeyTotal) {
			total += o[k]
		}
	}
	return total
}

// LossKey returns the occupancy loss key for depth d.
func LossKey(d int) string { return fmt.Sprintf("loss_%d", d) }

// AccuracyKey returns the occupancy accuracy key for depth d.
func AccuracyKey(d int) string { return fmt.Sprintf("accu_%d", d) }

// Config controls the density term.
type Config struct {
	DensityDepth   int     `yaml:"density_depth"`   // Depth whose node coordinates are compared
	DensitySamples int     `yaml:"density_samples"` // Grid points along the cube diagonal
	DensityWeight  float64 `yaml:"density_weight"`  // Multiplier; 0 disables the term

	Parallel parallel.Config `yaml:"-"`
}

// DefaultConfig returns depth 6, 100 samples and weight 1.
func DefaultConfig() Config {
	return Config{
		DensityDepth:   6,
		DensitySamples: 100,
		DensityWeight:  1,
		Parallel:       parallel.DefaultConfig(),
	}
}

// Result is the output of Compute.
type Result struct {
	Terms Output
	Grads *model.Gradients // ∂Terms["loss"]/∂(logits, signal)
}

// Compute evaluates the composite loss of out against the ground-truth
// octree gt.
//
// Terms:
//   - loss_<d>, accu_<d>: occupancy cross-entropy and accuracy for every
//     depth in out.Logits, labels from gt.NonEmptyMask(d)
//   - loss_reg: mean over leaves of Σ_channels (gt - pred)², gt from the
//     "ND" input feature
//   - loss_density: Jensen-Shannon divergence of KDEs fitted to the node
//     coordinates of both octrees
//   - loss: sum of all the above whose key contains "loss"
//
// The density term is treated as a constant for gradients. A point set
// too small for a KDE is logged as a warning and contributes 0.
func Compute(gt *octree.Octree, out *model.Output, cfg Config, logger *slog.Logger) (*Result, error) {
	if out == nil || out.Signal == nil {
		return nil, fmt.Errorf("%w: missing signal", ErrMissingOutput)
	}
	if logger == nil {
		logger = slog.Default()
	}

	terms := make(Output)
	grads := &model.Gradients{Logits: make(map[int]*mat.Dense, len(out.Logits))}

	for d, logits := range out.Logits {
		mask := gt.NonEmptyMask(d)
		if mask == nil {
			return nil, fmt.Errorf("depth %d: %w", d, octree.ErrNotSplit)
		}
		labels := make([]int, len(mask))
		for i, ok := range mask {
			if ok {
				labels[i] = 1
			}
		}
		ce, err := nn.CrossEntropy(logits, labels)
		if err != nil {
			return nil, fmt.Errorf("occupancy loss at depth %d: %w", d, err)
		}
		terms[LossKey(d)] = ce.Loss
		terms[AccuracyKey(d)] = ce.Accuracy
		grads.Logits[d] = ce.Grad
	}

	signalGT, err := gt.InputFeature("ND", true)
	if err != nil {
		return nil, fmt.Errorf("regression target: %w", err)
	}
	reg, regGrad, err := nn.SquaredError(out.Signal, signalGT)
	if err != nil {
		return nil, fmt.Errorf("regression loss: %w", err)
	}
	terms[KeyReg] = reg
	grads.Signal = regGrad

	density, err := densityTerm(gt, out.OctreeOut, cfg)
	switch {
	case errors.Is(err, kde.ErrEmptyPointSet):
		logger.Warn("density loss skipped", "error", err)
		density = 0
	case err != nil:
		return nil, fmt.Errorf("density loss: %w", err)
	default:
		logger.Debug("density loss", "value", density)
	}
	terms[KeyDensity] = density

	terms[KeyTotal] = terms.Sum()
	return &Result{Terms: terms, Grads: grads}, nil
}

// densityTerm compares the node coordinates of pred and gt at the density
// depth.
func densityTerm(gt, pred *octree.Octree, cfg Config) (float64, error) {
	if cfg.DensityWeight == 0 {
		return 0, nil
	}
	if pred == nil {
		return 0, fmt.Errorf("%w: missing reconstructed octree", ErrMissingOutput)
	}
	depth := min(cfg.DensityDepth, gt.Depth(), pred.Depth())
	if depth < 1 {
		depth = 1
	}
	samples := cfg.DensitySamples
	if samples <= 0 {
		samples = 100
	}

	grid := kde.DiagonalGrid(-1, 1, samples, 3)
	js, err := kde.Distance(NodePoints(pred, depth), NodePoints(gt, depth), grid, Epsilon, cfg.Parallel)
	if err != nil {
		return 0, err
	}
	return cfg.DensityWeight * js, nil
}

// NodePoints returns the coordinates of every node at depth d mapped to
// [-1, 1] with c / 2^(d-1) - 1.
func NodePoints(oct *octree.Octree, d int) *mat.Dense {
	coords := oct.Coords(d, false)
	m := nn.NewDense(len(coords), 3, nil)
	scale := math.Ldexp(1, d-1)
	for i, c := range coords {
		m.Set(i, 0, float64(c.X)/scale-1)
		m.Set(i, 1, float64(c.Y)/scale-1)
		m.Set(i, 2, float64(c.Z)/scale-1)
	}
	return m
}
