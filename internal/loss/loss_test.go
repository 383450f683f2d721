package loss_test

import (
	"bytes"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/seqsense/pcgol/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/loss"
	"github.com/born-ml/ocnn/internal/model"
	"github.com/born-ml/ocnn/internal/nn"
	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/parallel"
	"github.com/born-ml/ocnn/internal/points"
)

func blob(seed int64, n int, shift float32) *points.PointCloud {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mat.Vec3, n)
	normals := make([]mat.Vec3, n)
	for i := range pts {
		pts[i] = mat.Vec3{
			float32(rng.Float64()-0.5)*0.8 + shift,
			float32(rng.Float64()-0.5)*0.8 + shift,
			float32(rng.Float64()-0.5)*0.8 + shift,
		}
		normals[i] = mat.Vec3{0, 0, 1}
	}
	pc, err := points.New(pts, normals)
	if err != nil {
		panic(err)
	}
	return pc
}

func buildOctree(t *testing.T, clouds ...*points.PointCloud) *octree.Octree {
	t.Helper()
	oct, err := octree.Build(clouds, 4, 2)
	require.NoError(t, err)
	return oct
}

// perfectOutput returns confident logits matching the occupancy of oct and
// the exact leaf signal.
func perfectOutput(t *testing.T, oct *octree.Octree) *model.Output {
	t.Helper()
	out := &model.Output{Logits: make(map[int]*gmat.Dense), OctreeOut: oct}
	for d := oct.FullDepth(); d <= oct.Depth(); d++ {
		mask := oct.NonEmptyMask(d)
		logits := gmat.NewDense(len(mask), 2, nil)
		for i, ok := range mask {
			if ok {
				logits.Set(i, 1, 30)
			} else {
				logits.Set(i, 0, 30)
			}
		}
		out.Logits[d] = logits
	}
	signal, err := oct.InputFeature("ND", true)
	require.NoError(t, err)
	out.Signal = signal
	return out
}

func testConfig() loss.Config {
	cfg := loss.DefaultConfig()
	cfg.Parallel = parallel.Sequential()
	return cfg
}

func TestCompute_PerfectPrediction(t *testing.T) {
	oct := buildOctree(t, blob(1, 300, 0), blob(2, 200, 0.1))

	res, err := loss.Compute(oct, perfectOutput(t, oct), testConfig(), nil)
	require.NoError(t, err)

	for d := 2; d <= 4; d++ {
		assert.InDelta(t, 0, res.Terms[loss.LossKey(d)], 1e-9, "depth %d", d)
		assert.Equal(t, 1.0, res.Terms[loss.AccuracyKey(d)], "depth %d", d)
	}
	assert.Equal(t, 0.0, res.Terms[loss.KeyReg])
	assert.InDelta(t, 0, res.Terms[loss.KeyDensity], 1e-12)
	assert.InDelta(t, 0, res.Terms[loss.KeyTotal], 1e-8)
}

func TestCompute_TotalIsSumOfLossTerms(t *testing.T) {
	oct := buildOctree(t, blob(1, 300, 0))
	rng := rand.New(rand.NewSource(4))

	out := perfectOutput(t, oct)
	for _, l := range out.Logits {
		l.Apply(func(_, _ int, v float64) float64 { return v*0.01 + rng.NormFloat64() }, l)
	}
	out.Signal.Apply(func(_, _ int, v float64) float64 { return v + rng.NormFloat64()*0.1 }, out.Signal)
	out.OctreeOut = buildOctree(t, blob(9, 300, 0.3))

	res, err := loss.Compute(oct, out, testConfig(), nil)
	require.NoError(t, err)

	var want float64
	terms := 0
	for k, v := range res.Terms {
		if k != loss.KeyTotal && strings.Contains(k, "loss") {
			want += v
			terms++
		}
	}
	// loss_2, loss_3, loss_4, loss_reg, loss_density
	assert.Equal(t, 5, terms)
	assert.InDelta(t, want, res.Terms[loss.KeyTotal], 1e-12)
	assert.Greater(t, res.Terms[loss.KeyReg], 0.0)
	assert.Greater(t, res.Terms[loss.KeyDensity], 0.0)
	assert.Less(t, res.Terms[loss.AccuracyKey(4)], 1.0)
}

func TestCompute_DensityGrowsWithShift(t *testing.T) {
	gt := buildOctree(t, blob(1, 400, 0))
	out := perfectOutput(t, gt)

	prev := -1.0
	for _, shift := range []float32{0, 0.2, 0.4} {
		out.OctreeOut = buildOctree(t, blob(1, 400, shift))
		res, err := loss.Compute(gt, out, testConfig(), nil)
		require.NoError(t, err)
		assert.Greater(t, res.Terms[loss.KeyDensity], prev, "shift %.1f", shift)
		prev = res.Terms[loss.KeyDensity]
	}
}

func TestCompute_Gradients(t *testing.T) {
	oct := buildOctree(t, blob(1, 100, 0))
	out := perfectOutput(t, oct)
	out.Signal.Set(0, 3, out.Signal.At(0, 3)+1)

	res, err := loss.Compute(oct, out, testConfig(), nil)
	require.NoError(t, err)

	n := float64(nn.Rows(out.Signal))
	assert.InDelta(t, 2/n, res.Grads.Signal.At(0, 3), 1e-12)
	assert.InDelta(t, 1/n, res.Terms[loss.KeyReg], 1e-12)
	for d, l := range out.Logits {
		r, c := res.Grads.Logits[d].Dims()
		lr, lc := l.Dims()
		assert.Equal(t, [2]int{lr, lc}, [2]int{r, c})
	}
}

func TestCompute_EmptyDensitySetWarns(t *testing.T) {
	gt := buildOctree(t, blob(1, 100, 0))

	// A reconstruction that declares every full-depth node empty has no
	// nodes below the full depth.
	pred, err := octree.NewFull(1, 4, 2)
	require.NoError(t, err)
	require.NoError(t, pred.Split(2, make([]bool, pred.NodeCount(2))))
	require.Equal(t, 0, pred.NodeCount(4))

	out := perfectOutput(t, gt)
	out.OctreeOut = pred

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	res, err := loss.Compute(gt, out, testConfig(), logger)
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Terms[loss.KeyDensity])
	assert.Contains(t, buf.String(), "density loss skipped")
}

func TestCompute_DensityDisabled(t *testing.T) {
	gt := buildOctree(t, blob(1, 100, 0))
	out := perfectOutput(t, gt)
	out.OctreeOut = nil

	cfg := testConfig()
	cfg.DensityWeight = 0
	res, err := loss.Compute(gt, out, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Terms[loss.KeyDensity])

	cfg.DensityWeight = 1
	_, err = loss.Compute(gt, out, cfg, nil)
	assert.ErrorIs(t, err, loss.ErrMissingOutput)
}

func TestCompute_ShapeErrors(t *testing.T) {
	oct := buildOctree(t, blob(1, 100, 0))

	out := perfectOutput(t, oct)
	out.Logits[3] = gmat.NewDense(1, 2, nil)
	_, err := loss.Compute(oct, out, testConfig(), nil)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	out = perfectOutput(t, oct)
	out.Signal = gmat.NewDense(1, 4, nil)
	_, err = loss.Compute(oct, out, testConfig(), nil)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	_, err = loss.Compute(oct, &model.Output{}, testConfig(), nil)
	assert.ErrorIs(t, err, loss.ErrMissingOutput)
}

func TestOutput_Prefixed(t *testing.T) {
	o := loss.Output{"loss": 1, "accu_3": 0.5}
	p := o.Prefixed("train/")
	assert.Equal(t, loss.Output{"train/loss": 1, "train/accu_3": 0.5}, p)
	assert.Equal(t, []string{"accu_3", "loss"}, o.Keys())
}

func TestNodePoints(t *testing.T) {
	oct, err := octree.NewFull(1, 2, 1)
	require.NoError(t, err)

	pts := loss.NodePoints(oct, 1)
	r, _ := pts.Dims()
	assert.Equal(t, 8, r)
	// Node (1,1,1) at depth 1 maps to 1/1 - 1 = 0.
	assert.Equal(t, []float64{0, 0, 0}, pts.RawRowView(7))
	assert.Equal(t, []float64{-1, -1, -1}, pts.RawRowView(0))
}
