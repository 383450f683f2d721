package autoencoder

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pmat "github.com/seqsense/pcgol/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/dataset"
	"github.com/born-ml/ocnn/internal/loss"
	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/parallel"
	"github.com/born-ml/ocnn/internal/points"
	"github.com/born-ml/ocnn/internal/solver"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoSampleOctree(t *testing.T) *octree.Octree {
	t.Helper()
	a, err := points.New([]pmat.Vec3{{-0.5, -0.5, -0.5}, {0.5, 0.5, 0.5}, {0.1, -0.3, 0.7}}, nil)
	require.NoError(t, err)
	b, err := points.New([]pmat.Vec3{{0.9, 0.9, -0.9}}, nil)
	require.NoError(t, err)
	oct, err := octree.Build([]*points.PointCloud{a, b}, 3, 1)
	require.NoError(t, err)
	return oct
}

// leafSignal builds a signal with the same normal and displacement on
// every non-empty leaf.
func leafSignal(oct *octree.Octree, normal [3]float64, dis float64) *mat.Dense {
	n := oct.NonEmptyCount(oct.Depth())
	sig := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		sig.SetRow(i, []float64{normal[0], normal[1], normal[2], dis})
	}
	return sig
}

func TestOctree2Points_ZeroDisplacementGivesCenters(t *testing.T) {
	oct := twoSampleOctree(t)
	require.NoError(t, oct.SetFeature(3, leafSignal(oct, [3]float64{0, 0, 1}, 0)))

	clouds, err := Octree2Points(oct)
	require.NoError(t, err)
	require.Len(t, clouds, 2)

	centers := oct.Centers(3, true)
	ids := oct.BatchID(3, true)
	var got [][3]float64
	for b, pc := range clouds {
		count := 0
		for _, id := range ids {
			if int(id) == b {
				count++
			}
		}
		assert.Equal(t, count, pc.Len(), "sample %d", b)
		for i, p := range pc.Points {
			got = append(got, [3]float64{float64(p[0]), float64(p[1]), float64(p[2])})
			assert.Equal(t, pmat.Vec3{0, 0, 1}, pc.Normals[i])
		}
	}
	require.Len(t, got, len(centers))
	for i := range centers {
		for k := 0; k < 3; k++ {
			assert.InDelta(t, centers[i][k], got[i][k], 1e-6)
		}
	}
}

func TestOctree2Points_DisplacementAlongNormal(t *testing.T) {
	oct := twoSampleOctree(t)
	// Unnormalized normal: direction (1, 0, 0) after renormalization.
	require.NoError(t, oct.SetFeature(3, leafSignal(oct, [3]float64{2, 0, 0}, 1)))

	clouds, err := Octree2Points(oct)
	require.NoError(t, err)

	centers := oct.Centers(3, true)
	// One leaf cell is 2/2^3 wide in [-1, 1].
	step := 2 / math.Ldexp(1, 3)
	i := 0
	for _, pc := range clouds {
		for j, p := range pc.Points {
			assert.InDelta(t, centers[i][0]+step, float64(p[0]), 1e-6)
			assert.InDelta(t, centers[i][1], float64(p[1]), 1e-6)
			assert.Equal(t, pmat.Vec3{1, 0, 0}, pc.Normals[j])
			i++
		}
	}
}

func TestOctree2Points_Errors(t *testing.T) {
	oct := twoSampleOctree(t)
	_, err := Octree2Points(oct)
	assert.ErrorIs(t, err, ErrNoSignal)

	narrow := mat.NewDense(oct.NonEmptyCount(3), 3, nil)
	require.NoError(t, oct.SetFeature(3, narrow))
	_, err = Octree2Points(oct)
	assert.ErrorIs(t, err, octree.ErrFeatureRows)
}

func TestStripSuffix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"shapes/sphere_0001.xyz", "shapes/sphere_0001"},
		{"a.b.pcd", "a.b"},
		{"noext", "noext"},
		{"dir.v2/noext", "dir"},
		{".hidden", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripSuffix(tt.in), tt.in)
	}
}

func testHooks(t *testing.T) (*Hooks, *solver.Config, *dataset.Loader) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	res, err := dataset.Synthesize(data, dataset.SynthConfig{Samples: 5, Points: 300, Seed: 3})
	require.NoError(t, err)

	cfg := solver.DefaultConfig()
	cfg.Solver.Logdir = filepath.Join(dir, "logs")
	cfg.Model.Depth = 4
	cfg.Model.FullDepth = 2
	cfg.Model.Code = 8
	cfg.Model.Hidden = 16
	cfg.Loss.DensityDepth = 3
	cfg.Loss.DensitySamples = 20
	cfg.Data.Train = dataset.Config{Location: data, Filelist: res.TrainList, BatchSize: 2}
	cfg.Data.Test = dataset.Config{Location: data, Filelist: res.TrainList, BatchSize: 3}
	require.NoError(t, cfg.Validate())

	h := New(cfg, quietLogger())
	ds, err := h.Dataset(cfg, false)
	require.NoError(t, err)
	return h, cfg, dataset.NewLoader(ds, parallel.Sequential())
}

func TestSteps_PrefixKeys(t *testing.T) {
	h, cfg, l := testHooks(t)
	m, err := h.Model(cfg)
	require.NoError(t, err)
	b, err := l.Batch(context.Background(), 0, 0)
	require.NoError(t, err)

	res, err := h.TrainStep(context.Background(), m, b)
	require.NoError(t, err)
	require.NotNil(t, res.Grads)
	for k := range res.Terms {
		assert.True(t, strings.HasPrefix(k, "train/"), k)
	}
	for d := cfg.Model.FullDepth; d <= cfg.Model.Depth; d++ {
		assert.Contains(t, res.Terms, "train/"+loss.LossKey(d))
		assert.Contains(t, res.Terms, "train/"+loss.AccuracyKey(d))
	}
	assert.Contains(t, res.Terms, "train/"+loss.KeyReg)
	// Teacher forcing reuses the input octree, so both density estimates agree.
	assert.InDelta(t, 0, res.Terms["train/"+loss.KeyDensity], 1e-9)

	var sum float64
	for k, v := range res.Terms {
		if k != "train/"+loss.KeyTotal && strings.Contains(k, "loss") {
			sum += v
		}
	}
	assert.InDelta(t, sum, res.Terms["train/"+loss.KeyTotal], 1e-9)

	test, err := h.TestStep(context.Background(), m, b)
	require.NoError(t, err)
	assert.InDelta(t, res.Terms["train/"+loss.KeyTotal], test["test/"+loss.KeyTotal], 1e-12)
}

func TestEvalStep_WritesTwoFilesPerSample(t *testing.T) {
	h, cfg, l := testHooks(t)
	cfg.Eval.RenderHTML = true
	m, err := h.Model(cfg)
	require.NoError(t, err)
	b, err := l.Batch(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, b.Size())

	require.NoError(t, h.EvalStep(context.Background(), m, b))

	var xyz, html int
	err = filepath.Walk(cfg.Solver.Logdir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch {
		case strings.HasSuffix(path, InSuffix), strings.HasSuffix(path, OutSuffix):
			xyz++
		case strings.HasSuffix(path, HTMLSuffix):
			html++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2*b.Size(), xyz)
	assert.Equal(t, b.Size(), html)

	for i, name := range b.Filenames {
		in, err := points.Load(filepath.Join(cfg.Solver.Logdir, StripSuffix(name)+InSuffix))
		require.NoError(t, err)
		assert.Equal(t, b.Points[i].Len(), in.Len())
		assert.FileExists(t, filepath.Join(cfg.Solver.Logdir, StripSuffix(name)+OutSuffix))
	}
}

func TestSolverRun_TrainThenEvaluate(t *testing.T) {
	h, cfg, _ := testHooks(t)
	cfg.Solver.MaxEpoch = 2
	cfg.Solver.TestEveryEpoch = 1
	cfg.Solver.LogPerIter = 0
	require.NoError(t, solver.New(cfg, h, quietLogger()).Run(context.Background()))
	assert.FileExists(t, filepath.Join(cfg.Solver.Logdir, solver.CheckpointDir, "00002.ocnn"))

	cfg.Solver.Run = solver.RunEvaluate
	s := solver.New(cfg, h, quietLogger())
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, s.Epoch())

	matches, err := filepath.Glob(filepath.Join(cfg.Solver.Logdir, "shapes", "*"+OutSuffix))
	require.NoError(t, err)
	assert.Len(t, matches, 4)
}
