package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqsense/pcgol/mat"

	"github.com/born-ml/ocnn/internal/points"
)

// Shapes lists the primitives generated by Synthesize.
var Shapes = []string{"sphere", "cube", "torus", "cylinder"}

// SynthConfig controls Synthesize.
type SynthConfig struct {
	Samples   int     // Number of clouds
	Points    int     // Points per cloud (default: 3000)
	TestRatio float64 // Fraction of samples listed for testing (default: 0.2)
	Seed      int64
}

// SynthResult lists the files written by Synthesize.
type SynthResult struct {
	TrainList string
	TestList  string
	Files     []string // Relative to the output directory
}

// Synthesize writes randomly sized primitive surfaces with normals under
// dir/shapes and the train/test file lists under dir.
func Synthesize(dir string, cfg SynthConfig) (*SynthResult, error) {
	if cfg.Samples < 1 {
		return nil, fmt.Errorf("%w: samples %d", ErrInvalidConfig, cfg.Samples)
	}
	if cfg.Points == 0 {
		cfg.Points = 3000
	}
	if cfg.TestRatio == 0 {
		cfg.TestRatio = 0.2
	}
	//nolint:gosec // synthetic data
	rng := rand.New(rand.NewSource(cfg.Seed))

	res := &SynthResult{
		TrainList: filepath.Join(dir, "filelist_train.txt"),
		TestList:  filepath.Join(dir, "filelist_test.txt"),
	}
	for i := 0; i < cfg.Samples; i++ {
		shape := Shapes[i%len(Shapes)]
		pc := SampleShape(shape, cfg.Points, rng)
		rel := filepath.Join("shapes", fmt.Sprintf("%s_%04d.xyz", shape, i))
		if err := points.Save(filepath.Join(dir, rel), pc); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, filepath.ToSlash(rel))
	}

	nTest := int(math.Round(float64(cfg.Samples) * cfg.TestRatio))
	nTest = min(max(nTest, 1), cfg.Samples)
	train := res.Files[:cfg.Samples-nTest]
	test := res.Files[cfg.Samples-nTest:]
	if len(train) == 0 {
		train = test
	}
	if err := writeList(res.TrainList, train); err != nil {
		return nil, err
	}
	if err := writeList(res.TestList, test); err != nil {
		return nil, err
	}
	return res, nil
}

func writeList(path string, files []string) error {
	data := strings.Join(files, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil { //nolint:gosec // dataset lists are world-readable
		return fmt.Errorf("failed to write file list: %w", err)
	}
	return nil
}

// SampleShape draws n surface points with outward normals from a randomly
// scaled primitive. Unknown shapes fall back to a sphere.
func SampleShape(shape string, n int, rng *rand.Rand) *points.PointCloud {
	pts := make([]mat.Vec3, n)
	normals := make([]mat.Vec3, n)
	scale := float32(0.5 + 0.5*rng.Float64())

	for i := 0; i < n; i++ {
		var p, nrm mat.Vec3
		switch shape {
		case "cube":
			face := rng.Intn(6)
			axis, sign := face/2, float32(1-2*(face%2))
			p = mat.Vec3{float32(rng.Float64()*2 - 1), float32(rng.Float64()*2 - 1), float32(rng.Float64()*2 - 1)}
			p[axis] = sign
			nrm[axis] = sign
		case "torus":
			const major, minor = 0.7, 0.3
			u, v := rng.Float64()*2*math.Pi, rng.Float64()*2*math.Pi
			nrm = mat.Vec3{float32(math.Cos(u) * math.Cos(v)), float32(math.Sin(u) * math.Cos(v)), float32(math.Sin(v))}
			p = mat.Vec3{
				float32((major + minor*math.Cos(v)) * math.Cos(u)),
				float32((major + minor*math.Cos(v)) * math.Sin(u)),
				float32(minor * math.Sin(v)),
			}
		case "cylinder":
			u := rng.Float64() * 2 * math.Pi
			h := float32(rng.Float64()*2 - 1)
			nrm = mat.Vec3{float32(math.Cos(u)), float32(math.Sin(u)), 0}
			p = mat.Vec3{nrm[0] * 0.6, nrm[1] * 0.6, h}
		default:
			nrm = mat.Vec3{float32(rng.NormFloat64()), float32(rng.NormFloat64()), float32(rng.NormFloat64())}.Normalized()
			p = nrm
		}
		pts[i] = p.Mul(scale)
		normals[i] = nrm
	}
	return &points.PointCloud{Points: pts, Normals: normals}
}
