package autoencoder

import (
	"errors"
	"fmt"
	"math"

	"github.com/seqsense/pcgol/mat"

	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/points"
)

// ErrNoSignal is returned when the leaf depth of an octree carries no
// feature to reconstruct from.
var ErrNoSignal = errors.New("octree has no leaf signal")

// Octree2Points turns the leaf signal of oct into one point cloud per sample.
//
// The first three signal channels are a normal (renormalized here), the
// fourth a displacement along it in leaf-cell units. Each point is the leaf
// center offset by the displacement, mapped from [0, 2^depth] to [-1, 1].
func Octree2Points(oct *octree.Octree) ([]*points.PointCloud, error) {
	depth := oct.Depth()
	signal := oct.Feature(depth)
	if signal == nil {
		return nil, fmt.Errorf("%w at depth %d", ErrNoSignal, depth)
	}
	coords := oct.Coords(depth, true)
	clouds := make([]*points.PointCloud, oct.BatchSize())
	for b := range clouds {
		clouds[b] = &points.PointCloud{}
	}
	if len(coords) == 0 {
		return clouds, nil
	}
	if r, c := signal.Dims(); r != len(coords) || c < 4 {
		return nil, fmt.Errorf("%w: signal is %dx%d for %d leaves", octree.ErrFeatureRows, r, c, len(coords))
	}

	scale := math.Ldexp(1, depth-1)
	for i, c := range coords {
		n := [3]float64{signal.At(i, 0), signal.At(i, 1), signal.At(i, 2)}
		norm := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		if norm < 1e-12 {
			norm = 1e-12
		}
		for k := range n {
			n[k] /= norm
		}
		dis := signal.At(i, 3)
		xyz := [3]float64{float64(c.X), float64(c.Y), float64(c.Z)}
		var p mat.Vec3
		for k := range xyz {
			p[k] = float32((xyz[k]+0.5+dis*n[k])/scale - 1)
		}

		pc := clouds[c.Batch]
		pc.Points = append(pc.Points, p)
		pc.Normals = append(pc.Normals, mat.Vec3{float32(n[0]), float32(n[1]), float32(n[2])})
	}
	return clouds, nil
}
