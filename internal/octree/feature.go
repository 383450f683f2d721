package octree

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// FeatureChannels returns the channel count of an input feature kind such as
// "ND", or an error for unknown letters.
func FeatureChannels(kind string) (int, error) {
	n := 0
	for _, r := range strings.ToUpper(kind) {
		switch r {
		case 'N', 'P':
			n += 3
		case 'D':
			n++
		default:
			return 0, fmt.Errorf("%w: %q in %q", ErrUnknownFeature, r, kind)
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty kind", ErrUnknownFeature)
	}
	return n, nil
}

// InputFeature assembles the leaf-depth input signal.
//
// Letters of kind are concatenated in order:
//   - N: unit normal (3 channels)
//   - D: displacement of the averaged point from the node center along the
//     normal, in leaf-cell units (1 channel)
//   - P: averaged point position mapped to [-1, 1] (3 channels)
//
// With nonEmpty the rows are the non-empty leaves; otherwise every leaf node
// gets a row and empty nodes are zero.
func (o *Octree) InputFeature(kind string, nonEmpty bool) (*mat.Dense, error) {
	channels, err := FeatureChannels(kind)
	if err != nil {
		return nil, err
	}
	d := o.depth
	if o.nonEmpty[d] < 0 {
		return nil, fmt.Errorf("%w: depth %d", ErrNotSplit, d)
	}
	if len(o.points) != o.nonEmpty[d] {
		return nil, fmt.Errorf("%w: octree carries no leaf geometry", ErrUnknownFeature)
	}

	rows := o.nonEmpty[d]
	if !nonEmpty {
		rows = len(o.keys[d])
	}
	if rows == 0 {
		return &mat.Dense{}, nil
	}

	coords := o.Coords(d, true)
	scale := math.Ldexp(1, d-1)
	out := mat.NewDense(rows, channels, nil)
	row := 0
	for _, c := range o.children[d] {
		if c < 0 {
			if !nonEmpty {
				row++
			}
			continue
		}
		n := o.normals[c]
		p := o.points[c]
		center := [3]float64{
			float64(coords[c].X) + 0.5,
			float64(coords[c].Y) + 0.5,
			float64(coords[c].Z) + 0.5,
		}
		col := 0
		for _, r := range strings.ToUpper(kind) {
			switch r {
			case 'N':
				out.Set(row, col, n[0])
				out.Set(row, col+1, n[1])
				out.Set(row, col+2, n[2])
				col += 3
			case 'D':
				var dis float64
				for k := 0; k < 3; k++ {
					dis += (p[k] - center[k]) * n[k]
				}
				out.Set(row, col, dis)
				col++
			case 'P':
				for k := 0; k < 3; k++ {
					out.Set(row, col+k, p[k]/scale-1)
				}
				col += 3
			}
		}
		row++
	}
	return out, nil
}
