// Package points holds the point-cloud container used by datasets, octree
// construction and reconstruction output, together with its file codecs.
package points

import (
	"errors"
	"fmt"
	"math"

	"github.com/seqsense/pcgol/mat"
)

// Common errors.
var (
	ErrNormalCount   = errors.New("normal count does not match point count")
	ErrEmptyCloud    = errors.New("point cloud is empty")
	ErrMalformedRow  = errors.New("malformed point row")
	ErrUnknownFormat = errors.New("unknown point cloud format")
)

// PointCloud is a set of 3D points with optional per-point unit normals.
//
// Normals is either empty or has exactly one entry per point.
type PointCloud struct {
	Points  []mat.Vec3
	Normals []mat.Vec3
}

// New creates a point cloud, validating that normals (if any) match the points.
func New(pts, normals []mat.Vec3) (*PointCloud, error) {
	if len(normals) != 0 && len(normals) != len(pts) {
		return nil, fmt.Errorf("%w: %d points, %d normals", ErrNormalCount, len(pts), len(normals))
	}
	return &PointCloud{Points: pts, Normals: normals}, nil
}

// Len returns the number of points.
func (p *PointCloud) Len() int {
	return len(p.Points)
}

// HasNormals reports whether every point carries a normal.
func (p *PointCloud) HasNormals() bool {
	return len(p.Normals) > 0 && len(p.Normals) == len(p.Points)
}

// Clone returns a deep copy.
func (p *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Points: append([]mat.Vec3(nil), p.Points...)}
	if len(p.Normals) > 0 {
		out.Normals = append([]mat.Vec3(nil), p.Normals...)
	}
	return out
}

// BoundingBox returns the axis-aligned bounds of the points.
func (p *PointCloud) BoundingBox() (lo, hi mat.Vec3, err error) {
	if len(p.Points) == 0 {
		return lo, hi, ErrEmptyCloud
	}
	lo, hi = p.Points[0], p.Points[0]
	for _, v := range p.Points[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = min(lo[k], v[k])
			hi[k] = max(hi[k], v[k])
		}
	}
	return lo, hi, nil
}

// Normalize moves the bounding-box center to the origin and scales the
// largest half-extent to scale, so points land in [-scale, scale]^3.
//
// Returns the original center and half-extent so callers can undo it.
func (p *PointCloud) Normalize(scale float32) (center mat.Vec3, radius float32, err error) {
	lo, hi, err := p.BoundingBox()
	if err != nil {
		return center, 0, err
	}
	center = lo.Add(hi).Mul(0.5)
	ext := hi.Sub(lo).Mul(0.5)
	radius = max(ext[0], ext[1], ext[2])
	if radius < 1e-10 {
		radius = 1e-10
	}
	f := scale / radius
	for i, v := range p.Points {
		p.Points[i] = v.Sub(center).Mul(f)
	}
	return center, radius, nil
}

// Clip drops points outside [lo, hi]^3 together with their normals.
func (p *PointCloud) Clip(lo, hi float32) {
	keep := 0
	for i, v := range p.Points {
		if v[0] < lo || v[0] > hi || v[1] < lo || v[1] > hi || v[2] < lo || v[2] > hi {
			continue
		}
		p.Points[keep] = v
		if p.HasNormals() {
			p.Normals[keep] = p.Normals[i]
		}
		keep++
	}
	p.Points = p.Points[:keep]
	if len(p.Normals) > 0 {
		p.Normals = p.Normals[:keep]
	}
}

// NormalizeNormals rescales every normal to unit length. Zero normals stay zero.
func (p *PointCloud) NormalizeNormals() {
	for i, n := range p.Normals {
		l := n.Norm()
		if l > 0 && !math.IsNaN(float64(l)) {
			p.Normals[i] = n.Mul(1 / l)
		}
	}
}
