package octree

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/points"
)

// Common errors.
var (
	ErrInvalidDepth   = errors.New("invalid octree depth")
	ErrEmptyBatch     = errors.New("octree batch is empty")
	ErrUnknownFeature = errors.New("unknown input feature")
	ErrMaskLength     = errors.New("mask length does not match node count")
	ErrNotSplit       = errors.New("depth has not been split")
	ErrFeatureRows    = errors.New("feature rows do not match non-empty node count")
)

// Coord is the integer position of a node at its depth plus its sample index.
type Coord struct {
	X, Y, Z int32
	Batch   int32
}

// Octree is a batch of octrees stored level by level.
type Octree struct {
	depth     int
	fullDepth int
	batchSize int

	keys     [][]uint64 // [depth][node] sorted keys
	children [][]int32  // [depth][node] index among non-empty nodes, -1 when empty
	nonEmpty []int      // [depth] number of non-empty nodes, -1 before Split

	normals [][3]float64 // leaf non-empty nodes, unit length
	points  [][3]float64 // leaf non-empty nodes, averaged, in [0, 2^depth]

	features map[int]*mat.Dense
}

func validateDepth(depth, fullDepth int) error {
	if depth < 1 || depth > MaxDepth {
		return fmt.Errorf("%w: depth %d not in [1, %d]", ErrInvalidDepth, depth, MaxDepth)
	}
	if fullDepth < 0 || fullDepth > depth {
		return fmt.Errorf("%w: full depth %d not in [0, %d]", ErrInvalidDepth, fullDepth, depth)
	}
	return nil
}

func newOctree(batchSize, depth, fullDepth int) *Octree {
	o := &Octree{
		depth:     depth,
		fullDepth: fullDepth,
		batchSize: batchSize,
		keys:      make([][]uint64, depth+1),
		children:  make([][]int32, depth+1),
		nonEmpty:  make([]int, depth+1),
		features:  make(map[int]*mat.Dense),
	}
	for d := range o.nonEmpty {
		o.nonEmpty[d] = -1
	}
	return o
}

// NewFull creates a structure-only octree whose levels down to fullDepth are
// complete. The full depth itself is left unsplit so a decoder can decide
// occupancy with Split.
func NewFull(batchSize, depth, fullDepth int) (*Octree, error) {
	if err := validateDepth(depth, fullDepth); err != nil {
		return nil, err
	}
	if batchSize < 1 {
		return nil, ErrEmptyBatch
	}

	o := newOctree(batchSize, depth, fullDepth)
	for d := 0; d <= fullDepth; d++ {
		n := 1 << (3 * d)
		keys := make([]uint64, 0, n*batchSize)
		for b := 0; b < batchSize; b++ {
			for m := 0; m < n; m++ {
				keys = append(keys, withBatch(uint64(m), b))
			}
		}
		o.keys[d] = keys
		if d < fullDepth {
			o.setChildren(d, allTrue(len(keys)))
		}
	}
	return o, nil
}

// Build quantizes every cloud (coordinates in [-1, 1]) into an octree of the
// given depth and merges them into one batch.
//
// Points outside [-1, 1] are clamped to the boundary cells. Normals, when
// present, are summed per leaf and renormalized.
func Build(clouds []*points.PointCloud, depth, fullDepth int) (*Octree, error) {
	if err := validateDepth(depth, fullDepth); err != nil {
		return nil, err
	}
	if len(clouds) == 0 {
		return nil, ErrEmptyBatch
	}

	o := newOctree(len(clouds), depth, fullDepth)
	occupied := make([][]uint64, depth+1)

	for b, pc := range clouds {
		leaves := quantize(pc, depth)
		for _, l := range leaves {
			o.normals = append(o.normals, l.normal)
			o.points = append(o.points, l.point)
		}

		// Occupied keys per depth for this sample, coarsest derived from leaves.
		for d := depth; d >= 0; d-- {
			shift := 3 * (depth - d)
			var prev uint64 = math.MaxUint64
			for _, l := range leaves {
				k := l.key >> shift
				if k != prev {
					occupied[d] = append(occupied[d], withBatch(k, b))
					prev = k
				}
			}
		}
	}

	// Level 0 holds one root per sample; deeper levels are the children of
	// the non-empty nodes above.
	roots := make([]uint64, len(clouds))
	for b := range roots {
		roots[b] = withBatch(0, b)
	}
	o.keys[0] = roots
	for d := 0; d <= depth; d++ {
		var mask []bool
		if d < fullDepth {
			mask = allTrue(len(o.keys[d]))
		} else {
			mask = membership(o.keys[d], occupied[d])
		}
		o.setChildren(d, mask)
		if d < depth {
			o.keys[d+1] = o.childKeys(d)
		}
	}
	return o, nil
}

type leaf struct {
	key    uint64
	point  [3]float64
	normal [3]float64
}

// quantize averages the points (and normals) falling into each leaf cell and
// returns the leaves sorted by Morton key.
func quantize(pc *points.PointCloud, depth int) []leaf {
	scale := math.Ldexp(1, depth-1)
	limit := float64(uint32(1)<<depth - 1)
	withNormals := pc.HasNormals()

	type acc struct {
		point  [3]float64
		normal [3]float64
		count  float64
	}
	cells := make(map[uint64]*acc)
	for i, p := range pc.Points {
		var u [3]float64
		var c [3]uint32
		for k := 0; k < 3; k++ {
			u[k] = (float64(p[k]) + 1) * scale
			c[k] = uint32(math.Min(math.Max(math.Floor(u[k]), 0), limit))
		}
		key := encode(c[0], c[1], c[2], depth)
		a, ok := cells[key]
		if !ok {
			a = &acc{}
			cells[key] = a
		}
		for k := 0; k < 3; k++ {
			a.point[k] += u[k]
			if withNormals {
				a.normal[k] += float64(pc.Normals[i][k])
			}
		}
		a.count++
	}

	leaves := make([]leaf, 0, len(cells))
	for key, a := range cells {
		l := leaf{key: key}
		for k := 0; k < 3; k++ {
			l.point[k] = a.point[k] / a.count
		}
		l.normal = unit(a.normal)
		leaves = append(leaves, l)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].key < leaves[j].key })
	return leaves
}

func unit(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n < 1e-12 {
		return [3]float64{}
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

// membership marks which of the sorted keys appear in the sorted subset.
func membership(keys, subset []uint64) []bool {
	mask := make([]bool, len(keys))
	j := 0
	for i, k := range keys {
		for j < len(subset) && subset[j] < k {
			j++
		}
		mask[i] = j < len(subset) && subset[j] == k
	}
	return mask
}

func allTrue(n int) []bool {
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return m
}

func (o *Octree) setChildren(d int, mask []bool) {
	children := make([]int32, len(mask))
	var n int32
	for i, ok := range mask {
		if ok {
			children[i] = n
			n++
		} else {
			children[i] = -1
		}
	}
	o.children[d] = children
	o.nonEmpty[d] = int(n)
}

func (o *Octree) childKeys(d int) []uint64 {
	out := make([]uint64, 0, 8*o.nonEmpty[d])
	for i, c := range o.children[d] {
		if c < 0 {
			continue
		}
		m, b := splitKey(o.keys[d][i])
		for k := uint64(0); k < 8; k++ {
			out = append(out, withBatch(m<<3|k, b))
		}
	}
	return out
}

// Split records which nodes at depth d are non-empty and, below the leaf
// depth, grows depth d+1 from their children. Deeper levels and any features
// from depth d+1 on are discarded.
func (o *Octree) Split(d int, mask []bool) error {
	if d < 0 || d > o.depth {
		return fmt.Errorf("%w: split depth %d", ErrInvalidDepth, d)
	}
	if len(mask) != len(o.keys[d]) {
		return fmt.Errorf("%w: depth %d has %d nodes, mask has %d", ErrMaskLength, d, len(o.keys[d]), len(mask))
	}
	o.setChildren(d, mask)
	for dd := d + 1; dd <= o.depth; dd++ {
		o.keys[dd] = nil
		o.children[dd] = nil
		o.nonEmpty[dd] = -1
		delete(o.features, dd)
	}
	delete(o.features, d)
	if d < o.depth {
		o.keys[d+1] = o.childKeys(d)
	}
	return nil
}

// Depth returns the leaf depth.
func (o *Octree) Depth() int { return o.depth }

// FullDepth returns the deepest level that is complete.
func (o *Octree) FullDepth() int { return o.fullDepth }

// BatchSize returns the number of samples.
func (o *Octree) BatchSize() int { return o.batchSize }

// NodeCount returns the number of nodes at depth d.
func (o *Octree) NodeCount(d int) int {
	if d < 0 || d > o.depth {
		return 0
	}
	return len(o.keys[d])
}

// NonEmptyCount returns the number of non-empty nodes at depth d, or 0 when
// occupancy at d is not known yet.
func (o *Octree) NonEmptyCount(d int) int {
	if d < 0 || d > o.depth || o.nonEmpty[d] < 0 {
		return 0
	}
	return o.nonEmpty[d]
}

// NonEmptyMask reports per node at depth d whether it contains geometry.
// Returns nil when occupancy at d is not known yet.
func (o *Octree) NonEmptyMask(d int) []bool {
	if d < 0 || d > o.depth || o.children[d] == nil {
		return nil
	}
	mask := make([]bool, len(o.children[d]))
	for i, c := range o.children[d] {
		mask[i] = c >= 0
	}
	return mask
}

func (o *Octree) selected(d int, nonEmpty bool) []int {
	idx := make([]int, 0, len(o.keys[d]))
	for i := range o.keys[d] {
		if nonEmpty && (o.children[d] == nil || o.children[d][i] < 0) {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// Coords returns the integer coordinates and sample index of the nodes at
// depth d; with nonEmpty only non-empty nodes are returned.
func (o *Octree) Coords(d int, nonEmpty bool) []Coord {
	if d < 0 || d > o.depth {
		return nil
	}
	idx := o.selected(d, nonEmpty)
	out := make([]Coord, len(idx))
	for j, i := range idx {
		m, b := splitKey(o.keys[d][i])
		x, y, z := decode(m, d)
		out[j] = Coord{X: int32(x), Y: int32(y), Z: int32(z), Batch: int32(b)}
	}
	return out
}

// BatchID returns the sample index of every (non-empty) node at depth d.
func (o *Octree) BatchID(d int, nonEmpty bool) []int32 {
	coords := o.Coords(d, nonEmpty)
	ids := make([]int32, len(coords))
	for i, c := range coords {
		ids[i] = c.Batch
	}
	return ids
}

// Centers returns node centers at depth d mapped to [-1, 1].
func (o *Octree) Centers(d int, nonEmpty bool) [][3]float64 {
	coords := o.Coords(d, nonEmpty)
	scale := math.Ldexp(1, d-1)
	out := make([][3]float64, len(coords))
	for i, c := range coords {
		out[i] = [3]float64{
			(float64(c.X)+0.5)/scale - 1,
			(float64(c.Y)+0.5)/scale - 1,
			(float64(c.Z)+0.5)/scale - 1,
		}
	}
	return out
}

// Feature returns the feature matrix stored at depth d, or nil.
func (o *Octree) Feature(d int) *mat.Dense {
	return o.features[d]
}

// SetFeature stores a per-node feature matrix for the non-empty nodes at depth d.
func (o *Octree) SetFeature(d int, m *mat.Dense) error {
	if d < 0 || d > o.depth {
		return fmt.Errorf("%w: feature depth %d", ErrInvalidDepth, d)
	}
	if o.nonEmpty[d] < 0 {
		return fmt.Errorf("%w: depth %d", ErrNotSplit, d)
	}
	if r, _ := m.Dims(); r != o.nonEmpty[d] {
		return fmt.Errorf("%w: depth %d has %d non-empty nodes, got %d rows", ErrFeatureRows, d, o.nonEmpty[d], r)
	}
	o.features[d] = m
	return nil
}
