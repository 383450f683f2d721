package points

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

var normalFields = [3]string{"normal_x", "normal_y", "normal_z"}

// ReadPCD decodes a PCD stream. Normals are read when the normal_x,
// normal_y and normal_z fields are all present.
func ReadPCD(r io.Reader) (*PointCloud, error) {
	pp, err := pc.Unmarshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pcd: %w", err)
	}

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, fmt.Errorf("pcd has no xyz fields: %w", err)
	}
	p := &PointCloud{Points: make([]mat.Vec3, 0, pp.Points)}
	for ; it.IsValid(); it.Incr() {
		p.Points = append(p.Points, it.Vec3())
	}

	if !hasFields(pp.Fields, normalFields[:]...) {
		return p, nil
	}
	its, err := pp.Float32Iterators(normalFields[:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcd normals: %w", err)
	}
	p.Normals = make([]mat.Vec3, 0, len(p.Points))
	for its[0].IsValid() {
		p.Normals = append(p.Normals, mat.Vec3{its[0].Float32(), its[1].Float32(), its[2].Float32()})
		for _, i := range its {
			i.Incr()
		}
	}
	if len(p.Normals) != len(p.Points) {
		return nil, fmt.Errorf("%w: %d points, %d normals", ErrNormalCount, len(p.Points), len(p.Normals))
	}
	return p, nil
}

// WritePCD encodes the cloud as a binary PCD with float32 fields.
func WritePCD(w io.Writer, p *PointCloud) error {
	fields := []string{"x", "y", "z"}
	if p.HasNormals() {
		fields = append(fields, normalFields[:]...)
	}
	n := len(fields)
	header := pc.PointCloudHeader{
		Version:   0.7,
		Fields:    fields,
		Size:      repeat(4, n),
		Type:      repeatString("F", n),
		Count:     repeat(1, n),
		Width:     p.Len(),
		Height:    1,
		Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
	}

	data := make([]byte, 4*n*p.Len())
	off := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v))
		off += 4
	}
	for i, v := range p.Points {
		put(v[0])
		put(v[1])
		put(v[2])
		if p.HasNormals() {
			nv := p.Normals[i]
			put(nv[0])
			put(nv[1])
			put(nv[2])
		}
	}

	pp := &pc.PointCloud{
		PointCloudHeader: header,
		Points:           p.Len(),
		Data:             data,
	}
	if err := pc.Marshal(pp, w); err != nil {
		return fmt.Errorf("failed to encode pcd: %w", err)
	}
	return nil
}

func hasFields(have []string, want ...string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func repeatString(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}
