package points

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/seqsense/pcgol/mat"
)

// ReadXYZ parses whitespace separated rows of "x y z" or "x y z nx ny nz".
//
// Blank lines and lines starting with '#' are skipped. All rows must have the
// same column count.
func ReadXYZ(r io.Reader) (*PointCloud, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &PointCloud{}
	cols := 0
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)
		if cols == 0 {
			cols = len(fields)
			if cols != 3 && cols != 6 {
				return nil, fmt.Errorf("%w: line %d has %d columns, want 3 or 6", ErrMalformedRow, line, cols)
			}
		}
		if len(fields) != cols {
			return nil, fmt.Errorf("%w: line %d has %d columns, want %d", ErrMalformedRow, line, len(fields), cols)
		}

		var v [6]float32
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
			}
			v[i] = float32(x)
		}
		p.Points = append(p.Points, mat.Vec3{v[0], v[1], v[2]})
		if cols == 6 {
			p.Normals = append(p.Normals, mat.Vec3{v[3], v[4], v[5]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read xyz: %w", err)
	}
	return p, nil
}

// WriteXYZ writes one row per point with 6 decimal places, appending the
// normal columns when the cloud has normals.
func WriteXYZ(w io.Writer, p *PointCloud) error {
	bw := bufio.NewWriter(w)
	withNormals := p.HasNormals()
	for i, v := range p.Points {
		var err error
		if withNormals {
			n := p.Normals[i]
			_, err = fmt.Fprintf(bw, "%.6f %.6f %.6f %.6f %.6f %.6f\n", v[0], v[1], v[2], n[0], n[1], n[2])
		} else {
			_, err = fmt.Fprintf(bw, "%.6f %.6f %.6f\n", v[0], v[1], v[2])
		}
		if err != nil {
			return fmt.Errorf("failed to write point %d: %w", i, err)
		}
	}
	return bw.Flush()
}
