package summary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoSeries is returned when there is nothing to plot.
var ErrNoSeries = errors.New("no series to plot")

// CurveFile is the default curves image name inside a log directory.
const CurveFile = "curves.png"

// PlotCurves draws one line per series against epoch and saves the image.
// The format follows the file extension (png, svg, pdf).
func PlotCurves(path, title string, series map[string][]Point) error {
	names := make([]string, 0, len(series))
	for name, pts := range series {
		if len(pts) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ErrNoSeries
	}
	sort.Strings(names)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, name := range names {
		pts := make(plotter.XYs, len(series[name]))
		for j, pt := range series[name] {
			pts[j] = plotter.XY{X: float64(pt.Epoch), Y: pt.Value}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("line %s: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// PlotRun plots every tag of a run that matches keep. A nil keep plots all
// tags.
func (s *Store) PlotRun(runID, path string, keep func(tag string) bool) error {
	tags, err := s.Tags(runID)
	if err != nil {
		return err
	}
	series := make(map[string][]Point)
	for _, tag := range tags {
		if keep != nil && !keep(tag) {
			continue
		}
		pts, err := s.Scalars(runID, tag)
		if err != nil {
			return err
		}
		series[tag] = pts
	}
	return PlotCurves(path, "run "+runID, series)
}
