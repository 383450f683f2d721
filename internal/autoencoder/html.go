package autoencoder

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/born-ml/ocnn/internal/points"
)

// RenderHTML writes an XY scatter of the input and reconstructed clouds.
func RenderHTML(path, title string, in, out *points.PointCloud) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("in=%d out=%d", in.Len(), out.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -1, Max: 1, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -1, Max: 1, Name: "Y", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("input", scatterData(in), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("reconstruction", scatterData(out), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := scatter.Render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func scatterData(pc *points.PointCloud) []opts.ScatterData {
	data := make([]opts.ScatterData, len(pc.Points))
	for i, p := range pc.Points {
		data[i] = opts.ScatterData{Value: []interface{}{p[0], p[1]}}
	}
	return data
}
