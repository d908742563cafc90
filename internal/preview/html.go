// Package preview renders generated point clouds for a quick visual check:
// an interactive go-echarts page and static gonum/plot projections.
package preview

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// WriteHTML renders up to max clouds of batch as one page of XY scatter
// charts with Z mapped to colour. max <= 0 renders every cloud.
func WriteHTML(w io.Writer, batch pointcloud.Batch, max int, title string) error {
	if len(batch) == 0 {
		return fmt.Errorf("preview: empty batch")
	}
	n := len(batch)
	if max > 0 && max < n {
		n = max
	}

	page := components.NewPage()
	page.PageTitle = title
	for i := 0; i < n; i++ {
		page.AddCharts(cloudScatter(batch[i], fmt.Sprintf("cloud %d", i)))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render preview page: %w", err)
	}
	return nil
}

func cloudScatter(c pointcloud.Cloud, name string) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(c))
	pad := 0.0
	zMin, zMax := math.Inf(1), math.Inf(-1)
	for _, p := range c {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Z}})
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		zMin = math.Min(zMin, p.Z)
		zMax = math.Max(zMax, p.Z)
	}
	if pad == 0 {
		pad = 1
	}
	if zMax <= zMin {
		zMax = zMin + 1
	}

	// Square plot with symmetric axis ranges so shapes are not distorted.
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "480px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: fmt.Sprintf("points=%d", len(c))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(zMin),
			Max:        float32(zMax),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter
}
