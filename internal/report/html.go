package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders the distribution as a standalone HTML page with a
// bar chart of the speed histogram.
func WriteHTML(w io.Writer, d Distribution) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Traffic Speed Report",
			Width:     "900px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed distribution",
			Subtitle: fmt.Sprintf("%d vehicles, mean %.1f px/s, median %.1f px/s", d.TotalVehicles, d.Mean, d.Median),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "speed (px/s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)

	labels := make([]string, 0, len(d.Bins))
	values := make([]opts.BarData, 0, len(d.Bins))
	for _, bin := range d.Bins {
		labels = append(labels, binRange(bin))
		values = append(values, opts.BarData{Value: bin.Count})
	}
	bar.SetXAxis(labels)
	bar.AddSeries("vehicles", values)

	return bar.Render(w)
}
