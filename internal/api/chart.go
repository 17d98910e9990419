package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/calibrate.report/internal/db"
)

// tableChart renders an HTML line chart of the fitted calibration curve with
// the table knots overlaid. This is a debugging view; the sampled curve
// extends past the table range to make the clamp/extrapolate behaviour
// visible.
//
// Query params:
//   - samples (optional; default 200, max 5000) curve resolution
//   - margin (optional; default 0.15) fraction of the raw range sampled
//     beyond each end of the table
func (s *Server) tableChart(w http.ResponseWriter, r *http.Request, table *db.CalibrationTable) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	c, err := table.Calibrator()
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	samples := 200
	if v := r.URL.Query().Get("samples"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 && n <= 5000 {
			samples = n
		}
	}
	margin := 0.15
	if v := r.URL.Query().Get("margin"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 2 {
			margin = f
		}
	}

	lo := table.Points[0].Raw
	hi := table.Points[len(table.Points)-1].Raw
	pad := (hi - lo) * margin
	lo, hi = lo-pad, hi+pad

	curve := make([]opts.LineData, 0, samples)
	step := (hi - lo) / float64(samples-1)
	for i := 0; i < samples; i++ {
		x := lo + float64(i)*step
		curve = append(curve, opts.LineData{Value: []interface{}{x, c.Calibrate(x)}})
	}

	knots := make([]opts.ScatterData, 0, len(table.Points))
	for _, p := range table.Points {
		knots = append(knots, opts.ScatterData{Value: []interface{}{p.Raw, p.Calibrated}})
	}

	mode := "extrapolate"
	if table.LimitToRange {
		mode = "clamp"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Calibration Curve", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Calibration curve: %s", table.Name),
			Subtitle: fmt.Sprintf("points=%d segments=%d out-of-range=%s", len(table.Points), c.Segments(), mode),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "raw"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: table.Units}),
	)
	line.AddSeries("calibrated", curve, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	scatter := charts.NewScatter()
	scatter.AddSeries("knots", knots, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	line.Overlap(scatter)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
