// Command calplot renders a stored calibration table's fitted curve to a PNG
// for bench reports. The sampled curve extends past the table range so the
// clamp or extrapolation behaviour at the boundaries is visible; the table
// knots are drawn as points on top of the curve.
//
// Usage:
//
//	calplot -db calibration.db -table fuel-level -out fuel-level.png
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/calibrate.report/internal/db"
)

var (
	dbPath   = flag.String("db", "calibration.db", "Path to the sqlite database")
	tableRef = flag.String("table", "", "Calibration table name or id (required)")
	outPath  = flag.String("out", "calibration.png", "Output PNG path")
	samples  = flag.Int("samples", 400, "Curve sample count")
	margin   = flag.Float64("margin", 0.15, "Fraction of the raw range sampled beyond each table end")
	wide     = flag.Bool("wide", false, "Use a wide 14x6in canvas instead of 8x6in")
)

func main() {
	flag.Parse()

	if *tableRef == "" {
		log.Fatal("-table is required")
	}
	if *samples < 2 {
		log.Fatal("-samples must be at least 2")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	table, err := database.GetTableByName(*tableRef)
	if err != nil {
		table, err = database.GetTable(*tableRef)
	}
	if err != nil {
		log.Fatalf("failed to load table %q: %v", *tableRef, err)
	}

	c, err := table.Calibrator()
	if err != nil {
		log.Fatalf("table not fittable: %v", err)
	}

	lo := table.Points[0].Raw
	hi := table.Points[len(table.Points)-1].Raw
	pad := (hi - lo) * *margin
	lo, hi = lo-pad, hi+pad

	curve := make(plotter.XYs, *samples)
	step := (hi - lo) / float64(*samples-1)
	for i := range curve {
		x := lo + float64(i)*step
		curve[i].X = x
		curve[i].Y = c.Calibrate(x)
	}

	knots := make(plotter.XYs, len(table.Points))
	for i, pt := range table.Points {
		knots[i].X = pt.Raw
		knots[i].Y = pt.Calibrated
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration curve: %s", table.Name)
	p.X.Label.Text = "raw"
	p.Y.Label.Text = table.Units
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(curve)
	if err != nil {
		log.Fatalf("failed to build curve line: %v", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)
	p.Legend.Add("calibrated", line)

	scatter, err := plotter.NewScatter(knots)
	if err != nil {
		log.Fatalf("failed to build knot scatter: %v", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(scatter)
	p.Legend.Add("knots", scatter)

	width := 8 * vg.Inch
	if *wide {
		width = 14 * vg.Inch
	}
	if err := p.Save(width, 6*vg.Inch, *outPath); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}

	log.Printf("wrote %s (%d points, %d segments)", *outPath, len(table.Points), c.Segments())
}
