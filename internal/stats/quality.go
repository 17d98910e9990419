// Package stats computes quality diagnostics for calibration tables. The
// piecewise fit always passes exactly through the knots, so "quality" here
// means how the table relates to a single global line: a strongly nonlinear
// sensor shows large residuals against the global least-squares fit and a
// wide spread of per-segment slopes.
package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// QualityReport summarises a calibration table against its global
// least-squares line calibrated = Alpha + Beta*raw.
type QualityReport struct {
	Points int `json:"points"`

	// Global least-squares line over the knots.
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	R2    float64 `json:"r_squared"`

	// Residuals of the knots against the global line. A near-zero
	// MaxResidual means a single linear correction would do.
	MaxResidual  float64 `json:"max_residual"`
	MeanResidual float64 `json:"mean_residual"`

	// Spread of per-segment slopes; stddev is the nonlinearity measure.
	SlopeMean   float64 `json:"slope_mean"`
	SlopeStdDev float64 `json:"slope_std_dev"`
}

// Evaluate builds a QualityReport for a table's knots. The slices must be
// the same length, hold at least two points, and be strictly increasing in
// raw — the same requirements the calibrator's fit enforces.
func Evaluate(raw, calibrated []float64) (*QualityReport, error) {
	if len(raw) != len(calibrated) {
		return nil, fmt.Errorf("mismatched table: %d raw vs %d calibrated values", len(raw), len(calibrated))
	}
	if len(raw) < 2 {
		return nil, errors.New("table needs at least two points")
	}
	for i := 0; i < len(raw)-1; i++ {
		if raw[i] >= raw[i+1] {
			return nil, fmt.Errorf("raw values must be strictly increasing (violated at index %d)", i)
		}
	}

	r := &QualityReport{Points: len(raw)}
	r.Alpha, r.Beta = stat.LinearRegression(raw, calibrated, nil, false)
	r.R2 = stat.RSquared(raw, calibrated, nil, r.Alpha, r.Beta)

	var sum float64
	for i := range raw {
		resid := calibrated[i] - (r.Alpha + r.Beta*raw[i])
		if resid < 0 {
			resid = -resid
		}
		sum += resid
		if resid > r.MaxResidual {
			r.MaxResidual = resid
		}
	}
	r.MeanResidual = sum / float64(len(raw))

	slopes := make([]float64, len(raw)-1)
	for i := range slopes {
		slopes[i] = (calibrated[i+1] - calibrated[i]) / (raw[i+1] - raw[i])
	}
	if len(slopes) == 1 {
		r.SlopeMean = slopes[0]
	} else {
		r.SlopeMean, r.SlopeStdDev = stat.MeanStdDev(slopes, nil)
	}

	return r, nil
}
