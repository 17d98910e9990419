// Package calibrate maps raw sensor readings onto calibrated engineering
// values using a piecewise-linear calibration table.
//
// A table is two parallel sequences: raw values as reported by the sensor and
// the true values they correspond to. Fitting produces one linear model
// (slope m, intercept b) per adjacent pair of points, passing exactly through
// both knots. Lookup selects the segment containing the input and applies its
// model; inputs outside the table range either extrapolate the boundary
// segment's line or clamp to the boundary calibrated value, depending on
// configuration.
//
// The Calibrator borrows the caller's slices rather than copying them, so
// they must stay alive and unmodified while it is in use. Mutating them after
// Begin leaves the fit silently stale until Begin is run again. The derived
// slope and intercept slices are owned by the Calibrator and replaced on each
// Begin. A single Calibrator is not safe for concurrent use.
package calibrate

import (
	"errors"
	"sort"
)

// Numeric restricts a Calibrator to arithmetic element types. Integer tables
// fit and evaluate with integer arithmetic, including truncating division in
// the slope computation, so tables with fractional slopes belong in a float
// instantiation.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Validation failures reported by Err after Begin returns false.
var (
	// ErrInsufficientPoints means fewer than two calibration points were
	// supplied, so not even one segment can be fit.
	ErrInsufficientPoints = errors.New("calibrate: table needs at least two points")

	// ErrUnsortedTable means an adjacent raw pair is inverted.
	ErrUnsortedTable = errors.New("calibrate: raw values are not in ascending order")

	// ErrZeroWidthSegment means two adjacent raw values are equal. Fitting
	// such a segment would divide by zero, so the table is rejected rather
	// than producing Inf/NaN (or panicking for integer element types).
	ErrZeroWidthSegment = errors.New("calibrate: adjacent raw values are equal")
)

// Calibrator converts raw readings to calibrated values. Construct with New,
// fit with Begin, then call Calibrate as often as needed. The zero state
// (before a successful Begin) passes inputs through unchanged.
type Calibrator[N Numeric] struct {
	raw        []N // borrowed from the caller
	calibrated []N // borrowed from the caller
	limit      bool

	// Fitted per-segment coefficients, owned by the Calibrator. Both are
	// nil until Begin succeeds; len(m) == len(b) == n-1 afterwards.
	m []N
	b []N
	n int

	err error
}

// New records the borrowed table slices and the range-limiting flag. It does
// no validation and cannot fail; call Begin before the first lookup. With
// limitToRange set, out-of-range inputs clamp to the boundary calibrated
// values instead of extrapolating the boundary segments. The number of table
// points is the length of the shorter slice; pass subslices to use a prefix.
func New[N Numeric](raw, calibrated []N, limitToRange bool) *Calibrator[N] {
	return &Calibrator[N]{raw: raw, calibrated: calibrated, limit: limitToRange}
}

// Begin validates the table and fits one linear segment through each adjacent
// pair of points. It reports whether the fit succeeded; on failure Err tells
// which check rejected the table. Begin may be called again at any time, for
// example after the caller fixes the table: each call discards the previous
// fit first, so a failed re-fit leaves the Calibrator unfitted rather than
// serving stale coefficients.
func (c *Calibrator[N]) Begin() bool {
	c.m, c.b = nil, nil
	c.n = 0
	c.err = nil

	n := min(len(c.raw), len(c.calibrated))
	if n <= 1 {
		c.err = ErrInsufficientPoints
		return false
	}

	for i := 0; i < n-1; i++ {
		switch {
		case c.raw[i] > c.raw[i+1]:
			c.err = ErrUnsortedTable
			return false
		case c.raw[i] == c.raw[i+1]:
			c.err = ErrZeroWidthSegment
			return false
		}
	}

	c.m = make([]N, n-1)
	c.b = make([]N, n-1)
	for i := 0; i < n-1; i++ {
		c.m[i] = (c.calibrated[i+1] - c.calibrated[i]) / (c.raw[i+1] - c.raw[i])
		c.b[i] = c.calibrated[i] - c.m[i]*c.raw[i]
	}
	c.n = n
	return true
}

// Calibrate maps one raw value to its calibrated value. It is total: an
// unfitted Calibrator returns the input unchanged, and out-of-range inputs
// resolve via the clamping or extrapolation policy chosen at construction.
func (c *Calibrator[N]) Calibrate(v N) N {
	if c.n == 0 {
		return v
	}
	n := c.n

	if v < c.raw[0] {
		if c.limit {
			return c.calibrated[0]
		}
		return c.m[0]*v + c.b[0]
	}
	if v > c.raw[n-1] {
		if c.limit {
			return c.calibrated[n-1]
		}
		return c.m[n-2]*v + c.b[n-2]
	}

	// Find the first knot at or above v. Raw values are strictly
	// increasing after Begin, so for an input equal to an interior knot
	// this selects the earlier of the two adjoining segments, matching a
	// first-match linear scan over inclusive segment bounds. Both
	// segments agree at the knot anyway since the fit passes through it.
	j := sort.Search(n, func(i int) bool { return c.raw[i] >= v })
	i := j - 1
	if j == 0 {
		i = 0 // v == raw[0]
	}
	if i >= len(c.m) {
		return v // numeric edge guard; unreachable for a valid fit
	}
	return c.m[i]*v + c.b[i]
}

// Fitted reports whether the last Begin succeeded.
func (c *Calibrator[N]) Fitted() bool {
	return c.n > 0
}

// Err returns the validation failure from the last Begin, or nil. It is one
// of ErrInsufficientPoints, ErrUnsortedTable, or ErrZeroWidthSegment.
func (c *Calibrator[N]) Err() error {
	return c.err
}

// Segments returns the number of fitted segments (zero when unfitted).
func (c *Calibrator[N]) Segments() int {
	return len(c.m)
}

// Segment returns the slope and intercept of fitted segment i. It panics if
// i is out of range; use Segments to bound it.
func (c *Calibrator[N]) Segment(i int) (m, b N) {
	return c.m[i], c.b[i]
}
