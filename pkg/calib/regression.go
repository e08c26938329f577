package calib

import (
	"errors"
	"math"
)

var (
	// ErrSingular is returned when all captured millivolt values are identical.
	ErrSingular = errors.New("calib: singular regression")
	// ErrZeroSlope is returned when the fitted line is flat.
	ErrZeroSlope = errors.New("calib: zero slope")
)

// Point is one captured (millivolts, reference value) pair.
type Point struct {
	MV        float32
	Reference float32
}

// Fit runs an ordinary least-squares regression of Reference over MV.
// Sums are accumulated in float64. The correlation is clamped to [-1, 1].
func Fit(points []Point) (slope, intercept, corr float32, err error) {
	n := float64(len(points))
	if n < 2 {
		return 0, 0, 0, ErrSingular
	}

	var sx, sy, sxx, sxy, syy float64
	for _, p := range points {
		x := float64(p.MV)
		y := float64(p.Reference)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
		syy += y * y
	}

	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0, 0, 0, ErrSingular
	}

	m := (n*sxy - sx*sy) / denom
	if m == 0 {
		return 0, 0, 0, ErrZeroSlope
	}
	b := (sy*sxx - sx*sxy) / denom

	r := 0.0
	if d := math.Sqrt((sxx - sx*sx/n) * (syy - sy*sy/n)); d != 0 {
		r = (sxy - sx*sy/n) / d
	}
	r = math.Max(-1, math.Min(1, r))

	return float32(m), float32(b), float32(r), nil
}
