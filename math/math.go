// math/math.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	gomath "math"

	"golang.org/x/exp/constraints"
)

func Abs[V constraints.Integer | constraints.Float](x V) V {
	if x < 0 {
		return -x
	}
	return x
}

func Sqr[V constraints.Integer | constraints.Float](v V) V { return v * v }

func Clamp[T constraints.Ordered](x T, low T, high T) T {
	if x < low {
		return low
	} else if x > high {
		return high
	}
	return x
}

func Lerp(x, a, b float64) float64 {
	return (1-x)*a + x*b
}

// Round2 rounds to two decimal digits; state snapshots report positions
// and headings at centimeter/centidegree granularity.
func Round2(v float64) float64 {
	return gomath.Round(v*100) / 100
}

// Distance2D returns the Euclidean distance between two planar points.
func Distance2D(x0, y0, x1, y1 float64) float64 {
	return gomath.Sqrt(Sqr(x1-x0) + Sqr(y1-y0))
}

// NormalizeHeading wraps a heading in degrees into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = gomath.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
