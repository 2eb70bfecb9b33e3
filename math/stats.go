// math/stats.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import gomath "math"

// Mean returns the arithmetic mean of v, or 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// StdDev returns the sample standard deviation of v (0 if fewer than two
// values).
func StdDev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := Mean(v)
	var sum float64
	for _, x := range v {
		sum += Sqr(x - m)
	}
	return gomath.Sqrt(sum / float64(len(v)-1))
}

// Deltas returns the consecutive first differences of v: Deltas(v)[i] =
// v[i+1] - v[i].
func Deltas(v []float64) []float64 {
	if len(v) < 2 {
		return nil
	}
	d := make([]float64, len(v)-1)
	for i := range d {
		d[i] = v[i+1] - v[i]
	}
	return d
}
