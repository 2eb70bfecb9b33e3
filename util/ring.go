// util/ring.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import "slices"

// Ring is a bounded FIFO history: once it holds cap entries, adding a new
// one evicts the oldest. It is not safe for concurrent use; callers hold
// their own locks.
type Ring[T any] struct {
	entries []T
	cap     int
}

func NewRing[T any](cap int) *Ring[T] {
	if cap <= 0 {
		panic("util.NewRing: non-positive capacity")
	}
	return &Ring[T]{cap: cap}
}

func (r *Ring[T]) Add(v T) {
	r.entries = append(r.entries, v)
	if len(r.entries) > r.cap {
		n := copy(r.entries, r.entries[len(r.entries)-r.cap:])
		r.entries = r.entries[:n]
	}
}

func (r *Ring[T]) Len() int { return len(r.entries) }

// Items returns the retained entries, oldest first. The returned slice is
// a copy; mutating it does not affect the ring.
func (r *Ring[T]) Items() []T {
	return slices.Clone(r.entries)
}
