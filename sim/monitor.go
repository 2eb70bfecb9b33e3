// sim/monitor.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/math"
)

// Divergence thresholds: a physical reading further from the twin than
// this forces a one-way correction of the twin.
const (
	heightDivergence  = 0.1 // m
	batteryDivergence = 5.0 // percentage points

	DefaultPollInterval = 100 * time.Millisecond
)

// PhysicalState is the subset of state a physical airframe reports.
type PhysicalState struct {
	Height  float64 // m
	Battery float64 // %
	X, Y, Z float64 // m
}

// PhysicalSource supplies periodic readings from a physical drone; a real
// implementation wraps the vendor SDK.
type PhysicalSource interface {
	State(ctx context.Context) (PhysicalState, error)
}

// StubSource stands in when no hardware is attached; it reports a drone
// sitting on the ground with a full battery.
type StubSource struct{}

func (StubSource) State(context.Context) (PhysicalState, error) {
	return PhysicalState{Height: 0, Battery: 100}, nil
}

// Monitor polls a physical drone and reconciles its readings into the
// twin when they diverge past the thresholds. The correction is strictly
// one-way; the monitor never commands the physical drone.
type Monitor struct {
	bridge   *Bridge
	source   PhysicalSource
	Interval time.Duration
	lg       *log.Logger
}

func NewMonitor(bridge *Bridge, source PhysicalSource, lg *log.Logger) *Monitor {
	return &Monitor{bridge: bridge, source: source, Interval: DefaultPollInterval, lg: lg}
}

// Run polls until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			physical, err := m.source.State(ctx)
			if err != nil {
				m.lg.Warnf("physical state read failed: %v", err)
				continue
			}
			m.bridge.Reconcile(physical)
		}
	}
}

// Diverged reports whether the physical reading is far enough from the
// snapshot to warrant a correction.
func Diverged(physical PhysicalState, snap Snapshot) bool {
	return math.Abs(physical.Height-snap.Height) > heightDivergence ||
		math.Abs(physical.Battery-snap.Battery) > batteryDivergence
}

// Reconcile overwrites the twin's height and battery with the physical
// reading if they have diverged past the thresholds. It returns whether a
// correction was applied.
func (b *Bridge) Reconcile(physical PhysicalState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.state.Snapshot()
	if !Diverged(physical, snap) {
		return false
	}

	b.state.Height = physical.Height
	b.state.Battery = physical.Battery

	updated := b.state.Snapshot()
	b.events.Post(Event{
		Type:     StateReconciledEvent,
		Message:  "physical state correction",
		Snapshot: &updated,
	})
	b.lg.Info("reconcile_state",
		slog.Float64("physical_height", physical.Height),
		slog.Float64("physical_battery", physical.Battery),
		slog.Float64("twin_height", snap.Height),
		slog.Float64("twin_battery", snap.Battery))
	return true
}
