// sim/analyzer.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"sync"
	"time"

	"github.com/brunoga/deep"

	"github.com/skysim/tellotwin/math"
	"github.com/skysim/tellotwin/util"
)

const (
	metricsWindow = 10 // states considered by PerformanceMetrics
	trendWindow   = 5  // states considered by the next-state predictor

	// predictMinHistory is how much history the predictor wants before it
	// trusts its trends at all.
	predictMinHistory = 10
)

// CommandRecord is what the analyzer retains about an executed command;
// the RequestID ties it to the state snapshot recorded alongside it.
type CommandRecord struct {
	Command   CommandName    `json:"command" msgpack:"command"`
	Params    *CommandParams `json:"params,omitempty" msgpack:"params,omitempty"`
	Status    Status         `json:"status" msgpack:"status"`
	RequestID string         `json:"request_id" msgpack:"request_id"`
	Time      time.Time      `json:"timestamp" msgpack:"timestamp"`
}

// RecordedState is a state snapshot with its insertion timestamp and the
// correlation id of the command that produced it.
type RecordedState struct {
	Snapshot  `msgpack:",inline"`
	Time      time.Time `json:"timestamp" msgpack:"timestamp"`
	RequestID string    `json:"request_id" msgpack:"request_id"`
}

// DeltaReport describes what one command did to the state.
type DeltaReport struct {
	HeightChange   float64   `json:"height_change"`
	PositionChange float64   `json:"position_change"` // planar displacement magnitude, m
	BatteryDrain   float64   `json:"battery_drain"`
	SpeedChange    float64   `json:"speed_change"`
	Time           time.Time `json:"timestamp"`
}

// Metrics are rolling statistics over the most recent recorded states.
type Metrics struct {
	AvgBatteryDrain   float64 `json:"avg_battery_drain"` // mean consecutive battery delta
	AvgSpeed          float64 `json:"avg_speed"`
	PositionStability float64 `json:"position_stability"` // mean of stddev(x), stddev(y)
	HeightStability   float64 `json:"height_stability"`   // stddev(height)
}

// Effectiveness summarizes how one command name has been performing.
type Effectiveness struct {
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"` // mean gap between matched states
	StateStability  float64       `json:"state_stability"`   // mean of stddev over x, y, height
}

// Analyzer ingests (previous state, new state, command) triples and keeps
// append-only trajectory history: state entries and command entries are
// never mutated or evicted, so growth is bounded only by session length.
type Analyzer struct {
	mu       sync.Mutex
	states   []RecordedState
	commands []CommandRecord

	clock func() time.Time
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{clock: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (a *Analyzer) SetClock(clock func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = clock
}

// Record computes the deltas between prev and next and appends next plus
// the command to the histories. It appends unconditionally, even when no
// field changed; "nothing happened" is part of the trajectory too.
func (a *Analyzer) Record(prev, next Snapshot, cmd CommandRecord) DeltaReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	report := DeltaReport{
		HeightChange:   next.Height - prev.Height,
		PositionChange: math.Distance2D(prev.XPos, prev.YPos, next.XPos, next.YPos),
		BatteryDrain:   prev.Battery - next.Battery,
		SpeedChange:    next.Speed - prev.Speed,
		Time:           now,
	}

	a.states = append(a.states, RecordedState{Snapshot: next, Time: now, RequestID: cmd.RequestID})
	a.commands = append(a.commands, deep.MustCopy(cmd))

	return report
}

// PerformanceMetrics derives rolling statistics over the last ten
// recorded states. It returns nil when fewer than two states have been
// recorded; there is nothing meaningful to report on a single point.
func (a *Analyzer) PerformanceMetrics() *Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.states) < 2 {
		return nil
	}

	recent := a.states[max(0, len(a.states)-metricsWindow):]
	battery := util.MapSlice(recent, func(s RecordedState) float64 { return s.Battery })
	xs := util.MapSlice(recent, func(s RecordedState) float64 { return s.XPos })
	ys := util.MapSlice(recent, func(s RecordedState) float64 { return s.YPos })

	return &Metrics{
		AvgBatteryDrain: math.Mean(math.Deltas(battery)),
		AvgSpeed: math.Mean(util.MapSlice(recent,
			func(s RecordedState) float64 { return s.Speed })),
		PositionStability: (math.StdDev(xs) + math.StdDev(ys)) / 2,
		HeightStability: math.StdDev(util.MapSlice(recent,
			func(s RecordedState) float64 { return s.Height })),
	}
}

// CommandEffectiveness groups the command history by name and, for every
// name with at least two recorded states matched by correlation id,
// reports its success ratio, the mean time gap between those states, and
// their positional spread.
func (a *Analyzer) CommandEffectiveness() map[CommandName]Effectiveness {
	a.mu.Lock()
	defer a.mu.Unlock()

	groups := make(map[CommandName][]CommandRecord)
	for _, cmd := range a.commands {
		groups[cmd.Command] = append(groups[cmd.Command], cmd)
	}

	effectiveness := make(map[CommandName]Effectiveness)
	for name, group := range groups {
		ids := make(map[string]bool, len(group))
		for _, cmd := range group {
			ids[cmd.RequestID] = true
		}
		matched := util.FilterSlice(a.states,
			func(s RecordedState) bool { return ids[s.RequestID] })
		if len(matched) < 2 {
			continue
		}

		succeeded := len(util.FilterSlice(group,
			func(c CommandRecord) bool { return c.Status == StatusSuccess }))

		var gaps time.Duration
		for i := 1; i < len(matched); i++ {
			gaps += matched[i].Time.Sub(matched[i-1].Time)
		}

		stability := (math.StdDev(util.MapSlice(matched, func(s RecordedState) float64 { return s.XPos })) +
			math.StdDev(util.MapSlice(matched, func(s RecordedState) float64 { return s.YPos })) +
			math.StdDev(util.MapSlice(matched, func(s RecordedState) float64 { return s.Height }))) / 3

		effectiveness[name] = Effectiveness{
			SuccessRate:     float64(succeeded) / float64(len(group)),
			AvgResponseTime: gaps / time.Duration(len(matched)-1),
			StateStability:  stability,
		}
	}
	return effectiveness
}

// PredictNextState extrapolates height, position, and battery one step
// ahead by adding each field's mean first difference over the last five
// recorded states ("trend") to the current state. This is a naive
// first-difference linear extrapolator, not a Kalman filter or a
// regression model; with fewer than ten recorded states it returns the
// input unchanged rather than guess from thin history.
func (a *Analyzer) PredictNextState(current Snapshot, cmd CommandRecord) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	predicted := current
	if len(a.states) < predictMinHistory {
		return predicted
	}

	recent := a.states[len(a.states)-trendWindow:]
	trend := func(field func(s RecordedState) float64) float64 {
		return math.Mean(math.Deltas(util.MapSlice(recent, field)))
	}

	predicted.Height += trend(func(s RecordedState) float64 { return s.Height })
	predicted.XPos += trend(func(s RecordedState) float64 { return s.XPos })
	predicted.YPos += trend(func(s RecordedState) float64 { return s.YPos })
	predicted.Battery += trend(func(s RecordedState) float64 { return s.Battery })
	return predicted
}

// StateHistory returns a copy of the recorded states, oldest first.
func (a *Analyzer) StateHistory() []RecordedState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return deep.MustCopy(a.states)
}

// CommandHistory returns a copy of the recorded commands, oldest first.
func (a *Analyzer) CommandHistory() []CommandRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return deep.MustCopy(a.commands)
}

// Trajectory returns the ordered (x, y, height) triples of the recorded
// states; this is what the dashboard draws as the flight path.
func (a *Analyzer) Trajectory() [][3]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return util.MapSlice(a.states,
		func(s RecordedState) [3]float64 { return [3]float64{s.XPos, s.YPos, s.Height} })
}
