// sim/patterns.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	gomath "math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/skysim/tellotwin/log"
)

// Geometric parameter bounds, all in centimeters.
const (
	minSquareSize = 20
	maxSquareSize = 500

	minRadius = 30
	maxRadius = 150

	minSpiralHeight = 50
	maxSpiralHeight = 200

	minFigureEightSize = 50
	maxFigureEightSize = 300

	spiralSteps = 8
	circleSteps = 16

	spiralInitialClimb = 50 // cm, clearance before the spiral starts

	patternSafeSpeed = 50 // cm/s assumed for duration estimates

	// DefaultSettleDelay is the pause between pattern steps that models
	// the airframe settling after each primitive.
	DefaultSettleDelay = 500 * time.Millisecond
)

type PatternName string

const (
	PatternSquare      PatternName = "square"
	PatternSpiral      PatternName = "spiral"
	PatternCircle      PatternName = "circle"
	PatternFigureEight PatternName = "figure_eight"
)

// Step is one primitive command of a pattern plan.
type Step struct {
	Command CommandName   `json:"command"`
	Params  CommandParams `json:"params"`
}

// Patterns composes primitive commands into bounded geometric flight
// sequences over a Bridge. All patterns share the same contract: invalid
// geometric parameters yield a single synthetic error result with no
// commands issued; otherwise the deterministic plan executes step by step
// and aborts on the first error status, returning everything accumulated
// so far.
type Patterns struct {
	bridge *Bridge

	// SettleDelay is enforced between steps; tests set it to zero.
	SettleDelay time.Duration

	// Plans are deterministic in their parameters, so recently built ones
	// are kept around; dashboards tend to re-run the same pattern.
	plans *expirable.LRU[string, []Step]

	lg *log.Logger
}

func NewPatterns(bridge *Bridge, lg *log.Logger) *Patterns {
	return &Patterns{
		bridge:      bridge,
		SettleDelay: DefaultSettleDelay,
		plans:       expirable.NewLRU[string, []Step](32, nil, 4*time.Hour),
		lg:          lg,
	}
}

// Square flies four equal sides of sizeCm, turning 90° clockwise after
// each: 8 primitive commands when nothing fails.
func (p *Patterns) Square(sizeCm float64) []CommandResponse {
	if sizeCm < minSquareSize || sizeCm > maxSquareSize {
		return p.invalid(PatternSquare, fmt.Sprintf("Invalid size. Must be between %d and %d cm",
			minSquareSize, maxSquareSize))
	}
	return p.run(PatternSquare, p.plan(PatternSquare, sizeCm, 0))
}

// Spiral climbs heightCm over eight segments while stepping outward to
// radiusCm, after an initial clearance climb.
func (p *Patterns) Spiral(radiusCm, heightCm float64) []CommandResponse {
	if radiusCm < minRadius || radiusCm > maxRadius {
		return p.invalid(PatternSpiral, fmt.Sprintf("Invalid radius. Must be between %d and %d cm",
			minRadius, maxRadius))
	}
	if heightCm < minSpiralHeight || heightCm > maxSpiralHeight {
		return p.invalid(PatternSpiral, fmt.Sprintf("Invalid height. Must be between %d and %d cm",
			minSpiralHeight, maxSpiralHeight))
	}
	return p.run(PatternSpiral, p.plan(PatternSpiral, radiusCm, heightCm))
}

// Circle approximates a circle of radiusCm with sixteen chord moves and
// fixed clockwise turns. A positive heightCm first climbs by that much;
// zero or negative maintains the current height.
func (p *Patterns) Circle(radiusCm, heightCm float64) []CommandResponse {
	if radiusCm < minRadius || radiusCm > maxRadius {
		return p.invalid(PatternCircle, fmt.Sprintf("Invalid radius. Must be between %d and %d cm",
			minRadius, maxRadius))
	}
	return p.run(PatternCircle, p.plan(PatternCircle, radiusCm, heightCm))
}

// FigureEight joins two opposite-direction circles of diameter sizeCm
// with a straight transition of sizeCm between them.
func (p *Patterns) FigureEight(sizeCm float64) []CommandResponse {
	if sizeCm < minFigureEightSize || sizeCm > maxFigureEightSize {
		return p.invalid(PatternFigureEight, fmt.Sprintf("Invalid size. Must be between %d and %d cm",
			minFigureEightSize, maxFigureEightSize))
	}
	return p.run(PatternFigureEight, p.plan(PatternFigureEight, sizeCm, 0))
}

// Run dispatches by pattern name; a is size or radius depending on the
// pattern, b is the height where one applies.
func (p *Patterns) Run(name PatternName, a, b float64) ([]CommandResponse, error) {
	switch name {
	case PatternSquare:
		return p.Square(a), nil
	case PatternSpiral:
		return p.Spiral(a, b), nil
	case PatternCircle:
		return p.Circle(a, b), nil
	case PatternFigureEight:
		return p.FigureEight(a), nil
	default:
		return nil, ErrUnknownPattern
	}
}

// Plan returns the deterministic command sequence a pattern would
// execute, without issuing anything; parameters must already be within
// bounds.
func (p *Patterns) Plan(name PatternName, a, b float64) []Step {
	return p.plan(name, a, b)
}

func (p *Patterns) plan(name PatternName, a, b float64) []Step {
	key := fmt.Sprintf("%s/%g/%g", name, a, b)
	if steps, ok := p.plans.Get(key); ok {
		return steps
	}

	var steps []Step
	switch name {
	case PatternSquare:
		for range 4 {
			steps = append(steps,
				move(MoveForward, a),
				rotate(RotateCW, 90))
		}

	case PatternSpiral:
		steps = append(steps, move(MoveUp, spiralInitialClimb))
		for i := range spiralSteps {
			steps = append(steps,
				move(MoveUp, b/spiralSteps),
				rotate(RotateCW, 360.0/spiralSteps),
				// The outward reach grows linearly with each turn.
				move(MoveForward, a*float64(i+1)/spiralSteps))
		}

	case PatternCircle:
		if b > 0 {
			steps = append(steps, move(MoveUp, b))
		}
		chord := 2 * gomath.Pi * a / circleSteps
		for range circleSteps {
			steps = append(steps,
				move(MoveForward, chord),
				rotate(RotateCW, 360.0/circleSteps))
		}

	case PatternFigureEight:
		radius := a / 2
		for range circleSteps {
			steps = append(steps,
				move(MoveForward, radius),
				rotate(RotateCW, 360.0/circleSteps))
		}
		steps = append(steps, move(MoveForward, a))
		for range circleSteps {
			steps = append(steps,
				move(MoveForward, radius),
				rotate(RotateCCW, 360.0/circleSteps))
		}
	}

	p.plans.Add(key, steps)
	return steps
}

func move(dir MoveDirection, distanceCm float64) Step {
	return Step{Command: CmdMove, Params: CommandParams{Direction: string(dir), DistanceCm: distanceCm}}
}

func rotate(dir RotateDirection, angleDeg float64) Step {
	return Step{Command: CmdRotate, Params: CommandParams{Direction: string(dir), AngleDeg: angleDeg}}
}

// run executes the plan one step at a time with the settling delay
// between steps, stopping at the first error. Partial results, including
// the failing step's, are always returned so callers can audit how far
// execution got.
func (p *Patterns) run(name PatternName, steps []Step) []CommandResponse {
	p.bridge.Events().Post(Event{Type: PatternStartedEvent, Pattern: name})

	results := make([]CommandResponse, 0, len(steps))
	for i, step := range steps {
		resp := p.bridge.Execute(step.Command, &step.Params)
		results = append(results, resp)

		if resp.Status == StatusError {
			p.lg.Warnf("%s: aborted at step %d: %s", name, i, resp.Result.Message)
			p.bridge.Events().Post(Event{Type: PatternAbortedEvent, Pattern: name,
				RequestID: resp.RequestID, Message: resp.Result.Message})
			return results
		}

		if p.SettleDelay > 0 && i < len(steps)-1 {
			time.Sleep(p.SettleDelay)
		}
	}

	p.bridge.Events().Post(Event{Type: PatternCompletedEvent, Pattern: name})
	return results
}

func (p *Patterns) invalid(name PatternName, message string) []CommandResponse {
	p.lg.Warnf("%s: %s", name, message)
	return []CommandResponse{{
		Status: StatusError,
		Result: CommandResult{Message: message, StateChange: map[string]any{}},
		Time:   time.Now(),
	}}
}

// EstimateDuration approximates how long a plan will take to fly, not
// counting settling delays: moves at the pattern safe speed, rotations at
// 90° per second.
func EstimateDuration(steps []Step) time.Duration {
	var seconds float64
	for _, step := range steps {
		switch step.Command {
		case CmdMove:
			seconds += step.Params.DistanceCm / patternSafeSpeed
		case CmdRotate:
			seconds += step.Params.AngleDeg / 90
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

// BatteryOK reports whether the twin has at least minPct battery for a
// pattern; dashboards check this before launching one.
func (p *Patterns) BatteryOK(minPct float64) bool {
	return p.bridge.Snapshot().Battery >= minPct
}
