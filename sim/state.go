// sim/state.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"math/rand/v2"
	"time"

	"github.com/iancoleman/orderedmap"

	"github.com/skysim/tellotwin/math"
)

// Flight envelope of the simulated airframe (Tello class).
const (
	MinHeight = 0.3  // m; floor of the vision positioning system
	MaxHeight = 10.0 // m

	SlowModeSpeed = 10.0 // cm/s ceiling in slow mode
	FastModeSpeed = 28.8 // cm/s ceiling in fast mode

	PositionLimit = 10.0 // m; x/y are confined to a +/-10m box

	minTemp    = 0.0  // deg C
	maxTemp    = 40.0 // deg C
	tempSpread = 3.0  // temp_high tracks temp_low + spread

	takeoffMinBattery = 10.0 // %
	tickBatteryDrain  = 0.01 // % per tick while airborne
)

type FlightMode string

const (
	FlightModeSlow FlightMode = "slow"
	FlightModeFast FlightMode = "fast"
)

// SpeedLimit returns the mode's speed ceiling in cm/s.
func (m FlightMode) SpeedLimit() float64 {
	if m == FlightModeFast {
		return FastModeSpeed
	}
	return SlowModeSpeed
}

type MoveDirection string

const (
	MoveForward MoveDirection = "forward"
	MoveBack    MoveDirection = "back"
	MoveLeft    MoveDirection = "left"
	MoveRight   MoveDirection = "right"
	MoveUp      MoveDirection = "up"
	MoveDown    MoveDirection = "down"
)

func (d MoveDirection) Valid() bool {
	switch d {
	case MoveForward, MoveBack, MoveLeft, MoveRight, MoveUp, MoveDown:
		return true
	}
	return false
}

type RotateDirection string

const (
	RotateCW  RotateDirection = "cw"
	RotateCCW RotateDirection = "ccw"
)

func (d RotateDirection) Valid() bool {
	return d == RotateCW || d == RotateCCW
}

// Kinematics holds the physical quantities that command gating operates
// on. It is embedded in State so that there is a single authoritative copy
// of these fields rather than a separate minimal snapshot inside the
// command layer.
type Kinematics struct {
	Height   float64 // m
	Speed    float64 // cm/s
	XPos     float64 // m, signed
	YPos     float64 // m, signed
	Yaw      float64 // degrees, [0,360)
	IsFlying bool
}

// State is the twin's authoritative flight state. Mutators enforce their
// own preconditions and report failure by returning false; they never
// panic on bad input. State is not safe for concurrent use on its own,
// the owning Bridge serializes access.
type State struct {
	Kinematics

	Battery      float64 // %; fractional, see Snapshot
	TempLow      float64 // deg C
	TempHigh     float64 // deg C
	FlightMode   FlightMode
	VisionActive bool
	FlightTime   time.Duration

	rand *rand.Rand
}

// NewState returns a State with grounded defaults. The seed drives the
// temperature random walk; a fixed seed gives a reproducible drift, which
// the tests rely on.
func NewState(seed uint64) *State {
	s := &State{rand: rand.New(rand.NewPCG(seed, seed))}
	s.setDefaults()
	return s
}

func (s *State) setDefaults() {
	s.Kinematics = Kinematics{}
	s.Battery = 100
	s.TempLow = 25
	s.TempHigh = 28
	s.FlightMode = FlightModeSlow
	s.VisionActive = true
	s.FlightTime = 0
}

// Reset restores the defaults without ending the session; the random
// source is kept so drift remains reproducible across resets.
func (s *State) Reset() {
	s.setDefaults()
}

// Tick advances the time-dependent fields by the given elapsed duration:
// flight time accumulation, a bounded temperature random walk, and the
// fractional battery drain of staying airborne. It is a no-op while
// landed. Tick is deliberately separate from Snapshot so that reads have
// no side effects and tests can drive time synthetically.
func (s *State) Tick(elapsed time.Duration) {
	if !s.IsFlying || elapsed <= 0 {
		return
	}

	s.FlightTime += elapsed

	s.TempLow = math.Clamp(s.TempLow+s.rand.Float64()*0.5-0.2, minTemp, maxTemp)
	s.TempHigh = s.TempLow + tempSpread

	s.Battery = max(0, s.Battery-tickBatteryDrain)
}

func (s *State) TakeOff() bool {
	if s.IsFlying || s.Battery <= takeoffMinBattery {
		return false
	}
	s.IsFlying = true
	s.Height = MinHeight
	s.FlightTime = 0
	return true
}

func (s *State) Land() bool {
	if !s.IsFlying {
		return false
	}
	s.IsFlying = false
	s.Height = 0
	s.Speed = 0
	return true
}

// Move translates the twin by distanceCm in the given direction. Planar
// moves stay within the position box; "down" never takes the height below
// MinHeight. Any move runs at the active flight mode's speed ceiling.
func (s *State) Move(direction MoveDirection, distanceCm float64) bool {
	if !s.IsFlying || !direction.Valid() || distanceCm <= 0 {
		return false
	}

	d := distanceCm / 100 // cm to m
	switch direction {
	case MoveForward:
		s.YPos = math.Clamp(s.YPos+d, -PositionLimit, PositionLimit)
	case MoveBack:
		s.YPos = math.Clamp(s.YPos-d, -PositionLimit, PositionLimit)
	case MoveLeft:
		s.XPos = math.Clamp(s.XPos-d, -PositionLimit, PositionLimit)
	case MoveRight:
		s.XPos = math.Clamp(s.XPos+d, -PositionLimit, PositionLimit)
	case MoveUp:
		s.Height = math.Clamp(s.Height+d, MinHeight, MaxHeight)
	case MoveDown:
		s.Height = math.Clamp(s.Height-d, MinHeight, MaxHeight)
	}

	s.Speed = s.FlightMode.SpeedLimit()
	return true
}

func (s *State) Rotate(direction RotateDirection, angleDeg float64) bool {
	if !s.IsFlying || !direction.Valid() || angleDeg <= 0 {
		return false
	}

	if direction == RotateCW {
		s.Yaw = math.NormalizeHeading(s.Yaw + angleDeg)
	} else {
		s.Yaw = math.NormalizeHeading(s.Yaw - angleDeg)
	}
	return true
}

func (s *State) SetHeight(targetM float64) bool {
	if !s.IsFlying {
		return false
	}
	s.Height = math.Clamp(targetM, MinHeight, MaxHeight)
	return true
}

// SetSpeed selects the flight mode by comparing against the slow-mode
// ceiling and clamps the requested speed to the fast-mode ceiling.
func (s *State) SetSpeed(speedCmS float64) bool {
	if !s.IsFlying {
		return false
	}
	if speedCmS < SlowModeSpeed {
		s.FlightMode = FlightModeSlow
	} else {
		s.FlightMode = FlightModeFast
	}
	s.Speed = min(speedCmS, FastModeSpeed)
	return true
}

func (s *State) UpdatePosition(x, y, z float64) bool {
	if !s.IsFlying {
		return false
	}
	s.XPos = math.Clamp(x, -PositionLimit, PositionLimit)
	s.YPos = math.Clamp(y, -PositionLimit, PositionLimit)
	s.Height = math.Clamp(z, MinHeight, MaxHeight)
	return true
}

// EmergencyStop cuts the motors regardless of the current state; it is
// the only mutator with no precondition.
func (s *State) EmergencyStop() bool {
	s.IsFlying = false
	s.Height = 0
	s.Speed = 0
	s.FlightTime = 0
	return true
}

// DrainBattery removes pct battery percentage points, flooring at zero.
func (s *State) DrainBattery(pct float64) {
	s.Battery = max(0, s.Battery-pct)
}

// Snapshot is a pure read of the current state, rounded for consumers.
// Battery keeps its fractional part here so trajectory analysis sees exact
// drains; Dict renders the integer percentage shown on dashboards.
type Snapshot struct {
	Height       float64    `json:"height" msgpack:"height"`
	Speed        float64    `json:"speed" msgpack:"speed"`
	Battery      float64    `json:"battery" msgpack:"battery"`
	FlightTime   int        `json:"flight_time" msgpack:"flight_time"` // s
	TempLow      int        `json:"temp_low" msgpack:"temp_low"`
	TempHigh     int        `json:"temp_high" msgpack:"temp_high"`
	FlightMode   FlightMode `json:"flight_mode" msgpack:"flight_mode"`
	VisionActive bool       `json:"vision_system" msgpack:"vision_system"`
	XPos         float64    `json:"x_pos" msgpack:"x_pos"`
	YPos         float64    `json:"y_pos" msgpack:"y_pos"`
	Yaw          float64    `json:"yaw" msgpack:"yaw"`
	IsFlying     bool       `json:"is_flying" msgpack:"is_flying"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Height:       math.Round2(s.Height),
		Speed:        math.Round2(s.Speed),
		Battery:      math.Round2(s.Battery),
		FlightTime:   int(s.FlightTime.Seconds()),
		TempLow:      int(s.TempLow),
		TempHigh:     int(s.TempHigh),
		FlightMode:   s.FlightMode,
		VisionActive: s.VisionActive,
		XPos:         math.Round2(s.XPos),
		YPos:         math.Round2(s.YPos),
		Yaw:          math.Round2(s.Yaw),
		IsFlying:     s.IsFlying,
	}
}

// Dict returns the snapshot as an ordered field map for rendering; field
// order is stable so dashboard rows don't jump around between refreshes.
func (sn Snapshot) Dict() *orderedmap.OrderedMap {
	m := orderedmap.New()
	m.Set("height", sn.Height)
	m.Set("speed", sn.Speed)
	m.Set("battery", int(sn.Battery))
	m.Set("flight_time", sn.FlightTime)
	m.Set("temp_low", sn.TempLow)
	m.Set("temp_high", sn.TempHigh)
	m.Set("flight_mode", string(sn.FlightMode))
	m.Set("vision_system", sn.VisionActive)
	m.Set("x_pos", sn.XPos)
	m.Set("y_pos", sn.YPos)
	m.Set("yaw", sn.Yaw)
	m.Set("is_flying", sn.IsFlying)
	return m
}
