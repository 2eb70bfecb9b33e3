// sim/bridge.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brunoga/deep"
	"github.com/google/uuid"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/util"
)

const (
	// Every invocation costs battery, even rejected ones; issuing a
	// command spins the radio and the motors' governors regardless.
	commandBatteryDrain = 0.1

	// DefaultProcessingDelay models the latency of a command round trip
	// to the airframe.
	DefaultProcessingDelay = 100 * time.Millisecond

	historyLimit = 10
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type CommandName string

const (
	CmdTakeoff   CommandName = "takeoff"
	CmdLand      CommandName = "land"
	CmdMove      CommandName = "move"
	CmdRotate    CommandName = "rotate"
	CmdEmergency CommandName = "emergency"
)

// CommandParams carries the per-command arguments; which fields matter
// depends on the command (move: Direction+DistanceCm, rotate:
// Direction+AngleDeg).
type CommandParams struct {
	Direction  string  `json:"direction,omitempty" msgpack:"direction,omitempty"`
	DistanceCm float64 `json:"distance_cm,omitempty" msgpack:"distance_cm,omitempty"`
	AngleDeg   float64 `json:"angle_deg,omitempty" msgpack:"angle_deg,omitempty"`
}

type CommandRequest struct {
	Command   CommandName    `json:"command" msgpack:"command"`
	Params    *CommandParams `json:"params,omitempty" msgpack:"params,omitempty"`
	RequestID string         `json:"request_id" msgpack:"request_id"`
	Time      time.Time      `json:"timestamp" msgpack:"timestamp"`
}

type CommandResult struct {
	Message string `json:"message" msgpack:"message"`
	// StateChange holds just the fields the command modified, keyed by
	// their snapshot names.
	StateChange map[string]any `json:"state_change" msgpack:"state_change"`
}

type CommandResponse struct {
	Status    Status        `json:"status" msgpack:"status"`
	Result    CommandResult `json:"result" msgpack:"result"`
	RequestID string        `json:"request_id" msgpack:"request_id"`
	Time      time.Time     `json:"timestamp" msgpack:"timestamp"`
}

// HistoryEntry pairs a retained request with its response.
type HistoryEntry struct {
	Request  CommandRequest  `json:"request"`
	Response CommandResponse `json:"response"`
}

// Bridge validates commands against the twin's state, applies their
// effects, and records bounded request/response history. It owns the
// State outright; all access, including reads, goes through the Bridge so
// that command execution is serialized per twin.
type Bridge struct {
	mu    sync.Mutex
	state *State

	requests  *util.Ring[CommandRequest]
	responses *util.Ring[CommandResponse]

	// ProcessingDelay is how long each command takes to "execute"; tests
	// set it to zero.
	ProcessingDelay time.Duration

	clock    func() time.Time
	lastTick time.Time

	events *EventStream
	lg     *log.Logger
}

func NewBridge(state *State, events *EventStream, lg *log.Logger) *Bridge {
	now := time.Now()
	return &Bridge{
		state:           state,
		requests:        util.NewRing[CommandRequest](historyLimit),
		responses:       util.NewRing[CommandResponse](historyLimit),
		ProcessingDelay: DefaultProcessingDelay,
		clock:           time.Now,
		lastTick:        now,
		events:          events,
		lg:              lg,
	}
}

// SetClock replaces the wall clock, for tests.
func (b *Bridge) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	b.lastTick = clock()
}

func (b *Bridge) Events() *EventStream { return b.events }

// Execute validates the command against the current state, applies it,
// and returns the structured outcome. Failures are reported in the
// response status, never as an error; there is no fatal class of command
// failure. Execution is serialized: concurrent callers queue on the
// twin's lock.
func (b *Bridge) Execute(command CommandName, params *CommandParams) CommandResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	req := CommandRequest{
		Command:   command,
		Params:    params,
		RequestID: uuid.NewString(),
		Time:      b.clock(),
	}
	b.requests.Add(deep.MustCopy(req))

	if b.ProcessingDelay > 0 {
		time.Sleep(b.ProcessingDelay)
	}

	status, message, change := b.process(command, params)

	// Commands cost battery whether or not they were accepted.
	b.state.DrainBattery(commandBatteryDrain)

	resp := CommandResponse{
		Status:    status,
		Result:    CommandResult{Message: message, StateChange: change},
		RequestID: req.RequestID,
		Time:      b.clock(),
	}
	b.responses.Add(deep.MustCopy(resp))

	snap := b.state.Snapshot()
	b.events.Post(Event{
		Type:      CommandExecutedEvent,
		RequestID: resp.RequestID,
		Command:   command,
		Status:    status,
		Message:   message,
		Snapshot:  &snap,
	})
	b.lg.Info("execute_command", slog.String("command", string(command)),
		slog.String("request_id", req.RequestID), slog.String("status", string(status)),
		slog.String("message", message))

	return resp
}

func (b *Bridge) process(command CommandName, params *CommandParams) (Status, string, map[string]any) {
	switch command {
	case CmdTakeoff:
		if b.state.TakeOff() {
			return StatusSuccess, "Takeoff successful",
				map[string]any{"height": b.state.Height, "is_flying": true}
		}
		if b.state.IsFlying {
			return StatusError, ErrAlreadyFlying.Error(), map[string]any{}
		}
		return StatusError, ErrBatteryLow.Error(), map[string]any{}

	case CmdLand:
		if b.state.Land() {
			return StatusSuccess, "Landing successful",
				map[string]any{"height": 0.0, "is_flying": false}
		}
		return StatusError, ErrAlreadyLanded.Error(), map[string]any{}

	case CmdMove:
		if params == nil {
			return StatusError, ErrMissingParams.Error(), map[string]any{}
		}
		dir := MoveDirection(params.Direction)
		if !dir.Valid() {
			return StatusError, ErrInvalidDirection.Error(), map[string]any{}
		}
		if params.DistanceCm <= 0 {
			return StatusError, ErrInvalidDistance.Error(), map[string]any{}
		}
		if !b.state.Move(dir, params.DistanceCm) {
			return StatusError, ErrNotFlying.Error(), map[string]any{}
		}
		return StatusSuccess, fmt.Sprintf("Moved %s %.2fm", dir, params.DistanceCm/100),
			map[string]any{"x_pos": b.state.XPos, "y_pos": b.state.YPos, "height": b.state.Height}

	case CmdRotate:
		if params == nil {
			return StatusError, ErrMissingParams.Error(), map[string]any{}
		}
		dir := RotateDirection(params.Direction)
		if !dir.Valid() {
			return StatusError, ErrInvalidDirection.Error(), map[string]any{}
		}
		if params.AngleDeg <= 0 {
			return StatusError, ErrInvalidAngle.Error(), map[string]any{}
		}
		if !b.state.Rotate(dir, params.AngleDeg) {
			return StatusError, ErrNotFlying.Error(), map[string]any{}
		}
		return StatusSuccess, fmt.Sprintf("Rotated %s %g°", dir, params.AngleDeg),
			map[string]any{"yaw": b.state.Yaw}

	case CmdEmergency:
		b.state.EmergencyStop()
		return StatusSuccess, "Emergency stop",
			map[string]any{"height": 0.0, "speed": 0.0, "is_flying": false}

	default:
		return StatusError, ErrUnknownCommand.Error(), map[string]any{}
	}
}

// Advance ticks the state by the wall-clock time elapsed since the last
// Advance and returns a fresh snapshot. Dashboards poll this; the command
// path doesn't tick, so simulated drift accrues with real time rather
// than with command volume.
func (b *Bridge) Advance() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if elapsed := now.Sub(b.lastTick); elapsed > 0 {
		b.state.Tick(elapsed)
	}
	b.lastTick = now
	return b.state.Snapshot()
}

// Snapshot is a pure read; it does not advance simulated time.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Snapshot()
}

// Reset restores the twin's defaults without ending the session.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Reset()
	b.lastTick = b.clock()
	b.lg.Info("reset_state")
}

// RequestHistory returns the retained requests, oldest first. At most the
// ten most recent are kept.
func (b *Bridge) RequestHistory() []CommandRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests.Items()
}

// ResponseHistory returns the retained responses, oldest first.
func (b *Bridge) ResponseHistory() []CommandResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.responses.Items()
}

// History zips the retained requests and responses into pairs.
func (b *Bridge) History() []HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	reqs, resps := b.requests.Items(), b.responses.Items()
	n := min(len(reqs), len(resps))
	entries := make([]HistoryEntry, 0, n)
	for i := range n {
		entries = append(entries, HistoryEntry{Request: reqs[i], Response: resps[i]})
	}
	return entries
}
