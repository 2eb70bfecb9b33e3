// sim/bridge_test.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"
	"time"

	"github.com/skysim/tellotwin/log"
)

// testBridge returns a Bridge with no processing delay and a synthetic
// clock that advances one second per reading.
func testBridge(t *testing.T) *Bridge {
	t.Helper()

	var lg *log.Logger // nil logger discards debug/info
	b := NewBridge(NewState(1), NewEventStream(lg), lg)
	b.ProcessingDelay = 0

	now := time.Unix(1700000000, 0)
	b.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return b
}

func TestExecuteTakeoffTwice(t *testing.T) {
	b := testBridge(t)

	first := b.Execute(CmdTakeoff, nil)
	if first.Status != StatusSuccess {
		t.Fatalf("takeoff failed: %s", first.Result.Message)
	}
	if first.Result.StateChange["is_flying"] != true {
		t.Errorf("state change missing is_flying: %v", first.Result.StateChange)
	}

	before := b.Snapshot()
	second := b.Execute(CmdTakeoff, nil)
	if second.Status != StatusError {
		t.Errorf("second takeoff did not fail")
	}
	if second.Result.Message != ErrAlreadyFlying.Error() {
		t.Errorf("message %q", second.Result.Message)
	}
	if len(second.Result.StateChange) != 0 {
		t.Errorf("failed command reported state changes: %v", second.Result.StateChange)
	}

	after := b.Snapshot()
	// Only the unconditional battery cost may differ.
	if after.Height != before.Height || after.IsFlying != before.IsFlying ||
		after.XPos != before.XPos || after.YPos != before.YPos {
		t.Errorf("failed command mutated state: %+v vs %+v", before, after)
	}
	if after.Battery != before.Battery-commandBatteryDrain {
		t.Errorf("battery %f, expected %f", after.Battery, before.Battery-commandBatteryDrain)
	}

	if first.RequestID == second.RequestID || first.RequestID == "" {
		t.Errorf("request ids not unique: %q %q", first.RequestID, second.RequestID)
	}
}

func TestExecuteMoveAndRotate(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	resp := b.Execute(CmdMove, &CommandParams{Direction: "forward", DistanceCm: 150})
	if resp.Status != StatusSuccess {
		t.Fatalf("move failed: %s", resp.Result.Message)
	}
	if y := resp.Result.StateChange["y_pos"]; y != 1.5 {
		t.Errorf("y_pos change %v, expected 1.5", y)
	}

	resp = b.Execute(CmdRotate, &CommandParams{Direction: "ccw", AngleDeg: 45})
	if resp.Status != StatusSuccess {
		t.Fatalf("rotate failed: %s", resp.Result.Message)
	}
	if yaw := resp.Result.StateChange["yaw"]; yaw != 315.0 {
		t.Errorf("yaw change %v, expected 315", yaw)
	}
}

func TestExecuteDownClampsAtMinimum(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	resp := b.Execute(CmdMove, &CommandParams{Direction: "down", DistanceCm: 1000})
	if resp.Status != StatusSuccess {
		t.Fatalf("down move failed: %s", resp.Result.Message)
	}
	if h := b.Snapshot().Height; h != MinHeight {
		t.Errorf("height %f, expected %f", h, MinHeight)
	}
}

func TestExecuteValidation(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	for _, tc := range []struct {
		name    string
		command CommandName
		params  *CommandParams
		message string
	}{
		{"missing params", CmdMove, nil, ErrMissingParams.Error()},
		{"bad direction", CmdMove, &CommandParams{Direction: "sideways", DistanceCm: 10}, ErrInvalidDirection.Error()},
		{"bad distance", CmdMove, &CommandParams{Direction: "forward", DistanceCm: -1}, ErrInvalidDistance.Error()},
		{"bad rotation", CmdRotate, &CommandParams{Direction: "forward", AngleDeg: 90}, ErrInvalidDirection.Error()},
		{"bad angle", CmdRotate, &CommandParams{Direction: "cw"}, ErrInvalidAngle.Error()},
		{"unknown command", "hover", nil, ErrUnknownCommand.Error()},
	} {
		resp := b.Execute(tc.command, tc.params)
		if resp.Status != StatusError || resp.Result.Message != tc.message {
			t.Errorf("%s: status %s message %q, expected error %q",
				tc.name, resp.Status, resp.Result.Message, tc.message)
		}
	}
}

func TestExecuteWhileLanded(t *testing.T) {
	b := testBridge(t)

	for _, cmd := range []struct {
		name   CommandName
		params *CommandParams
	}{
		{CmdMove, &CommandParams{Direction: "forward", DistanceCm: 100}},
		{CmdRotate, &CommandParams{Direction: "cw", AngleDeg: 90}},
		{CmdLand, nil},
	} {
		resp := b.Execute(cmd.name, cmd.params)
		if resp.Status != StatusError {
			t.Errorf("%s while landed succeeded", cmd.name)
		}
	}
}

func TestEmergencyIsUnconditional(t *testing.T) {
	b := testBridge(t)

	if resp := b.Execute(CmdEmergency, nil); resp.Status != StatusSuccess {
		t.Errorf("emergency on the ground failed")
	}

	b.Execute(CmdTakeoff, nil)
	if resp := b.Execute(CmdEmergency, nil); resp.Status != StatusSuccess {
		t.Errorf("emergency in flight failed")
	}
	if snap := b.Snapshot(); snap.IsFlying || snap.Height != 0 {
		t.Errorf("state after emergency: %+v", snap)
	}
}

func TestBatteryNeverNegativeUnderCommandLoad(t *testing.T) {
	b := testBridge(t)

	last := b.Snapshot().Battery
	for range 1200 { // more than enough to exhaust 100% at 0.1 per command
		b.Execute(CmdMove, &CommandParams{Direction: "forward", DistanceCm: 10})
		battery := b.Snapshot().Battery
		if battery > last {
			t.Fatalf("battery increased from %f to %f", last, battery)
		}
		if battery < 0 {
			t.Fatalf("battery negative: %f", battery)
		}
		last = battery
	}
	if last != 0 {
		t.Errorf("battery %f after exhausting command budget, expected 0", last)
	}
}

func TestHistoryBounded(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	for i := range 25 {
		dir := "forward"
		if i%2 == 1 {
			dir = "back"
		}
		b.Execute(CmdMove, &CommandParams{Direction: dir, DistanceCm: 10})
	}

	reqs, resps := b.RequestHistory(), b.ResponseHistory()
	if len(reqs) != 10 || len(resps) != 10 {
		t.Fatalf("history sizes %d/%d, expected 10/10", len(reqs), len(resps))
	}

	entries := b.History()
	if len(entries) != 10 {
		t.Fatalf("zipped history size %d", len(entries))
	}
	for _, e := range entries {
		if e.Request.RequestID != e.Response.RequestID {
			t.Errorf("history pair mismatch: %q vs %q", e.Request.RequestID, e.Response.RequestID)
		}
	}
}

func TestHistoryEntriesAreCopies(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	params := &CommandParams{Direction: "forward", DistanceCm: 100}
	b.Execute(CmdMove, params)
	params.DistanceCm = 99999 // caller mutates its params afterwards

	reqs := b.RequestHistory()
	got := reqs[len(reqs)-1]
	if got.Params.DistanceCm != 100 {
		t.Errorf("history aliased caller params: distance %f", got.Params.DistanceCm)
	}
}

func TestAdvanceTicksByWallClock(t *testing.T) {
	var lg *log.Logger
	b := NewBridge(NewState(1), NewEventStream(lg), lg)
	b.ProcessingDelay = 0

	now := time.Unix(1700000000, 0)
	b.SetClock(func() time.Time { return now })

	b.Execute(CmdTakeoff, nil)

	now = now.Add(30 * time.Second)
	snap := b.Advance()
	if snap.FlightTime != 30 {
		t.Errorf("flight time %d, expected 30", snap.FlightTime)
	}

	// Pure snapshot must not advance anything further.
	now = now.Add(30 * time.Second)
	if got := b.Snapshot().FlightTime; got != 30 {
		t.Errorf("Snapshot advanced time: %d", got)
	}
}

func TestReconcile(t *testing.T) {
	b := testBridge(t)
	b.Execute(CmdTakeoff, nil)

	// Within thresholds: no correction.
	snap := b.Snapshot()
	if b.Reconcile(PhysicalState{Height: snap.Height + 0.05, Battery: snap.Battery}) {
		t.Errorf("reconciled within thresholds")
	}

	if !b.Reconcile(PhysicalState{Height: 2.0, Battery: 50}) {
		t.Errorf("no correction despite divergence")
	}
	snap = b.Snapshot()
	if snap.Height != 2.0 || snap.Battery != 50 {
		t.Errorf("state after reconcile: height %f battery %f", snap.Height, snap.Battery)
	}
}

func TestExecuteEmitsEvents(t *testing.T) {
	b := testBridge(t)
	sub := b.Events().Subscribe()
	defer sub.Unsubscribe()

	b.Execute(CmdTakeoff, nil)
	b.Execute(CmdTakeoff, nil)

	events := sub.Get()
	if len(events) != 2 {
		t.Fatalf("%d events, expected 2", len(events))
	}
	if events[0].Type != CommandExecutedEvent || events[0].Status != StatusSuccess {
		t.Errorf("first event: %s", events[0].String())
	}
	if events[1].Status != StatusError {
		t.Errorf("second event: %s", events[1].String())
	}
	if events[0].Snapshot == nil || !events[0].Snapshot.IsFlying {
		t.Errorf("event snapshot missing or stale")
	}
}
