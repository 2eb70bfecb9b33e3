// sim/errors.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
)

// Command-level failures are surfaced as data in CommandResponse; these
// sentinels provide the messages and let callers match on the condition.
var (
	ErrAlreadyFlying    = errors.New("Already flying")
	ErrAlreadyLanded    = errors.New("Already landed")
	ErrBatteryLow       = errors.New("Battery too low for takeoff")
	ErrInvalidAngle     = errors.New("Invalid angle")
	ErrInvalidDirection = errors.New("Invalid direction")
	ErrInvalidDistance  = errors.New("Invalid distance")
	ErrMissingParams    = errors.New("Missing command parameters")
	ErrNotFlying        = errors.New("Not flying")
	ErrUnknownCommand   = errors.New("Unknown command")
	ErrUnknownPattern   = errors.New("Unknown pattern")
)
