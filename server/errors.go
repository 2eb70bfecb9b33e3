// server/errors.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"
)

var (
	ErrInvalidRequestBody = errors.New("Invalid request body")
	ErrNoSession          = errors.New("No session with that id")
)
