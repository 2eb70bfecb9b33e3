// server/server.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/sim"
)

// Handler builds the full HTTP surface: the JSON API, the status page,
// and the pprof endpoints.
func (tm *TwinManager) Handler() http.Handler {
	mux := http.NewServeMux()
	tm.RegisterAPI(mux)
	tm.RegisterStatus(mux)
	return mux
}

// LaunchServer runs the HTTP server until the context is canceled. If the
// configured port is taken it probes upward a few ports before giving up.
func LaunchServer(ctx context.Context, cfg Config, source sim.PhysicalSource, lg *log.Logger) error {
	tm := NewTwinManager(cfg, source, lg)
	defer tm.Shutdown()

	var listener net.Listener
	var err error
	for i := range 10 {
		port := cfg.Port + i
		if listener, err = net.Listen("tcp", ":"+strconv.Itoa(port)); err == nil {
			fmt.Printf("Launching HTTP server on port %d\n", port)
			break
		}
	}
	if err != nil {
		return fmt.Errorf("unable to start HTTP server: %w", err)
	}

	srv := &http.Server{Handler: tm.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
