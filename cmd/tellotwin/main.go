// main.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

// tellotwin runs the digital twin server: an HTTP API over simulated
// quadrotor sessions, each with its own state, command bridge, pattern
// generator, and trajectory analyzer.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/server"
)

var (
	logLevel   = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir     = flag.String("logdir", "", "log file directory")
	serverPort = flag.Int("port", server.TwinHTTPServerPort, "port to listen on")
	cmdDelay   = flag.Duration("command-delay", 0, "per-command processing delay (0 for the default)")
	settle     = flag.Duration("settle-delay", 0, "pause between pattern steps (0 for the default)")
	sessionTTL = flag.Duration("session-ttl", server.DefaultSessionTTL, "evict sessions idle this long")
	seed       = flag.Uint64("seed", 0, "simulation PRNG seed (0 seeds from the clock)")
)

func main() {
	flag.Parse()

	lg := log.New(*logLevel, *logDir)

	cfg := server.MakeConfig()
	cfg.Port = *serverPort
	cfg.SessionTTL = *sessionTTL
	cfg.Seed = *seed
	if *cmdDelay > 0 {
		cfg.ProcessingDelay = *cmdDelay
	}
	if *settle > 0 {
		cfg.SettleDelay = *settle
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.LaunchServer(ctx, cfg, nil, lg)
	})
	g.Go(func() error {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "Caught signal, shutting down...")
		return nil
	})

	if err := g.Wait(); err != nil {
		lg.Errorf("server exited: %v", err)
		// Give the logger a beat to flush the error before exiting.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
}
