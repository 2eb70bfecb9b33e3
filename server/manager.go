// server/manager.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/sim"
)

const (
	maxSessions       = 64
	DefaultSessionTTL = 4 * time.Hour
)

type Config struct {
	Port            int
	ProcessingDelay time.Duration
	SettleDelay     time.Duration
	PollInterval    time.Duration
	SessionTTL      time.Duration
	Seed            uint64
}

func MakeConfig() Config {
	return Config{
		Port:            TwinHTTPServerPort,
		ProcessingDelay: sim.DefaultProcessingDelay,
		SettleDelay:     sim.DefaultSettleDelay,
		PollInterval:    sim.DefaultPollInterval,
		SessionTTL:      DefaultSessionTTL,
	}
}

// twinSession bundles everything one client's twin needs: the bridge that
// owns the state, the pattern generator and analyzer layered on it, and
// the hardware monitor goroutine reconciling physical readings into it.
type twinSession struct {
	id       string
	bridge   *sim.Bridge
	patterns *sim.Patterns
	analyzer *sim.Analyzer

	created    time.Time
	cancelFunc context.CancelFunc
}

// TwinManager creates and tracks twin sessions. Sessions are evicted
// after sitting idle for the configured TTL, or oldest-first when the
// session cap is hit; eviction tears down the session's monitor.
type TwinManager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *twinSession]

	cfg       Config
	source    sim.PhysicalSource
	startTime time.Time
	lg        *log.Logger
}

func NewTwinManager(cfg Config, source sim.PhysicalSource, lg *log.Logger) *TwinManager {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	tm := &TwinManager{
		cfg:       cfg,
		source:    source,
		startTime: time.Now(),
		lg:        lg,
	}
	tm.sessions = expirable.NewLRU[string, *twinSession](maxSessions,
		func(id string, s *twinSession) {
			s.cancelFunc()
			lg.Infof("session %s evicted", id)
		}, cfg.SessionTTL)
	return tm
}

// CreateSession builds a fresh twin and, when a physical source is
// configured, starts its hardware monitor. If the session cap is hit the
// oldest session is evicted to make room.
func (tm *TwinManager) CreateSession() *twinSession {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	seed := tm.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	state := sim.NewState(seed)
	events := sim.NewEventStream(tm.lg)
	bridge := sim.NewBridge(state, events, tm.lg)
	bridge.ProcessingDelay = tm.cfg.ProcessingDelay

	patterns := sim.NewPatterns(bridge, tm.lg)
	patterns.SettleDelay = tm.cfg.SettleDelay

	ctx, cancel := context.WithCancel(context.Background())
	s := &twinSession{
		id:         uuid.NewString(),
		bridge:     bridge,
		patterns:   patterns,
		analyzer:   sim.NewAnalyzer(),
		created:    time.Now(),
		cancelFunc: cancel,
	}

	// Only reconcile against hardware when there is hardware; polling the
	// stub would fight the simulation.
	if tm.source != nil {
		monitor := sim.NewMonitor(bridge, tm.source, tm.lg)
		if tm.cfg.PollInterval > 0 {
			monitor.Interval = tm.cfg.PollInterval
		}
		go monitor.Run(ctx)
	}

	tm.sessions.Add(s.id, s)
	tm.lg.Infof("session %s created", s.id)
	return s
}

// Lookup returns the session for an id, refreshing its idle timer.
func (tm *TwinManager) Lookup(id string) (*twinSession, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	s, ok := tm.sessions.Get(id)
	if ok {
		// Re-add so that the TTL counts from last use, not creation.
		tm.sessions.Add(id, s)
	}
	return s, ok
}

// Delete removes a session; its monitor goroutine is stopped by the
// eviction callback.
func (tm *TwinManager) Delete(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.sessions.Remove(id)
}

// Shutdown tears down all sessions.
func (tm *TwinManager) Shutdown() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.sessions.Purge()
}

func (tm *TwinManager) allSessions() []*twinSession {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.sessions.Values()
}
