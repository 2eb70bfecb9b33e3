// sim/eventstream.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/skysim/tellotwin/log"
)

// EventStream provides a basic pub/sub event interface: the bridge,
// pattern generator, and hardware monitor post events describing state
// transitions and command outcomes, and any number of consumers (the
// dashboard, tests, recorders) subscribe and drain them. It decouples
// observability from the command control flow; posting never blocks.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]interface{}
	lastPost      time.Time
	lg            *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset is offset in the EventStream stream array up to which the
	// subscriber has consumed events so far.
	offset  int
	source  string
	lastGet time.Time
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

func NewEventStream(lg *log.Logger) *EventStream {
	return &EventStream{
		subscriptions: make(map[*EventsSubscription]interface{}),
		lastPost:      time.Now(),
		lg:            lg,
	}
}

// Subscribe registers a new subscriber to the stream and returns an
// EventsSubscription whose Get method drains events posted after this
// point.
func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the subscriber's callsite, so that we can more easily debug
	// subscribers that aren't consuming events.
	_, fn, line, _ := runtime.Caller(1)
	source := fmt.Sprintf("%s:%d", fn, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  source,
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = nil
	return sub
}

// Unsubscribe removes a subscriber from the subscriber list
func (e *EventsSubscription) Unsubscribe() {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to unsubscribe invalid subscription: %+v", e)
	}
	delete(e.stream.subscriptions, e)
	e.stream = nil
}

// Post adds an event to the event stream.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	// Ignore the event if no one's paying attention.
	if len(e.subscriptions) > 0 {
		e.lastPost = time.Now()
		e.events = append(e.events, event)
	}
}

// Get returns all of the events from the stream since the last time Get
// was called for this subscription.  Note that events posted before
// Subscribe was called are never reported.
func (e *EventsSubscription) Get() []Event {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to get with unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()

	e.stream.compact()
	return events
}

// compact reclaims storage for events that all subscribers have seen; it
// is called on Get so that EventStream memory usage doesn't grow without
// bound. Caller holds the mutex.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset

		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]

		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}
	}
}

type EventType int

const (
	CommandExecutedEvent EventType = iota
	PatternStartedEvent
	PatternAbortedEvent
	PatternCompletedEvent
	StateReconciledEvent
	NumEventTypes
)

func (t EventType) String() string {
	return [...]string{"CommandExecuted", "PatternStarted", "PatternAborted",
		"PatternCompleted", "StateReconciled"}[t]
}

type Event struct {
	Type      EventType
	RequestID string
	Command   CommandName
	Pattern   PatternName
	Status    Status
	Message   string
	Snapshot  *Snapshot
}

func (e *Event) String() string {
	switch e.Type {
	case CommandExecutedEvent:
		return fmt.Sprintf("%s: request %q command %q status %q message %q",
			e.Type, e.RequestID, e.Command, e.Status, e.Message)
	case PatternStartedEvent, PatternAbortedEvent, PatternCompletedEvent:
		return fmt.Sprintf("%s: pattern %q message %q", e.Type, e.Pattern, e.Message)
	default:
		return fmt.Sprintf("%s: message %q", e.Type, e.Message)
	}
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String())}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.Command != "" {
		attrs = append(attrs, slog.String("command", string(e.Command)))
	}
	if e.Pattern != "" {
		attrs = append(attrs, slog.String("pattern", string(e.Pattern)))
	}
	if e.Status != "" {
		attrs = append(attrs, slog.String("status", string(e.Status)))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	return slog.GroupValue(attrs...)
}
