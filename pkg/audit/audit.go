// Package audit carries the facts a sandboxed execution produces for the
// external audit trail. Sinks receive events; persisting them is up to the
// collaborator behind the sink.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

type EventKind string

const (
	EventKindLaunch         EventKind = "launch"
	EventKindTimeout        EventKind = "timeout"
	EventKindResult         EventKind = "result"
	EventKindFailure        EventKind = "failure"
	EventKindConfigFallback EventKind = "config_fallback"
)

// Outcome is the audit view of a finished execution.
type Outcome struct {
	ExitCode          int                      `json:"exit_code"`
	TimedOut          bool                     `json:"timed_out"`
	Violation         resourcelimits.Violation `json:"violation"`
	WallClockDuration time.Duration            `json:"wall_clock_duration"`
	CPUTime           time.Duration            `json:"cpu_time"`
}

type Event struct {
	Kind        EventKind
	ExecutionID string
	Time        time.Time
	Path        string
	Args        []string
	Profile     *resourcelimits.Profile
	PID         int
	PGID        int
	Outcome     *Outcome
	Error       string
	Message     string
}

// Sink records events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(event Event)
}

type nopSink struct{}

func (nopSink) Record(Event) {}

// NewNopSink returns a sink that discards events.
func NewNopSink() Sink {
	return nopSink{}
}

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a snapshot of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (m *MemorySink) Kinds() []EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]EventKind, 0, len(m.events))
	for _, event := range m.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

// MultiSink fans an event out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(event)
		}
	}
}

// Record delivers event to sink. A panicking sink is reported as an error
// instead of unwinding the caller.
func Record(sink Sink, event Event) (err error) {
	if sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panicked on %s event: %v", event.Kind, r)
		}
	}()
	sink.Record(event)
	return nil
}
