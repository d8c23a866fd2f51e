package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

func TestMemorySink_ConcurrentRecord(t *testing.T) {
	sink := NewMemorySink()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			sink.Record(Event{Kind: EventKindLaunch, PID: pid})
		}(i + 1)
	}
	wg.Wait()

	assert.Len(t, sink.Events(), 20)
	assert.Len(t, sink.Kinds(), 20)
}

func TestMultiSink(t *testing.T) {
	first := NewMemorySink()
	second := NewMemorySink()

	sink := MultiSink(first, nil, second)
	sink.Record(Event{Kind: EventKindResult})

	assert.Equal(t, []EventKind{EventKindResult}, first.Kinds())
	assert.Equal(t, []EventKind{EventKindResult}, second.Kinds())
	assert.NotPanics(t, func() { NewNopSink().Record(Event{}) })
}

type panickingSink struct{}

func (panickingSink) Record(Event) {
	panic("disk full")
}

func TestRecord_RecoversPanickingSink(t *testing.T) {
	err := Record(panickingSink{}, Event{Kind: EventKindResult})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result")
	assert.Contains(t, err.Error(), "disk full")

	memory := NewMemorySink()
	assert.NoError(t, Record(memory, Event{Kind: EventKindLaunch}))
	assert.NoError(t, Record(nil, Event{Kind: EventKindLaunch}))
	assert.Equal(t, []EventKind{EventKindLaunch}, memory.Kinds())
}

func TestZapSink_Record(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))
	profile := resourcelimits.DefaultProfile()

	sink.Record(Event{
		Kind:        EventKindLaunch,
		ExecutionID: "exec-1",
		Time:        time.Now(),
		Path:        "/tmp/sample",
		Args:        []string{"-x"},
		Profile:     &profile,
		PID:         4242,
		PGID:        4242,
	})
	sink.Record(Event{
		Kind:        EventKindResult,
		ExecutionID: "exec-1",
		Outcome:     &Outcome{ExitCode: -9, TimedOut: true, Violation: resourcelimits.ViolationNone},
	})
	sink.Record(Event{Kind: EventKindFailure, Error: "not_found: File not found", Message: "execution failed"})
	sink.Record(Event{Kind: EventKindTimeout})

	entries := observed.AllUntimed()
	require.Len(t, entries, 4)

	launch := entries[0]
	assert.Equal(t, "audit", launch.LoggerName)
	assert.Equal(t, "sandbox launch", launch.Message)
	fields := launch.ContextMap()
	assert.Equal(t, "exec-1", fields["execution_id"])
	assert.Equal(t, int64(4242), fields["pid"])
	assert.Equal(t, profile.String(), fields["profile"])

	outcome, ok := entries[1].ContextMap()["outcome"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, outcome["timed_out"])
	assert.Equal(t, "none", outcome["violation"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "execution failed", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
}
