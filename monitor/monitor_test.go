package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
)

func TestMonitor_EmitsTimeoutAtHardDeadline(t *testing.T) {
	stream := events.NewStream(4)
	m := New(stream)
	cfg := Config{MaxWallTime: 20 * time.Millisecond, MaxInactivityTime: time.Hour, ProbeInterval: time.Hour}
	m.Start(context.Background(), protocol.RoleBuilder, cfg, nil)
	defer m.StopAll()

	select {
	case ev := <-stream.Events():
		_, ok := ev.(events.TimeoutEvent)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected timeout event")
	}
}

func TestMonitor_EmitsStaleOnNoActivity(t *testing.T) {
	stream := events.NewStream(4)
	m := New(stream)
	cfg := Config{MaxWallTime: time.Hour, MaxInactivityTime: 10 * time.Millisecond, ProbeInterval: 5 * time.Millisecond}
	capture := func() (string, error) { return "same", nil }
	m.Start(context.Background(), protocol.RoleVerifier, cfg, capture)
	defer m.StopAll()

	select {
	case ev := <-stream.Events():
		_, ok := ev.(events.StaleEvent)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected stale event")
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	stream := events.NewStream(4)
	m := New(stream)
	m.Stop(protocol.RoleBuilder)
	m.Stop(protocol.RoleBuilder)

	cfg := Config{MaxWallTime: time.Hour}
	m.Start(context.Background(), protocol.RoleBuilder, cfg, nil)
	m.Stop(protocol.RoleBuilder)
	require.NotPanics(t, func() { m.Stop(protocol.RoleBuilder) })
}
