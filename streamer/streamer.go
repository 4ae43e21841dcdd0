// Package streamer implements OutputStreamer (§4.5): an adaptive-interval
// scrollback sampler. No single teacher file does adaptive polling; this
// follows the "one task per watched subject, own interval/last-snapshot
// state, results through a channel" idiom spec.md §9 asks for and that
// multiagent/planner/planner.go's own streaming goroutines already use (one
// goroutine per subject pushing into a channel the event loop drains).
package streamer

import (
	"context"
	"strings"
	"time"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
)

// Config bounds the adaptive polling interval.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	Base        time.Duration
}

// DefaultConfig matches the example bounds named in §4.5 (250ms-4s).
func DefaultConfig() Config {
	return Config{
		MinInterval: 250 * time.Millisecond,
		MaxInterval: 4 * time.Second,
		Base:        250 * time.Millisecond,
	}
}

// CapturePane returns the current scrollback for a single pane.
type CapturePane func(ctx context.Context) (string, error)

// Streamer polls one agent pane's scrollback at an adaptive interval and
// emits OutputEvent/NewOutputEventDelta into the run's event stream.
type Streamer struct {
	cfg    Config
	stream *events.Stream
}

// New creates a Streamer bound to a run's event stream.
func New(cfg Config, stream *events.Stream) *Streamer {
	return &Streamer{cfg: cfg, stream: stream}
}

// Watch runs until ctx is cancelled, polling capture for agent's scrollback
// and adjusting the interval per §4.5: halve on activity, grow by 1.5x after
// 3x the base interval without change, both clamped to [Min,Max].
func (s *Streamer) Watch(ctx context.Context, agent protocol.AgentRole, capture CapturePane) {
	interval := s.cfg.Base
	var idleSince time.Time
	var lastSnapshot string
	first := true

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			snapshot, err := capture(ctx)
			if err == nil {
				changed := snapshot != lastSnapshot
				if changed {
					isNew := !first
					s.stream.Emit(ctx, events.NewOutputEvent(agent, snapshot, isNew))
					if isNew {
						delta := Delta(lastSnapshot, snapshot)
						s.stream.Emit(ctx, events.NewNewOutputEvent(agent, delta))
					}
					lastSnapshot = snapshot
					first = false
					idleSince = time.Time{}
					interval = s.halve(interval)
				} else {
					if idleSince.IsZero() {
						idleSince = time.Now()
					}
					if time.Since(idleSince) >= 3*s.cfg.Base {
						interval = s.grow(interval)
					}
				}
			}
			timer.Reset(interval)
		}
	}
}

func (s *Streamer) halve(interval time.Duration) time.Duration {
	next := interval / 2
	if next < s.cfg.MinInterval {
		next = s.cfg.MinInterval
	}
	return next
}

func (s *Streamer) grow(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * 1.5)
	if next > s.cfg.MaxInterval {
		next = s.cfg.MaxInterval
	}
	return next
}

// Delta computes the incremental text added between an old and new
// scrollback snapshot per §4.5: find the old snapshot's last line within the
// new snapshot and return everything after it; if that line can't be found
// (it scrolled off, or the pane was cleared), fall back to the tail of the
// new snapshot.
func Delta(old, new string) string {
	if old == "" {
		return new
	}
	oldLines := strings.Split(strings.TrimRight(old, "\n"), "\n")
	lastLine := oldLines[len(oldLines)-1]
	if lastLine == "" {
		return new
	}
	idx := strings.LastIndex(new, lastLine)
	if idx < 0 {
		return tail(new, 20)
	}
	rest := new[idx+len(lastLine):]
	rest = strings.TrimPrefix(rest, "\n")
	return rest
}

func tail(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
