package audio

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// RouteMonitor polls the PipeWire graph and turns the disappearance and
// reappearance of the configured ports into session events.
type RouteMonitor struct {
	pipewire       *PipeWire
	clock          clockwork.Clock
	interval       time.Duration
	captureSources []string
	playbackSink   string
}

type routeState struct {
	captureUp bool
	sinkUp    bool
}

// NewRouteMonitor creates a monitor for the given capture sources and
// optional playback sink port.
func NewRouteMonitor(clock clockwork.Clock, interval time.Duration, captureSources []string, playbackSink string) *RouteMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &RouteMonitor{
		pipewire:       NewPipeWire(),
		clock:          clock,
		interval:       interval,
		captureSources: captureSources,
		playbackSink:   playbackSink,
	}
}

// Run polls until ctx is cancelled, sending events on out.
func (m *RouteMonitor) Run(ctx context.Context, out chan<- Event) {
	slog.Debug("PipeWire route monitoring started", "sources", m.captureSources, "sink", m.playbackSink)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	var prev routeState
	initialized := false

	for {
		select {
		case <-ctx.Done():
			slog.Debug("PipeWire route monitoring stopped")
			return
		case <-ticker.Chan():
			cur, err := m.poll()
			if err != nil {
				slog.Debug("Route poll failed", "error", err)
				continue
			}
			if !initialized {
				prev, initialized = cur, true
				continue
			}
			for _, ev := range routeEvents(prev, cur, m.playbackSink != "") {
				slog.Info("Audio route event", "kind", ev.Kind, "reason", ev.Reason)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			prev = cur
		}
	}
}

func (m *RouteMonitor) poll() (routeState, error) {
	names := append([]string(nil), m.captureSources...)
	if m.playbackSink != "" {
		names = append(names, m.playbackSink)
	}
	present, err := m.pipewire.PortsPresent(names)
	if err != nil {
		return routeState{}, err
	}
	state := routeState{captureUp: true, sinkUp: m.playbackSink != "" && present[m.playbackSink]}
	for _, s := range m.captureSources {
		if !present[s] {
			state.captureUp = false
		}
	}
	return state, nil
}

// routeEvents derives the events implied by a change between two polls.
func routeEvents(prev, cur routeState, watchSink bool) []Event {
	var events []Event
	if prev.captureUp && !cur.captureUp {
		events = append(events, InterruptionBegan())
	}
	if !prev.captureUp && cur.captureUp {
		events = append(events, InterruptionEnded(true))
	}
	if watchSink {
		if prev.sinkUp && !cur.sinkUp {
			events = append(events, RouteChanged(RouteOldDeviceUnavailable))
		}
		if !prev.sinkUp && cur.sinkUp {
			events = append(events, RouteChanged(RouteNewDeviceAvailable))
		}
	}
	return events
}
