package audio

import "time"

// CaptureDevice records microphone input into one file per capture.
type CaptureDevice interface {
	// RequestPermission reports whether the configured inputs may be used.
	RequestPermission() bool
	// BeginCapture starts recording into a new file and returns its path.
	BeginCapture() (string, error)
	// EndCapture stops the running capture and returns its duration.
	EndCapture() (time.Duration, error)
	// CurrentLoudness returns the input level in the 0..100 range.
	CurrentLoudness() float64
}

// PlaybackDevice plays a queue of recorded files as one timeline.
type PlaybackDevice interface {
	Enqueue(fileRefs []string)
	Seek(to time.Duration)
	Play() error
	Pause()
	CurrentPosition() time.Duration
	IsPlaying() bool
}

// EventKind identifies an external audio session event.
type EventKind string

const (
	EventInterruptionBegan EventKind = "interruption_began"
	EventInterruptionEnded EventKind = "interruption_ended"
	EventRouteChanged      EventKind = "route_changed"
)

// RouteChangeReason explains a route change.
type RouteChangeReason string

const (
	RouteOldDeviceUnavailable RouteChangeReason = "old_device_unavailable"
	RouteNewDeviceAvailable   RouteChangeReason = "new_device_available"
)

// Event is a hardware notification delivered to the session engine.
type Event struct {
	Kind         EventKind
	ShouldResume bool
	Reason       RouteChangeReason
}

func InterruptionBegan() Event { return Event{Kind: EventInterruptionBegan} }

func InterruptionEnded(shouldResume bool) Event {
	return Event{Kind: EventInterruptionEnded, ShouldResume: shouldResume}
}

func RouteChanged(reason RouteChangeReason) Event {
	return Event{Kind: EventRouteChanged, Reason: reason}
}
