package interruption

import (
	"log/slog"

	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// Target is the engine state the coordinator acts on. Calls are made
// with the engine's mutation lock held.
type Target interface {
	RecorderActive() bool
	// StopRecorder commits the open segment and deactivates the recorder.
	StopRecorder() error
	// SoundingTools returns the audio-producing tools currently running.
	SoundingTools() []tools.Tool
	SuspendTool(tool tools.Tool)
	ResumeTool(tool tools.Tool) error
	PlaybackPlaying() bool
	PausePlayback()
	ResumePlayback() error
}

// Action is a deferred resume.
type Action struct {
	Name string
	Run  func() error
}

// Coordinator records what an interruption or route change paused and
// replays it when the hardware says audio may resume. It never decides
// on its own whether to resume. It is not safe for concurrent use.
type Coordinator struct {
	target       Target
	interruption []Action
	route        []Action
}

func New(target Target) *Coordinator {
	return &Coordinator{target: target}
}

// Handle dispatches a hardware event.
func (c *Coordinator) Handle(ev audio.Event) {
	switch ev.Kind {
	case audio.EventInterruptionBegan:
		c.InterruptionBegan()
	case audio.EventInterruptionEnded:
		c.InterruptionEnded(ev.ShouldResume)
	case audio.EventRouteChanged:
		c.RouteChanged(ev.Reason)
	default:
		slog.Warn("Ignoring unknown audio event", "kind", ev.Kind)
	}
}

func (c *Coordinator) InterruptionBegan() {
	slog.Info("Audio interruption began")
	c.route = nil

	if c.target.RecorderActive() {
		if err := c.target.StopRecorder(); err != nil {
			slog.Error("Failed to stop recorder on interruption", "error", err)
		}
	}

	for _, tool := range c.target.SoundingTools() {
		tool := tool
		c.target.SuspendTool(tool)
		c.interruption = append(c.interruption, Action{
			Name: "resume " + string(tool),
			Run:  func() error { return c.target.ResumeTool(tool) },
		})
	}

	if c.target.PlaybackPlaying() {
		c.target.PausePlayback()
		c.interruption = append(c.interruption, Action{Name: "resume playback", Run: c.target.ResumePlayback})
	}
}

func (c *Coordinator) InterruptionEnded(shouldResume bool) {
	queue := c.interruption
	c.interruption = nil
	slog.Info("Audio interruption ended", "should_resume", shouldResume, "pending", len(queue))
	if shouldResume {
		run(queue)
	}
}

// RouteChanged pauses playback when the output device goes away and
// resumes it when a device becomes available again.
func (c *Coordinator) RouteChanged(reason audio.RouteChangeReason) {
	switch reason {
	case audio.RouteOldDeviceUnavailable:
		if !c.target.PlaybackPlaying() {
			return
		}
		slog.Info("Output device removed, pausing playback")
		c.target.PausePlayback()
		// An interruption in progress owns the resume intent.
		if len(c.interruption) == 0 {
			c.route = []Action{{Name: "resume playback", Run: c.target.ResumePlayback}}
		}
	case audio.RouteNewDeviceAvailable:
		queue := c.route
		c.route = nil
		run(queue)
	}
}

// Pending returns the number of queued interruption and route actions.
func (c *Coordinator) Pending() (interruption, route int) {
	return len(c.interruption), len(c.route)
}

// Reset drops all queued actions.
func (c *Coordinator) Reset() {
	c.interruption = nil
	c.route = nil
}

func run(queue []Action) {
	for _, a := range queue {
		if err := a.Run(); err != nil {
			slog.Warn("Resume action failed", "action", a.Name, "error", err)
			continue
		}
		slog.Debug("Resume action executed", "action", a.Name)
	}
}
