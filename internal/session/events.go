package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// Events returns the channel hardware event sources write to.
func (e *Engine) Events() chan<- audio.Event {
	return e.events
}

// NotificationFired queues a fired notification for the event loop.
func (e *Engine) NotificationFired(id string) {
	select {
	case e.fired <- id:
	default:
		slog.Warn("Dropping notification, event loop is behind", "id", id)
	}
}

// Run consumes hardware events and notifications until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.HandleEvent(ev)
		case id := <-e.fired:
			e.handleNotification(id)
		}
	}
}

// HandleEvent applies one hardware event under the engine lock. Events
// outside a live session are ignored.
func (e *Engine) HandleEvent(ev audio.Event) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.state != StateActive {
		slog.Debug("Ignoring audio event outside an active session", "kind", ev.Kind, "state", e.state)
		return
	}
	e.coordinator.Handle(ev)
	e.publishLocked()
}

func (e *Engine) handleNotification(id string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if id != TimerNotificationID || e.state != StateActive {
		return
	}
	if e.tools.Deactivate(tools.Timer) {
		e.lastNotice = "Countdown finished"
		slog.Info("Countdown timer finished", "session_id", e.session.ID)
		e.publishLocked()
	}
}

// engineTarget exposes engine state to the interruption coordinator.
// Every method runs with the engine lock held.
type engineTarget struct {
	e *Engine
}

func (t engineTarget) RecorderActive() bool {
	return t.e.tools.IsActive(tools.Recorder)
}

func (t engineTarget) StopRecorder() error {
	err := t.e.endSegmentLocked()
	t.e.tools.Deactivate(tools.Recorder)
	return err
}

func (t engineTarget) SoundingTools() []tools.Tool {
	var sounding []tools.Tool
	for _, tool := range []tools.Tool{tools.Metronome, tools.Tuner} {
		if t.e.tools.IsActive(tool) && !t.e.suspended[tool] {
			sounding = append(sounding, tool)
		}
	}
	return sounding
}

func (t engineTarget) SuspendTool(tool tools.Tool) {
	t.e.suspended[tool] = true
}

func (t engineTarget) ResumeTool(tool tools.Tool) error {
	if !t.e.tools.IsActive(tool) {
		return fmt.Errorf("%w: %s is no longer active", apperrors.ErrInvalidState, tool)
	}
	delete(t.e.suspended, tool)
	return nil
}

func (t engineTarget) PlaybackPlaying() bool {
	return t.e.playback != nil && t.e.playback.IsPlaying()
}

func (t engineTarget) PausePlayback() {
	if t.e.playback != nil {
		t.e.playback.Pause()
	}
}

func (t engineTarget) ResumePlayback() error {
	if t.e.playback == nil {
		return nil
	}
	return t.e.playback.Play()
}
