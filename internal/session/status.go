package session

import (
	"sync"

	"github.com/audiolibrelab/practicelog/internal/snapshot"
	"github.com/audiolibrelab/practicelog/internal/timing"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// publishLocked refreshes the lock-free views of the engine and notifies
// watchers. Called after every mutation.
func (e *Engine) publishLocked() {
	st := &Status{
		State:      e.state,
		Stack:      e.tools.Stack(),
		Segments:   e.ledger.Len(),
		LastNotice: e.lastNotice,
	}
	if m, ok := e.tools.Modal(); ok {
		st.Modal = m
	}
	for _, t := range []tools.Tool{tools.Metronome, tools.Tuner} {
		if e.suspended[t] {
			st.Suspended = append(st.Suspended, t)
		}
	}
	_, st.Recording = e.ledger.Open()
	st.RecordedSecs = e.ledger.TotalDuration()
	if e.playback != nil {
		st.PlaybackActive = e.playback.IsPlaying()
	}

	if s := e.session; s != nil {
		st.SessionID = s.ID
		st.ProfileID = s.ProfileID
		st.Title = s.Title
		st.StartedAt = s.StartedAt
		st.Mood = s.Mood
		st.Focus = s.Focus
		st.Notes = s.Notes

		e.template.Store(&snapshot.Snapshot{
			SessionID:         s.ID,
			ProfileID:         s.ProfileID,
			Title:             s.Title,
			Mood:              s.Mood,
			Focus:             s.Focus,
			StartedAt:         s.StartedAt,
			Notes:             s.Notes,
			RecordingSegments: e.ledger.Segments(),
		})
	}
	e.status.Store(st)

	for _, ch := range e.watchers {
		deliver(ch, e.withClock(*st))
	}
}

// deliver replaces any undelivered status so watchers only see the latest.
func deliver(ch chan Status, st Status) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

func (e *Engine) withClock(st Status) Status {
	st.ElapsedSeconds = e.elapsed.CurrentSeconds()
	st.Paused = e.elapsed.State() == timing.StatePaused
	return st
}

// Status returns the current engine status without taking the engine lock.
func (e *Engine) Status() Status {
	return e.withClock(*e.status.Load())
}

// Watch returns a channel receiving the latest status after each change.
// The returned cancel function unsubscribes and closes the channel.
func (e *Engine) Watch() (<-chan Status, func()) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	id := e.nextWatch
	e.nextWatch++
	ch := make(chan Status, 1)
	ch <- e.withClock(*e.status.Load())
	e.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mutex.Lock()
			defer e.mutex.Unlock()
			if ch, ok := e.watchers[id]; ok {
				delete(e.watchers, id)
				close(ch)
			}
		})
	}
}

// captureSnapshot builds the periodic snapshot. It runs on the snapshot
// writer goroutine and must not take the engine lock.
func (e *Engine) captureSnapshot() snapshot.Snapshot {
	return e.currentSnapshot()
}

func (e *Engine) currentSnapshot() snapshot.Snapshot {
	var snap snapshot.Snapshot
	if t := e.template.Load(); t != nil {
		snap = *t
	}
	snap.ElapsedSeconds = e.elapsed.CurrentSeconds()
	snap.IsPaused = e.elapsed.State() != timing.StateRunning
	return snap
}
