package session

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
)

// PlayRecording plays the committed segments as one timeline.
func (e *Engine) PlayRecording() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requirePlaybackLocked(); err != nil {
		return err
	}
	if _, open := e.ledger.Open(); open {
		return fmt.Errorf("%w: recorder is running", apperrors.ErrResourceUnavailable)
	}
	e.syncQueueLocked()
	if err := e.playback.Play(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrResourceUnavailable, err)
	}
	e.publishLocked()
	return nil
}

func (e *Engine) PauseRecording() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requirePlaybackLocked(); err != nil {
		return err
	}
	e.playback.Pause()
	e.publishLocked()
	return nil
}

// SeekRecording moves playback to a 0..1 position over all segments.
func (e *Engine) SeekRecording(fraction float64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requirePlaybackLocked(); err != nil {
		return err
	}
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: seek position must be between 0 and 1", apperrors.ErrInvalidInput)
	}
	e.syncQueueLocked()
	seconds := e.ledger.AbsoluteTime(fraction)
	e.playback.Seek(time.Duration(seconds * float64(time.Second)))
	return nil
}

// PlaybackPosition returns the playback position as a 0..1 fraction.
func (e *Engine) PlaybackPosition() float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.playback == nil {
		return 0
	}
	return e.ledger.SeekFraction(e.playback.CurrentPosition().Seconds())
}

func (e *Engine) requirePlaybackLocked() error {
	if e.playback == nil {
		return fmt.Errorf("%w: no playback device", apperrors.ErrResourceUnavailable)
	}
	if err := e.requireLocked(StateActive); err != nil {
		return err
	}
	if e.ledger.Len() == 0 {
		return fmt.Errorf("%w: nothing recorded yet", apperrors.ErrInvalidState)
	}
	return nil
}

// syncQueueLocked enqueues the segments when new ones were committed
// since the last enqueue.
func (e *Engine) syncQueueLocked() {
	if e.enqueued == e.ledger.Len() {
		return
	}
	e.playback.Enqueue(e.ledger.Refs())
	e.enqueued = e.ledger.Len()
}
