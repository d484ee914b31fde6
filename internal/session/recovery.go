package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/recording"
	"github.com/audiolibrelab/practicelog/internal/snapshot"
)

// HasRecoverableSession reports whether a snapshot from an unclean exit exists.
func (e *Engine) HasRecoverableSession() bool {
	return e.snapshots.HasRecoverableSession()
}

// RecoverablePreview returns the pending snapshot so a prompt can describe it.
func (e *Engine) RecoverablePreview() (snapshot.Snapshot, error) {
	return e.snapshots.Peek()
}

// Reconcile restores the session left by an unclean exit and resumes it.
// Segments whose files are gone are dropped. It returns nil when there is
// nothing to recover.
func (e *Engine) Reconcile() (*Session, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateIdle, StateEnded); err != nil {
		return nil, err
	}
	rec, err := e.snapshots.Reconcile()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	snap := rec.Snapshot
	e.session = &Session{
		ID:        snap.SessionID,
		ProfileID: snap.ProfileID,
		Title:     snap.Title,
		StartedAt: snap.StartedAt,
		Mood:      snap.Mood,
		Focus:     snap.Focus,
		Notes:     snap.Notes,
	}
	if e.session.ProfileID == "" {
		e.session.ProfileID = e.cfg.Profile
	}
	e.resetLocked()
	if err := e.ledger.Attach(snap.RecordingSegments); err != nil {
		if !errors.Is(err, apperrors.ErrRecoveryInconsistency) {
			return nil, err
		}
		slog.Warn("Recovered session with missing recordings", "session_id", snap.SessionID, "error", err)
	}

	e.elapsed.Start(e.clock.Now(), snap.ElapsedSeconds)
	e.state = StateActive
	e.publishLocked()
	e.updates = e.snapshots.StartUpdates(e.cfg.Session.SnapshotInterval, e.captureSnapshot)

	slog.Info("Practice session recovered",
		"session_id", snap.SessionID,
		"elapsed_seconds", snap.ElapsedSeconds,
		"charged_seconds", rec.ChargedSeconds,
		"segments", e.ledger.Len(),
	)
	s := *e.session
	s.ElapsedSeconds = snap.ElapsedSeconds
	s.RecordingSegments = e.ledger.Segments()
	return &s, nil
}

// DiscardRecovered drops a recoverable session without resuming it and
// deletes its recordings.
func (e *Engine) DiscardRecovered() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateIdle, StateEnded); err != nil {
		return err
	}
	snap, err := e.snapshots.Peek()
	if errors.Is(err, apperrors.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	orphans := recording.NewLedger(e.capture)
	if err := orphans.Attach(snap.RecordingSegments); err != nil {
		slog.Debug("Some recordings were already gone", "error", err)
	}
	orphans.DeleteAll()

	if err := e.snapshots.Clear(); err != nil {
		return err
	}
	slog.Info("Recoverable session discarded", "session_id", snap.SessionID)
	return nil
}
