package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/recording"
)

// Snapshot is the crash-recovery record of the live session.
type Snapshot struct {
	SessionID         string              `yaml:"session_id" json:"session_id"`
	ProfileID         string              `yaml:"profile_id" json:"profile_id"`
	Title             string              `yaml:"title,omitempty" json:"title,omitempty"`
	Mood              int                 `yaml:"mood,omitempty" json:"mood,omitempty"`
	Focus             int                 `yaml:"focus,omitempty" json:"focus,omitempty"`
	LastSavedAt       time.Time           `yaml:"last_saved_at" json:"last_saved_at"`
	IsPaused          bool                `yaml:"is_paused" json:"is_paused"`
	StartedAt         time.Time           `yaml:"started_at" json:"started_at"`
	ElapsedSeconds    int                 `yaml:"elapsed_seconds" json:"elapsed_seconds"`
	Notes             string              `yaml:"notes,omitempty" json:"notes,omitempty"`
	RecordingSegments []recording.Segment `yaml:"recording_segments,omitempty" json:"recording_segments,omitempty"`
}

// Recovered is the outcome of reconciling a snapshot at startup.
type Recovered struct {
	Snapshot Snapshot
	// ChargedSeconds is the time added for the period the process was gone.
	ChargedSeconds int
	WasPaused      bool
}

// Store serializes all access to the snapshot slot.
type Store struct {
	backend Backend
	clock   clockwork.Clock

	mutex sync.Mutex
	// generation changes on Clear so updates scheduled for a cleared
	// session are dropped.
	generation int
}

func NewStore(backend Backend, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{backend: backend, clock: clock}
}

// CreateIfAbsent writes snap unless a snapshot already exists. It reports
// whether a new snapshot was written.
func (s *Store) CreateIfAbsent(snap Snapshot) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.backend.Load(); err == nil {
		return false, nil
	} else if !errors.Is(err, apperrors.ErrNoSnapshot) {
		return false, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	snap.LastSavedAt = s.clock.Now()
	if err := s.backend.Save(snap); err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	slog.Debug("Snapshot created", "session_id", snap.SessionID)
	return true, nil
}

// Update applies mutate to the stored snapshot and writes it back with a
// fresh LastSavedAt.
func (s *Store) Update(mutate func(*Snapshot)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.updateLocked(mutate)
}

func (s *Store) updateGeneration(generation int, mutate func(*Snapshot)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if generation != s.generation {
		return nil
	}
	return s.updateLocked(mutate)
}

func (s *Store) updateLocked(mutate func(*Snapshot)) error {
	snap, err := s.backend.Load()
	if err != nil {
		return err
	}
	mutate(&snap)
	snap.LastSavedAt = s.clock.Now()
	if err := s.backend.Save(snap); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// Reconcile restores the snapshot left by an unclean exit. When the
// session was running, the time since the last save is charged to it.
// The snapshot is marked running again before anything else writes it.
// It returns nil when there is nothing to recover.
func (s *Store) Reconcile() (*Recovered, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snap, err := s.backend.Load()
	if errors.Is(err, apperrors.ErrNoSnapshot) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	now := s.clock.Now()
	rec := &Recovered{WasPaused: snap.IsPaused}
	if !snap.IsPaused {
		if gone := now.Sub(snap.LastSavedAt); gone > 0 {
			rec.ChargedSeconds = int(gone / time.Second)
		}
	}
	snap.ElapsedSeconds += rec.ChargedSeconds
	snap.IsPaused = false
	snap.LastSavedAt = now

	if err := s.backend.Save(snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	rec.Snapshot = snap

	slog.Info("Snapshot reconciled",
		"session_id", snap.SessionID,
		"elapsed_seconds", snap.ElapsedSeconds,
		"charged_seconds", rec.ChargedSeconds,
		"was_paused", rec.WasPaused,
	)
	return rec, nil
}

// Peek returns the stored snapshot without changing it.
func (s *Store) Peek() (Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.backend.Load()
}

// Clear removes the snapshot. This is the only way a snapshot disappears.
func (s *Store) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.generation++
	if err := s.backend.Clear(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	slog.Debug("Snapshot cleared")
	return nil
}

// HasRecoverableSession reports whether a snapshot from an unclean exit exists.
func (s *Store) HasRecoverableSession() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.backend.Load()
	return err == nil
}
