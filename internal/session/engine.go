package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/config"
	"github.com/audiolibrelab/practicelog/internal/interruption"
	"github.com/audiolibrelab/practicelog/internal/recording"
	"github.com/audiolibrelab/practicelog/internal/snapshot"
	"github.com/audiolibrelab/practicelog/internal/timing"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// Options are the collaborators of an Engine.
type Options struct {
	Config    *config.Config
	Clock     clockwork.Clock
	Capture   audio.CaptureDevice
	Playback  audio.PlaybackDevice
	Store     PersistentStore
	Snapshots *snapshot.Store
	Notifier  NotificationScheduler
	Merger    recording.Merger
}

// Engine drives one practice session at a time. All mutation is
// serialized by a single mutex; hardware events and notifications arrive
// on channels consumed by Run.
type Engine struct {
	cfg       *config.Config
	clock     clockwork.Clock
	capture   audio.CaptureDevice
	playback  audio.PlaybackDevice
	store     PersistentStore
	snapshots *snapshot.Store
	notifier  NotificationScheduler
	merger    recording.Merger

	mutex       sync.Mutex
	state       State
	session     *Session
	elapsed     *timing.ElapsedClock
	tools       *tools.Controller
	ledger      *recording.Ledger
	coordinator *interruption.Coordinator
	suspended   map[tools.Tool]bool
	updates     *snapshot.Updates
	artifact    string
	enqueued    int
	lastNotice  string

	events chan audio.Event
	fired  chan string

	status   atomic.Pointer[Status]
	template atomic.Pointer[snapshot.Snapshot]
	watchers map[int]chan Status
	nextWatch int
}

// NewEngine creates an idle engine.
func NewEngine(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	merger := opts.Merger
	if merger == nil {
		merger = recording.FFmpegMerger{SampleRate: opts.Config.Audio.SampleRate, Codec: opts.Config.Output.Codec()}
	}

	e := &Engine{
		cfg:       opts.Config,
		clock:     clock,
		capture:   opts.Capture,
		playback:  opts.Playback,
		store:     opts.Store,
		snapshots: opts.Snapshots,
		notifier:  opts.Notifier,
		merger:    merger,
		state:     StateIdle,
		elapsed:   timing.NewElapsedClock(clock, opts.Config.Session.TickInterval),
		tools:     tools.NewController(),
		ledger:    recording.NewLedger(opts.Capture),
		suspended: make(map[tools.Tool]bool),
		events:    make(chan audio.Event, 16),
		fired:     make(chan string, 4),
		watchers:  make(map[int]chan Status),
	}
	e.coordinator = interruption.New(engineTarget{e})
	e.publishLocked()
	return e
}

// Start begins a new session. It fails while a session is live or while
// an unrecovered snapshot exists.
func (e *Engine) Start(title string) (Session, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.state == StateActive || e.state == StateFinalizing {
		return Session{}, fmt.Errorf("%w: session already %s", apperrors.ErrInvalidState, e.state)
	}
	if e.snapshots.HasRecoverableSession() {
		return Session{}, fmt.Errorf("%w: a previous session can be recovered; resume or discard it first", apperrors.ErrInvalidState)
	}

	now := e.clock.Now()
	e.session = &Session{
		ID:        uuid.NewString(),
		ProfileID: e.cfg.Profile,
		Title:     title,
		StartedAt: now,
	}
	e.resetLocked()
	e.elapsed.Start(now, 0)
	e.state = StateActive
	e.publishLocked()

	if _, err := e.snapshots.CreateIfAbsent(*e.template.Load()); err != nil {
		slog.Warn("Failed to create session snapshot", "session_id", e.session.ID, "error", err)
	}
	e.updates = e.snapshots.StartUpdates(e.cfg.Session.SnapshotInterval, e.captureSnapshot)

	slog.Info("Practice session started", "session_id", e.session.ID, "profile", e.session.ProfileID)
	return *e.session, nil
}

// Pause stops charging time to the session. Tools keep running.
func (e *Engine) Pause() (int, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateActive); err != nil {
		return 0, err
	}
	seconds := e.elapsed.Pause()
	e.publishLocked()
	slog.Debug("Session paused", "elapsed_seconds", seconds)
	return seconds, nil
}

func (e *Engine) Resume() (int, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateActive); err != nil {
		return 0, err
	}
	seconds := e.elapsed.Resume()
	e.publishLocked()
	slog.Debug("Session resumed", "elapsed_seconds", seconds)
	return seconds, nil
}

// Toggle flips a tool. Starting the recorder begins a new segment and
// stopping it commits the segment before the recorder goes inactive.
func (e *Engine) Toggle(tool tools.Tool) (tools.Transition, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.state == StateEnded {
		return tools.Transition{}, fmt.Errorf("%w: session has ended", apperrors.ErrInvalidState)
	}
	if err := e.requireLocked(StateActive); err != nil {
		return tools.Transition{}, err
	}

	tr, err := e.tools.Plan(tool)
	if err != nil {
		return tools.Transition{}, err
	}

	if tool == tools.Recorder && tr.NowActive {
		if e.playback != nil && e.playback.IsPlaying() {
			return tools.Transition{}, fmt.Errorf("%w: playback in progress", apperrors.ErrResourceUnavailable)
		}
		if _, err := e.ledger.BeginSegment(); err != nil {
			return tools.Transition{}, err
		}
	}

	var endErr error
	if stopsRecorder(tr) {
		endErr = e.endSegmentLocked()
	}

	e.tools.Apply(tr)
	for _, t := range tr.Deactivated {
		e.toolStoppedLocked(t)
	}
	if !tr.NowActive {
		e.toolStoppedLocked(tool)
	} else if tool == tools.Timer && e.notifier != nil {
		e.notifier.Schedule(e.cfg.Session.Countdown, TimerNotificationID)
	}

	e.publishLocked()
	slog.Info("Tool toggled", "tool", tool, "active", tr.NowActive, "slot", tr.DisplaySlot, "deactivated", tr.Deactivated)
	if endErr != nil {
		return tr, endErr
	}
	return tr, nil
}

func stopsRecorder(tr tools.Transition) bool {
	if tr.Tool == tools.Recorder && !tr.NowActive {
		return true
	}
	for _, t := range tr.Deactivated {
		if t == tools.Recorder {
			return true
		}
	}
	return false
}

func (e *Engine) toolStoppedLocked(t tools.Tool) {
	delete(e.suspended, t)
	if t == tools.Timer && e.notifier != nil {
		e.notifier.Cancel(TimerNotificationID)
	}
}

func (e *Engine) endSegmentLocked() error {
	h, open := e.ledger.Open()
	if !open {
		return nil
	}
	if _, err := e.ledger.EndSegment(h); err != nil {
		slog.Error("Failed to commit recording segment", "error", err)
		return err
	}
	return nil
}

func (e *Engine) SetNotes(notes string) error {
	return e.edit(func(s *Session) error { s.Notes = notes; return nil })
}

func (e *Engine) SetTitle(title string) error {
	return e.edit(func(s *Session) error { s.Title = title; return nil })
}

func (e *Engine) SetMood(mood int) error {
	return e.edit(func(s *Session) error {
		if err := validateRating("mood", mood); err != nil {
			return err
		}
		s.Mood = mood
		return nil
	})
}

func (e *Engine) SetFocus(focus int) error {
	return e.edit(func(s *Session) error {
		if err := validateRating("focus", focus); err != nil {
			return err
		}
		s.Focus = focus
		return nil
	})
}

func validateRating(name string, v int) error {
	if v < MinRating || v > MaxRating {
		return fmt.Errorf("%w: %s must be between %d and %d", apperrors.ErrInvalidInput, name, MinRating, MaxRating)
	}
	return nil
}

// edit applies a change to the live session. Edits are allowed until the
// session is saved.
func (e *Engine) edit(change func(*Session) error) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateActive, StateFinalizing); err != nil {
		return err
	}
	if err := change(e.session); err != nil {
		return err
	}
	e.publishLocked()
	return nil
}

// Save finalizes the session: segments are merged, the session is handed
// to the persistent store and the snapshot is cleared. On a persistence
// failure the engine stays in finalizing and Save may be retried.
func (e *Engine) Save(ctx context.Context) (Session, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateActive, StateFinalizing); err != nil {
		return Session{}, err
	}
	if e.state == StateActive {
		e.enterFinalizingLocked()
	}

	s := e.session
	if s.Title == "" {
		s.Title = e.defaultTitle()
	}
	if s.ProfileID == "" {
		return Session{}, fmt.Errorf("%w: session has no profile", apperrors.ErrInvalidState)
	}

	if e.artifact == "" && e.ledger.Len() > 0 {
		path := recording.ArtifactPath(e.cfg.Output.Directory, s.Title, s.StartedAt, e.cfg.Output.Format)
		artifact, err := e.ledger.Finalize(e.merger, path)
		if err != nil {
			e.publishLocked()
			return Session{}, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
		}
		e.artifact = artifact
	}
	s.ElapsedSeconds = e.elapsed.CurrentSeconds()
	s.RecordingSegments = committedTakes(e.ledger.Segments())
	s.RecordingPath = e.artifact

	if err := e.store.Save(ctx, *s); err != nil {
		e.publishLocked()
		slog.Error("Failed to save session", "session_id", s.ID, "error", err)
		if errors.Is(err, apperrors.ErrPersistence) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	if err := e.snapshots.Clear(); err != nil {
		slog.Warn("Failed to clear snapshot after save", "session_id", s.ID, "error", err)
	}
	e.ledger.DeleteAll()
	e.endLocked()

	slog.Info("Practice session saved", "session_id", s.ID, "elapsed_seconds", s.ElapsedSeconds, "segments", len(s.RecordingSegments), "recording", s.RecordingPath)
	return *s, nil
}

// committedTakes strips segment files from a saved session. They are
// deleted once the session is persisted; only RecordingPath outlives it.
func committedTakes(segments []recording.Segment) []recording.Segment {
	for i := range segments {
		segments[i].Ref = ""
	}
	return segments
}

// enterFinalizingLocked stops everything that could still change the
// session and writes a last snapshot marked paused so a crash during the
// save is not charged extra time.
func (e *Engine) enterFinalizingLocked() {
	e.cancelUpdatesLocked()
	if err := e.endSegmentLocked(); err != nil {
		slog.Warn("Recorder segment lost at finalize", "error", err)
	}
	if e.notifier != nil {
		e.notifier.Cancel(TimerNotificationID)
	}
	if e.playback != nil && e.playback.IsPlaying() {
		e.playback.Pause()
	}
	e.elapsed.Pause()
	e.tools.End()
	e.coordinator.Reset()
	e.state = StateFinalizing
	e.publishLocked()

	final := e.currentSnapshot()
	if err := e.snapshots.Update(func(s *snapshot.Snapshot) { *s = final }); err != nil {
		slog.Warn("Failed to write final snapshot", "error", err)
	}
}

// NeedsConfirmation reports whether discarding would throw away
// meaningful progress.
func (e *Engine) NeedsConfirmation() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.needsConfirmationLocked()
}

func (e *Engine) needsConfirmationLocked() bool {
	if e.ledger.Len() > 0 {
		return true
	}
	if _, open := e.ledger.Open(); open {
		return true
	}
	return e.elapsed.Elapsed() >= e.cfg.Session.DiscardThreshold
}

// Discard ends the session without saving. With meaningful progress it
// requires confirmed to be true.
func (e *Engine) Discard(confirmed bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.requireLocked(StateActive, StateFinalizing); err != nil {
		return err
	}
	if !confirmed && e.needsConfirmationLocked() {
		return apperrors.ErrConfirmationRequired
	}

	e.cancelUpdatesLocked()
	if e.notifier != nil {
		e.notifier.Cancel(TimerNotificationID)
	}
	if e.playback != nil && e.playback.IsPlaying() {
		e.playback.Pause()
	}
	e.ledger.DeleteAll()
	if e.artifact != "" {
		if err := os.Remove(e.artifact); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to delete merged recording", "file", e.artifact, "error", err)
		}
	}
	if err := e.snapshots.Clear(); err != nil {
		slog.Warn("Failed to clear snapshot on discard", "error", err)
	}
	e.endLocked()

	slog.Info("Practice session discarded", "session_id", e.session.ID)
	return nil
}

// Checkpoint writes the snapshot immediately.
func (e *Engine) Checkpoint() {
	e.mutex.Lock()
	updates := e.updates
	e.mutex.Unlock()
	if updates != nil {
		updates.Flush()
	}
}

// Close stops background work and leaves any live session recoverable.
func (e *Engine) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.updates != nil {
		e.updates.Flush()
	}
	e.cancelUpdatesLocked()
	if err := e.endSegmentLocked(); err != nil {
		slog.Warn("Recorder segment lost at shutdown", "error", err)
	}
	if e.state == StateActive {
		e.tools.Deactivate(tools.Recorder)
		// Refresh the template so the segment committed above is in the
		// last snapshot.
		e.publishLocked()
		final := e.currentSnapshot()
		if err := e.snapshots.Update(func(s *snapshot.Snapshot) { *s = final }); err != nil {
			slog.Warn("Failed to write snapshot at shutdown", "error", err)
		}
	}
	e.elapsed.Stop()
	for id, ch := range e.watchers {
		close(ch)
		delete(e.watchers, id)
	}
}

func (e *Engine) endLocked() {
	e.elapsed.Stop()
	e.tools.End()
	e.coordinator.Reset()
	e.suspended = make(map[tools.Tool]bool)
	e.state = StateEnded
	e.publishLocked()
}

func (e *Engine) resetLocked() {
	e.tools.Reset()
	e.ledger = recording.NewLedger(e.capture)
	e.coordinator.Reset()
	e.suspended = make(map[tools.Tool]bool)
	e.artifact = ""
	e.enqueued = 0
	e.lastNotice = ""
}

// cancelUpdatesLocked stops periodic snapshot writes exactly once per
// session. The writer never takes the engine lock, so waiting here is safe.
func (e *Engine) cancelUpdatesLocked() {
	if e.updates != nil {
		e.updates.Cancel()
		e.updates = nil
	}
}

func (e *Engine) requireLocked(allowed ...State) error {
	for _, s := range allowed {
		if e.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: engine is %s", apperrors.ErrInvalidState, e.state)
}

func (e *Engine) defaultTitle() string {
	if e.cfg.Session.DefaultTitle != "" {
		return e.cfg.Session.DefaultTitle
	}
	return e.cfg.ProfileName
}

// Loudness returns the recorder input level while recording.
func (e *Engine) Loudness() float64 {
	if st := e.status.Load(); st == nil || !st.Recording {
		return 0
	}
	return e.capture.CurrentLoudness()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return e.status.Load().State
}

// Elapsed returns the live elapsed time of the session.
func (e *Engine) Elapsed() time.Duration {
	return e.elapsed.Elapsed()
}

// SubscribeTicks registers a listener for elapsed-time ticks.
func (e *Engine) SubscribeTicks(listener timing.Listener) *timing.Subscription {
	return e.elapsed.Subscribe(listener)
}
