package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/recording"
)

func newTestStore(t *testing.T) (*Store, *FileBackend, *clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	backend := NewFileBackend(filepath.Join(t.TempDir(), "state", "ongoing-session.yaml"))
	return NewStore(backend, fake), backend, fake
}

func baseSnapshot(fake clockwork.Clock) Snapshot {
	return Snapshot{
		SessionID:      "session-1",
		ProfileID:      "default",
		StartedAt:      fake.Now(),
		ElapsedSeconds: 0,
	}
}

func TestFileBackend_LoadMissing(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "none.yaml"))
	if _, err := backend.Load(); !errors.Is(err, apperrors.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
	if err := backend.Clear(); err != nil {
		t.Errorf("clearing a missing snapshot should succeed, got %v", err)
	}
}

func TestFileBackend_SaveLoad(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "nested", "snap.yaml"))
	snap := Snapshot{
		SessionID:      "abc",
		ElapsedSeconds: 42,
		Notes:          "slow scales",
		RecordingSegments: []recording.Segment{
			{Index: 0, Ref: "/tmp/a.flac", DurationSeconds: 5},
		},
	}
	if err := backend.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ElapsedSeconds != 42 || got.Notes != "slow scales" || len(got.RecordingSegments) != 1 {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if _, err := os.Stat(backend.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain")
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	os.WriteFile(path, []byte("session_id: [unterminated"), 0644)
	if _, err := NewFileBackend(path).Load(); err == nil || errors.Is(err, apperrors.ErrNoSnapshot) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestStore_CreateIfAbsent(t *testing.T) {
	store, _, fake := newTestStore(t)

	created, err := store.CreateIfAbsent(baseSnapshot(fake))
	if err != nil || !created {
		t.Fatalf("expected snapshot to be created, got %v %v", created, err)
	}
	other := baseSnapshot(fake)
	other.SessionID = "session-2"
	created, err = store.CreateIfAbsent(other)
	if err != nil || created {
		t.Fatalf("existing snapshot must not be replaced, got %v %v", created, err)
	}
	snap, _ := store.Peek()
	if snap.SessionID != "session-1" {
		t.Errorf("expected session-1 to remain, got %s", snap.SessionID)
	}
	if !store.HasRecoverableSession() {
		t.Error("expected a recoverable session")
	}
}

func TestStore_UpdateStampsLastSavedAt(t *testing.T) {
	store, _, fake := newTestStore(t)
	store.CreateIfAbsent(baseSnapshot(fake))

	fake.Advance(2 * time.Second)
	if err := store.Update(func(s *Snapshot) { s.ElapsedSeconds = 2; s.Notes = "arpeggios" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := store.Peek()
	if !snap.LastSavedAt.Equal(fake.Now()) {
		t.Errorf("expected LastSavedAt %v, got %v", fake.Now(), snap.LastSavedAt)
	}
	if snap.ElapsedSeconds != 2 || snap.Notes != "arpeggios" {
		t.Errorf("mutation not applied: %+v", snap)
	}
}

func TestStore_UpdateWithoutSnapshot(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.Update(func(*Snapshot) {}); !errors.Is(err, apperrors.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestStore_ReconcileChargesTimeWhileRunning(t *testing.T) {
	store, _, fake := newTestStore(t)
	snap := baseSnapshot(fake)
	snap.ElapsedSeconds = 100
	store.CreateIfAbsent(snap)

	fake.Advance(40 * time.Second)
	rec, err := store.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.ChargedSeconds != 40 || rec.Snapshot.ElapsedSeconds != 140 {
		t.Errorf("expected 40s charged to reach 140, got %+v", rec)
	}

	stored, _ := store.Peek()
	if stored.IsPaused || stored.ElapsedSeconds != 140 || !stored.LastSavedAt.Equal(fake.Now()) {
		t.Errorf("reconciled state not written back: %+v", stored)
	}
}

func TestStore_ReconcilePausedAddsNothing(t *testing.T) {
	store, _, fake := newTestStore(t)
	snap := baseSnapshot(fake)
	snap.ElapsedSeconds = 100
	snap.IsPaused = true
	store.CreateIfAbsent(snap)

	fake.Advance(time.Hour)
	rec, err := store.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.ChargedSeconds != 0 || rec.Snapshot.ElapsedSeconds != 100 || !rec.WasPaused {
		t.Errorf("paused snapshot must not be charged: %+v", rec)
	}
	stored, _ := store.Peek()
	if stored.IsPaused {
		t.Error("snapshot must be flipped to running after reconcile")
	}
}

func TestStore_ReconcileTwiceDoesNotDoubleCount(t *testing.T) {
	store, _, fake := newTestStore(t)
	store.CreateIfAbsent(baseSnapshot(fake))

	fake.Advance(10 * time.Second)
	store.Reconcile()
	rec, _ := store.Reconcile()

	if rec.Snapshot.ElapsedSeconds != 10 {
		t.Errorf("expected 10s after two reconciles, got %d", rec.Snapshot.ElapsedSeconds)
	}
}

func TestStore_ReconcileWithoutSnapshotIsNoop(t *testing.T) {
	store, _, _ := newTestStore(t)
	rec, err := store.Reconcile()
	if rec != nil || err != nil {
		t.Errorf("expected nil, nil; got %v, %v", rec, err)
	}
}

func TestStore_Clear(t *testing.T) {
	store, backend, fake := newTestStore(t)
	store.CreateIfAbsent(baseSnapshot(fake))

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.HasRecoverableSession() {
		t.Error("no session should be recoverable after clear")
	}
	if _, err := os.Stat(backend.Path()); !os.IsNotExist(err) {
		t.Error("snapshot file should be removed")
	}
}

func TestUpdates_FlushWritesCapturedState(t *testing.T) {
	store, _, fake := newTestStore(t)
	store.CreateIfAbsent(baseSnapshot(fake))

	u := store.StartUpdates(time.Hour, func() Snapshot {
		s := baseSnapshot(fake)
		s.ElapsedSeconds = 12
		s.IsPaused = true
		return s
	})
	defer u.Cancel()

	fake.Advance(3 * time.Second)
	u.Flush()

	snap, _ := store.Peek()
	if snap.ElapsedSeconds != 12 || !snap.IsPaused {
		t.Errorf("captured state not written: %+v", snap)
	}
	if !snap.LastSavedAt.Equal(fake.Now()) {
		t.Errorf("expected LastSavedAt to be stamped, got %v", snap.LastSavedAt)
	}
}

func TestUpdates_NoWriteAfterClear(t *testing.T) {
	store, _, fake := newTestStore(t)
	store.CreateIfAbsent(baseSnapshot(fake))
	u := store.StartUpdates(time.Hour, func() Snapshot { return baseSnapshot(fake) })

	store.Clear()
	u.Flush()
	u.Cancel()
	u.Cancel()

	if store.HasRecoverableSession() {
		t.Error("an update after clear must not resurrect the snapshot")
	}

	// A new session after clear gets its own writer.
	store.CreateIfAbsent(baseSnapshot(fake))
	u.Flush()
	snap, err := store.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snap.SessionID != "session-1" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
