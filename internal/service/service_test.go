package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/config"
	"github.com/audiolibrelab/practicelog/internal/session"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

func testService(t *testing.T) (*PracticeService, *clockwork.FakeClock) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDirectory = filepath.Join(dir, "state")
	cfg.Output.Directory = filepath.Join(dir, "out")
	cfg.Session.TickInterval = time.Hour
	cfg.Session.SnapshotInterval = time.Hour

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, err := newWithClock(cfg, "", clock)
	if err != nil {
		t.Fatalf("newWithClock: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, clock
}

func TestSavedSessionAppearsInHistory(t *testing.T) {
	svc, clock := testService(t)
	engine := svc.Engine()

	if _, err := engine.Start("Long tones"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(90 * time.Second)
	if err := engine.SetMood(3); err != nil {
		t.Fatalf("SetMood: %v", err)
	}
	if _, err := engine.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	history, err := svc.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 saved session, got %d", len(history))
	}
	got := history[0]
	if got.Title != "Long tones" || got.ElapsedSeconds != 90 || got.Mood != 3 || got.ProfileID != "default" {
		t.Errorf("unexpected saved session %+v", got)
	}
	if engine.State() != session.StateEnded {
		t.Errorf("expected ended, got %s", engine.State())
	}
}

func TestCountdownFiresThroughEventLoop(t *testing.T) {
	svc, clock := testService(t)
	engine := svc.Engine()
	engine.Start("")

	updates, cancel := engine.Watch()
	defer cancel()
	svc.Start(context.Background())

	if _, err := engine.Toggle(tools.Timer); err != nil {
		t.Fatalf("Toggle timer: %v", err)
	}
	if remaining, ok := svc.CountdownRemaining(); !ok || remaining != svc.GetConfig().Session.Countdown {
		t.Fatalf("expected full countdown pending, got %v %v", remaining, ok)
	}

	clock.Advance(svc.GetConfig().Session.Countdown)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-updates:
			if st.LastNotice != "" && len(st.Stack) == 0 {
				return
			}
		case <-deadline:
			t.Fatal("countdown notification never reached the engine")
		}
	}
}

func TestLastError(t *testing.T) {
	svc, _ := testService(t)
	svc.SetLastError("boom")
	if svc.GetLastError() != "boom" {
		t.Errorf("expected boom, got %q", svc.GetLastError())
	}
	svc.ClearLastError()
	if svc.GetLastError() != "" {
		t.Error("expected cleared error")
	}
}
