package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestScheduler_FireAndCancel(t *testing.T) {
	fake := clockwork.NewFakeClock()
	s := NewScheduler(fake)

	var fired []string
	s.SetHandler(func(id string) { fired = append(fired, id) })

	s.Schedule(10*time.Minute, "practice-timer")
	if left, ok := s.Remaining("practice-timer"); !ok || left != 10*time.Minute {
		t.Errorf("expected 10m remaining, got %v %v", left, ok)
	}

	s.Cancel("practice-timer")
	s.Cancel("practice-timer")
	if _, ok := s.Remaining("practice-timer"); ok {
		t.Error("cancelled notification should not be pending")
	}

	// Fire the stale entry directly: it must be ignored.
	s.fire("practice-timer", &entry{})
	if len(fired) != 0 {
		t.Errorf("cancelled notification fired: %v", fired)
	}
}

func TestScheduler_FireDeliversOnce(t *testing.T) {
	fake := clockwork.NewFakeClock()
	s := NewScheduler(fake)

	fired := 0
	s.SetHandler(func(string) { fired++ })
	s.Schedule(time.Minute, "practice-timer")

	s.mutex.Lock()
	e := s.pending["practice-timer"]
	s.mutex.Unlock()

	s.fire("practice-timer", e)
	s.fire("practice-timer", e)
	if fired != 1 {
		t.Errorf("expected a single delivery, got %d", fired)
	}
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	fake := clockwork.NewFakeClock()
	s := NewScheduler(fake)

	s.Schedule(time.Minute, "practice-timer")
	fake.Advance(30 * time.Second)
	s.Schedule(5*time.Minute, "practice-timer")

	if left, _ := s.Remaining("practice-timer"); left != 5*time.Minute {
		t.Errorf("expected rescheduled deadline, got %v", left)
	}
}
