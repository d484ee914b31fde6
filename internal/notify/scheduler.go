package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler delivers one-shot notifications by id after a delay.
// Scheduling an id that is already pending replaces it.
type Scheduler struct {
	clock clockwork.Clock

	mutex   sync.Mutex
	handler func(id string)
	pending map[string]*entry
}

type entry struct {
	timer clockwork.Timer
	due   time.Time
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, pending: make(map[string]*entry)}
}

// SetHandler sets the function called when a notification fires. It is
// called from the timer goroutine.
func (s *Scheduler) SetHandler(handler func(id string)) {
	s.mutex.Lock()
	s.handler = handler
	s.mutex.Unlock()
}

func (s *Scheduler) Schedule(after time.Duration, id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if old, ok := s.pending[id]; ok {
		old.timer.Stop()
	}
	e := &entry{due: s.clock.Now().Add(after)}
	e.timer = s.clock.AfterFunc(after, func() { s.fire(id, e) })
	s.pending[id] = e
	slog.Debug("Notification scheduled", "id", id, "after", after)
}

func (s *Scheduler) Cancel(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
		delete(s.pending, id)
		slog.Debug("Notification cancelled", "id", id)
	}
}

// Remaining returns the time left before id fires.
func (s *Scheduler) Remaining(id string) (time.Duration, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return 0, false
	}
	left := e.due.Sub(s.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, true
}

func (s *Scheduler) fire(id string, e *entry) {
	s.mutex.Lock()
	if s.pending[id] != e {
		s.mutex.Unlock()
		return
	}
	delete(s.pending, id)
	handler := s.handler
	s.mutex.Unlock()

	slog.Info("Notification fired", "id", id)
	if handler != nil {
		handler(id)
	}
}
