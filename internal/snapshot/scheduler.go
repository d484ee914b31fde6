package snapshot

import (
	"log/slog"
	"sync"
	"time"
)

// Updates is a running periodic snapshot writer.
type Updates struct {
	store      *Store
	capture    func() Snapshot
	generation int

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// StartUpdates writes the state returned by capture every interval until
// Cancel is called or the snapshot is cleared. capture is called without
// the store lock held.
func (s *Store) StartUpdates(interval time.Duration, capture func() Snapshot) *Updates {
	s.mutex.Lock()
	generation := s.generation
	s.mutex.Unlock()

	u := &Updates{
		store:      s,
		capture:    capture,
		generation: generation,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go func() {
		defer close(u.done)
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-u.stop:
				return
			case <-ticker.Chan():
				u.Flush()
			}
		}
	}()
	return u
}

// Flush writes the current state immediately.
func (u *Updates) Flush() {
	state := u.capture()
	err := u.store.updateGeneration(u.generation, func(snap *Snapshot) { *snap = state })
	if err != nil {
		slog.Warn("Periodic snapshot update failed", "error", err)
	}
}

// Cancel stops the writer and waits for an in-flight write to finish.
// Only the first call has an effect.
func (u *Updates) Cancel() {
	u.once.Do(func() {
		close(u.stop)
		<-u.done
	})
}
