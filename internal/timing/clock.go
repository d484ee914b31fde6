package timing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the current state of the elapsed time clock
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
)

// DefaultTickInterval drives display refreshes at roughly 60Hz.
const DefaultTickInterval = time.Second / 60

// Tick is delivered to subscribers on every display tick while running.
type Tick struct {
	Seconds int
	Minutes int
	// MinuteBoundary is set on the first tick observed in a new minute.
	MinuteBoundary bool
}

// Listener receives ticks. It is called from the clock's tick goroutine
// and must not block.
type Listener func(Tick)

// Subscription is returned by Subscribe. Cancel is safe to call more than once.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel stops delivery of further ticks to the listener.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// ElapsedClock accumulates wall-clock time across pause/resume cycles.
// Elapsed time is always derived from the anchor; ticks only notify.
type ElapsedClock struct {
	clock        clockwork.Clock
	tickInterval time.Duration

	mutex     sync.Mutex
	state     State
	base      time.Duration
	resumedAt time.Time

	lastMinute int
	listeners  map[int]Listener
	nextID     int

	tickStop chan struct{}
	tickDone chan struct{}
}

// NewElapsedClock creates a stopped clock. A nil clock uses the real clock.
func NewElapsedClock(clock clockwork.Clock, tickInterval time.Duration) *ElapsedClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &ElapsedClock{
		clock:        clock,
		tickInterval: tickInterval,
		state:        StateStopped,
		listeners:    make(map[int]Listener),
	}
}

// Start anchors the clock at the given instant with baseSeconds already
// accumulated, and starts the tick loop.
func (c *ElapsedClock) Start(at time.Time, baseSeconds int) {
	c.mutex.Lock()
	c.base = time.Duration(baseSeconds) * time.Second
	c.resumedAt = at
	c.state = StateRunning
	c.lastMinute = baseSeconds / 60
	c.mutex.Unlock()

	c.startTicking()
	slog.Debug("Elapsed clock started", "base_seconds", baseSeconds)
}

// Pause captures the elapsed time into the base and clears the anchor.
func (c *ElapsedClock) Pause() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StateRunning {
		return c.secondsLocked()
	}
	c.base = c.elapsedLocked()
	c.resumedAt = time.Time{}
	c.state = StatePaused
	return c.secondsLocked()
}

// Resume sets a fresh anchor and leaves the base unchanged.
func (c *ElapsedClock) Resume() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StatePaused {
		return c.secondsLocked()
	}
	c.resumedAt = c.clock.Now()
	c.state = StateRunning
	return c.secondsLocked()
}

// Stop freezes the elapsed time and ends the tick loop.
func (c *ElapsedClock) Stop() int {
	c.mutex.Lock()
	if c.state == StateRunning {
		c.base = c.elapsedLocked()
	}
	c.resumedAt = time.Time{}
	c.state = StateStopped
	seconds := c.secondsLocked()
	c.mutex.Unlock()

	c.stopTicking()
	return seconds
}

// Elapsed returns the precise elapsed duration.
func (c *ElapsedClock) Elapsed() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.elapsedLocked()
}

// CurrentSeconds returns whole elapsed seconds.
func (c *ElapsedClock) CurrentSeconds() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.secondsLocked()
}

// CurrentMinutes returns whole elapsed minutes.
func (c *ElapsedClock) CurrentMinutes() int {
	return c.CurrentSeconds() / 60
}

// State returns the current clock state.
func (c *ElapsedClock) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Subscribe registers a tick listener.
func (c *ElapsedClock) Subscribe(listener Listener) *Subscription {
	c.mutex.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mutex.Unlock()

	return &Subscription{cancel: func() {
		c.mutex.Lock()
		delete(c.listeners, id)
		c.mutex.Unlock()
	}}
}

func (c *ElapsedClock) elapsedLocked() time.Duration {
	if c.state != StateRunning {
		return c.base
	}
	running := c.clock.Since(c.resumedAt)
	if running < 0 {
		running = 0
	}
	return c.base + running
}

func (c *ElapsedClock) secondsLocked() int {
	return int(c.elapsedLocked() / time.Second)
}

// tick notifies listeners of the current elapsed time. Minute boundary
// notifications fire at most once per crossing.
func (c *ElapsedClock) tick() {
	c.mutex.Lock()
	if c.state != StateRunning {
		c.mutex.Unlock()
		return
	}
	seconds := c.secondsLocked()
	minutes := seconds / 60
	boundary := minutes != c.lastMinute
	c.lastMinute = minutes

	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mutex.Unlock()

	t := Tick{Seconds: seconds, Minutes: minutes, MinuteBoundary: boundary}
	for _, l := range listeners {
		l(t)
	}
}

func (c *ElapsedClock) startTicking() {
	c.mutex.Lock()
	if c.tickStop != nil {
		c.mutex.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.tickStop = stop
	c.tickDone = done
	c.mutex.Unlock()

	go func() {
		defer close(done)
		ticker := c.clock.NewTicker(c.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				c.tick()
			}
		}
	}()
}

func (c *ElapsedClock) stopTicking() {
	c.mutex.Lock()
	stop, done := c.tickStop, c.tickDone
	c.tickStop, c.tickDone = nil, nil
	c.mutex.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
