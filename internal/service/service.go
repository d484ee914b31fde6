package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/config"
	"github.com/audiolibrelab/practicelog/internal/notify"
	"github.com/audiolibrelab/practicelog/internal/session"
	"github.com/audiolibrelab/practicelog/internal/snapshot"
	"github.com/audiolibrelab/practicelog/internal/store"
)

// Channel availability reported by ChannelStatus.
const (
	ChannelAvailable   = "available"
	ChannelUnavailable = "unavailable"
	ChannelUnknown     = "unknown"
)

// PracticeService wires the PipeWire capture, ffplay playback, snapshot
// file, SQLite history and countdown notifier into one session engine.
type PracticeService struct {
	cfg        *config.Config
	configFile string
	clock      clockwork.Clock

	engine   *session.Engine
	history  *store.SQLiteSessionStore
	notifier *notify.Scheduler
	monitor  *audio.RouteMonitor
	pipewire *audio.PipeWire

	cancel context.CancelFunc
	done   chan struct{}

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates the service for a resolved profile. Background loops are
// not running until Start is called.
func New(cfg *config.Config, configFile string) (*PracticeService, error) {
	return newWithClock(cfg, configFile, clockwork.NewRealClock())
}

func newWithClock(cfg *config.Config, configFile string, clock clockwork.Clock) (*PracticeService, error) {
	for _, dir := range []string{cfg.StateDirectory, cfg.SegmentDirectory(), cfg.Output.Directory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	history, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}

	notifier := notify.NewScheduler(clock)
	engine := session.NewEngine(session.Options{
		Config:    cfg,
		Clock:     clock,
		Capture:   audio.NewPipeWireCapture(cfg, clock),
		Playback:  audio.NewFFPlayQueue(clock),
		Store:     history,
		Snapshots: snapshot.NewStore(snapshot.NewFileBackend(cfg.SnapshotPath()), clock),
		Notifier:  notifier,
	})
	notifier.SetHandler(engine.NotificationFired)

	slog.Debug("Practice service created",
		"profile", cfg.Profile,
		"state_directory", cfg.StateDirectory,
		"output_directory", cfg.Output.Directory,
		"channels", len(cfg.Channels))

	return &PracticeService{
		cfg:        cfg,
		configFile: configFile,
		clock:      clock,
		engine:     engine,
		history:    history,
		notifier:   notifier,
		monitor:    audio.NewRouteMonitor(clock, cfg.Audio.MonitorInterval, cfg.CaptureSources(), cfg.Audio.PlaybackSink),
		pipewire:   audio.NewPipeWire(),
	}, nil
}

// Start launches the engine event loop and the PipeWire route monitor.
func (s *PracticeService) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.engine.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("Engine event loop stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		s.monitor.Run(ctx, s.engine.Events())
	}()
	go func() {
		wg.Wait()
		close(s.done)
	}()
}

// Close stops background loops, leaves a live session recoverable and
// closes the history database.
func (s *PracticeService) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	s.engine.Close()
	return s.history.Close()
}

func (s *PracticeService) Engine() *session.Engine {
	return s.engine
}

func (s *PracticeService) GetConfig() *config.Config {
	return s.cfg
}

func (s *PracticeService) ConfigFile() string {
	return s.configFile
}

// History lists saved sessions, newest first.
func (s *PracticeService) History(ctx context.Context, limit int) ([]session.Session, error) {
	return s.history.List(ctx, limit)
}

// CountdownRemaining reports the time left on the countdown timer tool.
func (s *PracticeService) CountdownRemaining() (time.Duration, bool) {
	return s.notifier.Remaining(session.TimerNotificationID)
}

// GetChannelStatus returns the availability of every configured channel.
func (s *PracticeService) GetChannelStatus() map[string]string {
	status := make(map[string]string, len(s.cfg.Channels))
	present, err := s.pipewire.PortsPresent(s.cfg.CaptureSources())
	for _, ch := range s.cfg.Channels {
		if err != nil {
			status[ch.Name] = ChannelUnknown
			continue
		}
		status[ch.Name] = ChannelAvailable
		for _, src := range ch.Sources {
			if src != "disabled" && !present[src] {
				status[ch.Name] = ChannelUnavailable
			}
		}
	}
	return status
}

// GetLastError returns the last error message (thread-safe)
func (s *PracticeService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// SetLastError records an error for display in remote clients.
func (s *PracticeService) SetLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// ClearLastError clears the last error message (thread-safe)
func (s *PracticeService) ClearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
