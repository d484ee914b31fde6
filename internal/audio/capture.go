package audio

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/config"
)

const rmsLevelKey = "lavfi.astats.Overall.RMS_level="

// PipeWireCapture records the configured channels into one file per
// capture with ffmpeg running under pw-jack.
type PipeWireCapture struct {
	cfg      *config.Config
	clock    clockwork.Clock
	pipewire *PipeWire

	mutex      sync.Mutex
	ffmpegCmd  *exec.Cmd
	outputFile string
	startedAt  time.Time
	loudness   float64
	stderrBuf  strings.Builder
}

// NewPipeWireCapture creates a capture device for the configured channels.
func NewPipeWireCapture(cfg *config.Config, clock clockwork.Clock) *PipeWireCapture {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PipeWireCapture{cfg: cfg, clock: clock, pipewire: NewPipeWire()}
}

// RequestPermission checks that every configured source is present exactly once.
func (c *PipeWireCapture) RequestPermission() bool {
	sources := c.cfg.CaptureSources()
	if len(sources) == 0 {
		slog.Warn("No capture sources configured")
		return false
	}
	for _, source := range sources {
		if err := c.pipewire.ValidatePort(source); err != nil {
			slog.Warn("Capture source unavailable", "source", source, "error", err)
			return false
		}
	}
	return true
}

// BeginCapture starts ffmpeg writing to a fresh segment file.
func (c *PipeWireCapture) BeginCapture() (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ffmpegCmd != nil {
		return "", fmt.Errorf("%w: capture already running", apperrors.ErrResourceUnavailable)
	}
	if len(c.cfg.CaptureSources()) == 0 {
		return "", fmt.Errorf("%w: no capture sources configured", apperrors.ErrResourceUnavailable)
	}

	dir := c.cfg.SegmentDirectory()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create segment directory: %w", err)
	}
	outputFile := filepath.Join(dir, fmt.Sprintf("segment-%s.%s", uuid.NewString(), c.cfg.Output.Format))

	args := buildCaptureArgs(c.cfg, outputFile)
	slog.Debug("Starting capture", "command", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "PIPEWIRE_QUANTUM=256/48000", "PIPEWIRE_LATENCY=256/48000")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: failed to start ffmpeg: %v", apperrors.ErrResourceUnavailable, err)
	}

	c.ffmpegCmd = cmd
	c.outputFile = outputFile
	c.startedAt = c.clock.Now()
	c.loudness = 0
	c.stderrBuf.Reset()

	go c.readLevels(stderr)
	go c.connectChannels()

	slog.Info("Capture started", "file", outputFile)
	return outputFile, nil
}

// EndCapture stops ffmpeg and returns the captured duration.
func (c *PipeWireCapture) EndCapture() (time.Duration, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ffmpegCmd == nil {
		return 0, fmt.Errorf("no capture in progress")
	}
	duration := c.clock.Since(c.startedAt)

	err := stopProcess(c.ffmpegCmd)
	c.ffmpegCmd = nil
	c.loudness = 0
	if err != nil {
		slog.Debug("ffmpeg stderr", "output", c.stderrBuf.String())
		return duration, fmt.Errorf("failed to stop capture: %w", err)
	}
	if _, err := os.Stat(c.outputFile); err != nil {
		return duration, fmt.Errorf("capture file not found: %s", c.outputFile)
	}

	slog.Info("Capture stopped", "file", c.outputFile, "duration", duration)
	return duration, nil
}

// CurrentLoudness returns the most recent RMS level mapped to 0..100.
func (c *PipeWireCapture) CurrentLoudness() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.loudness
}

func (c *PipeWireCapture) readLevels(pipe io.ReadCloser) {
	defer pipe.Close()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		level, ok := parseLoudness(line)
		c.mutex.Lock()
		if ok {
			c.loudness = level
		} else {
			c.stderrBuf.WriteString(line + "\n")
		}
		c.mutex.Unlock()
	}
}

func (c *PipeWireCapture) connectChannels() {
	// ffmpeg registers its JACK clients shortly after start.
	time.Sleep(time.Second)
	for _, channel := range c.cfg.Channels {
		for i, source := range channel.Sources {
			if source == "" || source == "disabled" || i >= 2 {
				continue
			}
			dest := fmt.Sprintf("%s:input_%d", jackClientName(channel), i+1)
			if err := c.pipewire.ConnectPortsWithRetry(source, dest); err != nil {
				slog.Error("Failed to connect capture source", "channel", channel.Name, "source", source, "dest", dest, "error", err)
			}
		}
	}
}

func jackClientName(channel config.Channel) string {
	return "practicelog_" + channel.Name
}

func buildCaptureArgs(cfg *config.Config, outputFile string) []string {
	args := []string{"pw-jack", "ffmpeg", "-hide_banner"}

	var inputs []string
	for i, channel := range cfg.Channels {
		count := len(channel.Sources)
		if count == 0 {
			count = 1
		}
		if count > 2 {
			count = 2
		}
		args = append(args, "-f", "jack", "-channels", strconv.Itoa(count), "-i", jackClientName(channel))
		inputs = append(inputs, fmt.Sprintf("[%d:a]", i))
	}

	meter := "astats=metadata=1:reset=5,ametadata=mode=print:key=lavfi.astats.Overall.RMS_level"
	if len(inputs) > 1 {
		filter := fmt.Sprintf("%samix=inputs=%d:normalize=0,%s", strings.Join(inputs, ""), len(inputs), meter)
		args = append(args, "-filter_complex", filter)
	} else {
		args = append(args, "-af", meter)
	}

	args = append(args,
		"-ar", strconv.Itoa(cfg.Audio.SampleRate),
		"-c:a", cfg.Output.Codec(),
		"-y",
		outputFile,
	)
	return args
}

// parseLoudness extracts an RMS level line printed by ametadata and maps
// -60dB..0dB onto 0..100.
func parseLoudness(line string) (float64, bool) {
	idx := strings.Index(line, rmsLevelKey)
	if idx < 0 {
		return 0, false
	}
	raw := strings.TrimSpace(line[idx+len(rmsLevelKey):])
	if raw == "-inf" {
		return 0, true
	}
	db, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case db <= -60:
		return 0, true
	case db >= 0:
		return 100, true
	}
	return (db + 60) / 60 * 100, true
}

// stopProcess interrupts a child process and waits for it, killing it
// after a timeout.
func stopProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt process, killing", "error", err)
		cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// 255 is ffmpeg's exit code after a graceful interrupt.
			if exitErr.ExitCode() == 255 {
				return nil
			}
			if state := exitErr.ProcessState; state != nil {
				if s := state.String(); s == "signal: interrupt" || s == "signal: killed" {
					return nil
				}
			}
		}
		return fmt.Errorf("process failed: %w", err)
	case <-time.After(5 * time.Second):
		slog.Warn("Process did not exit within timeout, force killing")
		cmd.Process.Kill()
		<-done
		return nil
	}
}
