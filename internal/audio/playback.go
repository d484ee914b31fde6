package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FFPlayQueue plays recorded segments back to back with ffplay and
// reports its position over the whole queue.
type FFPlayQueue struct {
	clock clockwork.Clock
	probe func(file string) (time.Duration, error)
	spawn func(file string, offset time.Duration) (*exec.Cmd, error)

	mutex      sync.Mutex
	files      []string
	durations  []time.Duration
	index      int
	offset     time.Duration
	playing    bool
	startedAt  time.Time
	cmd        *exec.Cmd
	generation int
}

// NewFFPlayQueue creates an empty playback queue.
func NewFFPlayQueue(clock clockwork.Clock) *FFPlayQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FFPlayQueue{clock: clock, probe: probeDuration, spawn: spawnFFPlay}
}

// Enqueue replaces the queue, stopping any playback in progress.
func (q *FFPlayQueue) Enqueue(fileRefs []string) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.stopLocked()
	q.files = append([]string(nil), fileRefs...)
	q.durations = make([]time.Duration, len(fileRefs))
	for i, f := range fileRefs {
		d, err := q.probe(f)
		if err != nil {
			slog.Warn("Failed to probe segment duration", "file", f, "error", err)
			continue
		}
		q.durations[i] = d
	}
	q.index = 0
	q.offset = 0
}

// Seek moves to an absolute position over the whole queue.
func (q *FFPlayQueue) Seek(to time.Duration) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	wasPlaying := q.playing
	q.stopLocked()
	q.index, q.offset = locate(q.durations, to)
	if wasPlaying && q.index < len(q.files) {
		if err := q.startLocked(); err != nil {
			slog.Warn("Failed to resume playback after seek", "error", err)
		}
	}
}

// Play starts or resumes playback from the current position.
func (q *FFPlayQueue) Play() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.files) == 0 {
		return fmt.Errorf("nothing to play")
	}
	if q.playing {
		return nil
	}
	if q.index >= len(q.files) {
		q.index, q.offset = 0, 0
	}
	return q.startLocked()
}

// Pause stops playback and keeps the position.
func (q *FFPlayQueue) Pause() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.stopLocked()
}

// CurrentPosition returns the position over the whole queue.
func (q *FFPlayQueue) CurrentPosition() time.Duration {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.positionLocked()
}

// IsPlaying reports whether a segment is currently playing.
func (q *FFPlayQueue) IsPlaying() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.playing
}

func (q *FFPlayQueue) positionLocked() time.Duration {
	var pos time.Duration
	for i := 0; i < q.index && i < len(q.durations); i++ {
		pos += q.durations[i]
	}
	pos += q.offset
	if q.playing {
		pos += q.clock.Since(q.startedAt)
	}
	return pos
}

func (q *FFPlayQueue) startLocked() error {
	cmd, err := q.spawn(q.files[q.index], q.offset)
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	q.generation++
	q.cmd = cmd
	q.playing = true
	q.startedAt = q.clock.Now()
	go q.waitSegment(cmd, q.generation)
	return nil
}

func (q *FFPlayQueue) stopLocked() {
	if !q.playing {
		return
	}
	q.offset += q.clock.Since(q.startedAt)
	q.playing = false
	q.generation++
	if q.cmd != nil && q.cmd.Process != nil {
		q.cmd.Process.Kill()
	}
	q.cmd = nil
}

// waitSegment advances the queue when a segment finishes on its own.
func (q *FFPlayQueue) waitSegment(cmd *exec.Cmd, generation int) {
	err := cmd.Wait()

	q.mutex.Lock()
	defer q.mutex.Unlock()
	if generation != q.generation {
		return
	}
	if err != nil {
		slog.Debug("Playback process exited with error", "error", err)
	}
	q.playing = false
	q.cmd = nil
	q.index++
	q.offset = 0
	if q.index < len(q.files) {
		if err := q.startLocked(); err != nil {
			slog.Warn("Failed to start next segment", "error", err)
		}
		return
	}
	slog.Debug("Playback completed")
	q.index = 0
}

// locate maps an absolute position to a segment index and an offset into it.
func locate(durations []time.Duration, to time.Duration) (int, time.Duration) {
	if to < 0 {
		to = 0
	}
	for i, d := range durations {
		if to < d {
			return i, to
		}
		to -= d
	}
	return len(durations), 0
}

func spawnFFPlay(file string, offset time.Duration) (*exec.Cmd, error) {
	args := []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}
	args = append(args, file)
	cmd := exec.Command("ffplay", args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func probeDuration(file string) (time.Duration, error) {
	output, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		file,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
