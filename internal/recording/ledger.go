package recording

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/audio"
)

// Segment is one contiguous capture between a recorder start and stop.
type Segment struct {
	Index           int     `yaml:"index" json:"index"`
	Ref             string  `yaml:"ref" json:"ref,omitempty"`
	DurationSeconds float64 `yaml:"duration_seconds" json:"duration_seconds"`
}

// Handle identifies the segment currently being captured.
type Handle struct {
	id  int
	Ref string
}

// Ledger keeps the ordered segments of one session. Segments are only
// appended or cleared as a whole. A Ledger is not safe for concurrent
// use; callers serialize access.
type Ledger struct {
	device   audio.CaptureDevice
	segments []Segment
	open     *Handle
	nextID   int
}

// NewLedger creates an empty ledger capturing through device.
func NewLedger(device audio.CaptureDevice) *Ledger {
	return &Ledger{device: device}
}

// BeginSegment starts capturing a new segment.
func (l *Ledger) BeginSegment() (Handle, error) {
	if l.open != nil {
		return Handle{}, fmt.Errorf("%w: segment already open", apperrors.ErrInvalidState)
	}
	if !l.device.RequestPermission() {
		return Handle{}, fmt.Errorf("%w: microphone permission denied", apperrors.ErrResourceUnavailable)
	}
	ref, err := l.device.BeginCapture()
	if err != nil {
		if errors.Is(err, apperrors.ErrResourceUnavailable) {
			return Handle{}, err
		}
		return Handle{}, fmt.Errorf("%w: %v", apperrors.ErrResourceUnavailable, err)
	}
	l.nextID++
	l.open = &Handle{id: l.nextID, Ref: ref}
	slog.Debug("Segment started", "segment", len(l.segments), "ref", ref)
	return *l.open, nil
}

// EndSegment stops the capture for h and appends the resulting segment.
// A capture that fails to stop cleanly is still committed when its file
// holds audio; otherwise the file is removed.
func (l *Ledger) EndSegment(h Handle) (Segment, error) {
	if l.open == nil || l.open.id != h.id {
		return Segment{}, fmt.Errorf("%w: segment is not open", apperrors.ErrInvalidState)
	}
	ref := l.open.Ref
	l.open = nil

	duration, err := l.device.EndCapture()
	if err != nil {
		if !hasAudio(ref) {
			removeSegmentFile(ref)
			return Segment{}, fmt.Errorf("failed to end segment: %w", err)
		}
		slog.Warn("Capture ended with an error, keeping recorded audio", "ref", ref, "error", err)
	}
	seg := Segment{Index: len(l.segments), Ref: ref, DurationSeconds: duration.Seconds()}
	l.segments = append(l.segments, seg)
	slog.Info("Segment committed", "segment", seg.Index, "duration_seconds", seg.DurationSeconds)
	return seg, nil
}

// Open returns the handle of the segment being captured, if any.
func (l *Ledger) Open() (Handle, bool) {
	if l.open == nil {
		return Handle{}, false
	}
	return *l.open, true
}

// Segments returns a copy of the committed segments in order.
func (l *Ledger) Segments() []Segment {
	return append([]Segment(nil), l.segments...)
}

// Refs returns the committed segment references in order.
func (l *Ledger) Refs() []string {
	refs := make([]string, len(l.segments))
	for i, s := range l.segments {
		refs[i] = s.Ref
	}
	return refs
}

func (l *Ledger) Len() int { return len(l.segments) }

// TotalDuration returns the summed duration of all segments in seconds.
func (l *Ledger) TotalDuration() float64 {
	var total float64
	for _, s := range l.segments {
		total += s.DurationSeconds
	}
	return total
}

// Locate finds the segment playing at an absolute time over the
// concatenated segments and the offset into it.
func (l *Ledger) Locate(absolute float64) (int, float64) {
	if absolute < 0 {
		absolute = 0
	}
	var start float64
	for i, s := range l.segments {
		if absolute < start+s.DurationSeconds {
			return i, absolute - start
		}
		start += s.DurationSeconds
	}
	if n := len(l.segments); n > 0 {
		return n - 1, l.segments[n-1].DurationSeconds
	}
	return 0, 0
}

func (l *Ledger) startOf(index int) float64 {
	var start float64
	for i := 0; i < index && i < len(l.segments); i++ {
		start += l.segments[i].DurationSeconds
	}
	return start
}

// SeekFraction maps an absolute time over the concatenated segments to a
// 0..1 playback position.
func (l *Ledger) SeekFraction(absolute float64) float64 {
	total := l.TotalDuration()
	if total <= 0 {
		return 0
	}
	i, offset := l.Locate(absolute)
	return (l.startOf(i) + offset) / total
}

// AbsoluteTime maps a 0..1 playback position back to an absolute time.
func (l *Ledger) AbsoluteTime(fraction float64) float64 {
	total := l.TotalDuration()
	if total <= 0 {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	i, offset := l.Locate(fraction * total)
	return l.startOf(i) + offset
}

// Attach restores segments committed before a restart. Segments whose
// backing file is gone are dropped and the rest are reindexed; the
// returned error wraps ErrRecoveryInconsistency when anything was dropped.
func (l *Ledger) Attach(segments []Segment) error {
	var missing []string
	for _, s := range segments {
		if _, err := os.Stat(s.Ref); err != nil {
			slog.Warn("Dropping missing segment during recovery", "segment", s.Index, "ref", s.Ref, "error", err)
			missing = append(missing, s.Ref)
			continue
		}
		s.Index = len(l.segments)
		l.segments = append(l.segments, s)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d segment(s) missing: %v", apperrors.ErrRecoveryInconsistency, len(missing), missing)
	}
	return nil
}

// DeleteAll ends any open capture and removes every segment file.
// Deletion failures are logged only.
func (l *Ledger) DeleteAll() {
	if l.open != nil {
		ref := l.open.Ref
		l.open = nil
		if _, err := l.device.EndCapture(); err != nil {
			slog.Warn("Failed to end capture before delete", "ref", ref, "error", err)
		}
		removeSegmentFile(ref)
	}
	for _, s := range l.segments {
		removeSegmentFile(s.Ref)
	}
	l.segments = nil
}

// Finalize merges all segments into outputPath. Segment files are kept
// until DeleteAll so a failed save can be retried. It returns "" when
// there is nothing to merge.
func (l *Ledger) Finalize(merger Merger, outputPath string) (string, error) {
	if l.open != nil {
		return "", fmt.Errorf("%w: segment still open", apperrors.ErrInvalidState)
	}
	if len(l.segments) == 0 {
		return "", nil
	}
	if err := merger.Merge(l.Refs(), outputPath); err != nil {
		return "", fmt.Errorf("failed to merge segments: %w", err)
	}
	return outputPath, nil
}

func hasAudio(ref string) bool {
	info, err := os.Stat(ref)
	return err == nil && info.Size() > 0
}

func removeSegmentFile(ref string) {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to delete segment file", "ref", ref, "error", err)
	}
}
