package session

import (
	"context"
	"time"

	"github.com/audiolibrelab/practicelog/internal/recording"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateEnded      State = "ended"
)

// TimerNotificationID identifies the countdown timer notification.
const TimerNotificationID = "practice-timer"

const (
	MinRating = 1
	MaxRating = 5
)

// Session is one practice session.
type Session struct {
	ID                string              `json:"id" yaml:"id"`
	ProfileID         string              `json:"profile_id" yaml:"profile_id"`
	Title             string              `json:"title" yaml:"title"`
	StartedAt         time.Time           `json:"started_at" yaml:"started_at"`
	ElapsedSeconds    int                 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	Mood              int                 `json:"mood" yaml:"mood"`
	Focus             int                 `json:"focus" yaml:"focus"`
	Notes             string              `json:"notes" yaml:"notes"`
	RecordingSegments []recording.Segment `json:"recording_segments" yaml:"recording_segments"`
	// RecordingPath is the merged recording written at save time.
	RecordingPath string `json:"recording_path,omitempty" yaml:"recording_path,omitempty"`
}

// PersistentStore keeps finished sessions.
type PersistentStore interface {
	Save(ctx context.Context, s Session) error
}

// NotificationScheduler runs the countdown timer tool.
type NotificationScheduler interface {
	Schedule(after time.Duration, id string)
	Cancel(id string)
}

// Status is a point-in-time view of the engine for display.
type Status struct {
	State          State        `json:"state"`
	SessionID      string       `json:"session_id,omitempty"`
	ProfileID      string       `json:"profile_id,omitempty"`
	Title          string       `json:"title,omitempty"`
	StartedAt      time.Time    `json:"started_at,omitempty"`
	ElapsedSeconds int          `json:"elapsed_seconds"`
	Paused         bool         `json:"paused"`
	Mood           int          `json:"mood,omitempty"`
	Focus          int          `json:"focus,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	Stack          []tools.Tool `json:"stack"`
	Modal          tools.Tool   `json:"modal,omitempty"`
	Suspended      []tools.Tool `json:"suspended,omitempty"`
	Recording      bool         `json:"recording"`
	Segments       int          `json:"segments"`
	RecordedSecs   float64      `json:"recorded_seconds"`
	PlaybackActive bool         `json:"playback_active"`
	LastNotice     string       `json:"last_notice,omitempty"`
}
