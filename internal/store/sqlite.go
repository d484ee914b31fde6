package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/recording"
	"github.com/audiolibrelab/practicelog/internal/session"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// SQLiteSessionStore keeps finished practice sessions in a SQLite database.
type SQLiteSessionStore struct {
	db *sql.DB
}

// Open opens (or creates) the session database at dbPath.
func Open(dbPath string) (*SQLiteSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteSessionStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteSessionStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  profile_id TEXT NOT NULL,
  title TEXT NOT NULL,
  started_at TEXT NOT NULL,
  elapsed_seconds INTEGER NOT NULL,
  mood INTEGER NOT NULL,
  focus INTEGER NOT NULL,
  notes TEXT NOT NULL,
  segments TEXT NOT NULL,
  recording_path TEXT,
  saved_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// Save inserts or replaces a finished session.
func (s *SQLiteSessionStore) Save(ctx context.Context, sess session.Session) error {
	segments, err := json.Marshal(sess.RecordingSegments)
	if err != nil {
		return fmt.Errorf("%w: encode segments: %v", apperrors.ErrPersistence, err)
	}

	const stmt = `
INSERT INTO sessions (id, profile_id, title, started_at, elapsed_seconds, mood, focus, notes, segments, recording_path, saved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  profile_id=excluded.profile_id,
  title=excluded.title,
  started_at=excluded.started_at,
  elapsed_seconds=excluded.elapsed_seconds,
  mood=excluded.mood,
  focus=excluded.focus,
  notes=excluded.notes,
  segments=excluded.segments,
  recording_path=excluded.recording_path,
  saved_at=excluded.saved_at;
`
	_, err = s.db.ExecContext(ctx, stmt,
		sess.ID,
		sess.ProfileID,
		sess.Title,
		sess.StartedAt.UTC().Format(timeLayout),
		sess.ElapsedSeconds,
		sess.Mood,
		sess.Focus,
		sess.Notes,
		string(segments),
		sess.RecordingPath,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert session: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// List returns saved sessions, newest first. A non-positive limit returns all.
func (s *SQLiteSessionStore) List(ctx context.Context, limit int) ([]session.Session, error) {
	query := `
SELECT id, profile_id, title, started_at, elapsed_seconds, mood, focus, notes, segments, COALESCE(recording_path, '')
FROM sessions
ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Get returns one saved session.
func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, profile_id, title, started_at, elapsed_seconds, mood, focus, notes, segments, COALESCE(recording_path, '')
FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return session.Session{}, fmt.Errorf("%w: session %s not found", apperrors.ErrInvalidInput, id)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var (
		sess      session.Session
		startedAt string
		segments  string
	)
	err := row.Scan(
		&sess.ID,
		&sess.ProfileID,
		&sess.Title,
		&startedAt,
		&sess.ElapsedSeconds,
		&sess.Mood,
		&sess.Focus,
		&sess.Notes,
		&segments,
		&sess.RecordingPath,
	)
	if err == sql.ErrNoRows {
		return sess, err
	}
	if err != nil {
		return sess, fmt.Errorf("scan session: %w", err)
	}
	if sess.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return sess, fmt.Errorf("parse started_at for %s: %w", sess.ID, err)
	}
	var segs []recording.Segment
	if err := json.Unmarshal([]byte(segments), &segs); err != nil {
		return sess, fmt.Errorf("decode segments for %s: %w", sess.ID, err)
	}
	sess.RecordingSegments = segs
	return sess, nil
}
