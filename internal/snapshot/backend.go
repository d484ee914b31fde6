package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
)

// Backend is the durable slot holding the single snapshot.
type Backend interface {
	// Load returns apperrors.ErrNoSnapshot when the slot is empty.
	Load() (Snapshot, error)
	Save(snap Snapshot) error
	Clear() error
}

// FileBackend keeps the snapshot in a YAML file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load() (Snapshot, error) {
	payload, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, apperrors.ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.SessionID == "" {
		return Snapshot{}, apperrors.ErrNoSnapshot
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it into place
// so a crash never leaves a truncated snapshot.
func (b *FileBackend) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	payload, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (b *FileBackend) Clear() error {
	if err := os.Remove(b.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
