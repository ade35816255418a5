package tickstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gascap/internal/models"
)

// Slot is the durable key-value slot the tick history is flushed to. A single
// named key holds the JSON-serialized sequence. Implementations must treat an
// absent key as empty history.
type Slot interface {
	Load(ctx context.Context) ([]models.Tick, error)
	Save(ctx context.Context, ticks []models.Tick) error
	Clear(ctx context.Context) error
}

// FileSlot persists the tick sequence as a single JSON document on disk.
// Writes go through a temp file and rename so a crash mid-flush never leaves
// a truncated document behind.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) (*FileSlot, error) {
	if path == "" {
		return nil, fmt.Errorf("file slot path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create slot directory: %w", err)
		}
	}
	return &FileSlot{path: path}, nil
}

func (s *FileSlot) Load(ctx context.Context) ([]models.Tick, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read slot file: %w", err)
	}

	var ticks []models.Tick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("decode slot file: %w", err)
	}
	return ticks, nil
}

func (s *FileSlot) Save(ctx context.Context, ticks []models.Tick) error {
	data, err := json.Marshal(ticks)
	if err != nil {
		return fmt.Errorf("encode ticks: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write slot file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace slot file: %w", err)
	}
	return nil
}

func (s *FileSlot) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove slot file: %w", err)
	}
	return nil
}
