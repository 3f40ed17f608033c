package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kifulabs/shinpan/internal/model"
)

// File persists one JSON file per match under a state directory, plus a
// zero-byte ".cancel" marker per match. Writes go to a temp file in the same
// directory followed by a rename, so readers in other processes always see a
// complete record.
type File struct {
	dir string
}

// NewFile creates the state directory if needed and returns the backend.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create state dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) statePath(matchID string) string {
	return filepath.Join(f.dir, matchID+".json")
}

func (f *File) cancelPath(matchID string) string {
	return filepath.Join(f.dir, matchID+".cancel")
}

func (f *File) Write(ctx context.Context, state *model.MatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, state.MatchID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.statePath(state.MatchID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: replace state file: %w", err)
	}
	return nil
}

func (f *File) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	data, err := os.ReadFile(f.statePath(matchID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read state file: %w", err)
	}
	var state model.MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decode state file: %w", err)
	}
	return &state, nil
}

func (f *File) RequestCancel(ctx context.Context, matchID string) error {
	if err := os.WriteFile(f.cancelPath(matchID), []byte("{}"), 0o644); err != nil {
		return fmt.Errorf("store: write cancel marker: %w", err)
	}
	return nil
}

func (f *File) Cancelled(ctx context.Context, matchID string) (bool, error) {
	_, err := os.Stat(f.cancelPath(matchID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("store: stat cancel marker: %w", err)
}
