package store

import (
	"context"
	"sync"

	"github.com/kifulabs/shinpan/internal/model"
)

// Memory is the in-process backend: the fast path for a long-lived
// orchestrator with co-located readers. States are cloned on both write and
// read so no caller ever shares memory with the committed record.
type Memory struct {
	mu        sync.RWMutex
	states    map[string]*model.MatchState
	cancelled map[string]struct{}
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		states:    make(map[string]*model.MatchState),
		cancelled: make(map[string]struct{}),
	}
}

func (m *Memory) Write(ctx context.Context, state *model.MatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.MatchID] = state.Clone()
	return nil
}

func (m *Memory) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (m *Memory) RequestCancel(ctx context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[matchID] = struct{}{}
	return nil
}

func (m *Memory) Cancelled(ctx context.Context, matchID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cancelled[matchID]
	return ok, nil
}
