package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kifulabs/shinpan/internal/model"
)

// Redis keeps each match record as a JSON string under match:state:<id> and
// the cancellation marker under match:cancel:<id>. Records are written with
// an optional TTL so abandoned matches age out of a shared instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and verifies connectivity. A zero ttl keeps
// records forever.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func stateKey(matchID string) string  { return "match:state:" + matchID }
func cancelKey(matchID string) string { return "match:cancel:" + matchID }

func (r *Redis) Write(ctx context.Context, state *model.MatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.MatchID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

func (r *Redis) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	data, err := r.client.Get(ctx, stateKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get state: %w", err)
	}
	var state model.MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decode state: %w", err)
	}
	return &state, nil
}

func (r *Redis) RequestCancel(ctx context.Context, matchID string) error {
	// The marker outlives the record on purpose: a cancel for a match that
	// has not started yet must still be visible when it does.
	if err := r.client.Set(ctx, cancelKey(matchID), "1", 0).Err(); err != nil {
		return fmt.Errorf("store: set cancel: %w", err)
	}
	return nil
}

func (r *Redis) Cancelled(ctx context.Context, matchID string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKey(matchID)).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists cancel: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
