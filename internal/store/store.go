// Package store persists match state.
//
// A Store holds one record per match ID, replaced wholesale on every write,
// plus a cancellation marker kept separate from the record so it can be set
// even when no orchestrator is running. The record is the entire source of
// truth: every operation is safe to call from a process with no memory of
// prior calls. Readers racing a writer see the old record or the new one,
// never a torn one — every backend provides atomic replace.
//
// Backends: Memory (in-process fast path), File (local disk, one JSON file
// per match), Postgres and Redis (shared storage for cross-process readers
// and stateless re-invocation). Compose mirrors writes across two backends
// synchronously; which backends participate is explicit configuration, not a
// runtime branch.
package store

import (
	"context"
	"errors"

	"github.com/kifulabs/shinpan/internal/model"
)

// ErrNotFound is returned by Read when no record exists for the match ID.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract shared by all backends.
type Store interface {
	// Write durably replaces the record for state.MatchID.
	Write(ctx context.Context, state *model.MatchState) error

	// Read returns the most recently written record, or ErrNotFound.
	Read(ctx context.Context, matchID string) (*model.MatchState, error)

	// RequestCancel sets the cancellation marker for a match. Idempotent;
	// requesting cancellation twice or after the match ended is a no-op.
	RequestCancel(ctx context.Context, matchID string) error

	// Cancelled reports whether a cancellation marker exists for the match.
	Cancelled(ctx context.Context, matchID string) (bool, error)
}

// Composite mirrors writes to a primary and a mirror backend. A write
// commits only when both succeed, so a crash right after a commit never
// loses a move an agent already played. Reads prefer the primary and fall
// back to the mirror; cancellation checks honor a marker in either backend.
type Composite struct {
	primary Store
	mirror  Store
}

// Compose combines a primary backend with a synchronous mirror.
func Compose(primary, mirror Store) *Composite {
	return &Composite{primary: primary, mirror: mirror}
}

func (c *Composite) Write(ctx context.Context, state *model.MatchState) error {
	if err := c.primary.Write(ctx, state); err != nil {
		return err
	}
	return c.mirror.Write(ctx, state)
}

func (c *Composite) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	state, err := c.primary.Read(ctx, matchID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		// Primary unavailable: the mirror still holds the committed record.
		if state, merr := c.mirror.Read(ctx, matchID); merr == nil {
			return state, nil
		}
		return nil, err
	}
	return c.mirror.Read(ctx, matchID)
}

func (c *Composite) RequestCancel(ctx context.Context, matchID string) error {
	perr := c.primary.RequestCancel(ctx, matchID)
	merr := c.mirror.RequestCancel(ctx, matchID)
	return errors.Join(perr, merr)
}

func (c *Composite) Cancelled(ctx context.Context, matchID string) (bool, error) {
	cancelled, perr := c.primary.Cancelled(ctx, matchID)
	if perr == nil && cancelled {
		return true, nil
	}
	mCancelled, merr := c.mirror.Cancelled(ctx, matchID)
	if merr == nil {
		return mCancelled || (perr == nil && cancelled), nil
	}
	if perr == nil {
		return cancelled, nil
	}
	return false, errors.Join(perr, merr)
}
