package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/store"
)

func sampleState(matchID string) *model.MatchState {
	white := 300.0
	black := 300.0
	return &model.MatchState{
		MatchID:     matchID,
		FEN:         model.DefaultFEN,
		MoveHistory: []string{"e4", "e5"},
		WhiteName:   "ChatGPT",
		BlackName:   "Gemini",
		WhiteRemainingSeconds: &white,
		BlackRemainingSeconds: &black,
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.Read(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	state := sampleState("m1")
	require.NoError(t, m.Write(ctx, state))

	got, err := m.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// The stored record must not share memory with the caller's copy.
	state.MoveHistory[0] = "d4"
	got2, err := m.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "e4", got2.MoveHistory[0])
}

func TestMemoryCancel(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	cancelled, err := m.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, m.RequestCancel(ctx, "m1"))
	require.NoError(t, m.RequestCancel(ctx, "m1"))

	cancelled, err = m.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	_, err = f.Read(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	state := sampleState("m1")
	require.NoError(t, f.Write(ctx, state))

	got, err := f.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Overwrite replaces the record wholesale.
	state.MoveHistory = append(state.MoveHistory, "Nf3")
	require.NoError(t, f.Write(ctx, state))
	got, err = f.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got.MoveHistory, 3)
}

func TestFileCancelMarker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := store.NewFile(dir)
	require.NoError(t, err)

	cancelled, err := f.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, f.RequestCancel(ctx, "m1"))

	cancelled, err = f.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = os.Stat(filepath.Join(dir, "m1.cancel"))
	assert.NoError(t, err)
}

func TestFileNoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := store.NewFile(dir)
	require.NoError(t, err)

	require.NoError(t, f.Write(ctx, sampleState("m1")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1.json", entries[0].Name())
}

// failingStore wraps Memory and fails the configured operations.
type failingStore struct {
	*store.Memory
	failWrite bool
	failRead  bool
}

var errBackend = errors.New("backend down")

func (f *failingStore) Write(ctx context.Context, state *model.MatchState) error {
	if f.failWrite {
		return errBackend
	}
	return f.Memory.Write(ctx, state)
}

func (f *failingStore) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	if f.failRead {
		return nil, errBackend
	}
	return f.Memory.Read(ctx, matchID)
}

func TestCompositeWritesBoth(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemory()
	mirror := store.NewMemory()
	c := store.Compose(primary, mirror)

	require.NoError(t, c.Write(ctx, sampleState("m1")))

	_, err := primary.Read(ctx, "m1")
	assert.NoError(t, err)
	_, err = mirror.Read(ctx, "m1")
	assert.NoError(t, err)
}

func TestCompositeWriteFailsWhenMirrorFails(t *testing.T) {
	ctx := context.Background()
	mirror := &failingStore{Memory: store.NewMemory(), failWrite: true}
	c := store.Compose(store.NewMemory(), mirror)

	err := c.Write(ctx, sampleState("m1"))
	assert.ErrorIs(t, err, errBackend)
}

func TestCompositeReadFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{Memory: store.NewMemory(), failRead: true}
	mirror := store.NewMemory()
	require.NoError(t, mirror.Write(ctx, sampleState("m1")))
	c := store.Compose(primary, mirror)

	got, err := c.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MatchID)
}

func TestCompositeReadNotFoundInPrimary(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemory()
	mirror := store.NewMemory()
	require.NoError(t, mirror.Write(ctx, sampleState("m1")))
	c := store.Compose(primary, mirror)

	got, err := c.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MatchID)
}

func TestCompositeCancelledFromEitherBackend(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemory()
	mirror := store.NewMemory()
	c := store.Compose(primary, mirror)

	require.NoError(t, mirror.RequestCancel(ctx, "m1"))
	cancelled, err := c.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, c.RequestCancel(ctx, "m2"))
	pc, err := primary.Cancelled(ctx, "m2")
	require.NoError(t, err)
	mc, err := mirror.Cancelled(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, pc)
	assert.True(t, mc)
}
