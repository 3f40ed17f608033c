package archive_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kifulabs/shinpan/internal/archive"
	"github.com/kifulabs/shinpan/internal/model"
)

func openArchive(t *testing.T) *archive.Archive {
	t.Helper()
	a, err := archive.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func terminalMatch(matchID string) (*model.MatchState, *model.MatchResult) {
	state := model.NewMatchState(matchID)
	state.WhiteName = "White Bot"
	state.BlackName = "Black Bot"
	state.MoveHistory = []string{"f3", "e5", "g4", "Qh4#"}
	state.IsGameOver = true
	state.Winner = "Black Bot"
	state.TerminationReason = model.TerminationCheckmate

	result := &model.MatchResult{
		MatchID:     matchID,
		MoveHistory: state.MoveHistory,
		Winner:      "Black Bot",
		Loser:       "White Bot",
		Termination: model.TerminationCheckmate,
	}
	return state, result
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	state, result := terminalMatch("m1")
	require.NoError(t, a.Record(ctx, state, result))

	entries, err := a.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].MatchID)
	assert.Equal(t, "Black Bot", entries[0].Winner)
	assert.Equal(t, model.TerminationCheckmate, entries[0].Termination)
	assert.Equal(t, 4, entries[0].MoveCount)
	assert.Equal(t, state.MoveHistory, entries[0].Moves)
	assert.False(t, entries[0].ArchivedAt.IsZero())
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	state, result := terminalMatch("m1")
	require.NoError(t, a.Record(ctx, state, result))

	result.Winner = "White Bot"
	result.Loser = "Black Bot"
	require.NoError(t, a.Record(ctx, state, result))

	entries, err := a.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "White Bot", entries[0].Winner)
}

func TestListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		state, result := terminalMatch(id)
		require.NoError(t, a.Record(ctx, state, result))
	}

	entries, err := a.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFinalState(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	state, result := terminalMatch("m1")
	require.NoError(t, a.Record(ctx, state, result))

	got, err := a.FinalState(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.MoveHistory, got.MoveHistory)
	assert.True(t, got.IsGameOver)

	_, err = a.FinalState(ctx, "missing")
	assert.Error(t, err)
}

func TestForfeitTranscriptSurvives(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	state := model.NewMatchState("m1")
	state.WhiteName = "White Bot"
	state.BlackName = "Black Bot"
	state.IsGameOver = true
	state.Winner = "Black Bot"
	state.TerminationReason = model.TerminationForfeit

	result := &model.MatchResult{
		MatchID:     "m1",
		Winner:      "Black Bot",
		Loser:       "White Bot",
		Termination: model.TerminationForfeit,
		ForfeitBy:   "White Bot",
		ForfeitAttempts: []model.ForfeitAttempt{
			{Prompt: "p1", Response: "r1", Reason: "no move"},
			{Prompt: "p2", Response: "r2", Reason: "illegal"},
		},
	}
	require.NoError(t, a.Record(ctx, state, result))

	entries, err := a.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "White Bot", entries[0].ForfeitBy)
	assert.Equal(t, model.TerminationForfeit, entries[0].Termination)
}
