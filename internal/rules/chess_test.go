package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kifulabs/shinpan/internal/model"
)

func TestLegalMovesFromStart(t *testing.T) {
	eng := NewChessEngine()
	moves, err := eng.LegalMoves(model.DefaultFEN)
	require.NoError(t, err)
	assert.Len(t, moves, 20)
	assert.Contains(t, moves, "e4")
	assert.Contains(t, moves, "Nf3")
}

func TestApplyMoveLegal(t *testing.T) {
	eng := NewChessEngine()
	out, err := eng.ApplyMove(model.DefaultFEN, "e4")
	require.NoError(t, err)
	assert.Equal(t, "e4", out.CanonicalMove)
	assert.NotEqual(t, model.DefaultFEN, out.NewFEN)
	assert.False(t, out.GameOver)
}

func TestApplyMoveIllegal(t *testing.T) {
	eng := NewChessEngine()
	_, err := eng.ApplyMove(model.DefaultFEN, "e5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalMove))
}

func TestApplyMoveEmpty(t *testing.T) {
	eng := NewChessEngine()
	_, err := eng.ApplyMove(model.DefaultFEN, "  ")
	assert.True(t, errors.Is(err, ErrIllegalMove))
}

func TestApplyMoveBadFEN(t *testing.T) {
	eng := NewChessEngine()
	_, err := eng.ApplyMove("not a position", "e4")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIllegalMove))
}

// Fool's mate: the fastest checkmate must surface as a game-over signal with
// a Black win.
func TestApplyMoveCheckmate(t *testing.T) {
	eng := NewChessEngine()
	fen := model.DefaultFEN
	for _, mv := range []string{"f3", "e5", "g4"} {
		out, err := eng.ApplyMove(fen, mv)
		require.NoError(t, err)
		require.False(t, out.GameOver)
		fen = out.NewFEN
	}

	out, err := eng.ApplyMove(fen, "Qh4#")
	require.NoError(t, err)
	assert.True(t, out.GameOver)
	assert.False(t, out.Drawn)
	assert.Equal(t, model.SideBlack, out.Winner)
	assert.Equal(t, model.TerminationCheckmate, out.Termination)
}

// The mate must be detected even when the agent omits the trailing '#'.
func TestApplyMoveCheckmateWithoutSuffix(t *testing.T) {
	eng := NewChessEngine()
	fen := model.DefaultFEN
	for _, mv := range []string{"f3", "e5", "g4"} {
		out, err := eng.ApplyMove(fen, mv)
		require.NoError(t, err)
		fen = out.NewFEN
	}

	out, err := eng.ApplyMove(fen, "Qh4")
	require.NoError(t, err)
	assert.True(t, out.GameOver)
	assert.Equal(t, model.SideBlack, out.Winner)
}

func TestApplyMoveStalemate(t *testing.T) {
	// A classic stalemate position, Black to move with no legal moves after
	// White's queen move: 10-move stalemate (Sam Loyd).
	fen := "k7/8/1Q6/8/8/8/8/7K b - - 0 1"
	eng := NewChessEngine()
	moves, err := eng.LegalMoves(fen)
	require.NoError(t, err)
	assert.Empty(t, moves)
}
