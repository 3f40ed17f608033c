package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/kifulabs/shinpan/internal/model"
)

// ChessEngine implements Engine on top of corentings/chess.
type ChessEngine struct{}

// NewChessEngine returns the standard chess legality engine.
func NewChessEngine() *ChessEngine {
	return &ChessEngine{}
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == model.DefaultFEN {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("rules: parse fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// LegalMoves returns every legal move for the position in SAN.
func (e *ChessEngine) LegalMoves(fen string) ([]string, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	pos := game.Position()
	moves := game.ValidMoves()
	san := make([]string, 0, len(moves))
	for i := range moves {
		san = append(san, nchess.AlgebraicNotation{}.Encode(pos, &moves[i]))
	}
	return san, nil
}

// ApplyMove validates the SAN candidate and applies it, returning the new
// position and any game-over signal the move produced.
func (e *ChessEngine) ApplyMove(fen, candidate string) (MoveOutcome, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return MoveOutcome{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}

	game, err := gameFromFEN(fen)
	if err != nil {
		return MoveOutcome{}, err
	}
	pos := game.Position()

	if err := game.PushNotationMove(candidate, nchess.AlgebraicNotation{}, nil); err != nil {
		return MoveOutcome{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, candidate, err)
	}

	moves := game.Moves()
	last := moves[len(moves)-1]
	out := MoveOutcome{
		NewFEN:        game.FEN(),
		CanonicalMove: nchess.AlgebraicNotation{}.Encode(pos, last),
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		out.GameOver = true
		out.Winner = model.SideWhite
		out.Termination = terminationFromMethod(game.Method())
	case nchess.BlackWon:
		out.GameOver = true
		out.Winner = model.SideBlack
		out.Termination = terminationFromMethod(game.Method())
	case nchess.Draw:
		out.GameOver = true
		out.Drawn = true
		out.Termination = terminationFromMethod(game.Method())
	}
	return out, nil
}

func terminationFromMethod(m nchess.Method) model.Termination {
	switch m {
	case nchess.Checkmate:
		return model.TerminationCheckmate
	case nchess.Stalemate:
		return model.TerminationStalemate
	default:
		// Insufficient material, repetition, move-count rules.
		return model.TerminationDraw
	}
}
