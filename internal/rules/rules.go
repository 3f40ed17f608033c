// Package rules is the port to the chess legality engine.
//
// The match coordinator treats legality as a black box: it hands the engine a
// position and a candidate move and gets back either the resulting position
// or a rejection. Positions travel as FEN strings so the adapter can be
// stateless — every call reconstructs the board from the record, which is
// what lets a fresh process validate moves for a match it has never seen.
package rules

import (
	"errors"

	"github.com/kifulabs/shinpan/internal/model"
)

// ErrIllegalMove wraps every rejection of a candidate move, whether the move
// was unparseable, ambiguous, or legal-looking but not playable. Callers use
// errors.Is to distinguish rejections from engine failures (bad FEN).
var ErrIllegalMove = errors.New("rules: illegal move")

// MoveOutcome is the result of a successfully applied move.
type MoveOutcome struct {
	NewFEN        string
	CanonicalMove string // the move as SAN, normalized by the engine

	// Game-over signal, set when this move ended the game by rule.
	GameOver    bool
	Winner      model.Side // meaningful only when GameOver and not a draw
	Drawn       bool
	Termination model.Termination
}

// Engine validates and applies moves.
type Engine interface {
	// LegalMoves returns every legal move in SAN for the position.
	LegalMoves(fen string) ([]string, error)

	// ApplyMove validates a SAN candidate against the position and applies
	// it. Rejections satisfy errors.Is(err, ErrIllegalMove) and carry the
	// engine's reason in the message.
	ApplyMove(fen, candidate string) (MoveOutcome, error)
}
