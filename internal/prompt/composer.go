// Package prompt composes the instruction text sent to a move-producing
// agent for one attempt. Composition is a pure function of the request — the
// same request always yields the same text — and deliberately reveals nothing
// about the position beyond what the agent could derive itself (no check or
// game-over hints).
package prompt

import (
	"fmt"
	"math"
	"strings"

	"github.com/kifulabs/shinpan/internal/model"
)

// Request carries everything the composer may use for one attempt.
type Request struct {
	FEN         string
	MoveHistory []string
	SideToMove  model.Side
	LegalMoves  []string

	// Retry context, populated from the second attempt of a turn onward.
	Attempt         int // 1-based
	IsRetry         bool
	IsParseError    bool // prior failure was unparseable output, not an illegal move
	ErrorMessage    string
	PreviousAttempt string
	RejectedMoves   []string // accumulated rejected tokens this turn

	// Remaining-time snapshot; nil when the match is untimed.
	WhiteRemaining *float64
	BlackRemaining *float64
}

const systemTemplate = `You are playing chess as %s. Your opponent has just moved (or you are making the first move as White).

Rules:
- Reply with a JSON object containing exactly two fields: "move" and "explanation".
- "move": exactly ONE move in PGN (Standard Algebraic Notation). Examples: e4, Nf3, O-O, O-O-O, exd5, Nxe5, Qxf7#
- "explanation": a brief explanation of why you chose this move.
- Use standard PGN: K=king, Q=queen, R=rook, B=bishop, N=knight. Pawns have no letter (e4, exd5).
- Castling: O-O (kingside), O-O-O (queenside).

Example response:
{"move": "e4", "explanation": "I control the center and open lines for my pieces."}
`

// SystemPrompt returns the role/format instruction for the side to move.
func SystemPrompt(side model.Side) string {
	return fmt.Sprintf(systemTemplate, displaySide(side))
}

// UserPrompt returns the per-attempt instruction: position, history, time
// situation, and on retries the prior failure so the next attempt can
// self-correct.
func UserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current position (FEN): %s\n", req.FEN)

	if ts := timeSection(req); ts != "" {
		b.WriteString(ts)
	}

	side := displaySide(req.SideToMove)

	switch {
	case req.IsRetry && req.ErrorMessage != "" && req.IsParseError:
		fmt.Fprintf(&b, "\nMoves played so far: %s\n", FormatHistory(req.MoveHistory))
		fmt.Fprintf(&b, "\nIt is %s's turn. Your previous response failed: %s\n", side, req.ErrorMessage)
		b.WriteString("\nPlease try again. Reply with JSON: {\"move\": \"...\", \"explanation\": \"...\"}\n")
	case req.IsRetry && req.ErrorMessage != "":
		fmt.Fprintf(&b, "\nMoves played so far: %s\n", FormatHistory(req.MoveHistory))
		fmt.Fprintf(&b, "\nIt is %s's turn. Your previous move %q was illegal: %s\n", side, req.PreviousAttempt, req.ErrorMessage)
		if len(req.RejectedMoves) > 1 {
			fmt.Fprintf(&b, "Moves already rejected this turn: %s\n", strings.Join(req.RejectedMoves, ", "))
		}
		b.WriteString("\nPlease try a different legal move. Reply with JSON: {\"move\": \"...\", \"explanation\": \"...\"}\n")
	case len(req.MoveHistory) == 0:
		b.WriteString("\nIt is White's turn. Make your first move. Reply with JSON: {\"move\": \"...\", \"explanation\": \"...\"}\n")
	default:
		fmt.Fprintf(&b, "\nMoves played so far: %s\n", FormatHistory(req.MoveHistory))
		fmt.Fprintf(&b, "\nIt is %s's turn. Make your move. Reply with JSON: {\"move\": \"...\", \"explanation\": \"...\"}\n", side)
	}
	return b.String()
}

// Compose returns both prompts for one attempt.
func Compose(req Request) (system, user string) {
	return SystemPrompt(req.SideToMove), UserPrompt(req)
}

// FormatHistory renders moves as numbered pairs: "1. e4 e5 2. Nf3".
func FormatHistory(moves []string) string {
	if len(moves) == 0 {
		return "(none)"
	}
	var parts []string
	for i := 0; i < len(moves); i += 2 {
		num := i/2 + 1
		if i+1 < len(moves) {
			parts = append(parts, fmt.Sprintf("%d. %s %s", num, moves[i], moves[i+1]))
		} else {
			parts = append(parts, fmt.Sprintf("%d. %s", num, moves[i]))
		}
	}
	return strings.Join(parts, " ")
}

// FormatTime renders seconds as M:SS; infinite or negative shows as ∞.
func FormatTime(seconds float64) string {
	if math.IsInf(seconds, 0) || seconds < 0 {
		return "∞"
	}
	m := int(seconds) / 60
	s := int(seconds) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

func timeSection(req Request) string {
	if req.WhiteRemaining == nil || req.BlackRemaining == nil {
		return ""
	}
	white := FormatTime(*req.WhiteRemaining)
	black := FormatTime(*req.BlackRemaining)
	yours := white
	if req.SideToMove == model.SideBlack {
		yours = black
	}
	return fmt.Sprintf("Time remaining: White %s, Black %s. You (%s) have %s left.\n"+
		"Consider your remaining time and respond quickly to avoid running out of time.\n",
		white, black, displaySide(req.SideToMove), yours)
}

func displaySide(side model.Side) string {
	if side == model.SideBlack {
		return "Black"
	}
	return "White"
}
