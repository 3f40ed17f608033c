// Package model defines the match state record and the terminal result types.
//
// MatchState is the single source of truth for a match. It is the exact shape
// persisted by internal/store — field names are stable across versions so a
// reader in another process (or a later deploy) can decode records written
// before it started. Optional fields use pointers and omitempty: an absent
// timer field means "untimed".
package model

import "time"

// DefaultFEN is the standard chess starting position.
const DefaultFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Side identifies one of the two fixed sides of a match.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Termination explains why a match ended.
type Termination string

const (
	TerminationCheckmate Termination = "checkmate"
	TerminationStalemate Termination = "stalemate"
	TerminationDraw      Termination = "draw"
	TerminationForfeit   Termination = "forfeit-retries"
	TerminationTime      Termination = "time"
	TerminationCancelled Termination = "cancelled"
)

// Message is one half of an agent exchange within a turn.
// Type is "prompt" or "response".
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// MoveLogEntry records one successfully applied move with its provenance:
// which side played it, which agent produced it, the agent's explanation,
// and the full prompt/response conversation including retry exchanges.
type MoveLogEntry struct {
	Side        Side      `json:"side"`
	AgentName   string    `json:"agent_name"`
	Move        string    `json:"move"`
	Explanation string    `json:"explanation,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
}

// MatchState is the committed state of a match. One record exists per match
// ID; every write replaces the whole record.
//
// Invariants at every committed state:
//   - len(MoveHistory) == len(MoveLog)
//   - the side to move is determined solely by len(MoveHistory) parity
//   - once IsGameOver is set, MoveHistory and MoveLog never grow
type MatchState struct {
	MatchID     string   `json:"match_id"`
	FEN         string   `json:"fen"`
	MoveHistory []string `json:"move_history"`

	WhiteName string `json:"white_name,omitempty"`
	BlackName string `json:"black_name,omitempty"`

	IsGameOver        bool        `json:"is_game_over"`
	Winner            string      `json:"winner,omitempty"` // display name; empty while running or on a draw
	TerminationReason Termination `json:"termination_reason,omitempty"`

	MoveLog []MoveLogEntry `json:"move_log,omitempty"`

	// Remaining time per side in seconds; nil means untimed.
	WhiteRemainingSeconds *float64 `json:"white_remaining_seconds,omitempty"`
	BlackRemainingSeconds *float64 `json:"black_remaining_seconds,omitempty"`

	// A side's clock only starts once that side has completed its first move.
	WhiteClockStarted bool `json:"white_clock_started,omitempty"`
	BlackClockStarted bool `json:"black_clock_started,omitempty"`

	// Wall-clock time of the last committed write, as Unix seconds with
	// fractional part. Required for advance-on-read time reconstruction.
	LastUpdateUnix float64 `json:"last_update_unix,omitempty"`
}

// NewMatchState returns a fresh state for the given match ID at the standard
// starting position.
func NewMatchState(matchID string) *MatchState {
	return &MatchState{
		MatchID:     matchID,
		FEN:         DefaultFEN,
		MoveHistory: []string{},
	}
}

// Ply is the number of applied half-moves.
func (s *MatchState) Ply() int {
	return len(s.MoveHistory)
}

// SideToMove derives the side to move from move-history parity.
func (s *MatchState) SideToMove() Side {
	if s.Ply()%2 == 0 {
		return SideWhite
	}
	return SideBlack
}

// SideName returns the display name configured for a side.
func (s *MatchState) SideName(side Side) string {
	if side == SideWhite {
		return s.WhiteName
	}
	return s.BlackName
}

// Remaining returns the committed remaining seconds for a side, or nil when
// the side is untimed.
func (s *MatchState) Remaining(side Side) *float64 {
	if side == SideWhite {
		return s.WhiteRemainingSeconds
	}
	return s.BlackRemainingSeconds
}

// SetRemaining overwrites a side's committed remaining seconds.
func (s *MatchState) SetRemaining(side Side, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	if side == SideWhite {
		s.WhiteRemainingSeconds = &seconds
	} else {
		s.BlackRemainingSeconds = &seconds
	}
}

// ClockStarted reports whether a side's countdown has begun.
func (s *MatchState) ClockStarted(side Side) bool {
	if side == SideWhite {
		return s.WhiteClockStarted
	}
	return s.BlackClockStarted
}

// MarkClockStarted records that a side has completed its first move.
func (s *MatchState) MarkClockStarted(side Side) {
	if side == SideWhite {
		s.WhiteClockStarted = true
	} else {
		s.BlackClockStarted = true
	}
}

// Touch stamps the record with the current wall-clock time. Called on every
// commit so stateless readers can attribute elapsed time since.
func (s *MatchState) Touch(now time.Time) {
	s.LastUpdateUnix = float64(now.UnixNano()) / float64(time.Second)
}

// Clone returns a deep copy. Readers get clones so a racing commit never
// mutates a state they are holding.
func (s *MatchState) Clone() *MatchState {
	if s == nil {
		return nil
	}
	out := *s
	out.MoveHistory = append([]string(nil), s.MoveHistory...)
	out.MoveLog = make([]MoveLogEntry, len(s.MoveLog))
	for i, e := range s.MoveLog {
		out.MoveLog[i] = e
		out.MoveLog[i].Messages = append([]Message(nil), e.Messages...)
	}
	if s.WhiteRemainingSeconds != nil {
		v := *s.WhiteRemainingSeconds
		out.WhiteRemainingSeconds = &v
	}
	if s.BlackRemainingSeconds != nil {
		v := *s.BlackRemainingSeconds
		out.BlackRemainingSeconds = &v
	}
	return &out
}

// ForfeitAttempt is one failed request/response/validation cycle, kept for
// postmortem display when a turn ends in forfeit-by-retries.
type ForfeitAttempt struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Reason   string `json:"reason"`
}

// MatchResult is the terminal summary returned to the caller when a match
// ends. It is not part of the persisted MatchState; the archive stores it
// separately for export.
type MatchResult struct {
	MatchID         string           `json:"match_id"`
	MoveHistory     []string         `json:"move_history"`
	Winner          string           `json:"winner,omitempty"`
	Loser           string           `json:"loser,omitempty"`
	Termination     Termination      `json:"termination_reason,omitempty"`
	ForfeitBy       string           `json:"forfeit_by,omitempty"`
	ForfeitAttempts []ForfeitAttempt `json:"forfeit_attempts,omitempty"`
	Cancelled       bool             `json:"cancelled,omitempty"`
}

// Draw reports whether the match concluded without a winner.
func (r *MatchResult) Draw() bool {
	return r.Termination != "" && r.Winner == "" && !r.Cancelled
}
