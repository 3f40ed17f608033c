// Package archive keeps a local history of completed matches for postmortem
// export. It is append-mostly: each terminal match lands as one row carrying
// the result summary plus the full final record, so transcripts survive even
// after the live store ages the match out.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kifulabs/shinpan/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS match_results (
    match_id         TEXT PRIMARY KEY,
    winner           TEXT NOT NULL DEFAULT '',
    loser            TEXT NOT NULL DEFAULT '',
    termination      TEXT NOT NULL DEFAULT '',
    forfeit_by       TEXT NOT NULL DEFAULT '',
    cancelled        INTEGER NOT NULL DEFAULT 0,
    move_count       INTEGER NOT NULL DEFAULT 0,
    moves            TEXT NOT NULL DEFAULT '[]',
    forfeit_attempts TEXT NOT NULL DEFAULT '[]',
    final_state      TEXT NOT NULL DEFAULT '{}',
    archived_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_results_archived_at
    ON match_results (archived_at DESC);
`

// Archive is the SQLite-backed result history.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path and applies
// the schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent result commits.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Record stores a terminal match. Re-recording the same match ID replaces
// the row, so replaying a commit is harmless.
func (a *Archive) Record(ctx context.Context, state *model.MatchState, result *model.MatchResult) error {
	moves, err := json.Marshal(result.MoveHistory)
	if err != nil {
		return fmt.Errorf("archive: encode moves: %w", err)
	}
	attempts, err := json.Marshal(result.ForfeitAttempts)
	if err != nil {
		return fmt.Errorf("archive: encode forfeit attempts: %w", err)
	}
	finalState, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("archive: encode final state: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO match_results
			(match_id, winner, loser, termination, forfeit_by, cancelled,
			 move_count, moves, forfeit_attempts, final_state, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			winner = excluded.winner,
			loser = excluded.loser,
			termination = excluded.termination,
			forfeit_by = excluded.forfeit_by,
			cancelled = excluded.cancelled,
			move_count = excluded.move_count,
			moves = excluded.moves,
			forfeit_attempts = excluded.forfeit_attempts,
			final_state = excluded.final_state,
			archived_at = excluded.archived_at`,
		result.MatchID,
		result.Winner,
		result.Loser,
		string(result.Termination),
		result.ForfeitBy,
		boolToInt(result.Cancelled),
		len(result.MoveHistory),
		string(moves),
		string(attempts),
		string(finalState),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive: insert result: %w", err)
	}
	return nil
}

// Entry is one archived match in export order.
type Entry struct {
	MatchID    string             `json:"match_id"`
	Winner     string             `json:"winner,omitempty"`
	Loser      string             `json:"loser,omitempty"`
	Termination model.Termination `json:"termination_reason,omitempty"`
	ForfeitBy  string             `json:"forfeit_by,omitempty"`
	Cancelled  bool               `json:"cancelled,omitempty"`
	MoveCount  int                `json:"move_count"`
	Moves      []string           `json:"moves"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// List returns the most recently archived matches, newest first, capped at
// limit (<= 0 means a default page of 100).
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT match_id, winner, loser, termination, forfeit_by, cancelled,
		       move_count, moves, archived_at
		FROM match_results
		ORDER BY archived_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			cancelled   int
			termination string
			moves       string
			archivedAt  string
		)
		if err := rows.Scan(&e.MatchID, &e.Winner, &e.Loser, &termination,
			&e.ForfeitBy, &cancelled, &e.MoveCount, &moves, &archivedAt); err != nil {
			return nil, fmt.Errorf("archive: scan result: %w", err)
		}
		e.Termination = model.Termination(termination)
		e.Cancelled = cancelled != 0
		if err := json.Unmarshal([]byte(moves), &e.Moves); err != nil {
			return nil, fmt.Errorf("archive: decode moves: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, archivedAt)
		if err != nil {
			return nil, fmt.Errorf("archive: parse archived_at: %w", err)
		}
		e.ArchivedAt = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate results: %w", err)
	}
	return out, nil
}

// FinalState returns the archived final record for a match, or sql.ErrNoRows
// wrapped when the match was never archived.
func (a *Archive) FinalState(ctx context.Context, matchID string) (*model.MatchState, error) {
	var raw string
	err := a.db.QueryRowContext(ctx,
		"SELECT final_state FROM match_results WHERE match_id = ?", matchID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("archive: select final state: %w", err)
	}
	var state model.MatchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("archive: decode final state: %w", err)
	}
	return &state, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
