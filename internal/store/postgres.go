package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kifulabs/shinpan/internal/model"
)

// ChannelMatches is the Postgres LISTEN/NOTIFY channel that carries a match
// ID whenever that match's record changes.
const ChannelMatches = "shinpan_matches"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS match_states (
    match_id   TEXT PRIMARY KEY,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_cancels (
    match_id     TEXT PRIMARY KEY,
    requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres stores one JSONB record per match, replaced wholesale on each
// write, with cancellation markers in a separate table. A dedicated direct
// connection (bypassing any pooler) handles LISTEN/NOTIFY; pool queries may
// go through PgBouncer.
type Postgres struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// NewPostgres connects the pool (and, when notifyDSN is non-empty, the
// dedicated notify connection) and verifies connectivity.
func NewPostgres(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, poolDSN)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: connect notify: %w", err)
		}
	}

	return &Postgres{pool: pool, notifyConn: notifyConn, logger: logger}, nil
}

// EnsureSchema creates the match tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Write(ctx context.Context, state *model.MatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO match_states (match_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (match_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = now()`,
		state.MatchID, data)
	if err != nil {
		return fmt.Errorf("store: upsert state: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelMatches, state.MatchID); err != nil {
		// Watchers catch up on their next read; the committed record is intact.
		p.logger.Warn("store: notify after write", "match_id", state.MatchID, "error", err)
	}
	return nil
}

func (p *Postgres) Read(ctx context.Context, matchID string) (*model.MatchState, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		"SELECT state FROM match_states WHERE match_id = $1", matchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: select state: %w", err)
	}
	var state model.MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decode state: %w", err)
	}
	return &state, nil
}

func (p *Postgres) RequestCancel(ctx context.Context, matchID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO match_cancels (match_id) VALUES ($1)
		ON CONFLICT (match_id) DO NOTHING`, matchID)
	if err != nil {
		return fmt.Errorf("store: insert cancel: %w", err)
	}
	return nil
}

func (p *Postgres) Cancelled(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM match_cancels WHERE match_id = $1)", matchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: select cancel: %w", err)
	}
	return exists, nil
}

// Listen starts listening on channel using the dedicated notify connection.
func (p *Postgres) Listen(ctx context.Context, channel string) error {
	if p.notifyConn == nil {
		return fmt.Errorf("store: notify connection not configured")
	}
	if _, err := p.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("store: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel and returns its payload (the match ID for ChannelMatches).
func (p *Postgres) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if p.notifyConn == nil {
		return "", "", fmt.Errorf("store: notify connection not configured")
	}
	n, err := p.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("store: wait for notification: %w", err)
	}
	return n.Channel, n.Payload, nil
}

// Ping checks connectivity to the database.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the pool and the notify connection.
func (p *Postgres) Close(ctx context.Context) {
	p.pool.Close()
	if p.notifyConn != nil {
		if err := p.notifyConn.Close(ctx); err != nil {
			p.logger.Warn("store: close notify connection", "error", err)
		}
	}
}
