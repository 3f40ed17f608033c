// Package match runs the turn loop of one chess match between two
// move-producing agents.
//
// The Orchestrator owns the writer role for its match: it is the only
// component that mutates the committed record, and it commits through the
// store before anything else observes the move. The same loop serves both
// deployment shapes. A long-lived process calls Run and plays to the end; a
// stateless invocation calls PlayTurns for a bounded batch, commits, and
// exits, with the next invocation resuming from the record alone.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/clock"
	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/parse"
	"github.com/kifulabs/shinpan/internal/prompt"
	"github.com/kifulabs/shinpan/internal/rules"
	"github.com/kifulabs/shinpan/internal/store"
)

var (
	tracer = otel.Tracer("shinpan/match")
	meter  = otel.GetMeterProvider().Meter("shinpan/match")
)

// ErrNoMatch is returned by Run and PlayTurns when no record exists for the
// match ID.
var ErrNoMatch = errors.New("match: no such match")

// Hooks are fire-and-forget callbacks invoked after each commit. They must
// not block; a panicking hook is recovered and logged, never fatal.
type Hooks struct {
	OnMoveApplied func(state *model.MatchState)
	OnTimeUpdated func(white, black *float64)
}

// Orchestrator plays one match at a time per instance. At most one
// orchestrator runs per match ID; enforcing that is the caller's job.
type Orchestrator struct {
	store  store.Store
	engine rules.Engine
	white  agent.Mover
	black  agent.Mover

	// maxRetries bounds failed attempts per turn; zero or negative means
	// unlimited attempts and no forfeit-by-retries.
	maxRetries    int
	timePerPlayer time.Duration

	hooks  Hooks
	live   *clock.Live
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRetries sets the per-turn failed-attempt budget. Values <= 0 allow
// unlimited attempts.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithTimePerPlayer gives each side a countdown budget for matches the
// orchestrator starts. Zero means untimed.
func WithTimePerPlayer(d time.Duration) Option {
	return func(o *Orchestrator) { o.timePerPlayer = d }
}

// WithHooks installs post-commit notification callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithLiveClock attaches the advisory display cache updated after each
// commit.
func WithLiveClock(l *clock.Live) Option {
	return func(o *Orchestrator) { o.live = l }
}

// New builds an orchestrator for a white and black mover over the given
// store and rules engine.
func New(st store.Store, engine rules.Engine, white, black agent.Mover, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		engine:     engine,
		white:      white,
		black:      black,
		maxRetries: 3,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start commits a fresh record for matchID at the standard starting
// position and returns it. The record alone is enough for any process to
// resume the match.
func (o *Orchestrator) Start(ctx context.Context, matchID string) (*model.MatchState, error) {
	state := model.NewMatchState(matchID)
	state.WhiteName = o.white.Name()
	state.BlackName = o.black.Name()
	if o.timePerPlayer > 0 {
		state.SetRemaining(model.SideWhite, o.timePerPlayer.Seconds())
		state.SetRemaining(model.SideBlack, o.timePerPlayer.Seconds())
	}
	state.Touch(time.Now())
	if err := o.store.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("match: commit initial state: %w", err)
	}
	o.updateLive(state)
	return state.Clone(), nil
}

// Reset asks any in-flight orchestrator for matchID to stop, then replaces
// the record with a fresh empty state so readers see the cleared match.
// Cancellation markers are per-match and never deleted, so further play
// happens under a new match ID.
func (o *Orchestrator) Reset(ctx context.Context, matchID string) (*model.MatchState, error) {
	if err := o.store.RequestCancel(ctx, matchID); err != nil {
		return nil, fmt.Errorf("match: request cancel on reset: %w", err)
	}
	o.clearLive()
	return o.Start(ctx, matchID)
}

// Run resumes the match from its committed record and plays until a
// terminal outcome. The returned error is non-nil only for infrastructure
// failures (missing record, commit failure, context cancellation); every
// game outcome including forfeit and cancellation is a MatchResult.
func (o *Orchestrator) Run(ctx context.Context, matchID string) (*model.MatchResult, error) {
	_, result, err := o.PlayTurns(ctx, matchID, 0)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PlayTurns resumes the match and plays at most maxTurns applied moves
// (0 means until the match ends). It returns the committed state after the
// batch and, when the match reached a terminal outcome, the result.
func (o *Orchestrator) PlayTurns(ctx context.Context, matchID string, maxTurns int) (*model.MatchState, *model.MatchResult, error) {
	state, err := o.store.Read(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoMatch, matchID)
		}
		return nil, nil, fmt.Errorf("match: read state: %w", err)
	}

	if state.IsGameOver {
		return state, resultFromState(state), nil
	}

	played := 0
	for {
		if err := ctx.Err(); err != nil {
			return state, nil, fmt.Errorf("match: run interrupted: %w", err)
		}
		result, err := o.playTurn(ctx, state)
		if err != nil {
			return state, nil, err
		}
		if result != nil {
			o.clearLive()
			return state, result, nil
		}
		played++
		if maxTurns > 0 && played >= maxTurns {
			return state, nil, nil
		}
	}
}

// playTurn plays one turn: at most maxRetries attempts until a legal move
// commits or the turn ends the match. A nil result with nil error means a
// move was applied and the match continues.
func (o *Orchestrator) playTurn(ctx context.Context, state *model.MatchState) (*model.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "match.turn", trace.WithAttributes(
		attribute.String("match.id", state.MatchID),
		attribute.Int("match.ply", state.Ply()),
	))
	defer span.End()

	side := state.SideToMove()
	mover := o.mover(side)

	// Cancellation wins over everything, including an expired clock.
	if o.cancelled(ctx, state.MatchID) {
		return o.endCancelled(ctx, state)
	}

	// Lazy expiry: a clock that hit zero ends the match on the next
	// evaluation, no background timer involved.
	clockRunning := state.ClockStarted(side)
	if clockRunning && clock.Expired(state, side) {
		return o.endTimeForfeit(ctx, state, side)
	}

	legal, err := o.engine.LegalMoves(state.FEN)
	if err != nil {
		return nil, fmt.Errorf("match: legal moves: %w", err)
	}

	req := prompt.Request{
		FEN:            state.FEN,
		MoveHistory:    append([]string(nil), state.MoveHistory...),
		SideToMove:     side,
		LegalMoves:     legal,
		Attempt:        1,
		WhiteRemaining: state.Remaining(model.SideWhite),
		BlackRemaining: state.Remaining(model.SideBlack),
	}

	var (
		conversation    []model.Message
		forfeitAttempts []model.ForfeitAttempt
		rejected        []string
	)

	for attempt := 1; ; attempt++ {
		req.Attempt = attempt
		system, user := prompt.Compose(req)

		started := time.Now()
		reply, sendErr := o.sendToMover(ctx, mover, side, system, user)
		elapsed := time.Since(started)

		conversation = append(conversation,
			model.Message{Type: "prompt", Content: user},
			model.Message{Type: "response", Content: reply},
		)

		// An in-flight agent call completes before cancellation is honored.
		if o.cancelled(ctx, state.MatchID) {
			return o.endCancelled(ctx, state)
		}

		// The call's wall time is charged whether or not the reply is
		// usable, so stalling on invalid replies costs real time.
		if clockRunning {
			if _, expired := clock.Charge(state, side, elapsed); expired {
				return o.endTimeForfeit(ctx, state, side)
			}
			req.WhiteRemaining = state.Remaining(model.SideWhite)
			req.BlackRemaining = state.Remaining(model.SideBlack)
		}

		candidate, explanation, failure := o.interpret(reply, sendErr)

		if candidate != "" {
			outcome, applyErr := o.engine.ApplyMove(state.FEN, candidate)
			if applyErr == nil {
				return o.commitMove(ctx, state, side, mover, outcome, explanation, conversation)
			}
			if !errors.Is(applyErr, rules.ErrIllegalMove) {
				return nil, fmt.Errorf("match: apply move: %w", applyErr)
			}
			rejected = append(rejected, candidate)
			failure = attemptFailure{
				reason:          applyErr.Error(),
				previousAttempt: candidate,
				isParseError:    false,
			}
		}

		countAttempt(ctx, string(side), false)
		forfeitAttempts = append(forfeitAttempts, model.ForfeitAttempt{
			Prompt:   user,
			Response: reply,
			Reason:   failure.reason,
		})
		o.logger.Warn("match: attempt rejected",
			"match_id", state.MatchID,
			"side", side,
			"attempt", attempt,
			"reason", failure.reason,
		)

		if o.maxRetries > 0 && attempt >= o.maxRetries {
			return o.endForfeit(ctx, state, side, forfeitAttempts)
		}

		req.IsRetry = true
		req.IsParseError = failure.isParseError
		req.ErrorMessage = failure.reason
		req.PreviousAttempt = failure.previousAttempt
		req.RejectedMoves = append([]string(nil), rejected...)
	}
}

// attemptFailure classifies one failed attempt for the retry prompt.
type attemptFailure struct {
	reason          string
	previousAttempt string
	isParseError    bool
}

const noMoveAttempt = "your response (no valid move found)"

// interpret reduces a raw reply (or a transport error) to either a candidate
// move or a failure description. Transport failures count exactly like
// unparseable replies.
func (o *Orchestrator) interpret(reply string, sendErr error) (candidate, explanation string, failure attemptFailure) {
	if sendErr != nil {
		return "", "", attemptFailure{
			reason:          fmt.Sprintf("No response received from the agent: %v. Please reply with JSON: {\"move\": \"...\", \"explanation\": \"...\"}", sendErr),
			previousAttempt: noMoveAttempt,
			isParseError:    true,
		}
	}
	res := parse.Interpret(reply)
	if res.Found() {
		return res.Move, res.Explanation, attemptFailure{}
	}
	reason := "Could not parse your move from your response. Please use PGN format (e.g. e4, Nf3, O-O, exd5)."
	if res.Failure == parse.FailureMalformed {
		reason = "Your response was not valid JSON. Please reply with exactly: {\"move\": \"e4\", \"explanation\": \"...\"}"
	}
	return "", "", attemptFailure{
		reason:          reason,
		previousAttempt: noMoveAttempt,
		isParseError:    true,
	}
}

func (o *Orchestrator) sendToMover(ctx context.Context, mover agent.Mover, side model.Side, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "match.agent_call", trace.WithAttributes(
		attribute.String("agent.id", mover.ID()),
		attribute.String("match.side", string(side)),
	))
	defer span.End()
	reply, err := mover.Send(ctx, system, user)
	if err != nil {
		span.RecordError(err)
	}
	return reply, err
}

// commitMove appends the applied move, charges bookkeeping, commits, and
// fires notifications. The move is only observable after the store write
// succeeds; a failed write propagates so the caller can replay the turn.
func (o *Orchestrator) commitMove(ctx context.Context, state *model.MatchState, side model.Side, mover agent.Mover, outcome rules.MoveOutcome, explanation string, conversation []model.Message) (*model.MatchResult, error) {
	state.FEN = outcome.NewFEN
	state.MoveHistory = append(state.MoveHistory, outcome.CanonicalMove)
	state.MoveLog = append(state.MoveLog, model.MoveLogEntry{
		Side:        side,
		AgentName:   mover.Name(),
		Move:        outcome.CanonicalMove,
		Explanation: strings.TrimSpace(explanation),
		Messages:    conversation,
	})
	state.MarkClockStarted(side)

	if outcome.GameOver {
		state.IsGameOver = true
		state.TerminationReason = outcome.Termination
		if !outcome.Drawn {
			state.Winner = state.SideName(outcome.Winner)
		}
	}
	state.Touch(time.Now())

	if err := o.store.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("match: commit move: %w", err)
	}

	countAttempt(ctx, string(side), true)
	o.logger.Info("match: move applied",
		"match_id", state.MatchID,
		"side", side,
		"agent", mover.Name(),
		"move", outcome.CanonicalMove,
		"ply", state.Ply(),
	)

	o.updateLive(state)
	o.notifyMove(state)
	o.notifyTime(state)

	if !outcome.GameOver {
		return nil, nil
	}
	return resultFromState(state), nil
}

func (o *Orchestrator) endCancelled(ctx context.Context, state *model.MatchState) (*model.MatchResult, error) {
	state.IsGameOver = true
	state.Winner = ""
	state.TerminationReason = model.TerminationCancelled
	state.Touch(time.Now())
	if err := o.store.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("match: commit cancellation: %w", err)
	}
	o.logger.Info("match: cancelled", "match_id", state.MatchID, "ply", state.Ply())
	o.notifyMove(state)
	return resultFromState(state), nil
}

func (o *Orchestrator) endTimeForfeit(ctx context.Context, state *model.MatchState, side model.Side) (*model.MatchResult, error) {
	state.SetRemaining(side, 0)
	state.IsGameOver = true
	state.Winner = state.SideName(side.Opponent())
	state.TerminationReason = model.TerminationTime
	state.Touch(time.Now())
	if err := o.store.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("match: commit time forfeit: %w", err)
	}
	o.logger.Info("match: time forfeit",
		"match_id", state.MatchID,
		"loser", state.SideName(side),
	)
	o.notifyMove(state)
	o.notifyTime(state)

	result := resultFromState(state)
	result.ForfeitBy = state.SideName(side)
	return result, nil
}

func (o *Orchestrator) endForfeit(ctx context.Context, state *model.MatchState, side model.Side, attempts []model.ForfeitAttempt) (*model.MatchResult, error) {
	state.IsGameOver = true
	state.Winner = state.SideName(side.Opponent())
	state.TerminationReason = model.TerminationForfeit
	state.Touch(time.Now())
	if err := o.store.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("match: commit forfeit: %w", err)
	}
	countForfeit(ctx, string(side))
	o.logger.Info("match: forfeit by retries",
		"match_id", state.MatchID,
		"loser", state.SideName(side),
		"attempts", len(attempts),
	)
	o.notifyMove(state)

	result := resultFromState(state)
	result.ForfeitBy = state.SideName(side)
	result.ForfeitAttempts = attempts
	return result, nil
}

// resultFromState derives the terminal summary from a committed terminal
// record.
func resultFromState(state *model.MatchState) *model.MatchResult {
	result := &model.MatchResult{
		MatchID:     state.MatchID,
		MoveHistory: append([]string(nil), state.MoveHistory...),
		Winner:      state.Winner,
		Termination: state.TerminationReason,
		Cancelled:   state.TerminationReason == model.TerminationCancelled,
	}
	if state.Winner != "" {
		if state.Winner == state.WhiteName {
			result.Loser = state.BlackName
		} else {
			result.Loser = state.WhiteName
		}
	}
	return result
}

func (o *Orchestrator) mover(side model.Side) agent.Mover {
	if side == model.SideWhite {
		return o.white
	}
	return o.black
}

// cancelled checks the shared marker. A failing check is logged and treated
// as not cancelled; the marker is advisory and the next boundary rechecks.
func (o *Orchestrator) cancelled(ctx context.Context, matchID string) bool {
	cancelled, err := o.store.Cancelled(ctx, matchID)
	if err != nil {
		o.logger.Warn("match: cancellation check failed", "match_id", matchID, "error", err)
		return false
	}
	return cancelled
}

func (o *Orchestrator) updateLive(state *model.MatchState) {
	if o.live == nil {
		return
	}
	white := state.Remaining(model.SideWhite)
	black := state.Remaining(model.SideBlack)
	if state.IsGameOver || white == nil || black == nil {
		o.live.Clear()
		return
	}
	next := state.SideToMove()
	o.live.Set(*white, *black, next, state.ClockStarted(next))
}

func (o *Orchestrator) clearLive() {
	if o.live != nil {
		o.live.Clear()
	}
}

// notifyMove and notifyTime deliver post-commit events. Hook panics are
// contained here; a hook can never take the orchestrator down.
func (o *Orchestrator) notifyMove(state *model.MatchState) {
	if o.hooks.OnMoveApplied == nil {
		return
	}
	defer o.recoverHook("on_move_applied")
	o.hooks.OnMoveApplied(state.Clone())
}

func (o *Orchestrator) notifyTime(state *model.MatchState) {
	if o.hooks.OnTimeUpdated == nil {
		return
	}
	defer o.recoverHook("on_time_updated")
	white, black := clock.RemainingNow(state, time.Now())
	o.hooks.OnTimeUpdated(white, black)
}

func (o *Orchestrator) recoverHook(name string) {
	if r := recover(); r != nil {
		o.logger.Error("match: notification hook panicked", "hook", name, "panic", r)
	}
}

func countAttempt(ctx context.Context, side string, success bool) {
	if counter, err := meter.Int64Counter("shinpan.match.attempts"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("side", side),
			attribute.Bool("success", success),
		))
	}
}

func countForfeit(ctx context.Context, side string) {
	if counter, err := meter.Int64Counter("shinpan.match.forfeits"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("side", side),
		))
	}
}
