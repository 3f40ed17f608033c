// Command shinpan-turn plays a bounded batch of turns for one match and
// exits. It is the stateless deployment shape: every invocation resumes from
// the committed record, commits its moves through the configured store, and
// leaves the record ready for the next invocation. Pointed at a shared store
// (postgres, redis, or a file directory), any number of invocations can take
// turns driving the same match.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kifulabs/shinpan"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	matchID := flag.String("match", "", "match ID to play (required)")
	maxTurns := flag.Int("turns", 1, "applied moves to play this invocation (0 plays to the end)")
	flag.Parse()

	if *matchID == "" {
		fmt.Fprintln(os.Stderr, "usage: shinpan-turn -match <id> [-turns n]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *matchID, *maxTurns); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, matchID string, maxTurns int) error {
	app, err := shinpan.New(shinpan.WithVersion(version))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	state, result, err := app.PlayTurns(ctx, matchID, maxTurns)
	if err != nil {
		return err
	}

	// The final line is machine-readable: the caller decides whether to
	// invoke again based on is_game_over.
	summary := map[string]any{
		"match_id":     state.MatchID,
		"ply":          state.Ply(),
		"fen":          state.FEN,
		"is_game_over": state.IsGameOver,
	}
	if result != nil {
		summary["winner"] = result.Winner
		summary["termination_reason"] = result.Termination
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
