// Package agent defines the move-producing agent port and its HTTP-backed
// implementations.
//
// A Mover is deliberately one capability: send a prompt, get raw text back.
// Adapters do no retrying and no response interpretation — the retry budget
// and parsing live in the orchestrator, so every provider failure surfaces
// here as a plain error and costs exactly one attempt there.
package agent

import "context"

// Mover produces raw text replies to prompts. Implementations may fail, may
// be slow, and may return text that contains no usable move.
type Mover interface {
	// ID is the stable identifier used for configuration-driven selection.
	ID() string
	// Name is the display identifier recorded in match state.
	Name() string
	// Send submits the prompts and returns the raw reply text.
	Send(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
