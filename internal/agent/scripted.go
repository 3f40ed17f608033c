package agent

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays a fixed sequence of replies. Used in tests and demo
// matches; once the script is exhausted every further call fails, which
// exercises the orchestrator's transport-failure path.
type Scripted struct {
	id   string
	name string

	mu      sync.Mutex
	replies []string
	next    int

	// Sent records every (system, user) prompt pair received, for
	// assertions on composed prompts.
	Sent [][2]string
}

// NewScripted creates a scripted agent that returns the given replies in
// order.
func NewScripted(id, name string, replies ...string) *Scripted {
	return &Scripted{id: id, name: name, replies: replies}
}

func (a *Scripted) ID() string   { return a.id }
func (a *Scripted) Name() string { return a.name }

// Send returns the next scripted reply.
func (a *Scripted) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Sent = append(a.Sent, [2]string{systemPrompt, userPrompt})
	if a.next >= len(a.replies) {
		return "", fmt.Errorf("scripted: no reply %d for agent %q", a.next+1, a.id)
	}
	reply := a.replies[a.next]
	a.next++
	return reply, nil
}

// Calls reports how many times Send was invoked.
func (a *Scripted) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Sent)
}
