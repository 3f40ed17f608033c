package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kifulabs/shinpan/internal/store"
)

// SSE event types emitted by the broker.
const (
	EventMove  = "move"
	EventTime  = "time"
	EventMatch = "match"
)

// Broker fans out match events to SSE subscribers. The orchestrator's hooks
// publish locally; when a Postgres store with LISTEN/NOTIFY is configured,
// Run additionally relays commits made by orchestrators in other processes.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts one SSE event to all subscribers. Never blocks: a
// subscriber with a full buffer misses the event.
func (b *Broker) Publish(eventType string, data []byte) {
	event := formatSSE(eventType, string(data))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// Run relays cross-process commit notifications from the Postgres store.
// It blocks, so call it in a goroutine; it returns when ctx is cancelled.
func (b *Broker) Run(ctx context.Context, pg *store.Postgres) {
	if err := pg.Listen(ctx, store.ChannelMatches); err != nil {
		b.logger.Error("broker: listen matches", "error", err)
		return
	}
	b.logger.Info("broker: listening for match notifications", "channel", store.ChannelMatches)

	for {
		_, matchID, err := pg.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}
		b.Publish(EventMatch, []byte(`{"match_id":"`+matchID+`"}`))
	}
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // buffered so broadcast never blocks
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// formatSSE formats one event as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
