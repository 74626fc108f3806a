package notify

import (
	"context"

	"github.com/dkessler/classpulse/internal/domain"
)

// Publisher publishes change events onto named channels. The state-store
// write path calls this directly, so every observed mutation produces
// exactly one event without relying on database triggers.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// Stream is one live subscription session against an event source. When the
// underlying transport drops, Done is closed and the stream delivers nothing
// further; missed events are not replayed.
type Stream interface {
	// Subscribe adds a channel to the stream. Must be called again on a
	// fresh stream after a reconnect.
	Subscribe(channel string) error

	// Events yields events for all subscribed channels.
	Events() <-chan domain.ChangeEvent

	// Done is closed when the stream disconnects.
	Done() <-chan struct{}

	Close() error
}

// Source produces streams. Any durable pub-sub or an in-process bus
// satisfies it.
type Source interface {
	Connect(ctx context.Context) (Stream, error)
}
