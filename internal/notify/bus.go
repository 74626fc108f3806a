package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
)

// Bus is an in-process event bus implementing both Publisher and Source.
// Delivery is at-least-once per connected stream with a bounded buffer;
// a slow consumer drops events rather than blocking the write path.
type Bus struct {
	mu      sync.RWMutex
	streams map[*busStream]struct{}
	buffer  int
	closed  bool
	log     *logger.Logger
}

// NewBus creates an in-process event bus.
// Parameters:
//   - buffer: per-stream event buffer size; values < 1 fall back to 16.
//   - log: logger for dropped-event diagnostics; nil uses the default.
// Returns:
//   - *Bus: initialized bus.
func NewBus(buffer int, log *logger.Logger) *Bus {
	if buffer < 1 {
		buffer = 16
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Bus{
		streams: make(map[*busStream]struct{}),
		buffer:  buffer,
		log:     log,
	}
}

var errBusClosed = errors.New("notify: bus closed")

// Publish delivers the event to every stream subscribed to its channel.
func (b *Bus) Publish(_ context.Context, event domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	for s := range b.streams {
		s.deliver(event, b.log)
	}
	return nil
}

// Connect opens a new stream on the bus.
func (b *Bus) Connect(_ context.Context) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	s := &busStream{
		bus:      b,
		channels: make(map[string]struct{}),
		events:   make(chan domain.ChangeEvent, b.buffer),
		done:     make(chan struct{}),
	}
	b.streams[s] = struct{}{}
	return s, nil
}

// Close disconnects every stream and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.streams {
		s.closeLocked()
		delete(b.streams, s)
	}
}

type busStream struct {
	bus      *Bus
	mu       sync.Mutex
	channels map[string]struct{}
	events   chan domain.ChangeEvent
	done     chan struct{}
	closed   bool
}

func (s *busStream) Subscribe(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errBusClosed
	}
	s.channels[channel] = struct{}{}
	return nil
}

func (s *busStream) Events() <-chan domain.ChangeEvent { return s.events }

func (s *busStream) Done() <-chan struct{} { return s.done }

func (s *busStream) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.streams, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked assumes either the bus mutex or the stream mutex protects it
// against concurrent deliver calls.
func (s *busStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *busStream) deliver(event domain.ChangeEvent, log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.channels[event.Channel]; !ok {
		return
	}
	select {
	case s.events <- event:
	default:
		// Consumer is not keeping up. Drop: the state store is the
		// source of truth and polling self-heals.
		log.WithFields(logger.Fields{
			logger.FieldChannel: event.Channel,
			"event_type":        event.Type,
		}).Warn("Dropping change event for slow subscriber")
	}
}
