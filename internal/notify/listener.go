package notify

import (
	"context"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
)

// Handler consumes one change event.
type Handler func(domain.ChangeEvent)

// ListenerConfig controls reconnection behavior.
type ListenerConfig struct {
	InitialBackoff time.Duration // first reconnect delay; default 1s
	MaxBackoff     time.Duration // backoff cap; default 30s
	MaxAttempts    int           // consecutive failed connects before giving up; default 10
}

func (c *ListenerConfig) withDefaults() ListenerConfig {
	cfg := ListenerConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    10,
	}
	if c == nil {
		return cfg
	}
	if c.InitialBackoff > 0 {
		cfg.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		cfg.MaxBackoff = c.MaxBackoff
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	return cfg
}

// Listener maintains a subscription to every named channel, reconnecting
// with capped exponential backoff when the stream drops. Missed events are
// not replayed; clients that fell back to polling during the gap self-heal.
type Listener struct {
	source Source
	cfg    ListenerConfig
	log    *logger.Logger
}

// NewListener creates a listener over the given source.
// Parameters:
//   - source: event source to connect to.
//   - cfg: reconnection tuning; nil uses defaults.
//   - log: logger; nil uses the default.
// Returns:
//   - *Listener: initialized listener.
func NewListener(source Source, cfg *ListenerConfig, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Listener{source: source, cfg: cfg.withDefaults(), log: log}
}

// Run connects, subscribes to all channels, and pumps events into handler
// until ctx is cancelled. After MaxAttempts consecutive connect failures the
// listener logs and returns nil: realtime becomes unavailable but the rest
// of the system keeps functioning.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	attempts := 0
	backoff := l.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stream, err := l.connect(ctx)
		if err != nil {
			attempts++
			if attempts >= l.cfg.MaxAttempts {
				l.log.WithError(err).Error("Change listener giving up after max reconnect attempts")
				return nil
			}
			l.log.WithFields(logger.Fields{logger.FieldAttempt: attempts}).
				WithError(err).Warn("Change listener connect failed, backing off")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, l.cfg.MaxBackoff)
			continue
		}

		attempts = 0
		backoff = l.cfg.InitialBackoff
		l.log.WithFields(logger.Fields{logger.FieldCount: len(domain.AllChannels)}).
			Info("Change listener connected")

		l.pump(ctx, stream, handler)
		stream.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("Change listener stream dropped, reconnecting")
	}
}

// connect opens a stream and subscribes to every channel before resuming
// delivery, so no channel is left silently unsubscribed after a reconnect.
func (l *Listener) connect(ctx context.Context) (Stream, error) {
	stream, err := l.source.Connect(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range domain.AllChannels {
		if err := stream.Subscribe(ch); err != nil {
			stream.Close()
			return nil, err
		}
	}
	return stream, nil
}

func (l *Listener) pump(ctx context.Context, stream Stream, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				return
			}
			handler(event)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
