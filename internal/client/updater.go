package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/gorilla/websocket"
)

// Mode names the active update driver. Exactly one driver refreshes state at
// any moment.
type Mode string

const (
	ModePush    Mode = "push"
	ModePolling Mode = "polling"
)

// Fetcher pulls current state from the API. Invoked only while the updater
// is in polling mode, and once on every switch into it.
type Fetcher func(ctx context.Context) error

// EventHandler receives change events delivered over the push channel.
type EventHandler func(domain.ChangeEvent)

// Config tunes the updater.
type Config struct {
	URL               string        // websocket endpoint, e.g. ws://host/ws
	Token             string        // auth token for the handshake
	PollInterval      time.Duration // polling cadence; default 5s
	FallbackDelay     time.Duration // push silence before falling back; default 15s
	ReconnectInterval time.Duration // delay between dial attempts; default 3s
	HandshakeTimeout  time.Duration // dial + auth budget; default 10s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = 15 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 3 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Dialer abstracts the websocket dial so tests can inject a local server or
// a failing transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (*websocket.Conn, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
}

func (d gorillaDialer) Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// Updater keeps client state fresh with a push channel and a polling
// fallback. Push is preferred; when the channel goes silent past the
// fallback delay the updater polls instead, while reconnecting in the
// background. The two drivers never run at the same time.
type Updater struct {
	cfg     Config
	fetch   Fetcher
	onEvent EventHandler
	dialer  Dialer
	log     *logger.Logger
	now     func() time.Time

	mu           sync.Mutex
	connected    bool
	lastActivity time.Time
}

// NewUpdater creates a hybrid updater.
// Parameters:
//   - cfg: connection and timing configuration.
//   - fetch: state refresh used while polling.
//   - onEvent: push event consumer.
//   - log: logger; nil uses the default.
// Returns:
//   - *Updater: initialized updater; call Run to start it.
func NewUpdater(cfg Config, fetch Fetcher, onEvent EventHandler, log *logger.Logger) *Updater {
	if log == nil {
		log = logger.GetDefault()
	}
	cfg = cfg.withDefaults()
	return &Updater{
		cfg:     cfg,
		fetch:   fetch,
		onEvent: onEvent,
		dialer:  gorillaDialer{handshakeTimeout: cfg.HandshakeTimeout},
		log:     log,
		now:     time.Now,
	}
}

// Run drives both channels until ctx is cancelled.
// Parameters:
//   - ctx: context bounding the updater.
// Returns:
//   - error: ctx.Err() on cancellation.
func (u *Updater) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		u.pushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		u.pollLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// Mode reports the currently active driver.
func (u *Updater) Mode() Mode {
	if u.Healthy() {
		return ModePush
	}
	return ModePolling
}

// Healthy reports whether the push channel is connected and recently active.
func (u *Updater) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected && u.now().Sub(u.lastActivity) < u.cfg.FallbackDelay
}

func (u *Updater) touch() {
	u.mu.Lock()
	u.lastActivity = u.now()
	u.mu.Unlock()
}

func (u *Updater) setConnected(v bool) {
	u.mu.Lock()
	u.connected = v
	u.lastActivity = u.now()
	u.mu.Unlock()
}

// pushLoop dials, authenticates and reads events, redialing after the
// reconnect interval on any failure.
func (u *Updater) pushLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := u.runConnection(ctx); err != nil && ctx.Err() == nil {
			u.log.WithError(err).Debug("Push channel lost, will redial")
		}
		u.setConnected(false)

		timer := time.NewTimer(u.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (u *Updater) runConnection(ctx context.Context) error {
	conn, err := u.dialer.Dial(ctx, u.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket on cancellation so ReadMessage unblocks
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	auth := map[string]string{"type": "auth", "token": u.cfg.Token}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}

	conn.SetPingHandler(func(appData string) error {
		u.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), u.now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		u.touch()

		var event domain.ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			u.log.WithError(err).Debug("Ignoring malformed push message")
			continue
		}
		switch event.Type {
		case "connected":
			u.setConnected(true)
			u.log.Info("Push channel established")
		case "pong", "error", "":
		default:
			if u.onEvent != nil {
				u.onEvent(event)
			}
		}
	}
}

// pollLoop fetches on the poll interval whenever the push channel is
// unhealthy. The check runs before each wait, so the first fetch happens
// immediately at startup and as soon as a fallback is observed rather than
// a full interval later.
func (u *Updater) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	wasPolling := false
	for {
		if u.Healthy() {
			if wasPolling {
				u.log.Info("Push channel recovered, polling stopped")
			}
			wasPolling = false
		} else {
			if !wasPolling {
				u.log.Warn("Push channel unhealthy, falling back to polling")
				wasPolling = true
			}
			if err := u.fetch(ctx); err != nil && ctx.Err() == nil {
				u.log.WithError(err).Warn("Polling fetch failed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
