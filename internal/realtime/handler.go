package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TokenVerifier authenticates the token carried by the websocket auth
// handshake.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// TokenVerifierFunc adapts a function to the TokenVerifier interface.
type TokenVerifierFunc func(ctx context.Context, token string) (string, error)

// Verify calls the wrapped function.
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

const authDeadline = 10 * time.Second

var errNotAuthMessage = errors.New("first websocket message must be auth")

// Handler upgrades HTTP requests to websocket connections and runs the
// auth handshake before handing the connection to the hub.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	cfg      connConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates a websocket handler.
// Parameters:
//   - hub: connection registry and event dispatcher.
//   - verifier: token authenticator for the handshake.
//   - cfg: realtime configuration (heartbeat, timeouts, buffer size).
//   - log: logger; nil uses the default.
// Returns:
//   - *Handler: initialized handler.
func NewHandler(hub *Hub, verifier TokenVerifier, cfg *config.RealtimeConfig, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetDefault()
	}
	if cfg == nil {
		cfg = &config.RealtimeConfig{}
	}
	cc := connConfig{
		heartbeatInterval: cfg.HeartbeatInterval,
		pongTimeout:       cfg.PongTimeout,
		writeTimeout:      cfg.WriteTimeout,
		sendBuffer:        cfg.SendBuffer,
	}
	if cc.heartbeatInterval <= 0 {
		cc.heartbeatInterval = 30 * time.Second
	}
	if cc.pongTimeout <= 0 {
		cc.pongTimeout = cc.heartbeatInterval*2 + cc.heartbeatInterval/2
	}
	if cc.writeTimeout <= 0 {
		cc.writeTimeout = 10 * time.Second
	}
	if cc.sendBuffer <= 0 {
		cc.sendBuffer = 16
	}
	return &Handler{
		hub:      hub,
		verifier: verifier,
		cfg:      cc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the app origin; token auth is
			// the actual gate
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve handles GET /ws: upgrade, authenticate, then pump until the client
// disconnects.
// Parameters:
//   - c: gin request context.
func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	userID, err := h.authenticate(c.Request.Context(), ws)
	if err != nil {
		h.log.WithError(err).Info("Websocket authentication failed")
		h.writeControl(ws, serverMessage{Type: msgError, Message: "authentication failed"})
		ws.Close()
		return
	}

	h.writeControl(ws, serverMessage{Type: msgConnected, Timestamp: time.Now().UnixMilli()})
	h.log.WithFields(logger.Fields{logger.FieldUserID: userID}).Info("Websocket connected")

	conn := newConn(userID, ws, h.hub, h.cfg, h.log)
	conn.run()
}

// authenticate reads the first client message, which must be an auth message
// with a verifiable token.
func (h *Handler) authenticate(ctx context.Context, ws *websocket.Conn) (string, error) {
	ws.SetReadDeadline(time.Now().Add(authDeadline))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", err
	}
	if msg.Type != msgAuth {
		return "", errNotAuthMessage
	}
	return h.verifier.Verify(ctx, msg.Token)
}

func (h *Handler) writeControl(ws *websocket.Conn, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(h.cfg.writeTimeout))
	ws.WriteMessage(websocket.TextMessage, data)
	ws.SetWriteDeadline(time.Time{})
}
