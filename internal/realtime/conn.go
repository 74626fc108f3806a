package realtime

import (
	"encoding/json"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/gorilla/websocket"
)

// Client-to-server and server-to-client message types.
const (
	msgAuth      = "auth"
	msgConnected = "connected"
	msgPing      = "ping"
	msgPong      = "pong"
	msgError     = "error"
)

type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type serverMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Conn wraps one authenticated websocket connection. All writes go through
// a buffered send channel serviced by a single writer goroutine; the
// websocket write side is not safe for concurrent use.
type Conn struct {
	userID string
	ws     *websocket.Conn
	hub    *Hub
	cfg    connConfig
	log    *logger.Logger

	send chan []byte
	done chan struct{}
}

type connConfig struct {
	heartbeatInterval time.Duration
	pongTimeout       time.Duration
	writeTimeout      time.Duration
	sendBuffer        int
}

func newConn(userID string, ws *websocket.Conn, hub *Hub, cfg connConfig, log *logger.Logger) *Conn {
	return &Conn{
		userID: userID,
		ws:     ws,
		hub:    hub,
		cfg:    cfg,
		log:    log.WithFields(logger.Fields{logger.FieldUserID: userID}),
		send:   make(chan []byte, cfg.sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues an event for delivery. Returns false when the connection's
// buffer is full or the connection is closing; the caller drops the event.
func (c *Conn) Send(event domain.ChangeEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		c.log.WithError(err).Error("Failed to encode change event")
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// run services the connection until either pump exits, then tears down.
func (c *Conn) run() {
	c.hub.register(c.userID, c)
	defer func() {
		c.hub.unregister(c.userID, c)
		close(c.done)
		c.ws.Close()
	}()

	go c.writePump()
	c.readPump()
}

// readPump consumes client messages and keeps the read deadline alive via
// pong handling. Exit closes the connection.
func (c *Conn) readPump() {
	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Debug("Ignoring malformed client message")
			continue
		}
		switch msg.Type {
		case msgPing:
			c.sendControl(serverMessage{Type: msgPong, Timestamp: time.Now().UnixMilli()})
		default:
			c.log.WithField("message_type", msg.Type).Debug("Ignoring unknown client message type")
		}
	}
}

// writePump drains the send channel and emits protocol-level pings on the
// heartbeat interval.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) sendControl(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
