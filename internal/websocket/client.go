package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	idleTimeout    = 60 * time.Second
	pingInterval   = idleTimeout * 9 / 10
	maxInboundSize = 4096
	outboundBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect through the gateway, which enforces origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one connected leaderboard viewer.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a control frame sent by a viewer.
type ClientMessage struct {
	Type   string `json:"type"`
	Window string `json:"window,omitempty"`
}

var errUnknownWindow = errors.New("window must be one of global, daily, weekly")

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, outboundBuffer),
		logger: logger.With("client_id", id),
	}
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := NewClient(hub, conn, logger)
	hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
	c.logger.Debug("websocket connected", "remote_addr", r.RemoteAddr)
}

// readLoop handles control frames until the peer goes away, then detaches
// the client from the hub.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idleTimeout)) }
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("malformed client frame", "error", err)
			c.replyError("invalid message format")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		window, err := domain.ParseWindow(msg.Window)
		if err != nil {
			c.replyError(errUnknownWindow.Error())
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, window)
			c.reply(Message{Type: "subscribed", Window: window, Data: map[string]string{"status": "ok"}})
		} else {
			c.hub.Unsubscribe(c, window)
			c.reply(Message{Type: "unsubscribed", Window: window, Data: map[string]string{"status": "ok"}})
		}
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	default:
		c.logger.Debug("ignoring client frame", "type", msg.Type)
	}
}

// writeLoop is the only writer of the connection. It exits when the hub
// closes send or a write fails.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) replyError(text string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": text}})
}

// reply queues a direct response to this client. It is dropped when the
// outbound buffer is full.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding reply", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("outbound buffer full, dropping reply", "type", msg.Type)
	}
}
