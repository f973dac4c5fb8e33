package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents a single WebSocket connection. It implements
// sessions.Session so devices can be bound to it.
type Client struct {
	id         string
	conn       *websocket.Conn
	server     *Server
	remoteAddr string
	send       chan []byte

	mu        sync.Mutex
	seq       int64
	closed    bool
	connected bool
	devices   map[string]struct{} // device IDs subscribed over this connection
}

func NewClient(conn *websocket.Conn, server *Server, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		server:     server,
		remoteAddr: conn.RemoteAddr().String(),
		send:       make(chan []byte, sendBuffer),
		devices:    make(map[string]struct{}),
	}
}

// Run starts the write pump and blocks in the read pump until the
// connection closes.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// readPump handles frames one at a time, so a connection's own commands are
// applied in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.server.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		c.handleFrame(ctx, data)
	}
}

// writePump writes frames and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame parses and dispatches a single frame.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}

	switch frameType {
	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
			return
		}
		if req.Method == "" {
			c.sendError(req.ID, protocol.ErrInvalidRequest, "method is required")
			return
		}
		c.server.router.Handle(ctx, c, &req)

	default:
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
	}
}

// SendResponse queues a response frame; a full buffer drops it.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	c.enqueue(data, "response")
}

// SendEvent queues an event frame stamped with the next connection sequence
// number. It never blocks: a full buffer drops the event.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Stamp under the lock so seq order matches queue order.
	c.seq++
	event.Seq = c.seq
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "event", event.Event, "error", err)
		return
	}
	c.push(data, event.Event)
}

func (c *Client) enqueue(data []byte, what string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.push(data, what)
}

// push requires c.mu.
func (c *Client) push(data []byte, what string) {
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.id, "frame", what)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer address of the connection.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// MarkConnected records a successful connect handshake.
func (c *Client) MarkConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

// Connected reports whether the client sent connect. It is informational:
// commands are accepted without it.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// AddDevice remembers that deviceID subscribed over this connection.
func (c *Client) AddDevice(deviceID string) {
	c.mu.Lock()
	c.devices[deviceID] = struct{}{}
	c.mu.Unlock()
}

// RemoveDevice forgets deviceID, typically after it unsubscribed.
func (c *Client) RemoveDevice(deviceID string) {
	c.mu.Lock()
	delete(c.devices, deviceID)
	c.mu.Unlock()
}

// Devices returns the device IDs subscribed over this connection, sorted.
func (c *Client) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.devices))
	for id := range c.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
