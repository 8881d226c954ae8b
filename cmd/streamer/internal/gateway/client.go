package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/streamer/internal/protocol"
	"github.com/finwatch/price-stream/cmd/streamer/internal/registry"
)

const (
	maxMessageSize = 4 * 1024
	writeWait      = 5 * time.Second
	sendBuffer     = 256
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("send buffer full")
)

// Client adapts one WebSocket connection into a registry.Session. Writes
// are serialized through the send channel; the read pump owns disconnect
// cleanup so every exit path unregisters exactly once.
type Client struct {
	conn        net.Conn
	registry    *registry.Registry
	watchlistID int64
	id          string
	idleTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(conn net.Conn, reg *registry.Registry, watchlistID int64, idleTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		conn:        conn,
		registry:    reg,
		watchlistID: watchlistID,
		id:          uuid.NewString(),
		idleTimeout: idleTimeout,
		logger:      logger,
		send:        make(chan []byte, sendBuffer),
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) ID() string { return c.id }

// Close shuts the send channel; writePump drains and closes the socket.
// Safe to call from any goroutine, any number of times.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Send enqueues a payload without blocking. A full buffer or a closed
// session is an error; the registry treats either as a dead connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *Client) sendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(b)
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Unregister(c, c.watchlistID)
		c.conn.Close()
	}()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Idle, not dead: probe and keep waiting.
				if c.sendJSON(protocol.Ping{Type: protocol.MessageTypePing}) != nil {
					return
				}
				continue
			}
			return
		}

		if header.Length > maxMessageSize {
			c.logger.Warn("inbound message too big", zap.Int64("size", header.Length))
			return
		}
		if !header.Fin {
			c.logger.Warn("client sent fragmented message (not supported)")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong, ws.OpText:
			// Inbound traffic only resets the idle clock; this stream has
			// no client commands.
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := wsutil.WriteServerText(c.conn, msg); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.Write(ws.CompiledClose)
}
