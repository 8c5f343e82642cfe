package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options tunes a connection's pumps
type Options struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// DefaultOptions returns a 30s ping with a 60s read deadline
func DefaultOptions() Options {
	return Options{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendBuffer:      100,
		MaxMessageBytes: 8192,
	}
}

// Connection wraps a WebSocket with a single writer goroutine.
// Send never blocks; a slow reader loses frames rather than stalling the event loop.
type Connection struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	writeCh    chan []byte
	opts       Options
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewConnection assigns the connection a fresh id and starts its writer
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
	if conn != nil {
		c.remoteAddr = conn.RemoteAddr().String()
		go c.writeLoop()
	}
	return c
}

// ID returns the connection id used as the waiting-pool key
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// writeLoop is the only goroutine writing data frames. It also sends pings.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues an encoded frame
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
