package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of the websocket surface the hub drives. It is satisfied
// by *websocket.Conn; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one editor connection on the multiplexed channel.
type Client struct {
	ID    string
	Name  string
	Color string
	Path  string

	conn Conn
	send chan []byte

	latencyMS int64
	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn Conn, path, id, name, color string, queueDepth int) *Client {
	return &Client{
		ID:    id,
		Name:  name,
		Color: color,
		Path:  path,
		conn:  conn,
		send:  make(chan []byte, queueDepth),
		done:  make(chan struct{}),
	}
}

// Latency reports the last measured round trip in milliseconds.
func (c *Client) Latency() int64 {
	return atomic.LoadInt64(&c.latencyMS)
}

func (c *Client) setLatency(ms int64) {
	atomic.StoreInt64(&c.latencyMS, ms)
}

// trySend queues a frame without blocking. A full queue means the consumer
// cannot keep up; the connection is dropped and the client reconnects.
func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the wire. It exits when the client is
// closed or a write fails, closing the connection either way so the read
// pump unblocks.
func (c *Client) writePump(writeTimeout time.Duration) {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}
