package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connState is a connection's position in the per-connection state
// machine (Connecting -> Registering -> Active -> Closed).
type connState int

const (
	connConnecting connState = iota
	connRegistering
	connActive
	connClosed
)

// sendQueueDepth bounds how many outbound frames may be buffered. Once it
// is full, Send returns an error for the new frame instead of blocking
// the dispatcher; the connection itself stays open.
const sendQueueDepth = 64

// Connection wraps one robot's websocket, serializing writes through a
// buffered channel: gorilla websocket connections are not safe for
// concurrent writers, so every send goes through this queue rather than
// calling WriteMessage directly from arbitrary goroutines.
type Connection struct {
	ID      string
	RobotID string
	conn    *websocket.Conn

	mu    sync.Mutex
	state connState

	send chan []byte
	done chan struct{}
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		ID:    uuid.NewString(),
		conn:  conn,
		state: connConnecting,
		send:  make(chan []byte, sendQueueDepth),
		done:  make(chan struct{}),
	}
}

// Send enqueues an envelope for the writer goroutine. Returns an error if
// the connection is closed or the send queue is full (a stuck robot).
func (c *Connection) Send(env Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == "" {
		env.Timestamp = NewTimestamp(time.Now())
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: marshal envelope: %w", err)
	}

	c.mu.Lock()
	closed := c.state == connClosed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("protocol: connection %s is closed", c.ID)
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("protocol: send queue full for connection %s, robot %s", c.ID, c.RobotID)
	}
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) setRobotID(id string) {
	c.mu.Lock()
	c.RobotID = id
	c.mu.Unlock()
}

// writeLoop drains the send queue onto the wire. It is the only goroutine
// permitted to call conn.WriteMessage.
func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears down the connection's write side; the read loop closing the
// underlying conn is the caller's responsibility.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == connClosed {
		c.mu.Unlock()
		return
	}
	c.state = connClosed
	c.mu.Unlock()
	close(c.done)
	_ = c.conn.Close()
}
