package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lingolink/pkg/interfaces"
)

// Connection wraps one client socket. All writes go through a single
// writer goroutine fed by a buffered channel, so WriteJSON is safe from
// any goroutine and never serializes frames onto the wire concurrently.
// A full buffer is reported to the caller instead of blocking: one slow
// student must not stall a broadcast.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	writeTimeout time.Duration

	closeOnce sync.Once

	mu            sync.RWMutex
	role          string
	language      string
	name          string
	classroomCode string
	registered    bool
	lastSeen      time.Time
}

var _ interfaces.Conn = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine. The id is
// assigned here and never changes; it doubles as the wire "sessionId" in
// the connection ack.
func NewConnection(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		lastSeen:     time.Now(),
	}

	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a frame for delivery. It fails fast with
// ErrSendBufferFull when the client cannot keep up; the caller treats that
// as an isolated delivery failure.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrMarshalFailed
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the socket down exactly once and stops the writer.
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

// Done is closed when the connection is shut down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// SetIdentity records role, language, and display name from an accepted
// register frame.
func (c *Connection) SetIdentity(role, language, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.language = language
	c.name = name
	c.registered = true
}

// SetClassroom records the bound classroom code ("" to unbind).
func (c *Connection) SetClassroom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classroomCode = code
}

// Touch refreshes the liveness timestamp.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

func (c *Connection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Connection) ClassroomCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classroomCode
}

func (c *Connection) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}
