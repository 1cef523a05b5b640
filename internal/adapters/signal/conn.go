package signal

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"livecast/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

// Conn is one client's duplex signaling channel. The write pump owns the
// websocket for writes; everyone else goes through the buffered send
// channel and a full buffer drops the frame rather than blocking.
type Conn struct {
	sid      string
	identity domain.Identity
	ws       *websocket.Conn
	send     chan []byte

	// roomID the caller produces into, set on the send-transport path.
	// Binary frames on this channel append recording chunks for it.
	recMu   sync.RWMutex
	recRoom domain.RoomID

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn, sid string, identity domain.Identity) *Conn {
	return &Conn{
		sid:      sid,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, 32),
	}
}

func (c *Conn) Identity() domain.Identity { return c.identity }

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (c *Conn) setRecordingRoom(id domain.RoomID) {
	c.recMu.Lock()
	c.recRoom = id
	c.recMu.Unlock()
}

func (c *Conn) recordingRoom() domain.RoomID {
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	return c.recRoom
}
