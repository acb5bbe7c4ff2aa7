package hub

import (
	"sync"
	"time"

	"github.com/drawspace/relay/src/types"
)

// Client wraps one WebSocket connection. It owns the read and write pumps
// and the per-connection liveness state.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	Send        chan types.Message
	connectedAt time.Time

	mu     sync.RWMutex
	room   string
	alive  bool
	closed bool
	done   chan struct{}
}

// NewClient creates a client wrapper around an accepted connection.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		Send:        make(chan types.Message, 64),
		connectedAt: time.Now(),
		alive:       true,
		done:        make(chan struct{}),
	}
}

// Room returns the board id this client joined, or "".
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(id string) {
	c.mu.Lock()
	c.room = id
	c.mu.Unlock()
}

// markAlive records inbound traffic. Application messages double as
// liveness signals, so this is called for every message, not just pongs.
func (c *Client) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// sweepAlive reports whether traffic arrived since the previous sweep and
// arms the flag for the next one.
func (c *Client) sweepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// startLiveness runs the heartbeat loop: every interval the client is sent
// a ping, and a client with no traffic for a whole interval is evicted.
func (c *Client) startLiveness(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.sweepAlive() {
					c.hub.logger.Warn().Str("client_id", c.ID).Msg("liveness timeout, evicting")
					c.conn.Close()
					c.hub.Unregister(c)
					return
				}
				c.trySend(types.Message{Method: types.MethodPing, Timestamp: time.Now()})
			case <-c.done:
				return
			}
		}
	}()
}

// trySend queues a message without blocking. A peer whose buffer stays full
// is treated as dead rather than stalling the room.
func (c *Client) trySend(msg types.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// sendWithin queues a message, waiting up to grace for buffer space. A burst
// can momentarily fill the buffer of a peer whose write pump is draining
// normally; only a send still blocked after the grace means the peer cannot
// keep up.
func (c *Client) sendWithin(msg types.Message, grace time.Duration) bool {
	if c.trySend(msg) {
		return true
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case c.Send <- msg:
		return true
	case <-timer.C:
		return false
	case <-c.done:
		return false
	}
}

// isDone reports whether the client has been told to stop.
func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ReadPump reads messages from the connection and routes them to the hub.
// It preserves the inbound order of the single connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.markAlive()
		msg.ClientID = c.ID
		msg.Timestamp = time.Now()
		select {
		case c.hub.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// WritePump writes messages from the send channel to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps. Idempotent. The Send channel
// is never closed; the pumps exit via done so a concurrent broadcast can
// never hit a closed channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
