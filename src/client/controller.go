// Package client owns the single logical connection a drawing client keeps
// to the relay for one board: connect, reconnect with backoff, queue
// outbound updates while offline, and deliver inbound events to registered
// callbacks.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/types"
)

// Status of the logical connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Options configures a Controller.
type Options struct {
	// URL of the relay WebSocket endpoint.
	URL string
	// BoardID this logical connection is scoped to.
	BoardID string
	// DialTimeout bounds a single connection attempt. Default 5s.
	DialTimeout time.Duration
	// BackoffBase is the first reconnect delay; it doubles per failed
	// attempt. Default 1s.
	BackoffBase time.Duration
	// MaxAttempts caps consecutive failed attempts before giving up.
	// Default 5.
	MaxAttempts int
	// Dialer may be replaced in tests. Defaults to a real WebSocket dialer.
	Dialer Dialer
	Logger zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Dialer == nil {
		o.Dialer = NewWebSocketDialer()
	}
}

// Controller maintains one logical connection to the relay. Callbacks are
// registered once on the controller and survive every reconnect.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex // serializes writes to the active connection
	conn     types.Conn
	status   Status
	queue    []types.Message // outbound, FIFO while not connected
	draining bool            // queued updates still being flushed after a reconnect
	local    types.Snapshot  // last known snapshot, served before any round-trip
	hasSnap  bool
	closed   bool

	onUpdate       []func(types.Message)
	onDeleted      []func(boardID string)
	onRenamed      []func(boardID, name string)
	onStateRequest []func()
	onStatus       []func(Status)

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a controller for one board. Call Run to start connecting.
func New(opts Options) *Controller {
	opts.withDefaults()
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "sync-client").Str("board_id", opts.BoardID).Logger(),
		status: StatusDisconnected,
		done:   make(chan struct{}),
	}
}

// OnUpdate registers a callback for inbound snapshot updates.
func (c *Controller) OnUpdate(cb func(types.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = append(c.onUpdate, cb)
}

// OnDeleted registers a callback for board deletion notices.
func (c *Controller) OnDeleted(cb func(boardID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDeleted = append(c.onDeleted, cb)
}

// OnRenamed registers a callback for board rename notices.
func (c *Controller) OnRenamed(cb func(boardID, name string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRenamed = append(c.onRenamed, cb)
}

// OnStateRequest registers a callback for the relay asking this client to
// publish its current canvas (the client is the source of truth).
func (c *Controller) OnStateRequest(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateRequest = append(c.onStateRequest, cb)
}

// OnStatus registers a callback for connection status changes.
func (c *Controller) OnStatus(cb func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, cb)
}

// Status returns the current connection status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CachedSnapshot returns the locally cached snapshot so the UI is not blank
// while the authoritative state is in flight.
func (c *Controller) CachedSnapshot() (types.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local, c.hasSnap
}

// QueueLen reports how many outbound updates are waiting for a connection.
func (c *Controller) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run starts the connect/reconnect loop. It returns after Close, or once
// MaxAttempts consecutive connection attempts have failed.
func (c *Controller) Run() {
	c.wg.Add(1)
	go c.run()
}

// Close tears the logical connection down.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.setStatus(StatusDisconnected)
}

// PublishSnapshot sends a whole-frame update, or queues it if the
// connection is down. Queued updates keep FIFO order; there is no
// de-duplication, which is fine under last-write-wins.
func (c *Controller) PublishSnapshot(snap types.Snapshot, name string, width, height int) {
	msg := types.Message{
		Method:    types.MethodCanvasUpdate,
		BoardID:   c.opts.BoardID,
		Name:      name,
		ImageData: snap.DataURL(),
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	}
	c.mu.Lock()
	c.local = snap
	c.hasSnap = true
	conn := c.conn
	// While older updates are still queued or draining, a live send would
	// overtake them and lose the newest frame under last-write-wins; append
	// behind them instead.
	if c.status != StatusConnected || conn == nil || len(c.queue) > 0 || c.draining {
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.send(conn, msg); err != nil {
		c.logger.Warn().Err(err).Msg("send failed, queueing update")
		c.mu.Lock()
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
	}
}

// RequestState asks the relay to re-send the current snapshot.
func (c *Controller) RequestState() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.send(conn, types.Message{
		Method:    types.MethodStateRequest,
		BoardID:   c.opts.BoardID,
		Timestamp: time.Now(),
	})
}

// send serializes writes: the read loop answers pings while the caller
// publishes snapshots, and a WebSocket connection allows one writer at a
// time.
func (c *Controller) send(conn types.Conn, msg types.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Controller) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setStatus(StatusConnecting)
		conn, err := c.dial()
		if err != nil {
			attempt++
			if attempt >= c.opts.MaxAttempts {
				c.logger.Error().Err(err).Int("attempts", attempt).Msg("giving up reconnecting")
				c.setStatus(StatusDisconnected)
				return
			}
			delay := c.opts.BackoffBase << (attempt - 1)
			c.logger.Warn().Err(err).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("connection attempt failed")
			c.setStatus(StatusReconnecting)
			select {
			case <-time.After(delay):
				continue
			case <-c.done:
				return
			}
		}
		attempt = 0

		if err := c.handshake(conn); err != nil {
			c.logger.Warn().Err(err).Msg("handshake failed")
			conn.Close()
			c.setStatus(StatusReconnecting)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setStatus(StatusConnected)
		c.drainQueue(conn)

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		conn.Close()
		if closed {
			return
		}
		c.setStatus(StatusReconnecting)
	}
}

func (c *Controller) dial() (types.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()
	return c.opts.Dialer.Dial(ctx, c.opts.URL)
}

// handshake opens the room membership for the board.
func (c *Controller) handshake(conn types.Conn) error {
	return c.send(conn, types.Message{
		Method:    types.MethodJoin,
		BoardID:   c.opts.BoardID,
		Timestamp: time.Now(),
	})
}

// drainQueue sends updates queued while offline, strictly in order. The
// draining flag keeps concurrent publishes behind the queue until the last
// queued update is on the wire.
func (c *Controller) drainQueue(conn types.Conn) {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.send(conn, msg); err != nil {
			// Put it back; the reconnect cycle will retry.
			c.mu.Lock()
			c.queue = append([]types.Message{msg}, c.queue...)
			c.draining = false
			c.mu.Unlock()
			return
		}
	}
}

func (c *Controller) readLoop(conn types.Conn) {
	for {
		var msg types.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.dispatch(conn, msg)
	}
}

func (c *Controller) dispatch(conn types.Conn, msg types.Message) {
	c.mu.Lock()
	onUpdate := append([]func(types.Message){}, c.onUpdate...)
	onDeleted := append([]func(string){}, c.onDeleted...)
	onRenamed := append([]func(string, string){}, c.onRenamed...)
	onStateRequest := append([]func(){}, c.onStateRequest...)
	c.mu.Unlock()

	switch msg.Method {
	case types.MethodCanvasUpdate:
		if snap, err := types.ParseDataURL(msg.ImageData); err == nil {
			c.mu.Lock()
			c.local = snap
			c.hasSnap = true
			c.mu.Unlock()
		}
		for _, cb := range onUpdate {
			cb(msg)
		}
	case types.MethodBoardDeleted:
		c.mu.Lock()
		c.hasSnap = false
		c.local = types.Snapshot{}
		c.mu.Unlock()
		for _, cb := range onDeleted {
			cb(msg.BoardID)
		}
	case types.MethodBoardRenamed:
		for _, cb := range onRenamed {
			cb(msg.BoardID, msg.Name)
		}
	case types.MethodStateRequest:
		// If we hold a local snapshot, publish it; it may make this client
		// the board's source of truth.
		c.mu.Lock()
		snap, has := c.local, c.hasSnap
		c.mu.Unlock()
		if has {
			c.send(conn, types.Message{
				Method:    types.MethodCanvasUpdate,
				BoardID:   c.opts.BoardID,
				ImageData: snap.DataURL(),
				Timestamp: time.Now(),
			})
		}
		for _, cb := range onStateRequest {
			cb()
		}
	case types.MethodPing:
		c.send(conn, types.Message{Method: types.MethodPong, Timestamp: time.Now()})
	}
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	cbs := append([]func(Status){}, c.onStatus...)
	c.mu.Unlock()

	c.logger.Debug().Str("status", string(s)).Msg("status change")
	for _, cb := range cbs {
		cb(s)
	}
}
