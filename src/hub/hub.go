package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/types"
)

// MessageBridge publishes room events to other relay instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(msg types.Message) error
	Available() bool
}

// Hub tracks all live connections and their room membership, and fans
// broadcasts out to room members. A connection belongs to at most one room
// (one board) for its lifetime.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]bool // board id -> set of clientIDs

	register   chan *Client
	unregister chan *Client
	incoming   chan types.Message
	broadcast  chan broadcastMsg
	localCast  chan broadcastMsg // messages from bridge, no re-publish

	handlers  map[string]types.MessageHandler // keyed by wire method
	onConnect []func(string)
	onDisconn []func(string)

	bridge       MessageBridge
	pingInterval time.Duration
	mu           sync.RWMutex
	logger       zerolog.Logger
	done         chan struct{}
}

type broadcastMsg struct {
	boardID string
	exclude string // clientID that must not receive the message, "" for none
	msg     types.Message
}

// New creates a hub whose connections are pinged every pingInterval.
func New(pingInterval time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		incoming:     make(chan types.Message, 256),
		broadcast:    make(chan broadcastMsg, 256),
		localCast:    make(chan broadcastMsg, 256),
		handlers:     make(map[string]types.MessageHandler),
		pingInterval: pingInterval,
		logger:       logger.With().Str("component", "hub").Logger(),
		done:         make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, published messages are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers a message from the bridge to local room members
// only. It does not re-publish, preventing infinite loops between instances.
func (h *Hub) BroadcastToLocal(msg types.Message) {
	h.localCast <- broadcastMsg{boardID: msg.BoardID, msg: msg}
}

// Run starts the hub event loop. Call in a goroutine. Messages from a single
// connection are dispatched in the order its read loop received them; across
// connections, arrival on the incoming channel is the only ordering.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case bm := <-h.broadcast:
			h.publishToBridge(bm.msg)
			h.broadcastToRoom(bm)
		case bm := <-h.localCast:
			h.broadcastToRoom(bm)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister queues a client for removal. Safe to call more than once for
// the same client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	c.startLiveness(h.pingInterval)
	h.logger.Info().Str("client_id", c.ID).Msg("client registered")

	for _, cb := range h.onConnect {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	h.dropFromRoomLocked(c)
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Str("board_id", c.Room()).Msg("client unregistered")

	for _, cb := range h.onDisconn {
		cb(c.ID)
	}
}

// dropFromRoomLocked removes the client from its room and deletes the room
// entry when it becomes empty. Callers hold h.mu.
func (h *Hub) dropFromRoomLocked(c *Client) {
	roomID := c.Room()
	if roomID == "" {
		return
	}
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}
