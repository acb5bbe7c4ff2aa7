package hub

import (
	"fmt"
	"time"

	"github.com/drawspace/relay/src/types"
)

// RegisterHandler registers a handler for a wire method.
func (h *Hub) RegisterHandler(method string, handler types.MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = handler
}

// OnConnection registers a callback for new connections.
func (h *Hub) OnConnection(cb func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for disconnections.
func (h *Hub) OnDisconnection(cb func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// Join admits a connection into the room for a board. A connection may join
// exactly one room for its lifetime.
func (h *Hub) Join(boardID, clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	if room := c.Room(); room != "" {
		return fmt.Errorf("client %s already joined board %s", clientID, room)
	}
	if h.rooms[boardID] == nil {
		h.rooms[boardID] = make(map[string]bool)
	}
	h.rooms[boardID][clientID] = true
	c.setRoom(boardID)
	return nil
}

// Leave removes a connection from its room. Leaving twice, or without ever
// joining, is a no-op.
func (h *Hub) Leave(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	h.dropFromRoomLocked(c)
	c.setRoom("")
}

// MembersOf returns the clientIDs subscribed to a board, excluding the
// given connection (pass "" to include everyone).
func (h *Hub) MembersOf(boardID, exclude string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[boardID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

// Publish fans a message out to every member of the board's room except the
// sender, and forwards it to the bridge when one is attached. Callers may be
// handlers running inside the event loop, so the enqueue must never block
// the caller; an overflowing buffer hands the message off to a goroutine
// that waits for space, trading order across the overflow for delivery.
func (h *Hub) Publish(boardID, excludeClientID string, msg types.Message) {
	bm := broadcastMsg{boardID: boardID, exclude: excludeClientID, msg: msg}
	select {
	case h.broadcast <- bm:
	case <-h.done:
	default:
		h.logger.Warn().Str("board_id", boardID).Msg("broadcast buffer full, deferring")
		go func() {
			select {
			case h.broadcast <- bm:
			case <-h.done:
			}
		}()
	}
}

// SendToClient queues a message for a specific connection. Reports false if
// the client is gone or its send buffer is full.
func (h *Hub) SendToClient(clientID string, msg types.Message) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.trySend(msg)
}

// Rooms returns board ids with their member counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.rooms))
	for id, members := range h.rooms {
		result[id] = len(members)
	}
	return result
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomOf returns the board a client has joined, or "".
func (h *Hub) RoomOf(clientID string) string {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ""
	}
	return c.Room()
}

func (h *Hub) handleMessage(msg types.Message) {
	h.mu.RLock()
	handler, ok := h.handlers[msg.Method]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("method", msg.Method).Msg("no handler")
		return
	}
	if err := handler(msg.ClientID, msg); err != nil {
		// A handler error is a protocol violation by that connection; it is
		// closed without disturbing the rest of the room.
		h.logger.Error().Err(err).
			Str("method", msg.Method).
			Str("client_id", msg.ClientID).
			Msg("handler error, closing connection")
		h.dropClient(msg.ClientID)
	}
}

// dropClient force-closes a connection by id. The client is signalled
// immediately so in-flight sends to it fail fast while the unregister is in
// flight.
func (h *Hub) dropClient(clientID string) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.conn.Close()
	c.Close()
	go h.Unregister(c)
}

// sendGrace is how long a room broadcast waits for space in a member's send
// buffer before the member is declared dead.
const sendGrace = 200 * time.Millisecond

func (h *Hub) broadcastToRoom(bm broadcastMsg) {
	ids := h.MembersOf(bm.boardID, bm.exclude)
	for _, id := range ids {
		h.mu.RLock()
		client, exists := h.clients[id]
		h.mu.RUnlock()
		if !exists {
			continue
		}
		if !client.sendWithin(bm.msg, sendGrace) {
			if client.isDone() {
				// Already being torn down; nothing left to evict.
				continue
			}
			// A send still blocked past the grace means the peer cannot keep
			// up; evict it alone instead of stalling the room.
			h.logger.Warn().Str("client_id", id).Msg("send blocked past grace, evicting slow peer")
			h.dropClient(id)
		}
	}
}

// publishToBridge forwards a message to the bridge if one is attached.
func (h *Hub) publishToBridge(msg types.Message) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(msg); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}
