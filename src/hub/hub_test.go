package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/types"
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []types.Message
	readCh   chan types.Message
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan types.Message, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := v.(types.Message); ok {
		m.written = append(m.written, msg)
	}
	return nil
}

func (m *mockConn) ReadJSON(v any) error {
	select {
	case msg := <-m.readCh:
		if ptr, ok := v.(*types.Message); ok {
			*ptr = msg
		}
		return nil
	case <-m.closedCh:
		return &closeError{}
	}
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) getWritten() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]types.Message, len(m.written))
	copy(cp, m.written)
	return cp
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type closeError struct{}

func (e *closeError) Error() string { return "connection closed" }

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestHub creates a hub with liveness disabled and starts its event loop.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return newTestHubPing(t, 0)
}

func newTestHubPing(t *testing.T, pingInterval time.Duration) *Hub {
	t.Helper()
	h := New(pingInterval, zerolog.Nop())
	go h.Run()
	t.Cleanup(func() { h.Stop() })
	return h
}

// registerClient creates, registers, and starts a mock client.
func registerClient(t *testing.T, h *Hub, id string) (*Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	client := NewClient(id, conn, h)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
	// Allow registration to process.
	time.Sleep(20 * time.Millisecond)
	return client, conn
}

func TestHubRegisterAndUnregister(t *testing.T) {
	h := newTestHub(t)

	registerClient(t, h, "client-1")
	registerClient(t, h, "client-2")

	if got := h.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	c3, _ := registerClient(t, h, "client-3")
	h.Unregister(c3)
	time.Sleep(20 * time.Millisecond)

	if got := h.ClientCount(); got != 2 {
		t.Errorf("expected client-3 to be unregistered, count %d", got)
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	h := newTestHub(t)

	registerClient(t, h, "c1")
	registerClient(t, h, "c2")

	if err := h.Join("board-a", "c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.Join("board-a", "c2"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.Join("board-b", "c1"); err == nil {
		t.Error("expected join to a second board to fail")
	}
	if err := h.Join("board-a", "nope"); err == nil {
		t.Error("expected join for unknown client to fail")
	}

	members := h.MembersOf("board-a", "c1")
	if len(members) != 1 || members[0] != "c2" {
		t.Errorf("expected members excluding sender to be [c2], got %v", members)
	}

	h.Leave("c1")
	h.Leave("c1") // double leave is a no-op
	if got := h.MembersOf("board-a", ""); len(got) != 1 {
		t.Errorf("expected 1 member after leave, got %v", got)
	}

	h.Leave("c2")
	if rooms := h.Rooms(); len(rooms) != 0 {
		t.Errorf("expected empty room to be deleted, got %v", rooms)
	}
}

func TestHubRoomEntryRemovedWhenClientDisconnects(t *testing.T) {
	h := newTestHub(t)

	c1, _ := registerClient(t, h, "c1")
	if err := h.Join("board-a", "c1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.Unregister(c1)
	time.Sleep(20 * time.Millisecond)

	if rooms := h.Rooms(); len(rooms) != 0 {
		t.Errorf("expected room cleanup on disconnect, got %v", rooms)
	}
}

func TestHubBroadcastExcludesSenderAndPreservesOrder(t *testing.T) {
	h := newTestHub(t)

	registerClient(t, h, "sender")
	_, recvConn := registerClient(t, h, "receiver")

	for _, id := range []string{"sender", "receiver"} {
		if err := h.Join("board-x", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	for i := 0; i < 5; i++ {
		h.Publish("board-x", "sender", types.Message{
			Method:    types.MethodCanvasUpdate,
			BoardID:   "board-x",
			ImageData: string(rune('a' + i)),
		})
	}
	time.Sleep(50 * time.Millisecond)

	got := recvConn.getWritten()
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	for i, msg := range got {
		if want := string(rune('a' + i)); msg.ImageData != want {
			t.Errorf("message %d out of order: got %q want %q", i, msg.ImageData, want)
		}
	}
}

func TestHubBroadcastDoesNotCrossRooms(t *testing.T) {
	h := newTestHub(t)

	registerClient(t, h, "a1")
	_, other := registerClient(t, h, "b1")

	if err := h.Join("board-a", "a1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.Join("board-b", "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.Publish("board-a", "", types.Message{Method: types.MethodCanvasUpdate, BoardID: "board-a"})
	time.Sleep(50 * time.Millisecond)

	if got := other.getWritten(); len(got) != 0 {
		t.Errorf("expected no cross-room delivery, got %v", got)
	}
}

func TestLivenessEvictsSilentConnection(t *testing.T) {
	h := newTestHubPing(t, 30*time.Millisecond)

	_, conn := registerClient(t, h, "silent")
	if err := h.Join("board-a", "silent"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// No traffic for two intervals: the first sweep arms the flag, the
	// second evicts.
	time.Sleep(90 * time.Millisecond)

	if !conn.isClosed() {
		t.Error("expected silent connection to be closed")
	}
	if got := h.MembersOf("board-a", ""); len(got) != 0 {
		t.Errorf("expected eviction from room, got %v", got)
	}
}

func TestLivenessAnyTrafficPreventsEviction(t *testing.T) {
	h := newTestHubPing(t, 40*time.Millisecond)

	_, conn := registerClient(t, h, "chatty")

	// Keep sending unrelated traffic more often than the ping interval.
	stop := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-time.After(15 * time.Millisecond):
			conn.readCh <- types.Message{Method: types.MethodCanvasUpdate, BoardID: "b"}
		}
	}

	if conn.isClosed() {
		t.Error("connection with regular traffic must not be evicted")
	}
}

func TestSlowPeerIsEvictedAlone(t *testing.T) {
	h := newTestHub(t)

	// slow never runs a WritePump, so its buffer fills and stays full: the
	// grace elapses without a slot freeing and the peer is declared dead.
	slowConn := newMockConn()
	slow := NewClient("slow", slowConn, h)
	h.Register(slow)
	time.Sleep(20 * time.Millisecond)

	_, fastConn := registerClient(t, h, "fast")

	for _, id := range []string{"slow", "fast"} {
		if err := h.Join("board-a", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	const burst = 100
	for i := 0; i < burst; i++ {
		h.Publish("board-a", "", types.Message{Method: types.MethodCanvasUpdate, BoardID: "board-a"})
	}

	waitUntil(t, slowConn.isClosed, "slow peer eviction")
	waitUntil(t, func() bool { return len(fastConn.getWritten()) == burst }, "full burst at fast peer")

	if fastConn.isClosed() {
		t.Error("fast peer must not be affected by a slow peer")
	}
}

// slowWriteConn drains slowly enough for a burst to fill the send buffer
// while the write pump is still making progress.
type slowWriteConn struct {
	*mockConn
	delay time.Duration
}

func (s *slowWriteConn) WriteJSON(v any) error {
	time.Sleep(s.delay)
	return s.mockConn.WriteJSON(v)
}

func TestBurstDoesNotEvictDrainingPeer(t *testing.T) {
	h := newTestHub(t)

	conn := &slowWriteConn{mockConn: newMockConn(), delay: time.Millisecond}
	client := NewClient("draining", conn, h)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
	time.Sleep(20 * time.Millisecond)

	if err := h.Join("board-a", "draining"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Far more messages than the send buffer holds: the buffer fills mid
	// burst, but each send frees a slot well within the grace, so a healthy
	// peer must survive and receive everything.
	const burst = 200
	for i := 0; i < burst; i++ {
		h.Publish("board-a", "", types.Message{Method: types.MethodCanvasUpdate, BoardID: "board-a"})
	}

	waitUntil(t, func() bool { return len(conn.getWritten()) == burst }, "burst fully delivered")
	if conn.isClosed() {
		t.Error("peer with an active write pump must not be evicted by a burst")
	}
}

func TestPublishSurvivesBroadcastBufferOverflow(t *testing.T) {
	h := newTestHub(t)

	// Park the event loop in a handler so published messages pile up past
	// the broadcast buffer's capacity.
	gate := make(chan struct{})
	h.RegisterHandler(types.MethodPing, func(string, types.Message) error {
		<-gate
		return nil
	})

	_, recvConn := registerClient(t, h, "receiver")
	_, senderConn := registerClient(t, h, "sender")
	for _, id := range []string{"receiver", "sender"} {
		if err := h.Join("board-a", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	senderConn.readCh <- types.Message{Method: types.MethodPing}
	time.Sleep(20 * time.Millisecond)

	const total = 300 // broadcast buffer holds 256
	for i := 0; i < total; i++ {
		h.Publish("board-a", "sender", types.Message{Method: types.MethodCanvasUpdate, BoardID: "board-a"})
	}
	close(gate)

	// Every update must eventually reach the room, overflow included.
	waitUntil(t, func() bool { return len(recvConn.getWritten()) == total }, "all updates delivered")
}

func TestHubHandlerDispatchAndProtocolError(t *testing.T) {
	h := newTestHub(t)

	var mu sync.Mutex
	var seen []string
	h.RegisterHandler(types.MethodJoin, func(clientID string, msg types.Message) error {
		mu.Lock()
		seen = append(seen, clientID+":"+msg.BoardID)
		mu.Unlock()
		return nil
	})
	h.RegisterHandler(types.MethodCanvasUpdate, func(clientID string, msg types.Message) error {
		return &closeError{}
	})

	_, conn := registerClient(t, h, "c1")
	conn.readCh <- types.Message{Method: types.MethodJoin, BoardID: "b1"}
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	if len(seen) != 1 || seen[0] != "c1:b1" {
		t.Errorf("expected dispatched join, got %v", seen)
	}
	mu.Unlock()

	// A handler error closes the offending connection.
	conn.readCh <- types.Message{Method: types.MethodCanvasUpdate}
	time.Sleep(50 * time.Millisecond)
	if !conn.isClosed() {
		t.Error("expected protocol error to close the connection")
	}
}

func TestHubDisconnectionCallback(t *testing.T) {
	h := newTestHub(t)

	var mu sync.Mutex
	var gone []string
	h.OnDisconnection(func(clientID string) {
		mu.Lock()
		gone = append(gone, clientID)
		mu.Unlock()
	})

	c, _ := registerClient(t, h, "c1")
	h.Unregister(c)
	h.Unregister(c) // second unregister is a no-op
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(gone) != 1 || gone[0] != "c1" {
		t.Errorf("expected exactly one disconnect callback, got %v", gone)
	}
}
