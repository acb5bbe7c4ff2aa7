package types

import "time"

// Wire methods understood by the relay.
const (
	MethodJoin         = "join"
	MethodStateRequest = "initial_state_request"
	MethodCanvasUpdate = "canvas_update"
	MethodPing         = "ping"
	MethodPong         = "pong"
	MethodBoardDeleted = "board_deleted"
	MethodBoardRenamed = "board_renamed"
)

// Message is a board sync message, in either direction.
type Message struct {
	Method    string    `json:"method"`
	BoardID   string    `json:"boardId,omitempty"`
	Name      string    `json:"name,omitempty"`
	ImageData string    `json:"imageData,omitempty"` // data-URL encoded snapshot
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageHandler handles an inbound message from a connection.
type MessageHandler func(clientID string, msg Message) error

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}
