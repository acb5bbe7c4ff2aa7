package bridge

import "github.com/drawspace/relay/src/types"

// Bridge defines the interface for cross-instance event relaying.
// Implementations carry board events between relay instances; they persist
// nothing and provide no durability.
type Bridge interface {
	// Publish sends a message to all other instances via the bridge.
	Publish(msg types.Message) error

	// Start begins listening for messages from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget receives messages relayed from other instances. The sync
// service implements it: it applies the event locally and fans it out to
// local room members without re-publishing.
type BroadcastTarget interface {
	HandleBridgeMessage(msg types.Message)
}
