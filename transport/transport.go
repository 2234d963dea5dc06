// Package transport delivers inbound conversation traffic to the chat
// session. Two implementations exist: a persistent websocket connection
// and a timer-driven poller. Outgoing messages always travel over the
// REST endpoint, so the transport only owns inbound delivery and
// receipt emission.
package transport

import (
	"context"
	"errors"

	"github.com/winfeed/winchat/api"
)

// ErrReceiptsUnsupported is returned by Ack when the transport has no
// acknowledgment channel (the poller). Callers treat it as a no-op.
var ErrReceiptsUnsupported = errors.New("transport: delivery receipts not supported")

// Events receives inbound traffic for one conversation. Implementations
// must tolerate calls from the transport's internal goroutines.
type Events interface {
	// OnMessage delivers a new inbound message.
	OnMessage(msg api.WireMessage)
	// OnReceipt reports that the peer's client received messageID.
	OnReceipt(messageID string)
	// OnRead reports that the peer marked the conversation read.
	OnRead(connectionID string)
	// OnDisconnect reports that the transport stopped delivering,
	// err is nil on a clean local close.
	OnDisconnect(err error)
}

// Transport is one live delivery channel for one conversation.
type Transport interface {
	// Connect starts delivery for conv, dispatching to events until
	// Close is called or the connection drops.
	Connect(ctx context.Context, conv api.Conversation, events Events) error

	// Ack emits a delivery receipt for messageID.
	Ack(ctx context.Context, messageID string) error

	// Close stops delivery and releases the connection. Idempotent.
	// No events are dispatched after Close returns.
	Close() error
}
