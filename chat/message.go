// Package chat maintains the live, ordered message list for one open
// direct-message conversation: optimistic sends, reconciliation against
// server-confirmed records, and per-message delivery state.
package chat

import (
	"time"
)

// DeliveryState is the per-message state machine.
//
//	Pending -> Sent | Failed
//	Failed  -> Pending        (manual resend)
//	Sent    -> Delivered | Read
//	Delivered -> Read
type DeliveryState int

const (
	// StatePending is a locally-created message awaiting server accept.
	StatePending DeliveryState = iota
	// StateFailed is a message the server did not accept. It stays
	// visible so the user can resend; it is never silently dropped.
	StateFailed
	// StateSent is accepted by the server.
	StateSent
	// StateDelivered means the peer's client acknowledged receipt.
	StateDelivered
	// StateRead means the peer marked the conversation read.
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	default:
		return "unknown"
	}
}

// canTransition is the full transition table. Anything not listed is
// invalid; in particular Read is unreachable from Pending.
func (s DeliveryState) canTransition(to DeliveryState) bool {
	switch s {
	case StatePending:
		return to == StateSent || to == StateFailed
	case StateFailed:
		return to == StatePending
	case StateSent:
		return to == StateDelivered || to == StateRead
	case StateDelivered:
		return to == StateRead
	default:
		return false
	}
}

// ConversationState is the session-level state machine.
type ConversationState int

const (
	StateUninitialized ConversationState = iota
	StateLoading
	StateReady
	// StateErrored means Open failed; re-opening recovers.
	StateErrored
	StateClosed
)

func (s ConversationState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one entry of the conversation view. LocalID is the stable
// client-generated id that travels through the send round trip, so a
// pending entry is reconciled with its confirmed counterpart by key
// lookup, never by position. ID is empty until the server assigns one.
type Message struct {
	ID           string
	LocalID      string
	ConnectionID string
	SenderID     string
	Text         string
	SentAt       time.Time
	State        DeliveryState
	// Mine marks messages originated by the local user.
	Mine bool
}
