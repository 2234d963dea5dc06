// Package api defines the wire contract of the winfeed backend: request
// and response shapes for the auth and direct-message endpoints, plus the
// JSON error envelope every non-2xx response carries.
package api

import (
	"errors"
	"fmt"
	"time"
)

// Backend error codes. The backend distinguishes an expired access token
// (recoverable, refresh and retry) from invalid credentials (terminal).
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeAuthInvalid  = "AUTH_INVALID"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidParam = "INVALID_PARAM"
)

// Error is the backend error envelope. Callers match on the machine code
// with errors.As, never on the message text.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response, filled client-side.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is an *Error with the given backend code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// TokenPair is the credential set issued on login and rotated on refresh.
// NotificationToken is only present for clients registered for push.
type TokenPair struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	NotificationToken string `json:"notificationToken,omitempty"`
}

// Valid reports whether the pair can authenticate requests at all.
func (t TokenPair) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse may omit refreshToken when the backend does not rotate
// refresh tokens; the client then keeps the old one.
type RefreshResponse struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	NotificationToken string `json:"notificationToken,omitempty"`
}

// Conversation is the server-side record pairing two users for direct
// messaging, returned by the lookup-or-create endpoint.
type Conversation struct {
	ConnectionID  string `json:"connectionId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	PeerUsername  string `json:"userName"`
	PeerAvatarURL string `json:"profilePictureUrl,omitempty"`
	LastMessage   string `json:"lastMessage,omitempty"`
}

// WireMessage is a message as the backend serializes it. LocalID echoes
// the client-generated id from PostMessageRequest so the sender can
// reconcile its optimistic entry by key lookup.
type WireMessage struct {
	ID           string    `json:"messageId"`
	LocalID      string    `json:"localId,omitempty"`
	ConnectionID string    `json:"connectionId"`
	SenderID     string    `json:"senderId"`
	Text         string    `json:"text"`
	SentAt       time.Time `json:"timestamp"`
}

type OpenConversationRequest struct {
	ReceiverUsername string `json:"receiverUsername"`
}

// HistoryResponse is the poll-variant payload: the conversation descriptor
// plus full message history. A zero ConnectionID means no conversation
// exists yet between the two users.
type HistoryResponse struct {
	Conversation
	Messages []WireMessage `json:"messages,omitempty"`
}

type PostMessageRequest struct {
	ConnectionID string `json:"connectionId"`
	LocalID      string `json:"localId"`
	Text         string `json:"text"`
}

type PostMessageResponse struct {
	ID      string    `json:"messageId"`
	LocalID string    `json:"localId,omitempty"`
	SentAt  time.Time `json:"timestamp"`
}

type MarkAsReadRequest struct {
	ConnectionID string `json:"connectionId"`
}

// InboxEntry is one row of the conversation-list summary.
type InboxEntry struct {
	ConnectionID  string    `json:"connectionId"`
	PeerUsername  string    `json:"userName"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	HasUnread     bool      `json:"hasUnread"`
}
