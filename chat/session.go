package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/winfeed/winchat/api"
	"github.com/winfeed/winchat/transport"
)

var (
	// ErrEmptyMessage rejects whitespace-only sends before any network
	// call happens.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrNotReady means the session is not in the Ready state.
	ErrNotReady = errors.New("chat: session not ready")
)

// SendError flags a message the server did not accept. The message
// stays in the list in the Failed state; Resend with the same LocalID
// retries it.
type SendError struct {
	LocalID string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chat: send failed (local id %s): %v", e.LocalID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// History is an optional local cache for confirmed messages. The bbolt
// store implements it.
type History interface {
	Append(connectionID string, msg Message) error
	Load(connectionID string) ([]Message, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Client is the REST client all outgoing calls go through. Required.
	Client *api.Client
	// Transport delivers inbound traffic. Required.
	Transport transport.Transport
	// History, when set, persists confirmed messages locally and
	// preloads them on Open.
	History History
}

// Session is the live view of one conversation. All methods are safe
// for concurrent use; transport callbacks and UI calls interleave on
// the internal mutex.
//
// Lifecycle: Uninitialized -> Open -> Loading -> Ready; Open failures
// land in Errored and a later Open retries; Close is terminal.
type Session struct {
	client  *api.Client
	tr      transport.Transport
	history History

	mu        sync.Mutex
	state     ConversationState
	conv      api.Conversation
	messages  []*Message
	byID      map[string]*Message
	byLocalID map[string]*Message
	unread    int
}

func NewSession(config SessionConfig) (*Session, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("chat: api client is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	return &Session{
		client:    config.Client,
		tr:        config.Transport,
		history:   config.History,
		state:     StateUninitialized,
		byID:      make(map[string]*Message),
		byLocalID: make(map[string]*Message),
	}, nil
}

// Compile-time check: the session receives transport events directly.
var _ transport.Events = (*Session)(nil)

// Open resolves the conversation with peer (looking it up or creating
// it, idempotently), preloads history, and connects the transport.
// Allowed from Uninitialized and Errored.
func (s *Session) Open(ctx context.Context, peer string) (api.Conversation, error) {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateErrored:
		s.state = StateLoading
	default:
		state := s.state
		s.mu.Unlock()
		return api.Conversation{}, fmt.Errorf("chat: cannot open from state %s", state)
	}
	s.mu.Unlock()

	conv, err := s.client.OpenConversation(ctx, peer)
	if err != nil {
		s.fail(err)
		return api.Conversation{}, err
	}

	s.mu.Lock()
	s.conv = *conv
	s.mu.Unlock()

	if s.history != nil {
		cached, err := s.history.Load(conv.ConnectionID)
		if err != nil {
			glog.Errorf("load cached history for %s: %v", conv.ConnectionID, err)
		} else {
			s.mu.Lock()
			for i := range cached {
				s.seedLocked(cached[i])
			}
			s.mu.Unlock()
		}
	}

	// Server history is authoritative over the cache; duplicates are
	// dropped by id. A history failure is not fatal: the transport
	// still delivers everything new.
	if hist, err := s.client.History(ctx, peer); err != nil {
		glog.Errorf("fetch history for %s: %v", peer, err)
	} else if hist.ConnectionID != "" {
		s.mu.Lock()
		for _, wire := range hist.Messages {
			s.seedLocked(s.fromWire(wire))
		}
		s.mu.Unlock()
	}

	if err := s.tr.Connect(ctx, *conv, s); err != nil {
		s.fail(err)
		return api.Conversation{}, err
	}

	// The transport may have already dropped (OnDisconnect -> Errored)
	// or Close may have raced in; promote only if still loading.
	s.mu.Lock()
	if s.state != StateLoading {
		state := s.state
		s.mu.Unlock()
		return api.Conversation{}, fmt.Errorf("chat: session %s before open completed", state)
	}
	s.state = StateReady
	s.mu.Unlock()

	glog.V(5).Infof("session ready, connection: %s, peer: %s", conv.ConnectionID, peer)
	return *conv, nil
}

// Send appends an optimistic Pending message and submits it. On accept
// the entry is reconciled in place (server id attached, state Sent).
// On rejection it flips to Failed and the returned *SendError carries
// the LocalID for Resend.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return "", ErrNotReady
	}
	msg := &Message{
		LocalID:      uuid.New(),
		ConnectionID: s.conv.ConnectionID,
		SenderID:     s.conv.SenderID,
		Text:         trimmed,
		SentAt:       time.Now(),
		State:        StatePending,
		Mine:         true,
	}
	s.insertLocked(msg)
	s.byLocalID[msg.LocalID] = msg
	s.mu.Unlock()

	return msg.LocalID, s.submit(ctx, msg.LocalID)
}

// Resend retries a Failed message, keeping its original timestamp so
// its position in the list is preserved.
func (s *Session) Resend(ctx context.Context, localID string) error {
	s.mu.Lock()
	msg, ok := s.byLocalID[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("chat: no message with local id %s", localID)
	}
	if !msg.State.canTransition(StatePending) {
		state := msg.State
		s.mu.Unlock()
		return fmt.Errorf("chat: cannot resend message in state %s", state)
	}
	msg.State = StatePending
	s.mu.Unlock()

	return s.submit(ctx, localID)
}

func (s *Session) submit(ctx context.Context, localID string) error {
	s.mu.Lock()
	msg, ok := s.byLocalID[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("chat: no message with local id %s", localID)
	}
	connectionID, text := msg.ConnectionID, msg.Text
	s.mu.Unlock()

	resp, err := s.client.PostMessage(ctx, connectionID, localID, text)
	if err != nil {
		s.mu.Lock()
		if msg.State.canTransition(StateFailed) {
			msg.State = StateFailed
		}
		s.mu.Unlock()
		sendFailures.Inc()
		glog.Errorf("send failed, local id %s: %v", localID, err)
		return &SendError{LocalID: localID, Err: err}
	}

	s.mu.Lock()
	s.confirmLocked(msg, resp.ID)
	s.mu.Unlock()
	return nil
}

// confirmLocked reconciles a pending entry with its server-assigned id.
// The socket echo path may have confirmed it already; the second
// confirmation is a no-op.
func (s *Session) confirmLocked(msg *Message, serverID string) {
	if msg.ID == "" {
		msg.ID = serverID
		s.byID[serverID] = msg
	}
	if msg.State.canTransition(StateSent) {
		msg.State = StateSent
		messagesSent.Inc()
		s.persist(msg)
	}
}

// MarkRead tells the server every message in the conversation is read
// and updates local inbound state. Without unread messages it is a
// local no-op: the caller invokes it when the view becomes visible,
// not per message.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.unread == 0 {
		s.mu.Unlock()
		return nil
	}
	connectionID := s.conv.ConnectionID
	s.mu.Unlock()

	if err := s.client.MarkAsRead(ctx, connectionID); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range s.messages {
		if !m.Mine && m.State.canTransition(StateRead) {
			m.State = StateRead
		}
	}
	s.unread = 0
	s.mu.Unlock()
	return nil
}

// Close stops the transport and freezes the session. Idempotent; no
// transport events are processed after it returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	return s.tr.Close()
}

// Messages returns a snapshot of the conversation in timestamp order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// State returns the current session state.
func (s *Session) State() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns the resolved conversation descriptor. Zero until
// Open succeeds.
func (s *Session) Conversation() api.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// UnreadCount returns the number of inbound messages not yet marked read.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// OnMessage implements transport.Events. Duplicates (by server id) are
// dropped; the echo of an own optimistic send reconciles it instead of
// appending; new inbound messages are appended in timestamp order and
// acknowledged when the transport supports receipts.
func (s *Session) OnMessage(wire api.WireMessage) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}

	if wire.ID != "" {
		if _, dup := s.byID[wire.ID]; dup {
			s.mu.Unlock()
			return
		}
	}

	if wire.LocalID != "" {
		if own, ok := s.byLocalID[wire.LocalID]; ok {
			s.confirmLocked(own, wire.ID)
			s.mu.Unlock()
			return
		}
	}

	msg := s.fromWire(wire)
	s.insertLocked(&msg)
	if msg.ID != "" {
		s.byID[msg.ID] = &msg
	}
	if !msg.Mine {
		s.unread++
	}
	messagesReceived.Inc()
	s.persist(&msg)
	s.mu.Unlock()

	if !msg.Mine && wire.ID != "" {
		if err := s.tr.Ack(context.Background(), wire.ID); err != nil && !errors.Is(err, transport.ErrReceiptsUnsupported) {
			glog.Errorf("delivery receipt for %s: %v", wire.ID, err)
		}
	}
}

// OnReceipt implements transport.Events: the peer's client received our
// message, Sent moves to Delivered.
func (s *Session) OnReceipt(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	m, ok := s.byID[messageID]
	if !ok || !m.Mine {
		return
	}
	if m.State == StateSent {
		m.State = StateDelivered
	}
}

// OnRead implements transport.Events: the peer marked the conversation
// read, all our outstanding messages move to Read.
func (s *Session) OnRead(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || connectionID != s.conv.ConnectionID {
		return
	}
	for _, m := range s.messages {
		if m.Mine && m.State.canTransition(StateRead) {
			m.State = StateRead
		}
	}
}

// OnDisconnect implements transport.Events.
func (s *Session) OnDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if err != nil {
		glog.Errorf("transport disconnected: %v", err)
		s.state = StateErrored
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateErrored
	s.mu.Unlock()
	glog.Errorf("session open failed: %v", err)
}

// fromWire converts a wire message, classifying it as own or inbound by
// sender id.
func (s *Session) fromWire(wire api.WireMessage) Message {
	mine := wire.SenderID == s.conv.SenderID
	state := StateDelivered
	if mine {
		state = StateSent
	}
	return Message{
		ID:           wire.ID,
		LocalID:      wire.LocalID,
		ConnectionID: wire.ConnectionID,
		SenderID:     wire.SenderID,
		Text:         wire.Text,
		SentAt:       wire.SentAt,
		State:        state,
		Mine:         mine,
	}
}

// seedLocked inserts a historical message, skipping known server ids.
// Peer messages not yet read count as unread, the same as live inbound
// deliveries, so MarkRead reaches the server for them too.
func (s *Session) seedLocked(msg Message) {
	if msg.ID != "" {
		if _, dup := s.byID[msg.ID]; dup {
			return
		}
	}
	m := msg
	s.insertLocked(&m)
	if m.ID != "" {
		s.byID[m.ID] = &m
	}
	if !m.Mine && m.State != StateRead {
		s.unread++
	}
}

// insertLocked places msg at its timestamp position, after any existing
// entries with the same timestamp, so append order breaks ties.
func (s *Session) insertLocked(msg *Message) {
	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].SentAt.After(msg.SentAt)
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = msg
}

func (s *Session) persist(msg *Message) {
	if s.history == nil || msg.ID == "" {
		return
	}
	if err := s.history.Append(msg.ConnectionID, *msg); err != nil {
		glog.Errorf("cache message %s: %v", msg.ID, err)
	}
}
