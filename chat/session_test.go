package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winfeed/winchat/api"
	"github.com/winfeed/winchat/transport"
	transport_mock "github.com/winfeed/winchat/transport/mock"
)

var testConv = api.Conversation{
	ConnectionID: "conn-1",
	SenderID:     "user-a",
	ReceiverID:   "user-b",
	PeerUsername: "bob",
}

// fakeDoer stands in for the auth interceptor: it serves the message
// endpoints from memory and counts calls.
type fakeDoer struct {
	sync.Mutex
	openCalls     int
	postCalls     int
	markReadCalls int

	conv    api.Conversation
	history []api.WireMessage

	postErr  error
	postGate chan struct{} // when set, PostMessage blocks until closed
	nextID   int
	lastPost api.PostMessageRequest
}

func (d *fakeDoer) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	switch {
	case method == http.MethodPost && path == api.PathConversation:
		d.Lock()
		d.openCalls++
		conv := d.conv
		d.Unlock()
		return json.Marshal(&conv)

	case method == http.MethodGet && path == api.PathConversation:
		d.Lock()
		resp := api.HistoryResponse{Conversation: d.conv, Messages: d.history}
		d.Unlock()
		return json.Marshal(&resp)

	case method == http.MethodPost && path == api.PathPostMessage:
		d.Lock()
		gate := d.postGate
		d.Unlock()
		if gate != nil {
			<-gate
		}
		d.Lock()
		defer d.Unlock()
		d.postCalls++
		if d.postErr != nil {
			return nil, d.postErr
		}
		req, ok := body.(*api.PostMessageRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected post body %T", body)
		}
		d.lastPost = *req
		d.nextID++
		return json.Marshal(&api.PostMessageResponse{
			ID:      fmt.Sprintf("srv-%d", d.nextID),
			LocalID: req.LocalID,
			SentAt:  time.Now(),
		})

	case method == http.MethodPost && path == api.PathMarkAsRead:
		d.Lock()
		d.markReadCalls++
		d.Unlock()
		return []byte("{}"), nil
	}
	return nil, fmt.Errorf("unexpected request %s %s", method, path)
}

// fakeTransport records acks and hands the test the session's event
// sink so inbound traffic can be injected.
type fakeTransport struct {
	sync.Mutex
	events   transport.Events
	acks     []string
	connects int
	closes   int
	ackErr   error
}

func (f *fakeTransport) Connect(ctx context.Context, conv api.Conversation, events transport.Events) error {
	f.Lock()
	defer f.Unlock()
	f.connects++
	f.events = events
	return nil
}

func (f *fakeTransport) Ack(ctx context.Context, messageID string) error {
	f.Lock()
	defer f.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, messageID)
	return nil
}

func (f *fakeTransport) Close() error {
	f.Lock()
	defer f.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) ackedIDs() []string {
	f.Lock()
	defer f.Unlock()
	return append([]string(nil), f.acks...)
}

func newTestSession(t *testing.T) (*Session, *fakeDoer, *fakeTransport) {
	t.Helper()
	doer := &fakeDoer{conv: testConv}
	tr := &fakeTransport{}
	s, err := NewSession(SessionConfig{
		Client:    api.NewClient(doer),
		Transport: tr,
	})
	require.NoError(t, err)
	return s, doer, tr
}

func wireMsg(id, sender, text string, at time.Time) api.WireMessage {
	return api.WireMessage{
		ID:           id,
		ConnectionID: testConv.ConnectionID,
		SenderID:     sender,
		Text:         text,
		SentAt:       at,
	}
}

func TestOpenFirstContact(t *testing.T) {
	s, doer, tr := newTestSession(t)
	assert.Equal(t, StateUninitialized, s.State())

	conv, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conv.ConnectionID)
	assert.Equal(t, StateReady, s.State())
	assert.Empty(t, s.Messages())
	assert.Equal(t, 1, doer.openCalls)
	assert.Equal(t, 1, tr.connects)
}

func TestOpenIsIdempotentAgainstBackend(t *testing.T) {
	doer := &fakeDoer{conv: testConv}

	first, err := api.NewClient(doer).OpenConversation(context.Background(), "bob")
	require.NoError(t, err)
	second, err := api.NewClient(doer).OpenConversation(context.Background(), "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ConnectionID, second.ConnectionID)
	assert.Equal(t, 2, doer.openCalls, "both calls hit the lookup-or-create endpoint")
}

func TestOpenRecoversFromError(t *testing.T) {
	s, doer, _ := newTestSession(t)
	doer.conv = api.Conversation{} // missing connectionId: open fails

	_, err := s.Open(context.Background(), "bob")
	require.Error(t, err)
	assert.Equal(t, StateErrored, s.State())

	doer.Lock()
	doer.conv = testConv
	doer.Unlock()

	_, err = s.Open(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
}

func TestOpenSeedsServerHistory(t *testing.T) {
	s, doer, _ := newTestSession(t)
	base := time.Now().Add(-time.Hour)
	doer.history = []api.WireMessage{
		wireMsg("m2", "user-b", "second", base.Add(time.Minute)),
		wireMsg("m1", "user-a", "first", base),
	}

	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.True(t, msgs[0].Mine)
	assert.Equal(t, StateSent, msgs[0].State)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.False(t, msgs[1].Mine)
	assert.Equal(t, StateDelivered, msgs[1].State)
}

func TestSendOptimisticThenReconciled(t *testing.T) {
	s, doer, _ := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	gate := make(chan struct{})
	doer.Lock()
	doer.postGate = gate
	doer.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "gm")
		done <- err
	}()

	// The optimistic entry is visible while the request is in flight.
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].State == StatePending
	}, 5*time.Second, 5*time.Millisecond)
	pending := s.Messages()[0]
	assert.Empty(t, pending.ID)
	assert.NotEmpty(t, pending.LocalID)
	assert.Equal(t, "gm", pending.Text)

	close(gate)
	require.NoError(t, <-done)

	// Reconciled in place: one entry, server id, Sent. Never two.
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, pending.LocalID, msgs[0].LocalID)
	assert.Equal(t, StateSent, msgs[0].State)
	assert.Equal(t, pending.LocalID, doer.lastPost.LocalID,
		"the client id travels through the round trip")
}

func TestSendRejectsEmptyText(t *testing.T) {
	s, doer, _ := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, s.Messages())
	assert.Equal(t, 0, doer.postCalls, "no network call for empty text")
}

func TestSendFailureKeepsMessageVisible(t *testing.T) {
	s, doer, _ := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	doer.Lock()
	doer.postErr = fmt.Errorf("boom")
	doer.Unlock()

	localID, err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, localID, sendErr.LocalID)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "failed message is flagged, not dropped")
	assert.Equal(t, StateFailed, msgs[0].State)

	// Manual resend succeeds once the backend recovers.
	doer.Lock()
	doer.postErr = nil
	doer.Unlock()
	require.NoError(t, s.Resend(context.Background(), localID))

	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StateSent, msgs[0].State)
	assert.Equal(t, "srv-1", msgs[0].ID)
}

func TestResendRequiresFailedState(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	localID, err := s.Send(context.Background(), "ok")
	require.NoError(t, err)

	assert.Error(t, s.Resend(context.Background(), localID), "sent messages cannot be resent")
	assert.Error(t, s.Resend(context.Background(), "no-such-id"))
}

func TestInboundOrdering(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	t1, t2, t3 := base, base.Add(time.Minute), base.Add(2*time.Minute)

	// Arrival order t3, t1, t2; render order must be t1, t2, t3.
	tr.events.OnMessage(wireMsg("m3", "user-b", "three", t3))
	tr.events.OnMessage(wireMsg("m1", "user-b", "one", t1))
	tr.events.OnMessage(wireMsg("m2", "user-b", "two", t2))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})

	// A local send lands after them, at the wall clock.
	_, err = s.Send(context.Background(), "four")
	require.NoError(t, err)
	msgs = s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "four", msgs[3].Text)
}

func TestInboundDedupeAndAck(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	msg := wireMsg("m1", "user-b", "hi", time.Now())
	tr.events.OnMessage(msg)
	tr.events.OnMessage(msg) // duplicate push

	assert.Len(t, s.Messages(), 1)
	assert.Equal(t, []string{"m1"}, tr.ackedIDs(), "one receipt per message, duplicates are not re-acked")
	assert.Equal(t, 1, s.UnreadCount())
}

func TestAckUnsupportedIsTolerated(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	tr.Lock()
	tr.ackErr = transport.ErrReceiptsUnsupported
	tr.Unlock()

	tr.events.OnMessage(wireMsg("m1", "user-b", "hi", time.Now()))
	assert.Len(t, s.Messages(), 1)
}

func TestDeliveryReceiptTransitionsSent(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "gm")
	require.NoError(t, err)
	require.Equal(t, StateSent, s.Messages()[0].State)

	tr.events.OnReceipt("srv-1")
	assert.Equal(t, StateDelivered, s.Messages()[0].State)

	// Unknown and repeated receipts are ignored.
	tr.events.OnReceipt("srv-1")
	tr.events.OnReceipt("nope")
	assert.Equal(t, StateDelivered, s.Messages()[0].State)
}

func TestPeerReadMarksOwnMessages(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "two")
	require.NoError(t, err)
	tr.events.OnReceipt("srv-1")

	tr.events.OnRead(testConv.ConnectionID)
	for _, m := range s.Messages() {
		assert.Equal(t, StateRead, m.State)
	}

	// A read event for a different conversation is ignored.
	tr.events.OnRead("other-conn")
}

func TestMarkRead(t *testing.T) {
	s, doer, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	// Without unread messages this is a local no-op.
	require.NoError(t, s.MarkRead(context.Background()))
	assert.Equal(t, 0, doer.markReadCalls)

	tr.events.OnMessage(wireMsg("m1", "user-b", "hi", time.Now()))
	require.Equal(t, 1, s.UnreadCount())

	require.NoError(t, s.MarkRead(context.Background()))
	assert.Equal(t, 1, doer.markReadCalls)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, StateRead, s.Messages()[0].State)
}

func TestMarkReadAfterHistoryPreload(t *testing.T) {
	s, doer, _ := newTestSession(t)
	doer.history = []api.WireMessage{
		wireMsg("m1", "user-b", "waiting for you", time.Now().Add(-time.Hour)),
	}

	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, 1, s.UnreadCount(), "history-seeded peer messages count as unread")

	require.NoError(t, s.MarkRead(context.Background()))
	assert.Equal(t, 1, doer.markReadCalls, "markAsRead must reach the server")
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, StateRead, s.Messages()[0].State)

	// Own history entries never count.
	s2, doer2, _ := newTestSession(t)
	doer2.history = []api.WireMessage{
		wireMsg("m2", "user-a", "sent earlier", time.Now().Add(-time.Hour)),
	}
	_, err = s2.Open(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, s2.UnreadCount())
	require.NoError(t, s2.MarkRead(context.Background()))
	assert.Equal(t, 0, doer2.markReadCalls)
}

func TestEchoReconciliation(t *testing.T) {
	s, doer, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	gate := make(chan struct{})
	doer.Lock()
	doer.postGate = gate
	doer.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "echoed")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	localID := s.Messages()[0].LocalID

	// The socket echoes the message (with our local id) before the
	// HTTP response lands.
	echo := wireMsg("srv-1", "user-a", "echoed", time.Now())
	echo.LocalID = localID
	tr.events.OnMessage(echo)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "echo reconciles instead of appending")
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, StateSent, msgs[0].State)

	close(gate)
	require.NoError(t, <-done)
	require.Len(t, s.Messages(), 1, "late HTTP confirmation does not duplicate")
}

func TestCloseStopsTransportAndFreezesState(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	trMock := transport_mock.NewMockTransport(mockCtrl)
	doer := &fakeDoer{conv: testConv}
	s, err := NewSession(SessionConfig{
		Client:    api.NewClient(doer),
		Transport: trMock,
	})
	require.NoError(t, err)

	var events transport.Events
	trMock.EXPECT().Connect(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ api.Conversation, e transport.Events) error {
			events = e
			return nil
		})
	trMock.EXPECT().Close().Return(nil).Times(1)

	_, err = s.Open(context.Background(), "bob")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent and calls the transport once")
	assert.Equal(t, StateClosed, s.State())

	// Events after close are dropped.
	events.OnMessage(wireMsg("m9", "user-b", "late", time.Now()))
	events.OnReceipt("m9")
	events.OnRead(testConv.ConnectionID)
	events.OnDisconnect(fmt.Errorf("gone"))
	assert.Empty(t, s.Messages())
	assert.Equal(t, StateClosed, s.State())

	_, err = s.Send(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDisconnectMarksErrored(t *testing.T) {
	s, _, tr := newTestSession(t)
	_, err := s.Open(context.Background(), "bob")
	require.NoError(t, err)

	tr.events.OnDisconnect(fmt.Errorf("connection reset"))
	assert.Equal(t, StateErrored, s.State())
}

// droppingTransport reports a disconnect from inside Connect, like a
// socket that dies between the dial succeeding and Connect returning.
type droppingTransport struct {
	fakeTransport
}

func (d *droppingTransport) Connect(ctx context.Context, conv api.Conversation, events transport.Events) error {
	if err := d.fakeTransport.Connect(ctx, conv, events); err != nil {
		return err
	}
	events.OnDisconnect(fmt.Errorf("connection reset"))
	return nil
}

func TestOpenObservesDisconnectDuringConnect(t *testing.T) {
	doer := &fakeDoer{conv: testConv}
	s, err := NewSession(SessionConfig{
		Client:    api.NewClient(doer),
		Transport: &droppingTransport{},
	})
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "bob")
	require.Error(t, err)
	assert.Equal(t, StateErrored, s.State(), "a dead transport must not be promoted to ready")

	_, err = s.Send(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotReady)
}
