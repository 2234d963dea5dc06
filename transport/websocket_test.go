package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winfeed/winchat/api"
)

type eventRecorder struct {
	messages    chan api.WireMessage
	receipts    chan string
	reads       chan string
	disconnects chan error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		messages:    make(chan api.WireMessage, 16),
		receipts:    make(chan string, 16),
		reads:       make(chan string, 16),
		disconnects: make(chan error, 16),
	}
}

func (r *eventRecorder) OnMessage(msg api.WireMessage) { r.messages <- msg }
func (r *eventRecorder) OnReceipt(messageID string)    { r.receipts <- messageID }
func (r *eventRecorder) OnRead(connectionID string)    { r.reads <- connectionID }
func (r *eventRecorder) OnDisconnect(err error)        { r.disconnects <- err }

var testUpgrader = websocket.Upgrader{}

// wsServer upgrades one connection and exposes what the client wrote.
type wsServer struct {
	server   *httptest.Server
	conns    chan *websocket.Conn
	inbound  chan frame
	queries  chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:   make(chan *websocket.Conn, 4),
		inbound: make(chan frame, 16),
		queries: make(chan string, 4),
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.queries <- r.URL.RawQuery
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var f frame
				if err := json.Unmarshal(data, &f); err == nil {
					s.inbound <- f
				}
			}
		}()
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *wsServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

var wsTestConv = api.Conversation{
	ConnectionID: "conn-1",
	SenderID:     "user-a",
	PeerUsername: "bob",
}

func sendFrame(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(&f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestWebsocketDeliversInboundFrames(t *testing.T) {
	server := newWSServer(t)
	rec := newEventRecorder()

	ws := NewWebsocket(server.endpoint(), nil)
	require.NoError(t, ws.Connect(context.Background(), wsTestConv, rec))
	defer ws.Close()

	query := <-server.queries
	assert.Contains(t, query, "connectionId=conn-1")
	assert.Contains(t, query, "senderId=user-a")

	conn := <-server.conns
	at := time.Now().UTC().Truncate(time.Second)
	sendFrame(t, conn, frame{
		Kind:         frameMessage,
		MessageID:    "m1",
		ConnectionID: "conn-1",
		SenderID:     "user-b",
		Text:         "hello",
		Timestamp:    at,
	})

	select {
	case msg := <-rec.messages:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "hello", msg.Text)
		assert.True(t, msg.SentAt.Equal(at))
	case <-time.After(5 * time.Second):
		t.Fatal("no message dispatched")
	}

	sendFrame(t, conn, frame{Kind: frameReceipt, MessageID: "m0"})
	select {
	case id := <-rec.receipts:
		assert.Equal(t, "m0", id)
	case <-time.After(5 * time.Second):
		t.Fatal("no receipt dispatched")
	}

	sendFrame(t, conn, frame{Kind: frameRead, ConnectionID: "conn-1"})
	select {
	case id := <-rec.reads:
		assert.Equal(t, "conn-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("no read event dispatched")
	}
}

func TestWebsocketAckEmitsReceiptFrame(t *testing.T) {
	server := newWSServer(t)
	rec := newEventRecorder()

	ws := NewWebsocket(server.endpoint(), nil)
	require.NoError(t, ws.Connect(context.Background(), wsTestConv, rec))
	defer ws.Close()

	require.NoError(t, ws.Ack(context.Background(), "m7"))

	select {
	case f := <-server.inbound:
		assert.Equal(t, frameReceipt, f.Kind)
		assert.Equal(t, "m7", f.MessageID)
	case <-time.After(5 * time.Second):
		t.Fatal("receipt frame never reached the server")
	}
}

func TestWebsocketCleanCloseIsSilent(t *testing.T) {
	server := newWSServer(t)
	rec := newEventRecorder()

	ws := NewWebsocket(server.endpoint(), nil)
	require.NoError(t, ws.Connect(context.Background(), wsTestConv, rec))

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close(), "close is idempotent")

	select {
	case err := <-rec.disconnects:
		t.Fatalf("local close must not dispatch OnDisconnect, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Error(t, ws.Ack(context.Background(), "m1"), "ack after close fails")
}

func TestWebsocketServerDropDispatchesDisconnect(t *testing.T) {
	server := newWSServer(t)
	rec := newEventRecorder()

	ws := NewWebsocket(server.endpoint(), nil)
	require.NoError(t, ws.Connect(context.Background(), wsTestConv, rec))
	defer ws.Close()

	conn := <-server.conns
	conn.Close()

	select {
	case err := <-rec.disconnects:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect dispatched")
	}
}

func TestWebsocketDialFailure(t *testing.T) {
	ws := NewWebsocket("ws://127.0.0.1:1/ws", nil)
	err := ws.Connect(context.Background(), wsTestConv, newEventRecorder())
	require.Error(t, err)
}
