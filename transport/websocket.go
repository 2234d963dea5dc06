package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/winfeed/winchat/api"
)

const (
	// Time allowed to write a message to the backend.
	writeWait = 3 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong from the backend.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096
)

// Frame kinds on the socket. Inbound carries messages, receipts and
// read notifications; outbound carries delivery receipts only.
const (
	frameMessage = "message"
	frameReceipt = "receipt"
	frameRead    = "read"
)

type frame struct {
	Kind         string    `json:"kind"`
	MessageID    string    `json:"messageId,omitempty"`
	LocalID      string    `json:"localId,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	SenderID     string    `json:"senderId,omitempty"`
	Text         string    `json:"text,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Websocket is the persistent-connection transport. The connection is
// keyed by (connectionId, senderId); inbound frames are dispatched to
// Events from a dedicated read goroutine, receipts and pings go out
// through a write goroutine.
type Websocket struct {
	sync.Mutex

	endpoint string
	dialer   *websocket.Dialer

	conn     *websocket.Conn
	events   Events
	sendChan chan *frame
	closing  bool
	wg       sync.WaitGroup
}

// NewWebsocket creates a websocket transport dialing endpoint, e.g.
// "ws://host/ws". dialer may be nil for websocket.DefaultDialer.
func NewWebsocket(endpoint string, dialer *websocket.Dialer) *Websocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Websocket{
		endpoint: endpoint,
		dialer:   dialer,
	}
}

func (w *Websocket) Connect(ctx context.Context, conv api.Conversation, events Events) error {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return fmt.Errorf("transport: invalid websocket endpoint %q: %w", w.endpoint, err)
	}
	q := u.Query()
	q.Set("connectionId", conv.ConnectionID)
	q.Set("senderId", conv.SenderID)
	u.RawQuery = q.Encode()

	conn, _, err := w.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", u.String(), err)
	}

	w.Lock()
	if w.closing {
		w.Unlock()
		conn.Close()
		return fmt.Errorf("transport: already closed")
	}
	w.conn = conn
	w.events = events
	w.sendChan = make(chan *frame, 16)
	w.Unlock()

	w.wg.Add(2)
	go w.recvLoop()
	go w.sendLoop()

	glog.V(5).Infof("websocket connected, connection: %s", conv.ConnectionID)
	return nil
}

func (w *Websocket) Ack(ctx context.Context, messageID string) error {
	return w.appendSend(&frame{Kind: frameReceipt, MessageID: messageID})
}

// Close stops both loops and closes the connection. Safe to call
// multiple times and before Connect.
func (w *Websocket) Close() error {
	w.Lock()
	if w.closing {
		w.Unlock()
		return nil
	}
	w.closing = true
	conn := w.conn
	if w.sendChan != nil {
		close(w.sendChan)
	}
	w.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		w.wg.Wait()
	}
	return nil
}

func (w *Websocket) appendSend(f *frame) error {
	w.Lock()
	defer w.Unlock()
	if w.closing {
		return fmt.Errorf("transport: closed")
	}
	if w.sendChan == nil {
		return fmt.Errorf("transport: not connected")
	}
	select {
	case w.sendChan <- f:
		return nil
	default:
		return fmt.Errorf("transport: send queue full")
	}
}

// fail closes the connection on a loop error and notifies the session,
// unless a local Close already started.
func (w *Websocket) fail(err error) {
	w.Lock()
	if w.closing {
		w.Unlock()
		return
	}
	w.closing = true
	close(w.sendChan)
	w.conn.Close()
	events := w.events
	w.Unlock()

	transportDisconnects.WithLabelValues("websocket").Inc()
	events.OnDisconnect(err)
}

func (w *Websocket) recvLoop() {
	defer func() {
		glog.V(5).Info("websocket recvLoop exited")
		w.wg.Done()
	}()

	w.conn.SetReadLimit(readLimit)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.Lock()
			closing := w.closing
			w.Unlock()
			if !closing {
				glog.Errorf("websocket read error: %v", err)
				w.fail(err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			glog.Errorf("websocket: unexpected message type: %d", msgType)
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			glog.Errorf("websocket: bad frame %q: %v", string(data), err)
			continue
		}

		glog.V(5).Infof("websocket inbound frame: kind=%s id=%s", f.Kind, f.MessageID)

		switch f.Kind {
		case frameMessage:
			w.events.OnMessage(api.WireMessage{
				ID:           f.MessageID,
				LocalID:      f.LocalID,
				ConnectionID: f.ConnectionID,
				SenderID:     f.SenderID,
				Text:         f.Text,
				SentAt:       f.Timestamp,
			})
		case frameReceipt:
			w.events.OnReceipt(f.MessageID)
		case frameRead:
			w.events.OnRead(f.ConnectionID)
		default:
			glog.Errorf("websocket: unknown frame kind %q", f.Kind)
		}
	}
}

func (w *Websocket) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Info("websocket sendLoop exited")
		w.wg.Done()
	}()

	for {
		select {
		case f, ok := <-w.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				glog.Errorf("websocket: encode frame: %v", err)
				continue
			}
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				glog.Errorf("websocket write error: %v", err)
				w.fail(err)
				return
			}
		case <-pingTicker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("websocket ping error: %v", err)
				w.fail(err)
				return
			}
		}
	}
}
