package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
)

// Endpoint paths of the direct-message API.
const (
	PathLogin        = "/auth/login"
	PathRefresh      = "/auth/refresh"
	PathConversation = "/users/messages"
	PathPostMessage  = "/users/post"
	PathMarkAsRead   = "/users/messages/markAsRead"
)

// Doer executes one authenticated JSON request and returns the raw
// response body. On non-2xx it returns the decoded *Error. Implemented
// by *auth.Interceptor; tests substitute fakes.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error)
}

// Client is the typed REST client for the direct-message endpoints.
// All calls go through the injected Doer, so token attachment and
// expiry-refresh-retry are invisible here.
type Client struct {
	doer Doer
}

func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// OpenConversation looks up or creates the conversation between the
// current user and peer. The backend treats this as idempotent: repeated
// calls for the same peer return the same connectionId.
func (c *Client) OpenConversation(ctx context.Context, peer string) (*Conversation, error) {
	if strings.TrimSpace(peer) == "" {
		return nil, fmt.Errorf("api: empty peer username")
	}
	body, err := c.doer.Do(ctx, http.MethodPost, PathConversation, nil, &OpenConversationRequest{
		ReceiverUsername: peer,
	})
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, fmt.Errorf("api: decode conversation: %w", err)
	}
	if conv.ConnectionID == "" {
		return nil, fmt.Errorf("api: backend returned conversation without connectionId")
	}
	return &conv, nil
}

// History returns the conversation descriptor plus full message history
// for peer. A response with an empty ConnectionID means no conversation
// exists yet; that is not an error.
func (c *Client) History(ctx context.Context, peer string) (*HistoryResponse, error) {
	q := url.Values{"to": []string{peer}}
	body, err := c.doer.Do(ctx, http.MethodGet, PathConversation, q, nil)
	if err != nil {
		return nil, err
	}
	var resp HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("api: decode history: %w", err)
	}
	return &resp, nil
}

// PostMessage submits one outgoing message. localID is the client
// generated id the backend echoes back for reconciliation.
func (c *Client) PostMessage(ctx context.Context, connectionID, localID, text string) (*PostMessageResponse, error) {
	body, err := c.doer.Do(ctx, http.MethodPost, PathPostMessage, nil, &PostMessageRequest{
		ConnectionID: connectionID,
		LocalID:      localID,
		Text:         text,
	})
	if err != nil {
		return nil, err
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("api: decode post response: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("api: backend accepted message without assigning an id")
	}
	return &resp, nil
}

// MarkAsRead marks every message in the conversation read. The backend
// returns no content on success.
func (c *Client) MarkAsRead(ctx context.Context, connectionID string) error {
	_, err := c.doer.Do(ctx, http.MethodPost, PathMarkAsRead, nil, &MarkAsReadRequest{
		ConnectionID: connectionID,
	})
	return err
}

// Inbox returns the conversation-list summary for the current user.
func (c *Client) Inbox(ctx context.Context) ([]InboxEntry, error) {
	body, err := c.doer.Do(ctx, http.MethodGet, PathConversation, nil, nil)
	if err != nil {
		return nil, err
	}
	var entries []InboxEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("api: decode inbox: %w", err)
	}
	glog.V(5).Infof("inbox: %d entries", len(entries))
	return entries, nil
}
