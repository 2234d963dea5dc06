package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/winfeed/winchat/api"
)

var refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "winchat_token_refresh_total",
	Help: "Token refresh attempts by result.",
}, []string{"result"})

// Interceptor executes authenticated requests against the backend.
// It attaches the current access token, and when the backend reports the
// token expired it performs one refresh and retries the request exactly
// once. Concurrent callers that hit expiry at the same time share a
// single in-flight refresh.
type Interceptor struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialStore

	mu     sync.Mutex
	flight *refreshFlight
}

type refreshFlight struct {
	done chan struct{}
	err  error
}

// NewInterceptor creates an Interceptor. httpClient may be nil, in which
// case http.DefaultClient is used.
func NewInterceptor(baseURL string, creds CredentialStore, httpClient *http.Client) (*Interceptor, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("auth: baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("auth: invalid baseURL %q: %w", baseURL, err)
	}
	if creds == nil {
		return nil, fmt.Errorf("auth: credential store is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Interceptor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
	}, nil
}

// Login authenticates with username and password and stores the issued
// token pair. It is the only entry point besides refresh that writes
// credentials.
func (i *Interceptor) Login(ctx context.Context, username, password string) error {
	body, err := i.execute(ctx, http.MethodPost, api.PathLogin, nil, &api.LoginRequest{
		Username: username,
		Password: password,
	}, "")
	if err != nil {
		return err
	}
	var pair api.TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return fmt.Errorf("auth: decode login response: %w", err)
	}
	if !pair.Valid() {
		return fmt.Errorf("auth: login response missing tokens")
	}
	if err := i.creds.Set(pair); err != nil {
		return fmt.Errorf("auth: store credentials: %w", err)
	}
	glog.Info("logged in, credentials stored")
	return nil
}

// Logout clears the stored credentials.
func (i *Interceptor) Logout() error {
	return i.creds.Clear()
}

// LoggedIn reports whether a credential pair is currently stored.
func (i *Interceptor) LoggedIn() bool {
	_, ok := i.creds.Get()
	return ok
}

// Do implements api.Doer. It executes the request with the current
// access token attached. If the backend reports the token expired, it
// refreshes once and retries once with the new token; a second expiry
// surfaces as ErrAuthRequired. A forbidden response clears credentials
// and surfaces ErrAuthInvalid without attempting refresh. Every other
// response, success or business error, passes through unmodified.
func (i *Interceptor) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	pair, ok := i.creds.Get()
	if !ok {
		return nil, ErrAuthRequired
	}

	respBody, err := i.execute(ctx, method, path, query, body, pair.AccessToken)
	switch {
	case err == nil:
		return respBody, nil
	case api.IsCode(err, api.CodeTokenExpired):
		// Recoverable: refresh, then retry exactly once below.
	case api.IsCode(err, api.CodeAuthInvalid):
		glog.Errorf("backend rejected credentials on %s %s, clearing", method, path)
		_ = i.creds.Clear()
		return nil, ErrAuthInvalid
	default:
		return nil, err
	}

	if err := i.refresh(ctx); err != nil {
		return nil, err
	}

	pair, ok = i.creds.Get()
	if !ok {
		// Refresh raced with an explicit logout.
		return nil, ErrAuthRequired
	}

	respBody, err = i.execute(ctx, method, path, query, body, pair.AccessToken)
	switch {
	case err == nil:
		return respBody, nil
	case api.IsCode(err, api.CodeTokenExpired):
		// The freshly minted token expired immediately. One retry per
		// call; give up and force re-login.
		glog.Errorf("token expired again right after refresh on %s %s", method, path)
		_ = i.creds.Clear()
		return nil, ErrAuthRequired
	case api.IsCode(err, api.CodeAuthInvalid):
		_ = i.creds.Clear()
		return nil, ErrAuthInvalid
	default:
		return nil, err
	}
}

// refresh coalesces concurrent refresh attempts behind one in-flight
// call: the first caller performs the HTTP exchange, everyone else
// blocks on the same flight and shares its result.
func (i *Interceptor) refresh(ctx context.Context) error {
	i.mu.Lock()
	if f := i.flight; f != nil {
		i.mu.Unlock()
		glog.V(5).Info("refresh already in flight, waiting")
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &refreshFlight{done: make(chan struct{})}
	i.flight = f
	i.mu.Unlock()

	f.err = i.doRefresh(ctx)

	i.mu.Lock()
	i.flight = nil
	i.mu.Unlock()
	close(f.done)
	return f.err
}

// doRefresh performs the actual token exchange. The refresh call itself
// is never retried. A backend rejection clears the stored pair (the
// refresh token is spent or revoked); a transport failure keeps it, the
// pair may still work once the network recovers.
func (i *Interceptor) doRefresh(ctx context.Context) error {
	pair, ok := i.creds.Get()
	if !ok {
		return ErrAuthRequired
	}

	body, err := i.execute(ctx, http.MethodPost, api.PathRefresh, nil, &api.RefreshRequest{
		RefreshToken: pair.RefreshToken,
	}, "")
	if err != nil {
		if IsNetworkError(err) {
			refreshTotal.WithLabelValues("network_error").Inc()
			return err
		}
		refreshTotal.WithLabelValues("rejected").Inc()
		glog.Errorf("refresh rejected: %v", err)
		_ = i.creds.Clear()
		return ErrAuthRequired
	}

	var resp api.RefreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		refreshTotal.WithLabelValues("bad_response").Inc()
		return fmt.Errorf("auth: decode refresh response: %w", err)
	}
	if resp.AccessToken == "" {
		refreshTotal.WithLabelValues("bad_response").Inc()
		return fmt.Errorf("auth: refresh response missing access token")
	}

	next := api.TokenPair{
		AccessToken:       resp.AccessToken,
		RefreshToken:      resp.RefreshToken,
		NotificationToken: resp.NotificationToken,
	}
	// The backend may not rotate these; keep what we have.
	if next.RefreshToken == "" {
		next.RefreshToken = pair.RefreshToken
	}
	if next.NotificationToken == "" {
		next.NotificationToken = pair.NotificationToken
	}
	if err := i.creds.Set(next); err != nil {
		return fmt.Errorf("auth: store refreshed credentials: %w", err)
	}

	refreshTotal.WithLabelValues("ok").Inc()
	glog.V(5).Info("access token refreshed")
	return nil
}

// execute performs one HTTP exchange. On 2xx it returns the body; on any
// other status it returns the decoded *api.Error; transport failures
// come back as *NetworkError.
func (i *Interceptor) execute(ctx context.Context, method, path string, query url.Values, body any, accessToken string) ([]byte, error) {
	requestURL := i.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("auth: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	apiErr := &api.Error{}
	if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Code == "" {
		// Non-JSON error body; surface the status with the raw text.
		apiErr = &api.Error{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(respBody)),
		}
	}
	apiErr.StatusCode = resp.StatusCode
	return nil, apiErr
}
