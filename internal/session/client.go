package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-watch-client/internal/observability"
)

const (
	// maxResponseBytes bounds API response reads.
	maxResponseBytes = 1 << 20

	// defaultExpiredDebounce is the window within which repeated session
	// expiries collapse into a single boundary notification, so N failing
	// background calls never produce N login dialogs.
	defaultExpiredDebounce = 30 * time.Second
)

// Request is an API call the client can replay after a token refresh.
type Request struct {
	Method string
	Path   string // joined to the configured base URL
	Body   []byte // optional JSON payload
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client sends authenticated API requests. On a 401 it performs exactly one
// in-flight token refresh for the whole process, retries the original
// request once with the new credentials, and escalates to session expiry
// when refresh is impossible. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      *CredentialStore
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock

	onSessionExpired func()
	expiredDebounce  time.Duration

	// refreshDone is non-nil exactly while one refresh is in flight.
	// Competing callers wait on it instead of starting a second refresh.
	refreshMu   sync.Mutex
	refreshDone chan struct{}

	expireMu    sync.Mutex
	lastExpired time.Time
}

// NewClient creates an authenticated API client around a credential store.
func NewClient(baseURL string, store *CredentialStore, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         strings.TrimRight(baseURL, "/"),
		store:           store,
		logger:          logger,
		metrics:         metrics,
		clock:           clockwork.NewRealClock(),
		expiredDebounce: defaultExpiredDebounce,
	}
}

// SetClock swaps the time source used for expiry debouncing. Tests inject a
// fake; passing nil resets to real time.
func (c *Client) SetClock(clk clockwork.Clock) {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	c.clock = clk
}

// OnSessionExpired registers the boundary callback invoked when the session
// becomes unrecoverable. The callback is debounced: at most one notification
// per debounce window regardless of how many calls fail. Must be set before
// the client is shared across goroutines.
func (c *Client) OnSessionExpired(fn func()) {
	c.onSessionExpired = fn
}

// Do sends an authenticated request. A 401 triggers the refresh-and-retry
// path; the request is retried at most once, so a second 401 after a
// successful refresh surfaces as a genuine authorization error.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.send(ctx, req, true)
	if err != nil {
		c.metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
		return Response{}, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.classify(resp)
	}

	c.metrics.AuthRetries.Inc()
	if err := c.ensureFreshCredentials(ctx); err != nil {
		c.metrics.RequestsTotal.WithLabelValues("session_expired").Inc()
		return Response{}, err
	}

	resp, err = c.send(ctx, req, true)
	if err != nil {
		c.metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
		return Response{}, err
	}
	return c.classify(resp)
}

// Login authenticates with the API and stores the returned credential pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal login payload: %w", err)
	}

	resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: payload}, false)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	var creds Credentials
	if err := json.Unmarshal(resp.Body, &creds); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if !creds.Present() {
		return fmt.Errorf("login response missing access token")
	}

	c.store.Set(creds)

	// A fresh session may expire again later and should notify again.
	c.expireMu.Lock()
	c.lastExpired = time.Time{}
	c.expireMu.Unlock()

	c.logger.Info("logged in")
	return nil
}

// Logout revokes the session server-side (best effort) and always clears the
// local credentials.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.send(ctx, Request{Method: http.MethodPost, Path: "/auth/logout"}, true)
	c.store.Clear()
	if err != nil {
		c.logger.Warn("server-side logout failed", "error", err)
		return err
	}
	c.logger.Info("logged out")
	return nil
}

// classify maps a response to the caller-facing result: 2xx passes through,
// everything else (including a post-refresh 401) becomes a StatusError with
// the body preserved for caller-specific handling.
func (c *Client) classify(resp Response) (Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.metrics.RequestsTotal.WithLabelValues("success").Inc()
		return resp, nil
	}
	c.metrics.RequestsTotal.WithLabelValues("http_error").Inc()
	return resp, &StatusError{Code: resp.StatusCode}
}

func (c *Client) send(ctx context.Context, req Request, authenticated bool) (Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if access := c.store.AccessToken(); access != "" {
			httpReq.Header.Set("Authorization", "Bearer "+access)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

// ensureFreshCredentials is the single-flight guard. The first caller to
// arrive owns the refresh; everyone else waits for it to settle and then
// proceeds with whatever credentials are current, without a second refresh.
func (c *Client) ensureFreshCredentials(ctx context.Context) error {
	c.refreshMu.Lock()
	if done := c.refreshDone; done != nil {
		c.refreshMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.refreshDone = done
	c.refreshMu.Unlock()

	err := c.refresh(ctx)

	c.refreshMu.Lock()
	c.refreshDone = nil
	close(done)
	c.refreshMu.Unlock()
	return err
}

// refresh exchanges the current refresh token for a new credential pair.
// Any failure here is unrecoverable: the store is cleared and the expiry
// notification fires.
func (c *Client) refresh(ctx context.Context) error {
	refreshToken := strings.TrimSpace(c.store.Get().RefreshToken)
	if refreshToken == "" {
		c.expireSession("no refresh token")
		return ErrSessionExpired
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return fmt.Errorf("marshal refresh payload: %w", err)
	}

	// The refresh call is deliberately unauthenticated: the refresh token in
	// the body is the credential, and the expired access token must not ride
	// along.
	resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: "/auth/refresh", Body: payload}, false)
	if err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		c.expireSession("refresh request failed")
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		c.expireSession(fmt.Sprintf("refresh rejected with status %d", resp.StatusCode))
		return fmt.Errorf("%w: refresh rejected with status %d", ErrSessionExpired, resp.StatusCode)
	}

	var creds Credentials
	if err := json.Unmarshal(resp.Body, &creds); err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		c.expireSession("refresh response malformed")
		return fmt.Errorf("%w: decode refresh response: %v", ErrSessionExpired, err)
	}
	if !creds.Present() {
		c.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		c.expireSession("refresh response missing access token")
		return fmt.Errorf("%w: refresh response missing access token", ErrSessionExpired)
	}

	c.store.Set(creds)
	c.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.logger.Info("access token refreshed")
	return nil
}

func (c *Client) expireSession(reason string) {
	c.store.Clear()
	c.metrics.SessionExpiries.Inc()
	c.logger.Warn("session expired", "reason", reason)

	if c.onSessionExpired == nil {
		return
	}
	c.expireMu.Lock()
	now := c.clock.Now()
	if !c.lastExpired.IsZero() && now.Sub(c.lastExpired) < c.expiredDebounce {
		c.expireMu.Unlock()
		return
	}
	c.lastExpired = now
	c.expireMu.Unlock()

	c.onSessionExpired()
}
