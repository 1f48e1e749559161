// Package realtime owns the Storm Watch feed connection: one
// STOMP-over-WebSocket socket, the subscription registry, and the dispatch
// of decoded payloads to the presentation boundary.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/couchcryptid/storm-watch-client/internal/domain"
	"github.com/couchcryptid/storm-watch-client/internal/dispatch"
	"github.com/couchcryptid/storm-watch-client/internal/observability"
	"github.com/couchcryptid/storm-watch-client/internal/stomp"
)

const (
	stompVersion = "1.2"
	writeTimeout = 5 * time.Second
)

// State is the connection lifecycle phase. Connecting covers both the
// websocket dial and the CONNECT/CONNECTED handshake; only a CONNECTED
// frame promotes to Connected.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TokenSource provides the current access token for the handshake.
// *session.CredentialStore satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Handlers receive decoded feed events. Every invocation is posted through
// the dispatch boundary, so handlers run on the presentation thread and may
// touch UI state. Nil handlers are skipped.
type Handlers struct {
	OnReading          func(domain.StationReading)
	OnAlert            func(domain.ThresholdAlert)
	OnConnectionChange func(connected bool)
	OnProtocolError    func(message string)
}

// Client is the realtime feed client. One Client owns at most one socket at
// a time; Subscribe, Unsubscribe, and Disconnect are safe to call from the
// presentation thread while the read loop runs on its own goroutine.
type Client struct {
	wsURL    string
	tokens   TokenSource
	handlers Handlers
	post     dispatch.Poster
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	stop      func() // idempotent; tears down the current connection's done channel
	subs      map[string]string
	nextSubID int
}

// NewClient creates a feed client. A nil poster runs handlers inline on the
// transport goroutine, which is only appropriate in tests.
func NewClient(wsURL string, tokens TokenSource, handlers Handlers, post dispatch.Poster, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return &Client{
		wsURL:    wsURL,
		tokens:   tokens,
		handlers: handlers,
		post:     post,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[string]string),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the destinations currently subscribed, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for dest := range c.subs {
		out = append(out, dest)
	}
	sort.Strings(out)
	return out
}

// CheckReadiness reports nil while the feed is connected. Satisfies the
// debug server's readiness contract.
func (c *Client) CheckReadiness(_ context.Context) error {
	if c.State() != Connected {
		return errors.New("realtime feed is not connected")
	}
	return nil
}

// Connect starts the feed connection off the caller's goroutine. Failures
// are logged, never returned: the presentation layer learns the outcome
// through the connection-status handler. Use Run directly when the caller
// (e.g. the Supervisor) needs the terminal error.
func (c *Client) Connect(ctx context.Context) {
	go func() {
		if err := c.Run(ctx); err != nil {
			c.logger.Error("feed connection ended", "error", err)
		}
	}()
}

// Run dials the feed, performs the STOMP handshake, and blocks reading
// frames until the connection ends. It returns nil after an explicit
// Disconnect and an error for any other termination. The client is always
// left in Disconnected state with no subscriptions.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("feed already %s", state)
	}
	c.state = Connecting
	done := make(chan struct{})
	var once sync.Once
	c.stop = func() { once.Do(func() { close(done) }) }
	c.mu.Unlock()

	target, host, err := c.connectURL()
	if err != nil {
		c.teardown(nil)
		return fmt.Errorf("build feed url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		c.teardown(nil)
		return fmt.Errorf("dial feed: %w", err)
	}

	c.mu.Lock()
	// Disconnect may have raced the dial.
	select {
	case <-done:
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return nil
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	// Socket open is not "connected" yet: send CONNECT and wait for the
	// server's CONNECTED frame to promote the state.
	if err := c.write(ctx, conn, c.connectFrame(host)); err != nil {
		c.teardown(conn)
		return fmt.Errorf("send connect frame: %w", err)
	}

	readErr := c.readLoop(ctx, conn, done)
	c.teardown(conn)
	return readErr
}

// Subscribe registers for a destination and sends a SUBSCRIBE frame. A
// no-op unless Connected. Subscribing to an already-subscribed destination
// overwrites the local mapping and leaks the previous id server-side; the
// leak is logged rather than papered over.
func (c *Client) Subscribe(destination string) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		c.logger.Debug("subscribe ignored, feed not connected", "destination", destination)
		return
	}
	if previous, ok := c.subs[destination]; ok {
		c.logger.Warn("resubscribing to destination, previous subscription id leaks",
			"destination", destination, "previous_id", previous)
	}
	id := fmt.Sprintf("sub-%d", c.nextSubID)
	c.nextSubID++
	c.subs[destination] = id
	conn := c.conn
	active := len(c.subs)
	c.mu.Unlock()

	c.metrics.SubscriptionsActive.Set(float64(active))

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.write(ctx, conn, stomp.NewFrame(stomp.CommandSubscribe, map[string]string{
		"id":          id,
		"destination": destination,
	}, "")); err != nil {
		c.logger.Warn("subscribe send failed", "destination", destination, "error", err)
	}
}

// Unsubscribe removes a destination's subscription and sends an UNSUBSCRIBE
// frame with the recorded id. A no-op for unknown destinations.
func (c *Client) Unsubscribe(destination string) {
	c.mu.Lock()
	id, ok := c.subs[destination]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, destination)
	conn := c.conn
	active := len(c.subs)
	c.mu.Unlock()

	c.metrics.SubscriptionsActive.Set(float64(active))

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.write(ctx, conn, stomp.NewFrame(stomp.CommandUnsubscribe, map[string]string{"id": id}, "")); err != nil {
		c.logger.Warn("unsubscribe send failed", "destination", destination, "error", err)
	}
}

// Subscribed reports whether a destination currently has a recorded
// subscription id.
func (c *Client) Subscribed(destination string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[destination]
	return ok
}

// Disconnect closes the socket, clears all subscription state, and resets
// to Disconnected. Unconditional and idempotent: safe to call in any state,
// any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.teardown(conn)
}

func (c *Client) connectURL() (target, host string, err error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", "", err
	}
	// The websocket handshake cannot carry custom headers from every
	// runtime, so the access token rides as a query parameter.
	if token := c.tokens.AccessToken(); token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), u.Host, nil
}

func (c *Client) connectFrame(host string) stomp.Frame {
	headers := map[string]string{
		"accept-version": stompVersion,
		"host":           host,
	}
	if token := c.tokens.AccessToken(); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return stomp.NewFrame(stomp.CommandConnect, headers, "")
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, frame stomp.Frame) error {
	if conn == nil {
		return errors.New("no connection")
	}
	return conn.Write(ctx, websocket.MessageText, stomp.Encode(frame))
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-done:
				return nil // expected close
			default:
				return fmt.Errorf("read feed: %w", err)
			}
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	frame, err := stomp.Decode(data)
	if err != nil {
		if !errors.Is(err, stomp.ErrEmptyFrame) {
			c.metrics.MessagesDropped.WithLabelValues("decode_error").Inc()
			c.logger.Debug("dropping undecodable frame", "error", err)
		}
		return
	}
	c.metrics.FramesReceived.WithLabelValues(frame.Command).Inc()

	switch frame.Command {
	case stomp.CommandConnected:
		c.mu.Lock()
		promoted := c.state == Connecting
		if promoted {
			c.state = Connected
		}
		c.mu.Unlock()
		if promoted {
			c.metrics.Connected.Set(1)
			c.logger.Info("feed connected", "version", frame.Headers["version"])
			c.emitStatus(true)
		}

	case stomp.CommandMessage:
		c.routeMessage(frame)

	case stomp.CommandError:
		message := frame.Headers["message"]
		if message == "" {
			message = frame.Body
		}
		c.logger.Warn("feed error frame", "message", message)
		if h := c.handlers.OnProtocolError; h != nil {
			c.post(func() { h(message) })
		}

	default:
		c.logger.Debug("ignoring frame", "command", frame.Command)
	}
}

// routeMessage classifies a MESSAGE frame by destination and hands the
// parsed payload to the matching handler. Malformed payloads are dropped
// per-message; they never terminate the connection.
func (c *Client) routeMessage(frame stomp.Frame) {
	destination := frame.Headers["destination"]
	switch {
	case domain.IsStationTopic(destination):
		reading, err := domain.ParseReading([]byte(frame.Body))
		if err != nil {
			c.dropPayload(destination, err)
			return
		}
		c.metrics.ReadingsReceived.Inc()
		if h := c.handlers.OnReading; h != nil {
			c.post(func() { h(reading) })
		}

	case domain.IsAlertTopic(destination):
		alert, err := domain.ParseAlert([]byte(frame.Body))
		if err != nil {
			c.dropPayload(destination, err)
			return
		}
		c.metrics.AlertsReceived.Inc()
		if h := c.handlers.OnAlert; h != nil {
			c.post(func() { h(alert) })
		}

	default:
		c.metrics.MessagesDropped.WithLabelValues("unknown_destination").Inc()
		c.logger.Debug("dropping message for unknown destination", "destination", destination)
	}
}

func (c *Client) dropPayload(destination string, err error) {
	c.metrics.MessagesDropped.WithLabelValues("payload_error").Inc()
	c.logger.Warn("dropping malformed payload", "destination", destination, "error", err)
}

// teardown closes the connection and resets all per-connection state. The
// status handler fires only on a Connected→Disconnected transition, so the
// presentation layer never sees a "disconnected" for a feed it never saw
// connect.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	wasConnected := c.state == Connected
	c.state = Disconnected
	c.conn = nil
	c.subs = make(map[string]string)
	c.nextSubID = 0
	stop := c.stop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}

	c.metrics.Connected.Set(0)
	c.metrics.SubscriptionsActive.Set(0)

	if wasConnected {
		c.logger.Info("feed disconnected")
		c.emitStatus(false)
	}
}

func (c *Client) emitStatus(connected bool) {
	if h := c.handlers.OnConnectionChange; h != nil {
		c.post(func() { h(connected) })
	}
}
