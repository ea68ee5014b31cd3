package voicewire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/shared"
)

// ConnState is the transport lifecycle state.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnectedUnconfigured
	StateConnectedConfigured
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnconfigured:
		return "connected(unconfigured)"
	case StateConnectedConfigured:
		return "connected(configured)"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
)

// SessionConnection owns the transport: dial, configure, send, receive
// and close. It is the single component that touches the WebSocket.
// There is no automatic reconnect here; reconnecting is caller policy
// because it must not mask an intentional hang-up.
type SessionConnection struct {
	logger           shared.LoggerAdapter
	baseURL          *url.URL
	apiKey           string
	handshakeTimeout time.Duration
	writeWait        time.Duration

	onMessage func(data []byte)

	mu         sync.Mutex
	ws         *websocket.Conn
	state      ConnState
	seq        uint64
	onClosed   func(err error)
	tornDown   bool
	closeCause error

	configured chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func NewSessionConnection(logger shared.LoggerAdapter, apiKey, baseURL string) (*SessionConnection, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	u := &url.URL{Scheme: "https", Host: "api.openai.com", Path: "/v1"}
	if baseURL != "" {
		var err error
		u, err = url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
	}
	return &SessionConnection{
		logger:           logger,
		baseURL:          u,
		apiKey:           apiKey,
		handshakeTimeout: defaultHandshakeTimeout,
		writeWait:        defaultWriteWait,
		state:            StateIdle,
		configured:       make(chan struct{}),
		done:             make(chan struct{}),
	}, nil
}

// onInbound registers the raw-message sink. Must be set before Connect.
func (c *SessionConnection) onInbound(fn func(data []byte)) {
	c.onMessage = fn
}

// onTeardown registers the hook fired exactly once when the transport
// leaves the connected states, with a nil error for a local Close and
// the transport error otherwise. Registering after teardown already
// happened fires the hook immediately, so a close racing a late
// registration is never lost.
func (c *SessionConnection) onTeardown(fn func(err error)) {
	c.mu.Lock()
	if !c.tornDown {
		c.onClosed = fn
		c.mu.Unlock()
		return
	}
	cause := c.closeCause
	c.mu.Unlock()
	fn(cause)
}

func (c *SessionConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Configured is closed once the remote acknowledged the session
// configuration; only after that may live audio flow.
func (c *SessionConnection) Configured() <-chan struct{} {
	return c.configured
}

// Done is closed when the transport is fully torn down.
func (c *SessionConnection) Done() <-chan struct{} {
	return c.done
}

// wsEndpoint derives the realtime WebSocket URL from the REST base.
func (c *SessionConnection) wsEndpoint(model string) string {
	u := *c.baseURL.JoinPath("/realtime")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the transport and immediately sends the session
// configuration. It suspends until the transport is open or the
// handshake timeout fires; configuration acknowledgment arrives later
// as a session-updated event.
func (c *SessionConnection) Connect(ctx context.Context, cfg *SessionConfig) error {
	if cfg == nil {
		return shared.ErrNoConfig
	}
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return &shared.StateError{Op: "connect", State: state.String()}
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	headers := map[string][]string{
		"Authorization": {"Bearer " + c.apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}
	endpoint := c.wsEndpoint(cfg.Model)
	ws, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		terr := &shared.TransportError{Op: "dial " + endpoint, Err: err}
		c.teardown(terr)
		return terr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Torn down while the dial was in flight; the close wins.
		state := c.state
		c.mu.Unlock()
		_ = ws.Close()
		return &shared.StateError{Op: "connect", State: state.String()}
	}
	c.ws = ws
	c.state = StateConnectedUnconfigured
	c.mu.Unlock()
	c.logger.Info("transport open", zap.String("endpoint", endpoint))

	go c.readLoop(ws)

	if err := c.Send(sessionUpdateMsg(cfg)); err != nil {
		c.teardown(err)
		return err
	}
	return nil
}

// markConfigured transitions to connected(configured) on the remote
// acknowledgment. Idempotent: repeated session-updated events are
// harmless.
func (c *SessionConnection) markConfigured() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnectedUnconfigured {
		return
	}
	c.state = StateConnectedConfigured
	close(c.configured)
	c.logger.Info("session configuration acknowledged")
}

// Send marshals and writes one protocol message, stamping it with the
// next event id from the sequence counter.
func (c *SessionConnection) Send(msg map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(msg)
}

// SendSequence writes several messages back to back while holding the
// connection lock, so nothing else can interleave between them. The
// commit/response-create pairing depends on this.
func (c *SessionConnection) SendSequence(msgs ...map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range msgs {
		if err := c.sendLocked(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *SessionConnection) sendLocked(msg map[string]any) error {
	if c.state != StateConnectedUnconfigured && c.state != StateConnectedConfigured {
		return &shared.StateError{Op: "send", State: c.state.String()}
	}
	c.seq++
	msg["event_id"] = fmt.Sprintf("evt_%d", c.seq)
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling outbound message: %w", err)
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return &shared.TransportError{Op: "set write deadline", Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &shared.TransportError{Op: "write", Err: err}
	}
	c.logger.Trace("sent message", zap.Any("type", msg["type"]), zap.Any("event_id", msg["event_id"]))
	return nil
}

func (c *SessionConnection) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				c.teardown(nil)
				return
			}
			c.teardown(&shared.TransportError{Op: "read", Err: err})
			return
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

// Close performs the caller-initiated shutdown: close handshake, then
// teardown, synchronously. Idempotent.
func (c *SessionConnection) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateFailed, StateIdle:
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	ws := c.ws
	writeWait := c.writeWait
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
	}
	c.teardown(nil)
	return nil
}

// teardown moves to the terminal state and fires the closed hook
// exactly once, regardless of who noticed the closure first. Dial
// failures run through here too, so there is a single once-consumer.
func (c *SessionConnection) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if cause != nil && c.state != StateClosing {
			c.state = StateFailed
		} else {
			c.state = StateClosed
		}
		c.tornDown = true
		c.closeCause = cause
		ws := c.ws
		c.ws = nil
		fn := c.onClosed
		c.mu.Unlock()
		if ws != nil {
			if err := ws.Close(); err != nil {
				c.logger.Debug("closing websocket", zap.Error(err))
			}
		}
		if cause != nil {
			c.logger.Error("transport closed", cause)
		} else {
			c.logger.Info("transport closed")
		}
		if fn != nil {
			fn(cause)
		}
		close(c.done)
	})
}

// MintClientSecret exchanges the long-lived API key for an ephemeral
// client secret via the REST endpoint. Useful when the dialing process
// should never hold the real key.
func MintClientSecret(logger shared.LoggerAdapter, apiKey, baseURL string) (string, error) {
	if apiKey == "" {
		return "", shared.ErrNoAPIKey
	}
	u := &url.URL{Scheme: "https", Host: "api.openai.com", Path: "/v1"}
	if baseURL != "" {
		var err error
		u, err = url.Parse(baseURL)
		if err != nil {
			return "", fmt.Errorf("parsing base URL: %w", err)
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.JoinPath("/realtime/client_secrets").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.SetBodyString("{}")

	if err := fasthttp.Do(req, resp); err != nil {
		return "", &shared.TransportError{Op: "minting client secret", Err: err}
	}
	if resp.StatusCode() != fasthttp.StatusOK && resp.StatusCode() != fasthttp.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	var payload struct {
		Value string `json:"value"`
	}
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return "", fmt.Errorf("parsing client secret response: %w", err)
	}
	if payload.Value == "" {
		return "", errors.New("client secret response missing value")
	}
	if logger != nil {
		logger.Debug("minted ephemeral client secret")
	}
	return payload.Value, nil
}
