package voicewire

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/audio"
	"github.com/voicewire/voicewire/shared"
)

// VoiceSessionClient is the public facade: it composes capture,
// uplink, connection, dispatch, turn-taking, playback and the ledger
// into one long-lived bidirectional voice session. One client owns at
// most one session at a time; a second Connect while connected fails
// fast instead of silently replacing state.
type VoiceSessionClient struct {
	logger  shared.LoggerAdapter
	apiKey  string
	baseURL string

	onEvent      EventHandler
	onConnect    func()
	onDisconnect func(err error)
	onError      func(err error)

	// Seam for tests; defaults to the real speaker device.
	newRenderer func() (audio.Renderer, error)

	mu       sync.Mutex
	conn     *SessionConnection
	capture  *audio.CaptureService
	playback *audio.PlaybackEngine
	turn     *TurnStateMachine
	ledger   *ConversationLedger
	uplinkQ  *uplink
}

func NewVoiceSessionClient(logger shared.LoggerAdapter, apiKey, baseURL string) (*VoiceSessionClient, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	return &VoiceSessionClient{
		logger:      logger,
		apiKey:      apiKey,
		baseURL:     baseURL,
		newRenderer: audio.NewSpeaker,
		ledger:      NewConversationLedger(),
	}, nil
}

// OnEvent registers the generic event hook, invoked for every inbound
// event before internal handlers run. Hooks must be registered before
// Connect; the session captures them when it starts.
func (c *VoiceSessionClient) OnEvent(h EventHandler) { c.onEvent = h }

// OnConnect fires once the transport is open and configuration has
// been sent.
func (c *VoiceSessionClient) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect fires exactly once per session when the transport is
// gone, with a nil error for a caller-initiated disconnect.
func (c *VoiceSessionClient) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// OnError receives remote error events and transport failures.
func (c *VoiceSessionClient) OnError(fn func(err error)) { c.onError = fn }

// Connect opens a new session: dials the transport, sends the session
// configuration, and wires the audio pipeline. It suspends until the
// transport is open or the handshake timeout fires.
func (c *VoiceSessionClient) Connect(ctx context.Context, cfg *SessionConfig) error {
	if cfg == nil {
		return shared.ErrNoConfig
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		switch c.conn.State() {
		case StateClosed, StateFailed:
			// Previous session is terminal; a fresh one may begin.
		default:
			state := c.conn.State()
			c.mu.Unlock()
			return &shared.StateError{Op: "connect", State: state.String()}
		}
	}

	renderer, err := c.newRenderer()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	conn, err := NewSessionConnection(c.logger, c.apiKey, c.baseURL)
	if err != nil {
		c.mu.Unlock()
		_ = renderer.Close()
		return err
	}
	playback := audio.NewPlaybackEngine(c.logger, renderer)
	turn := NewTurnStateMachine(c.logger, conn, playback)
	capture := audio.NewCaptureService(c.logger, 0)
	disp := &dispatcher{
		logger:   c.logger,
		hook:     c.onEvent,
		acker:    conn,
		turn:     turn,
		playback: playback,
		ledger:   c.ledger,
		onError:  c.onError,
	}
	conn.onInbound(disp.dispatch)

	// Reserve the session slot before releasing the lock: a racing
	// Connect fails fast and state accessors stay responsive during
	// the dial.
	c.conn = conn
	c.playback = playback
	c.turn = turn
	c.capture = capture
	c.uplinkQ = newUplink(c.logger, conn, conn.Configured(), 0)
	c.mu.Unlock()

	if err := conn.Connect(ctx, cfg); err != nil {
		playback.Close()
		c.mu.Lock()
		c.conn, c.playback, c.turn, c.capture, c.uplinkQ = nil, nil, nil, nil, nil
		c.mu.Unlock()
		return err
	}

	// Registered only after the dial succeeded: a failed connect
	// reports through its error return, never through the disconnect
	// hooks. A remote close racing this registration still fires it.
	conn.onTeardown(func(cause error) { c.teardown(capture, playback, turn, cause) })

	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// teardown runs exactly once per session, for both local disconnects
// and remote closes: devices are never left running against a dead
// session.
func (c *VoiceSessionClient) teardown(capture *audio.CaptureService, playback *audio.PlaybackEngine, turn *TurnStateMachine, cause error) {
	capture.Stop()
	playback.Flush()
	playback.Close()
	turn.Reset()
	c.ledger.Clear()
	if cause != nil && c.onError != nil {
		c.onError(cause)
	}
	if c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
}

// Disconnect closes the session, tearing devices down synchronously
// before it returns. Transport-level cancellation always wins over any
// in-flight operation.
func (c *VoiceSessionClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return shared.ErrNotConnected
	}
	return conn.Close()
}

// StartCapture acquires the microphone and begins streaming frames.
// Frames captured before the configuration ack buffer client-side.
func (c *VoiceSessionClient) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return shared.ErrNotConnected
	}
	switch c.conn.State() {
	case StateConnectedUnconfigured, StateConnectedConfigured:
	default:
		return &shared.StateError{Op: "start capture", State: c.conn.State().String()}
	}
	if err := c.capture.Start(); err != nil {
		return err
	}
	c.turn.StartListening()
	go c.uplinkQ.run(c.capture.Frames())
	return nil
}

// StopCapture releases the microphone. Idempotent; playback continues.
func (c *VoiceSessionClient) StopCapture() {
	c.mu.Lock()
	capture := c.capture
	turn := c.turn
	c.mu.Unlock()
	if capture != nil {
		capture.Stop()
	}
	if turn != nil {
		turn.StopListening()
	}
}

// SendText injects a text turn and asks for a response, alongside or
// instead of audio.
func (c *VoiceSessionClient) SendText(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return shared.ErrNotConnected
	}
	return conn.SendSequence(textItemMsg(text), responseCreateMsg())
}

// Interrupt cancels the in-progress model response and its queued
// audio. Idempotent.
func (c *VoiceSessionClient) Interrupt() {
	c.mu.Lock()
	turn := c.turn
	c.mu.Unlock()
	if turn != nil {
		turn.Interrupt()
	}
}

// ConnState reports the transport lifecycle state.
func (c *VoiceSessionClient) ConnState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return StateIdle
	}
	return c.conn.State()
}

// TurnState reports whose turn it is.
func (c *VoiceSessionClient) TurnState() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return TurnIdle
	}
	return c.turn.State()
}

// IsPlaying reports whether model audio is queued or rendering.
func (c *VoiceSessionClient) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback != nil && c.playback.IsPlaying()
}

// Ledger returns a snapshot of the conversation so far.
func (c *VoiceSessionClient) Ledger() []ConversationItem {
	return c.ledger.Snapshot()
}
