package voicewire

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voicewire/voicewire/shared"
)

// TurnState tracks whose turn it is.
type TurnState int32

const (
	TurnIdle TurnState = iota
	TurnListening
	TurnUserSpeaking
	TurnCommitting
	TurnResponding
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnListening:
		return "listening"
	case TurnUserSpeaking:
		return "user_speaking"
	case TurnCommitting:
		return "committing"
	case TurnResponding:
		return "responding"
	default:
		return fmt.Sprintf("TurnState(%d)", int32(s))
	}
}

// commandSender is the outbound command path the turn machine drives.
type commandSender interface {
	Send(msg map[string]any) error
	SendSequence(msgs ...map[string]any) error
}

// playbackFlusher is the slice of the playback engine interrupts need.
type playbackFlusher interface {
	Flush()
	Discard(responseID string)
}

// TurnStateMachine reacts to voice-activity and response lifecycle
// events and issues commit/cancel commands. All transitions happen
// under one mutex so the commit + response-create pair can never be
// split by a racing cancel.
type TurnStateMachine struct {
	logger   shared.LoggerAdapter
	sender   commandSender
	playback playbackFlusher

	mu             sync.Mutex
	state          TurnState
	armed          bool
	activeResponse string
}

func NewTurnStateMachine(logger shared.LoggerAdapter, sender commandSender, playback playbackFlusher) *TurnStateMachine {
	return &TurnStateMachine{
		logger:   logger,
		sender:   sender,
		playback: playback,
		state:    TurnIdle,
	}
}

func (t *TurnStateMachine) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartListening arms the machine when capture begins. While armed,
// every completed or cancelled response returns to listening so the
// next user turn is picked up.
func (t *TurnStateMachine) StartListening() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	if t.state == TurnIdle {
		t.state = TurnListening
	}
}

// StopListening disarms the machine when capture ends. An in-flight
// response keeps running; only the listening side goes quiet.
func (t *TurnStateMachine) StopListening() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	if t.state == TurnListening || t.state == TurnUserSpeaking {
		t.state = TurnIdle
	}
}

// Reset returns to idle without sending anything. Used on disconnect.
func (t *TurnStateMachine) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TurnIdle
	t.armed = false
	t.activeResponse = ""
}

// restingState is where the machine settles after a response ends.
// Callers must hold t.mu.
func (t *TurnStateMachine) restingState() TurnState {
	if t.armed {
		return TurnListening
	}
	return TurnIdle
}

func (t *TurnStateMachine) handleSpeechStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TurnListening {
		t.state = TurnUserSpeaking
	}
}

// handleSpeechStopped issues the commit + response-create pair. While a
// response is already committing or responding the event is suppressed
// instead of double-committing.
func (t *TurnStateMachine) handleSpeechStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TurnUserSpeaking:
	case TurnCommitting, TurnResponding:
		t.logger.Debug("suppressing commit, response already in flight", zap.String("state", t.state.String()))
		return
	default:
		return
	}
	t.state = TurnCommitting
	if err := t.sender.SendSequence(bufferCommitMsg(), responseCreateMsg()); err != nil {
		t.logger.Error("committing user turn", err)
		t.state = TurnListening
	}
}

func (t *TurnStateMachine) handleResponseCreated(responseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeResponse = responseID
	t.state = TurnResponding
}

func (t *TurnStateMachine) handleResponseDone(responseID string, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeResponse != "" && t.activeResponse != responseID {
		t.logger.Warn(
			"response done for inactive response",
			zap.String("active", t.activeResponse),
			zap.String("done", responseID),
			zap.Bool("cancelled", cancelled),
		)
	}
	t.activeResponse = ""
	if t.state == TurnResponding || t.state == TurnCommitting {
		t.state = t.restingState()
	}
}

// Interrupt cancels the in-progress model response: flushes queued
// audio, marks the response id so late chunks are discarded, and sends
// exactly one cancel command. A no-op when nothing is in progress.
func (t *TurnStateMachine) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TurnResponding, TurnUserSpeaking, TurnCommitting:
	default:
		return
	}
	if t.state != TurnResponding && t.activeResponse == "" {
		// User is speaking but the model is not; nothing to cancel.
		return
	}
	if t.activeResponse != "" {
		t.playback.Discard(t.activeResponse)
	}
	t.playback.Flush()
	if err := t.sender.Send(responseCancelMsg()); err != nil {
		t.logger.Error("cancelling response", err)
	}
	t.activeResponse = ""
	t.state = t.restingState()
}
