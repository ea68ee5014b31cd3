package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger         = errors.New("no logger provided")
	ErrNoConfig         = errors.New("no config provided")
	ErrNoAPIKey         = errors.New("no API key provided")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotConnected     = errors.New("session not connected")
	ErrSessionClosed    = errors.New("session closed")
	ErrCaptureRunning   = errors.New("capture already running")
	ErrHandlerAfterDial = errors.New("handlers must be registered before connect")
)

// TransportError wraps a connect failure or a mid-session drop. It is
// surfaced through OnError/OnDisconnect and never auto-retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError marks a microphone or speaker failure. It is fatal to the
// capture or playback path only, not to the session.
type DeviceError struct {
	Device string // "microphone" or "speaker"
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ProtocolError marks an inbound message that could not be parsed or
// that violated protocol expectations. Logged and dropped; the
// connection stays open.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError carries an explicit error event sent by the service.
type RemoteError struct {
	Type    string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%s/%s]: %s", e.Type, e.Code, e.Message)
}

// StateError rejects an operation that is invalid in the current
// session state, e.g. a second Connect while already connected.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not valid in state %s", e.Op, e.State)
}
