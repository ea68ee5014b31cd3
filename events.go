package voicewire

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/voicewire/voicewire/audio"
)

// EventKind is the closed classification of every inbound protocol
// message. Unrecognized wire tags map to KindUnknown rather than being
// coerced or dropped silently.
type EventKind string

const (
	KindSessionCreated  EventKind = "session_created"
	KindSessionUpdated  EventKind = "session_updated"
	KindItemCreated     EventKind = "item_created"
	KindResponseCreated EventKind = "response_created"
	KindResponseDone    EventKind = "response_done"
	KindAudioDelta      EventKind = "audio_delta"
	KindAudioDone       EventKind = "audio_done"
	KindTextDelta       EventKind = "text_delta"
	KindTextDone        EventKind = "text_done"
	KindSpeechStarted   EventKind = "speech_started"
	KindSpeechStopped   EventKind = "speech_stopped"
	KindError           EventKind = "error"
	KindUnknown         EventKind = "unknown"
)

// AllKinds lists every EventKind. The dispatcher coverage test walks
// this so a new kind cannot be added without being handled everywhere
// it is matched.
func AllKinds() []EventKind {
	return []EventKind{
		KindSessionCreated,
		KindSessionUpdated,
		KindItemCreated,
		KindResponseCreated,
		KindResponseDone,
		KindAudioDelta,
		KindAudioDone,
		KindTextDelta,
		KindTextDone,
		KindSpeechStarted,
		KindSpeechStopped,
		KindError,
		KindUnknown,
	}
}

// Outbound command tags.
const (
	cmdSessionUpdate  = "session.update"
	cmdAudioAppend    = "input_audio_buffer.append"
	cmdBufferCommit   = "input_audio_buffer.commit"
	cmdItemCreate     = "conversation.item.create"
	cmdResponseCreate = "response.create"
	cmdResponseCancel = "response.cancel"
)

// InboundEvent is one classified protocol message. Exactly one payload
// field matching Kind is non-nil; KindUnknown carries only the raw tag
// and bytes.
type InboundEvent struct {
	Kind    EventKind
	Type    string // raw wire tag
	EventID string
	Raw     []byte

	Session     *SessionPayload
	Item        *ItemPayload
	Response    *ResponsePayload
	AudioDelta  *AudioDeltaPayload
	AudioDone   *AudioDonePayload
	TextDelta   *TextDeltaPayload
	TextDone    *TextDonePayload
	Speech      *SpeechPayload
	RemoteError *ErrorPayload
}

// MarshalYAML renders the raw wire message as YAML, for verbose CLI
// output and log excerpts.
func (e *InboundEvent) MarshalYAML() ([]byte, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(e.Raw, &raw); err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(raw, yaml.UseJSONMarshaler())
}

type SessionPayload struct {
	Session map[string]any
}

// ContentPart is one ordered part of a conversation item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ConversationItem mirrors the remote item shape: a stable id assigned
// by the service, a role, and ordered content parts.
type ConversationItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content,omitempty"`
}

type ItemPayload struct {
	PreviousItemID string
	Item           ConversationItem
}

type ResponsePayload struct {
	ResponseID string
	Status     string // "completed", "cancelled", ... (done only)
}

// Cancelled reports whether a response_done event closed the response
// by cancellation rather than completion.
func (p *ResponsePayload) Cancelled() bool {
	return p.Status == "cancelled"
}

type AudioDeltaPayload struct {
	ResponseID string
	ItemID     string
	PCM        []byte
}

type AudioDonePayload struct {
	ResponseID string
	ItemID     string
}

type TextDeltaPayload struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type TextDonePayload struct {
	ResponseID string
	ItemID     string
	Text       string
}

type SpeechPayload struct {
	ItemID  string
	AudioMs int
}

type ErrorPayload struct {
	Type    string
	Code    string
	Message string
}

// wireEnvelope is the superset of fields the recognized wire messages
// carry. Absent fields decode to zero values; per-kind classification
// below checks the ones it requires.
type wireEnvelope struct {
	Type           string            `json:"type"`
	EventID        string            `json:"event_id"`
	Session        map[string]any    `json:"session"`
	PreviousItemID string            `json:"previous_item_id"`
	Item           *ConversationItem `json:"item"`
	Response       *wireResponse     `json:"response"`
	ResponseID     string            `json:"response_id"`
	ItemID         string            `json:"item_id"`
	Delta          string            `json:"delta"`
	Text           string            `json:"text"`
	Transcript     string            `json:"transcript"`
	AudioStartMs   int               `json:"audio_start_ms"`
	AudioEndMs     int               `json:"audio_end_ms"`
	Error          *wireError        `json:"error"`
}

type wireResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseInbound is the total parser from raw transport bytes to the
// closed InboundEvent set. Malformed JSON or a recognized tag with a
// missing required field returns an error; a tag outside the set
// returns a KindUnknown event and no error.
func ParseInbound(data []byte) (*InboundEvent, error) {
	var w wireEnvelope
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling inbound message: %w", err)
	}
	if w.Type == "" {
		return nil, errors.New("missing type")
	}
	e := &InboundEvent{Type: w.Type, EventID: w.EventID, Raw: data}

	switch w.Type {
	case "session.created":
		e.Kind = KindSessionCreated
		if w.Session == nil {
			return nil, errors.New("missing session")
		}
		e.Session = &SessionPayload{Session: w.Session}

	case "session.updated":
		e.Kind = KindSessionUpdated
		if w.Session == nil {
			return nil, errors.New("missing session")
		}
		e.Session = &SessionPayload{Session: w.Session}

	case "conversation.item.created", "conversation.item.added":
		e.Kind = KindItemCreated
		if w.Item == nil {
			return nil, errors.New("missing item")
		}
		e.Item = &ItemPayload{PreviousItemID: w.PreviousItemID, Item: *w.Item}

	case "response.created":
		e.Kind = KindResponseCreated
		if w.Response == nil || w.Response.ID == "" {
			return nil, errors.New("missing response.id")
		}
		e.Response = &ResponsePayload{ResponseID: w.Response.ID, Status: w.Response.Status}

	case "response.done":
		e.Kind = KindResponseDone
		if w.Response == nil || w.Response.ID == "" {
			return nil, errors.New("missing response.id")
		}
		e.Response = &ResponsePayload{ResponseID: w.Response.ID, Status: w.Response.Status}

	case "response.audio.delta", "response.output_audio.delta":
		e.Kind = KindAudioDelta
		if w.Delta == "" {
			return nil, errors.New("missing delta")
		}
		pcm, err := audio.DecodePCM(w.Delta)
		if err != nil {
			return nil, err
		}
		e.AudioDelta = &AudioDeltaPayload{ResponseID: w.ResponseID, ItemID: w.ItemID, PCM: pcm}

	case "response.audio.done", "response.output_audio.done":
		e.Kind = KindAudioDone
		if w.ResponseID == "" {
			return nil, errors.New("missing response_id")
		}
		e.AudioDone = &AudioDonePayload{ResponseID: w.ResponseID, ItemID: w.ItemID}

	case "response.text.delta", "response.output_text.delta",
		"response.audio_transcript.delta", "response.output_audio_transcript.delta":
		e.Kind = KindTextDelta
		if w.Delta == "" {
			return nil, errors.New("missing delta")
		}
		e.TextDelta = &TextDeltaPayload{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}

	case "response.text.done", "response.output_text.done":
		e.Kind = KindTextDone
		e.TextDone = &TextDonePayload{ResponseID: w.ResponseID, ItemID: w.ItemID, Text: w.Text}

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		e.Kind = KindTextDone
		e.TextDone = &TextDonePayload{ResponseID: w.ResponseID, ItemID: w.ItemID, Text: w.Transcript}

	case "input_audio_buffer.speech_started":
		e.Kind = KindSpeechStarted
		e.Speech = &SpeechPayload{ItemID: w.ItemID, AudioMs: w.AudioStartMs}

	case "input_audio_buffer.speech_stopped":
		e.Kind = KindSpeechStopped
		e.Speech = &SpeechPayload{ItemID: w.ItemID, AudioMs: w.AudioEndMs}

	case "error":
		e.Kind = KindError
		if w.Error == nil {
			return nil, errors.New("missing error")
		}
		e.RemoteError = &ErrorPayload{Type: w.Error.Type, Code: w.Error.Code, Message: w.Error.Message}

	default:
		e.Kind = KindUnknown
	}
	return e, nil
}

// Outbound message constructors. The connection marshals these with
// sonic and stamps the event_id from its sequence counter.

func sessionUpdateMsg(cfg *SessionConfig) map[string]any {
	return map[string]any{
		"type":    cmdSessionUpdate,
		"session": cfg.wireSession(),
	}
}

func audioAppendMsg(encoded string) map[string]any {
	return map[string]any{
		"type":  cmdAudioAppend,
		"audio": encoded,
	}
}

func bufferCommitMsg() map[string]any {
	return map[string]any{"type": cmdBufferCommit}
}

func responseCreateMsg() map[string]any {
	return map[string]any{"type": cmdResponseCreate}
}

func responseCancelMsg() map[string]any {
	return map[string]any{"type": cmdResponseCancel}
}

func textItemMsg(text string) map[string]any {
	return map[string]any{
		"type": cmdItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
}
