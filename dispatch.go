package voicewire

import (
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/audio"
	"github.com/voicewire/voicewire/shared"
)

// EventHandler is the caller-supplied generic event hook. It runs
// before any internal handler, so callers observing raw events always
// see them before internal state changes take effect.
type EventHandler func(event *InboundEvent)

// playbackSink is the slice of the playback engine the dispatcher
// feeds.
type playbackSink interface {
	Enqueue(c audio.Chunk)
	Discard(responseID string)
}

// configAcker acknowledges the session configuration.
type configAcker interface {
	markConfigured()
}

// dispatcher parses every inbound transport message into exactly one
// InboundEvent and fans it out. It fails closed: an unparseable
// message is logged and dropped, and the connection stays open.
type dispatcher struct {
	logger   shared.LoggerAdapter
	hook     EventHandler
	acker    configAcker
	turn     *TurnStateMachine
	playback playbackSink
	ledger   *ConversationLedger
	onError  func(err error)
}

func (d *dispatcher) dispatch(raw []byte) {
	event, err := ParseInbound(raw)
	if err != nil {
		perr := &shared.ProtocolError{Reason: "dropping inbound message", Err: err}
		d.logger.Warn(perr.Error(), zap.ByteString("data", raw))
		return
	}

	// Generic hook first, specific handlers second.
	if d.hook != nil {
		d.hook(event)
	}

	switch event.Kind {
	case KindSessionCreated:
		d.logger.Debug("session created", zap.String("event_id", event.EventID))
	case KindSessionUpdated:
		d.acker.markConfigured()
	case KindItemCreated:
		d.ledger.Append(event.Item.Item)
	case KindResponseCreated:
		d.turn.handleResponseCreated(event.Response.ResponseID)
	case KindResponseDone:
		if event.Response.Cancelled() {
			d.playback.Discard(event.Response.ResponseID)
		}
		d.turn.handleResponseDone(event.Response.ResponseID, event.Response.Cancelled())
	case KindAudioDelta:
		d.playback.Enqueue(audio.Chunk{
			ResponseID: event.AudioDelta.ResponseID,
			PCM:        event.AudioDelta.PCM,
		})
	case KindAudioDone:
		d.logger.Trace("response audio complete", zap.String("response_id", event.AudioDone.ResponseID))
	case KindTextDelta, KindTextDone:
		// Transcript text is the caller's concern; the hook already saw it.
	case KindSpeechStarted:
		d.turn.handleSpeechStarted()
	case KindSpeechStopped:
		d.turn.handleSpeechStopped()
	case KindError:
		rerr := &shared.RemoteError{
			Type:    event.RemoteError.Type,
			Code:    event.RemoteError.Code,
			Message: event.RemoteError.Message,
		}
		d.logger.Error("remote error event", rerr)
		if d.onError != nil {
			d.onError(rerr)
		}
	case KindUnknown:
		d.logger.Debug("ignoring unknown event type", zap.String("type", event.Type))
	}
}

// handlesKind mirrors the dispatch switch. The coverage test walks
// AllKinds over it so adding a kind without handling it fails fast.
func handlesKind(kind EventKind) bool {
	switch kind {
	case KindSessionCreated, KindSessionUpdated, KindItemCreated,
		KindResponseCreated, KindResponseDone,
		KindAudioDelta, KindAudioDone,
		KindTextDelta, KindTextDone,
		KindSpeechStarted, KindSpeechStopped,
		KindError, KindUnknown:
		return true
	}
	return false
}
