package voicewire

import (
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/audio"
	"github.com/voicewire/voicewire/shared"
)

// defaultUplinkRingFrames bounds pre-configuration buffering to about
// five seconds of 20ms frames.
const defaultUplinkRingFrames = 250

// uplink converts captured PCM frames into audio-append messages.
// Until the remote acknowledges the session configuration, frames park
// in a bounded ring (oldest dropped first) instead of being sent, then
// the ring drains in original order before live frames flow.
type uplink struct {
	logger     shared.LoggerAdapter
	sender     commandSender
	ring       *audio.FrameRing
	configured <-chan struct{}
}

func newUplink(logger shared.LoggerAdapter, sender commandSender, configured <-chan struct{}, ringFrames int) *uplink {
	if ringFrames <= 0 {
		ringFrames = defaultUplinkRingFrames
	}
	return &uplink{
		logger:     logger,
		sender:     sender,
		ring:       audio.NewFrameRing(ringFrames),
		configured: configured,
	}
}

// run consumes the capture queue until it is closed. Single consumer;
// frame order is preserved end to end.
func (u *uplink) run(frames <-chan []byte) {
	live := false
	for {
		if live {
			frame, ok := <-frames
			if !ok {
				return
			}
			u.send(frame)
			continue
		}
		select {
		case <-u.configured:
			live = true
			u.drain()
		case frame, ok := <-frames:
			if !ok {
				return
			}
			// The ack may have landed while we were blocked on the
			// frame; never buffer past it.
			select {
			case <-u.configured:
				live = true
				u.drain()
				u.send(frame)
			default:
				if dropped := u.ring.Push(frame); dropped > 0 {
					u.logger.Warn("uplink ring full, dropped oldest frame")
				}
			}
		}
	}
}

func (u *uplink) drain() {
	buffered := u.ring.Drain()
	for _, frame := range buffered {
		u.send(frame)
	}
	if len(buffered) > 0 {
		u.logger.Info("drained buffered frames", zap.Int("frames", len(buffered)))
	}
}

func (u *uplink) send(pcm []byte) {
	if err := u.sender.Send(audioAppendMsg(audio.EncodePCM(pcm))); err != nil {
		u.logger.Error("appending audio", err)
	}
}
