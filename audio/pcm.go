// Package audio owns the microphone and speaker halves of a voice
// session: fixed-cadence PCM capture, in-order device playback with
// immediate flush, and the sample/byte conversions shared by both.
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// The service speaks linear PCM only: 16-bit signed little-endian,
// mono, 24 kHz.
const (
	SampleRate     = 24000
	Channels       = 1
	BytesPerSample = 2
)

// DefaultFrameDuration is the capture callback cadence. Constant for
// the lifetime of a capture session.
const DefaultFrameDuration = 20 * time.Millisecond

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

func FrameBytes(duration time.Duration, rate, channels int) int {
	return FrameSamples(duration, rate, channels) * BytesPerSample
}

// PCMDuration reports how long the given PCM byte slice plays for.
func PCMDuration(n, rate, channels int) time.Duration {
	if rate == 0 || channels == 0 {
		return 0
	}
	samples := n / BytesPerSample / channels
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// EncodePCM converts raw PCM bytes to the wire representation used by
// audio-append messages.
func EncodePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM converts a wire audio delta back to raw PCM bytes.
func DecodePCM(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding audio payload: %w", err)
	}
	return pcm, nil
}
