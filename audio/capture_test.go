package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/voicewire/shared"
)

// Device acquisition needs real hardware; these tests drive the
// callback path directly through push.

func TestCapturePushPreservesOrder(t *testing.T) {
	s := NewCaptureService(shared.NewNopLogger(), 16)
	s.frames = make(chan []byte, s.queueCap)

	for i := range 10 {
		s.push([]byte{byte(i)})
	}

	for i := range 10 {
		select {
		case f := <-s.frames:
			assert.Equal(t, []byte{byte(i)}, f)
		default:
			t.Fatalf("frame %d missing", i)
		}
	}
	assert.Zero(t, s.Dropped())
}

func TestCapturePushDropsOldestOnOverflow(t *testing.T) {
	s := NewCaptureService(shared.NewNopLogger(), 4)
	s.frames = make(chan []byte, s.queueCap)

	for i := range 6 {
		s.push([]byte{byte(i)})
	}
	assert.Equal(t, uint64(2), s.Dropped())

	// Oldest two frames gave way; the survivors stay in order.
	want := []byte{2, 3, 4, 5}
	for _, b := range want {
		select {
		case f := <-s.frames:
			require.Equal(t, []byte{b}, f)
		default:
			t.Fatalf("expected frame %d", b)
		}
	}
}

func TestCaptureStopWithoutStart(t *testing.T) {
	s := NewCaptureService(shared.NewNopLogger(), 4)
	// Idempotent no-op when never started.
	s.Stop()
	s.Stop()
}

func TestCaptureQueueCapDefault(t *testing.T) {
	s := NewCaptureService(shared.NewNopLogger(), 0)
	assert.Equal(t, 64, s.queueCap)
}
