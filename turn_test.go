package voicewire

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/voicewire/audio"
	"github.com/voicewire/voicewire/shared"
)

// fakeSender records every outbound message and can be told to fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	raw  []map[string]any
	fail bool
}

func (f *fakeSender) record(msg map[string]any) error {
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, msg["type"].(string))
	f.raw = append(f.raw, msg)
	return nil
}

func (f *fakeSender) Send(msg map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(msg)
}

func (f *fakeSender) SendSequence(msgs ...map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		if err := f.record(msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeFlusher struct {
	mu        sync.Mutex
	flushes   int
	discarded []string
}

func (f *fakeFlusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeFlusher) Discard(responseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, responseID)
}

func newTestTurn() (*TurnStateMachine, *fakeSender, *fakeFlusher) {
	sender := &fakeSender{}
	flusher := &fakeFlusher{}
	return NewTurnStateMachine(shared.NewNopLogger(), sender, flusher), sender, flusher
}

func TestTurnHappyPath(t *testing.T) {
	turn, sender, _ := newTestTurn()

	turn.StartListening()
	assert.Equal(t, TurnListening, turn.State())

	turn.handleSpeechStarted()
	assert.Equal(t, TurnUserSpeaking, turn.State())

	turn.handleSpeechStopped()
	assert.Equal(t, TurnCommitting, turn.State())
	require.Equal(t, []string{cmdBufferCommit, cmdResponseCreate}, sender.types())

	turn.handleResponseCreated("resp_1")
	assert.Equal(t, TurnResponding, turn.State())

	// Still armed, so the next user turn is picked up.
	turn.handleResponseDone("resp_1", false)
	assert.Equal(t, TurnListening, turn.State())
}

func TestTurnHandlesConsecutiveTurns(t *testing.T) {
	turn, sender, _ := newTestTurn()
	turn.StartListening()

	for i := range 2 {
		turn.handleSpeechStarted()
		require.Equal(t, TurnUserSpeaking, turn.State(), "turn %d", i)
		turn.handleSpeechStopped()
		turn.handleResponseCreated(fmt.Sprintf("resp_%d", i))
		turn.handleResponseDone(fmt.Sprintf("resp_%d", i), false)
		require.Equal(t, TurnListening, turn.State(), "turn %d", i)
	}

	// Each cycle commits once.
	assert.Equal(t, []string{
		cmdBufferCommit, cmdResponseCreate,
		cmdBufferCommit, cmdResponseCreate,
	}, sender.types())
}

func TestStopListeningDisarms(t *testing.T) {
	turn, sender, _ := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	turn.handleResponseCreated("resp_1")

	turn.StopListening()
	turn.handleResponseDone("resp_1", false)
	assert.Equal(t, TurnIdle, turn.State())

	// Disarmed: further VAD events produce nothing.
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	assert.Len(t, sender.types(), 2)
}

func TestTurnCommitPairIsAdjacent(t *testing.T) {
	turn, sender, _ := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()

	types := sender.types()
	require.Len(t, types, 2)
	assert.Equal(t, cmdBufferCommit, types[0])
	assert.Equal(t, cmdResponseCreate, types[1])
}

func TestTurnSuppressesDoubleCommit(t *testing.T) {
	turn, sender, _ := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()

	// A second stop while committing must not commit again.
	turn.handleSpeechStopped()
	assert.Len(t, sender.types(), 2)

	// Nor while responding.
	turn.handleResponseCreated("resp_1")
	turn.handleSpeechStopped()
	assert.Len(t, sender.types(), 2)
}

func TestTurnSpeechStoppedIgnoredWhenNotSpeaking(t *testing.T) {
	turn, sender, _ := newTestTurn()

	turn.handleSpeechStopped()
	assert.Empty(t, sender.types())
	assert.Equal(t, TurnIdle, turn.State())

	turn.StartListening()
	turn.handleSpeechStopped()
	assert.Empty(t, sender.types())
	assert.Equal(t, TurnListening, turn.State())
}

func TestTurnCommitFailureRevertsToListening(t *testing.T) {
	turn, sender, _ := newTestTurn()
	sender.fail = true
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()

	assert.Equal(t, TurnListening, turn.State())
	assert.Empty(t, sender.types())
}

func TestInterruptIsIdempotent(t *testing.T) {
	turn, sender, flusher := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	turn.handleResponseCreated("resp_1")

	turn.Interrupt()
	turn.Interrupt()

	// Exactly one cancel after the commit pair.
	types := sender.types()
	require.Len(t, types, 3)
	assert.Equal(t, cmdResponseCancel, types[2])
	assert.Equal(t, []string{"resp_1"}, flusher.discarded)
	assert.Equal(t, 1, flusher.flushes)
	assert.Equal(t, TurnListening, turn.State())
}

func TestInterruptNoopWhenIdle(t *testing.T) {
	turn, sender, flusher := newTestTurn()

	turn.Interrupt()

	assert.Empty(t, sender.types())
	assert.Zero(t, flusher.flushes)
}

func TestInterruptNoopWhileUserSpeakingWithoutResponse(t *testing.T) {
	turn, sender, flusher := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()

	turn.Interrupt()

	assert.Empty(t, sender.types())
	assert.Zero(t, flusher.flushes)
	assert.Equal(t, TurnUserSpeaking, turn.State())
}

func TestResponseDoneAfterInterruptIsHarmless(t *testing.T) {
	turn, _, _ := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	turn.handleResponseCreated("resp_1")
	turn.Interrupt()

	// The cancelled response's done event still arrives.
	turn.handleResponseDone("resp_1", true)
	assert.Equal(t, TurnListening, turn.State())
}

func TestTurnReset(t *testing.T) {
	turn, _, _ := newTestTurn()
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	turn.handleResponseCreated("resp_1")

	turn.Reset()
	assert.Equal(t, TurnIdle, turn.State())

	// After reset nothing is cancellable.
	turn.Interrupt()
	assert.Equal(t, TurnIdle, turn.State())
}

// gatedRenderer blocks its first Write so a test can interrupt while
// chunks are still queued.
type gatedRenderer struct {
	gate chan struct{}
	once sync.Once
}

func (r *gatedRenderer) Write(pcm []byte) error {
	r.once.Do(func() { <-r.gate })
	return nil
}

func (r *gatedRenderer) Reset()       {}
func (r *gatedRenderer) Close() error { return nil }

func TestInterruptDrainsQueuedAudio(t *testing.T) {
	renderer := &gatedRenderer{gate: make(chan struct{})}
	engine := audio.NewPlaybackEngine(shared.NewNopLogger(), renderer)
	defer engine.Close()
	defer close(renderer.gate)

	sender := &fakeSender{}
	turn := NewTurnStateMachine(shared.NewNopLogger(), sender, engine)
	turn.StartListening()
	turn.handleSpeechStarted()
	turn.handleSpeechStopped()
	turn.handleResponseCreated("r1")

	engine.Enqueue(audio.Chunk{ResponseID: "r1", PCM: make([]byte, 64)})
	engine.Enqueue(audio.Chunk{ResponseID: "r1", PCM: make([]byte, 64)})
	engine.Enqueue(audio.Chunk{ResponseID: "r1", PCM: make([]byte, 64)})

	turn.Interrupt()
	turn.Interrupt()

	assert.Zero(t, engine.QueueLen())
	assert.False(t, engine.IsPlaying())
	types := sender.types()
	require.Equal(t, cmdResponseCancel, types[len(types)-1])
	cancels := 0
	for _, typ := range types {
		if typ == cmdResponseCancel {
			cancels++
		}
	}
	assert.Equal(t, 1, cancels)

	// Late chunks for the cancelled response never queue up again.
	engine.Enqueue(audio.Chunk{ResponseID: "r1", PCM: make([]byte, 64)})
	assert.Zero(t, engine.QueueLen())
}

func TestTurnStateString(t *testing.T) {
	assert.Equal(t, "idle", TurnIdle.String())
	assert.Equal(t, "user_speaking", TurnUserSpeaking.String())
	assert.Equal(t, "TurnState(99)", TurnState(99).String())
}
