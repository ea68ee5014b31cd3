package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/shared"
)

// Chunk is one decoded PCM block belonging to an in-flight model
// response.
type Chunk struct {
	ResponseID string
	PCM        []byte
}

// Renderer is the speaker seam. The production implementation wraps an
// oto player; tests substitute an in-memory one.
type Renderer interface {
	// Write pushes PCM to the device at roughly device pace.
	Write(pcm []byte) error
	// Reset discards whatever the device has buffered but not played.
	Reset()
	Close() error
}

// PlaybackEngine renders chunks strictly in arrival order through a
// single drain loop. Flush atomically clears the queue, interrupts the
// chunk being rendered, and leaves the engine ready for fresh audio.
type PlaybackEngine struct {
	logger   shared.LoggerAdapter
	renderer Renderer
	sliceLen int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Chunk
	gen       uint64
	rendering bool
	closed    bool
	droppedID string
}

func NewPlaybackEngine(logger shared.LoggerAdapter, renderer Renderer) *PlaybackEngine {
	e := &PlaybackEngine{
		logger:   logger,
		renderer: renderer,
		sliceLen: FrameBytes(DefaultFrameDuration, SampleRate, Channels),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.drain()
	return e
}

// Enqueue appends a chunk to the FIFO. Chunks tagged with a response
// id that was already discarded never reach the device.
func (e *PlaybackEngine) Enqueue(c Chunk) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if c.ResponseID != "" && c.ResponseID == e.droppedID {
		e.logger.Trace("dropping chunk of cancelled response", zap.String("response_id", c.ResponseID))
		return
	}
	e.queue = append(e.queue, c)
	e.cond.Signal()
}

// Discard marks a response id so that late-arriving chunks for it are
// thrown away instead of rendered.
func (e *PlaybackEngine) Discard(responseID string) {
	e.mu.Lock()
	e.droppedID = responseID
	e.mu.Unlock()
}

// Flush clears the FIFO and stops the in-flight chunk as soon as
// possible. IsPlaying reports false the moment Flush returns; no chunk
// enqueued before the call renders after it. The renderer reset runs
// inside the critical section so audio enqueued by a racing goroutine
// cannot land before the stale device buffer is discarded.
func (e *PlaybackEngine) Flush() {
	e.mu.Lock()
	e.queue = nil
	e.gen++
	e.rendering = false
	e.renderer.Reset()
	e.mu.Unlock()
}

// IsPlaying is true exactly when the FIFO is non-empty or a chunk is
// actively rendering.
func (e *PlaybackEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0 || e.rendering
}

// QueueLen reports the number of chunks waiting behind the one being
// rendered.
func (e *PlaybackEngine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close stops the drain loop and releases the device. Idempotent.
func (e *PlaybackEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	e.gen++
	e.rendering = false
	e.cond.Broadcast()
	e.mu.Unlock()
	if err := e.renderer.Close(); err != nil {
		e.logger.Error("closing renderer", err)
	}
}

func (e *PlaybackEngine) drain() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		c := e.queue[0]
		e.queue = e.queue[1:]
		gen := e.gen
		e.rendering = true
		e.mu.Unlock()

		e.render(c, gen)

		e.mu.Lock()
		if e.gen == gen {
			e.rendering = false
		}
		e.mu.Unlock()
	}
}

// render writes one chunk in short slices so a Flush takes effect
// within one slice duration instead of one chunk duration.
func (e *PlaybackEngine) render(c Chunk, gen uint64) {
	for off := 0; off < len(c.PCM); off += e.sliceLen {
		e.mu.Lock()
		stale := e.gen != gen || e.closed
		e.mu.Unlock()
		if stale {
			return
		}
		end := min(off+e.sliceLen, len(c.PCM))
		if err := e.renderer.Write(c.PCM[off:end]); err != nil {
			e.logger.Error("writing to renderer", err, zap.String("response_id", c.ResponseID))
			return
		}
	}
}

// speaker is the oto-backed Renderer. The player pulls from an
// internal buffer; Write applies backpressure once more than
// maxBuffered bytes are pending, which is what paces the drain loop at
// device speed.
type speaker struct {
	otoCtx *oto.Context
	player *oto.Player

	mu          sync.Mutex
	cond        *sync.Cond
	buf         []byte
	maxBuffered int
	closed      bool
}

// NewSpeaker opens the default output device.
func NewSpeaker() (Renderer, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, &shared.DeviceError{Device: "speaker", Err: fmt.Errorf("creating playback context: %w", err)}
	}
	<-ready
	s := &speaker{
		otoCtx:      otoCtx,
		maxBuffered: FrameBytes(100*time.Millisecond, SampleRate, Channels),
	}
	s.cond = sync.NewCond(&s.mu)
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

func (s *speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) >= s.maxBuffered && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return &shared.DeviceError{Device: "speaker", Err: fmt.Errorf("renderer closed")}
	}
	s.buf = append(s.buf, pcm...)
	return nil
}

// Read feeds the oto player. Silence when there is nothing pending, so
// the device callback never blocks on the network.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.cond.Signal()
	return n, nil
}

func (s *speaker) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.player.Close()
}
