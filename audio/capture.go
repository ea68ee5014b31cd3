package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/shared"
)

// CaptureService owns the microphone device. Once started it emits
// fixed-size PCM frames on Frames() at the device's own callback
// cadence. The callback never blocks on the consumer: if the frame
// queue is full the oldest frame is dropped and counted.
type CaptureService struct {
	logger   shared.LoggerAdapter
	queueCap int
	frameDur time.Duration

	mu      sync.Mutex
	actx    *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []byte
	running bool

	dropped atomic.Uint64
}

func NewCaptureService(logger shared.LoggerAdapter, queueCap int) *CaptureService {
	if queueCap <= 0 {
		queueCap = 64
	}
	return &CaptureService{
		logger:   logger,
		queueCap: queueCap,
		frameDur: DefaultFrameDuration,
	}
}

// Start acquires the microphone at the mandated format. Fails with a
// DeviceError when no device is available or access is denied.
func (s *CaptureService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return shared.ErrCaptureRunning
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return &shared.DeviceError{Device: "microphone", Err: fmt.Errorf("initializing audio context: %w", err)}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate
	cfg.PeriodSizeInMilliseconds = uint32(s.frameDur.Milliseconds())

	s.frames = make(chan []byte, s.queueCap)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			frame := make([]byte, len(input))
			copy(frame, input)
			s.push(frame)
		},
	}

	device, err := malgo.InitDevice(actx.Context, cfg, callbacks)
	if err != nil {
		_ = actx.Uninit()
		return &shared.DeviceError{Device: "microphone", Err: fmt.Errorf("initializing capture device: %w", err)}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = actx.Uninit()
		return &shared.DeviceError{Device: "microphone", Err: fmt.Errorf("starting capture device: %w", err)}
	}

	s.actx = actx
	s.device = device
	s.running = true
	s.logger.Info(
		"capture started",
		zap.Int("sample_rate", SampleRate),
		zap.Duration("frame_duration", s.frameDur),
	)
	return nil
}

// push hands a frame to the consumer without ever blocking the device
// callback. Frames stay in temporal order; on overflow the oldest
// queued frame gives way.
func (s *CaptureService) push(frame []byte) {
	select {
	case s.frames <- frame:
		return
	default:
	}
	select {
	case <-s.frames:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

// Frames returns the capture queue. Closed when the service stops.
func (s *CaptureService) Frames() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Dropped reports how many frames were evicted because the consumer
// fell behind.
func (s *CaptureService) Dropped() uint64 {
	return s.dropped.Load()
}

// Stop releases the device. Idempotent.
func (s *CaptureService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	// Device.Stop blocks until the data callback has returned, so
	// closing the frame channel afterwards is race-free.
	if err := s.device.Stop(); err != nil {
		s.logger.Error("stopping capture device", err)
	}
	s.device.Uninit()
	s.device = nil
	if err := s.actx.Uninit(); err != nil {
		s.logger.Error("uninitializing audio context", err)
	}
	s.actx = nil
	close(s.frames)
	s.running = false
	s.logger.Info("capture stopped", zap.Uint64("frames_dropped", s.dropped.Load()))
}
