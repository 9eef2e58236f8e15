package capture

import (
	"errors"
	"fmt"
	"sync"

	goaudio "github.com/go-audio/audio"
	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/audio"
	"github.com/sjawhar/wispr-stream/internal/logging"
	"github.com/sjawhar/wispr-stream/internal/metrics"
)

var (
	ErrNoInputChannel  = errors.New("capture: input device exposes no channel")
	ErrGraphActivation = errors.New("capture: cannot activate capture source")
	ErrSessionActive   = errors.New("capture: session already started")
)

type Options struct {
	FirstChunkSize int
	ChunkSize      int

	// Lock, when set, is held from Start until Stop.
	Lock *DeviceLock

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Session owns one capture run of a Source. Frame callbacks and lifecycle
// calls may arrive on different goroutines.
type Session struct {
	src     Source
	out     Delivery
	lock    *DeviceLock
	log     *zap.Logger
	metrics *metrics.Metrics

	firstChunk int
	chunk      int

	// opMu serializes Start, Stop and interruption handling. It is never
	// taken by the frame callback, so source Start/Stop may wait on callbacks.
	opMu sync.Mutex

	mu            sync.Mutex
	state         State
	paused        bool
	headerSent    bool
	streaming     bool
	conv          *audio.Converter
	acc           *audio.Accumulator
	interruptions int
}

func NewSession(src Source, out Delivery, opts Options) *Session {
	return &Session{
		src:        src,
		out:        out,
		lock:       opts.Lock,
		log:        logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		firstChunk: opts.FirstChunkSize,
		chunk:      opts.ChunkSize,
	}
}

// Start validates the source, takes the device and starts capture. On error
// nothing is left running.
func (s *Session) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Stopped {
		return ErrSessionActive
	}

	if s.src.InputChannels() < 1 {
		return ErrNoInputChannel
	}

	if s.lock != nil {
		if err := s.lock.Acquire(); err != nil {
			return err
		}
	}

	conv, err := audio.NewConverter(s.src.Format(), audio.TargetFormat)
	if err != nil {
		s.releaseDevice()
		return err
	}

	s.mu.Lock()
	s.conv = conv
	s.acc = audio.NewAccumulator(s.firstChunk, s.chunk)
	s.headerSent = false
	s.streaming = false
	s.paused = false
	s.interruptions = 0
	s.state = Running
	s.mu.Unlock()

	if err := s.src.Start(s.handleFrame); err != nil {
		s.mu.Lock()
		s.state = Stopped
		s.conv = nil
		s.acc = nil
		s.mu.Unlock()
		s.releaseDevice()
		return fmt.Errorf("%w: %v", ErrGraphActivation, err)
	}

	f := s.src.Format()
	s.log.Info("capture started",
		zap.Int("sample_rate", f.SampleRate),
		zap.Int("channels", f.NumChannels))
	return nil
}

// Stop is safe from any state. The source is stopped before the residual
// chunk is flushed, and both happen before Stop returns.
func (s *Session) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	prev := s.state
	s.mu.Unlock()
	if prev == Stopped {
		return nil
	}

	var stopErr error
	if prev == Running {
		if err := s.src.Stop(); err != nil {
			stopErr = fmt.Errorf("stop capture source: %w", err)
		}
	}

	s.mu.Lock()
	s.state = Stopped
	if final := s.acc.Flush(); final != nil {
		s.emit(final)
	}
	s.headerSent = false
	s.streaming = false
	s.paused = false
	s.conv.Close()
	s.mu.Unlock()

	s.releaseDevice()
	s.log.Info("capture stopped", zap.Stringer("from", prev))
	return stopErr
}

// SetPaused discards frames at the tap while paused; the source keeps running.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streaming reports whether the last buffer converted successfully.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Interruptions returns how many interruption-begin notifications the current
// run has seen.
func (s *Session) Interruptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptions
}

func (s *Session) handleFrame(frame *goaudio.Float32Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.FrameCaptured()
	if s.state != Running {
		s.metrics.FrameDropped("inactive")
		return
	}
	if s.paused {
		s.metrics.FrameDropped("paused")
		return
	}

	if !s.headerSent {
		s.emit(audio.StreamHeader())
		s.headerSent = true
		s.metrics.HeaderSent()
	}

	pcm, err := s.conv.Convert(frame)
	if err != nil {
		s.streaming = false
		s.metrics.ConversionFailed(conversionKind(err))
		s.log.Warn("conversion failed, waiting for next buffer", zap.Error(err))
		return
	}
	s.streaming = true

	for _, chunk := range s.acc.Append(pcm) {
		s.emit(chunk)
	}
}

// emit requires s.mu.
func (s *Session) emit(chunk []byte) {
	s.out.OnChunk(chunk)
}

func (s *Session) releaseDevice() {
	if s.lock != nil {
		s.lock.Release()
	}
}

func conversionKind(err error) string {
	var convErr *audio.ConversionError
	switch {
	case errors.Is(err, audio.ErrInputStarved):
		return "input_starved"
	case errors.Is(err, audio.ErrEndOfStream):
		return "end_of_stream"
	case errors.As(err, &convErr):
		return "conversion"
	default:
		return "other"
	}
}
