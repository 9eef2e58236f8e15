package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV    = errors.New("capture: not a PCM wav file")
	ErrSourceRunning = errors.New("capture: source already started")
)

type FileSourceOptions struct {
	FramesPerBuffer int
	// Realtime paces buffers at the file's sample rate instead of as fast as
	// the handler accepts them.
	Realtime bool
}

// FileSource replays a decoded WAV file as capture buffers. Playback resumes
// where it left off when restarted after Stop.
type FileSource struct {
	format   goaudio.Format
	samples  []float32
	frames   int
	realtime bool

	mu        sync.Mutex
	offset    int
	stop      chan struct{}
	done      chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
}

func NewFileSource(path string, opts FileSourceOptions) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav source: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav source: %w", err)
	}

	format := goaudio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)}
	return newFileSource(format, normalize(buf.Data, int(dec.BitDepth)), opts), nil
}

func newFileSource(format goaudio.Format, samples []float32, opts FileSourceOptions) *FileSource {
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = FramesPerBuffer
	}
	return &FileSource{
		format:   format,
		samples:  samples,
		frames:   frames,
		realtime: opts.Realtime,
		drained:  make(chan struct{}),
	}
}

func (s *FileSource) Format() goaudio.Format { return s.format }

func (s *FileSource) InputChannels() int { return s.format.NumChannels }

// Drained is closed once every sample in the file has been handed out.
func (s *FileSource) Drained() <-chan struct{} { return s.drained }

func (s *FileSource) Start(handler FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return ErrSourceRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(handler, s.stop, s.done)
	return nil
}

// Stop halts playback and waits until the handler is no longer called.
func (s *FileSource) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *FileSource) run(handler FrameHandler, stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if s.realtime && s.format.SampleRate > 0 {
		period := time.Duration(s.frames) * time.Second / time.Duration(s.format.SampleRate)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	step := s.frames * s.format.NumChannels
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, last := s.next(step)
		if frame == nil {
			s.markDrained()
			return
		}
		handler(frame)
		if last {
			s.markDrained()
			return
		}

		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		}
	}
}

func (s *FileSource) markDrained() {
	s.drainOnce.Do(func() { close(s.drained) })
}

func (s *FileSource) next(step int) (*goaudio.Float32Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offset >= len(s.samples) {
		return nil, false
	}
	end := min(s.offset+step, len(s.samples))
	data := make([]float32, end-s.offset)
	copy(data, s.samples[s.offset:end])
	s.offset = end

	format := s.format
	return &goaudio.Float32Buffer{Format: &format, Data: data, SourceBitDepth: 32}, end == len(s.samples)
}

// normalize maps decoded PCM to [-1, 1]. 8-bit WAV samples are unsigned and
// centred on 128.
func normalize(data []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v-offset) / scale
	}
	return out
}
