// Package mic captures from the default PortAudio input device.
package mic

import (
	"errors"
	"fmt"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/wispr-stream/internal/capture"
)

// MaxChannels caps how many device channels are opened; the converter
// downmixes whatever arrives.
const MaxChannels = 2

var ErrNoInputDevice = errors.New("mic: no default input device")

// Initialize must be called once before any other function in this package.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

func Terminate() error {
	return portaudio.Terminate()
}

// Probe reports whether the default input device exposes at least one channel.
func Probe() bool {
	dev, err := portaudio.DefaultInputDevice()
	return err == nil && dev != nil && dev.MaxInputChannels > 0
}

var _ capture.Source = (*Source)(nil)

// Source pushes 4096-frame float buffers from a PortAudio callback stream.
type Source struct {
	device   *portaudio.DeviceInfo
	channels int
	rate     int
	frames   int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewSource binds the default input device at its native sample rate. A
// non-positive sampleRate keeps the device default.
func NewSource(sampleRate int) (*Source, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if dev == nil {
		return nil, ErrNoInputDevice
	}

	rate := sampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}
	return &Source{
		device:   dev,
		channels: min(dev.MaxInputChannels, MaxChannels),
		rate:     rate,
		frames:   capture.FramesPerBuffer,
	}, nil
}

func (s *Source) Format() goaudio.Format {
	return goaudio.Format{NumChannels: s.channels, SampleRate: s.rate}
}

func (s *Source) InputChannels() int { return s.channels }

// Name returns the bound device name.
func (s *Source) Name() string { return s.device.Name }

func (s *Source) Start(handler capture.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return capture.ErrSourceRunning
	}

	params := portaudio.HighLatencyParameters(s.device, nil)
	params.Input.Channels = s.channels
	params.SampleRate = float64(s.rate)
	params.FramesPerBuffer = s.frames

	format := s.Format()
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		// PortAudio reuses its buffer between callbacks.
		data := make([]float32, len(in))
		copy(data, in)
		f := format
		handler(&goaudio.Float32Buffer{Format: &f, Data: data, SourceBitDepth: 32})
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	s.stream = stream
	return nil
}

// Stop stops and closes the stream; PortAudio returns after the last
// callback completed.
func (s *Source) Stop() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	stopErr := stream.Stop()
	closeErr := stream.Close()
	if stopErr != nil {
		return fmt.Errorf("stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close input stream: %w", closeErr)
	}
	return nil
}
