package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

// Target layout of every chunk leaving the pipeline.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// TargetFormat is the go-audio description of the pipeline output.
var TargetFormat = goaudio.Format{NumChannels: TargetChannels, SampleRate: TargetSampleRate}

var (
	ErrFormatCreation    = errors.New("audio: cannot create output format")
	ErrConverterCreation = errors.New("audio: cannot create converter for input format")
	ErrEndOfStream       = errors.New("audio: converter reached end of stream")
	ErrInputStarved      = errors.New("audio: converter input ran dry")
)

// ConversionError reports a buffer the converter could not process.
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string {
	return "audio: conversion failed: " + e.Reason
}

// Converter turns native capture frames (any rate, any channel count, float
// samples in [-1, 1]) into mono signed 16-bit little-endian PCM at the output
// rate. It is a streaming converter: interpolation phase and the previous
// buffer's last sample carry over between calls, so splitting the input into
// buffers of different sizes does not change the output.
type Converter struct {
	in  goaudio.Format
	out goaudio.Format

	step   float64 // input frames advanced per output frame
	pos    float64 // next output position relative to the next buffer start, > -1
	last   float64
	primed bool
	closed bool
}

// NewConverter returns a converter from in to out. out must be mono with a
// positive sample rate.
func NewConverter(in, out goaudio.Format) (*Converter, error) {
	if out.SampleRate <= 0 || out.NumChannels != TargetChannels {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrFormatCreation, out.SampleRate, out.NumChannels)
	}
	if in.SampleRate <= 0 || in.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrConverterCreation, in.SampleRate, in.NumChannels)
	}
	return &Converter{
		in:   in,
		out:  out,
		step: float64(in.SampleRate) / float64(out.SampleRate),
	}, nil
}

// InputFormat returns the native format the converter was built for.
func (c *Converter) InputFormat() goaudio.Format {
	return c.in
}

// FrameCapacity returns the number of output frames a buffer of inputFrames
// maps to at the configured ratio.
func (c *Converter) FrameCapacity(inputFrames int) int {
	return int(math.Round(float64(c.out.SampleRate) * float64(inputFrames) / float64(c.in.SampleRate)))
}

// Convert converts one capture buffer and returns the PCM bytes it produced.
func (c *Converter) Convert(frame *goaudio.Float32Buffer) ([]byte, error) {
	if c.closed {
		return nil, ErrEndOfStream
	}
	if frame == nil {
		return nil, &ConversionError{Reason: "nil buffer"}
	}
	if f := frame.Format; f != nil && (f.SampleRate != c.in.SampleRate || f.NumChannels != c.in.NumChannels) {
		return nil, &ConversionError{Reason: fmt.Sprintf(
			"buffer format %d Hz/%d ch does not match converter input %d Hz/%d ch",
			f.SampleRate, f.NumChannels, c.in.SampleRate, c.in.NumChannels)}
	}
	if len(frame.Data) == 0 {
		return nil, ErrInputStarved
	}
	if len(frame.Data)%c.in.NumChannels != 0 {
		return nil, &ConversionError{Reason: fmt.Sprintf("%d samples is not a whole number of %d-channel frames", len(frame.Data), c.in.NumChannels)}
	}

	mono := downmix(frame.Data, c.in.NumChannels)
	n := len(mono)

	out := make([]byte, 0, (c.FrameCapacity(n)+1)*2)
	p := c.pos
	for ; p <= float64(n-1); p += c.step {
		i := int(math.Floor(p))
		frac := p - float64(i)

		a := c.sampleAt(mono, i)
		v := a
		if frac > 0 && i+1 < n {
			v = a + (float64(mono[i+1])-a)*frac
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(toPCM16(v)))
	}

	c.pos = p - float64(n)
	c.last = float64(mono[n-1])
	c.primed = true
	return out, nil
}

// Close marks the end of the input stream; later calls to Convert fail with
// ErrEndOfStream.
func (c *Converter) Close() {
	c.closed = true
}

func (c *Converter) sampleAt(mono []float32, i int) float64 {
	if i < 0 {
		if c.primed {
			return c.last
		}
		return float64(mono[0])
	}
	return float64(mono[i])
}

func downmix(data []float32, channels int) []float32 {
	if channels == 1 {
		return data
	}
	mono := make([]float32, len(data)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += data[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

func toPCM16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
