// Package capture runs the live capture pipeline: it taps a frame source,
// converts every buffer to the stream format, cuts it into chunks and hands
// the chunks to a delivery sink, with the WAV header first.
package capture

import goaudio "github.com/go-audio/audio"

// FramesPerBuffer is the fixed hardware buffer size requested from sources.
const FramesPerBuffer = 4096

// FrameHandler receives one native capture buffer. The buffer is owned by the
// handler once passed.
type FrameHandler func(frame *goaudio.Float32Buffer)

// Source produces native capture frames, either pushed from a hardware
// callback or pulled from a file.
type Source interface {
	Format() goaudio.Format
	InputChannels() int
	Start(FrameHandler) error
	Stop() error
}

// Delivery receives every chunk produced by a session, header included, in
// production order. OnChunk must not block.
type Delivery interface {
	OnChunk(chunk []byte)
}

type State int

const (
	Stopped State = iota
	Running
	Suspended
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	default:
		return "stopped"
	}
}
