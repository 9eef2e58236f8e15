package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip keeps a full copy of a session's converted PCM so the whole recording
// can be retrieved as one WAV file once the session stops.
type Clip struct {
	dir string

	mu        sync.Mutex
	sessionID string
	rawPath   string
	rawFile   *os.File
	written   int64

	encode func(rawPath, wavPath string) error
}

// ClipResult describes a finished clip.
type ClipResult struct {
	Path     string
	Duration time.Duration
	MimeType string
	Bytes    int64 // PCM bytes, excluding the WAV header
}

func NewClip(dir string) *Clip {
	if dir == "" {
		dir = filepath.Join("data", "clips")
	}
	c := &Clip{dir: dir}
	c.encode = encodeWAV
	return c
}

func (c *Clip) StartSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create clip directory: %w", err)
	}

	if c.rawFile != nil {
		_ = c.rawFile.Close()
		_ = os.Remove(c.rawPath)
	}

	rawPath := filepath.Join(c.dir, sessionID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	c.sessionID = sessionID
	c.rawPath = rawPath
	c.rawFile = rawFile
	c.written = 0
	return nil
}

// Write appends converted PCM to the active session. Writes without an active
// session are discarded.
func (c *Clip) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rawFile == nil {
		return len(p), nil
	}
	n, err := c.rawFile.Write(p)
	c.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return n, nil
}

// EndSession closes the raw capture, encodes it as WAV and removes the raw
// file. It returns a zero result when no session is active.
func (c *Clip) EndSession() (ClipResult, error) {
	c.mu.Lock()
	if c.sessionID == "" || c.rawFile == nil {
		c.mu.Unlock()
		return ClipResult{}, nil
	}

	sessionID := c.sessionID
	rawPath := c.rawPath
	rawFile := c.rawFile
	written := c.written

	c.sessionID = ""
	c.rawPath = ""
	c.rawFile = nil
	c.written = 0
	c.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return ClipResult{}, fmt.Errorf("close raw pcm file: %w", err)
	}
	defer func() { _ = os.Remove(rawPath) }()

	wavPath := filepath.Join(c.dir, sessionID+".wav")
	if err := c.encode(rawPath, wavPath); err != nil {
		return ClipResult{}, fmt.Errorf("encode wav clip: %w", err)
	}

	return ClipResult{
		Path:     wavPath,
		Duration: PCMDuration(written),
		MimeType: "audio/wav",
		Bytes:    written,
	}, nil
}

// PCMDuration returns the play time of n bytes of target-format PCM.
func PCMDuration(n int64) time.Duration {
	bytesPerSecond := int64(TargetSampleRate * TargetChannels * TargetBitDepth / 8)
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

func encodeWAV(rawPath, wavPath string) error {
	pcm, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw pcm data: %w", err)
	}

	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer out.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	format := TargetFormat
	enc := wav.NewEncoder(out, TargetSampleRate, TargetBitDepth, TargetChannels, pcmFormatTag)
	if err := enc.Write(&goaudio.IntBuffer{Format: &format, Data: samples, SourceBitDepth: TargetBitDepth}); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
