package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/sjawhar/wispr-stream/internal/audio"
)

type fakeSource struct {
	mu       sync.Mutex
	format   goaudio.Format
	channels int
	startErr error
	handler  FrameHandler
	starts   int
	stops    int
}

func newFakeSource(rate, channels int) *fakeSource {
	return &fakeSource{
		format:   goaudio.Format{SampleRate: rate, NumChannels: channels},
		channels: channels,
	}
}

func (f *fakeSource) Format() goaudio.Format { return f.format }

func (f *fakeSource) InputChannels() int { return f.channels }

func (f *fakeSource) Start(h FrameHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.handler = h
	f.starts++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.stops++
	return nil
}

func (f *fakeSource) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// push delivers one buffer if the source is started.
func (f *fakeSource) push(data []float32) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	format := f.format
	h(&goaudio.Float32Buffer{Format: &format, Data: data})
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkRecorder) OnChunk(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
}

func (r *chunkRecorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

func (r *chunkRecorder) headers() int {
	n := 0
	header := audio.StreamHeader()
	for _, c := range r.all() {
		if bytes.Equal(c, header) {
			n++
		}
	}
	return n
}

func silence(n int) []float32 {
	return make([]float32, n)
}

func TestSessionEmitsHeaderThenThresholdChunks(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 158, ChunkSize: 4096})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push(silence(4096))

	chunks := out.all()
	if len(chunks) != 3 {
		t.Fatalf("expected header + 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0], audio.StreamHeader()) {
		t.Fatalf("first chunk is not the stream header: % X", chunks[0])
	}
	if len(chunks[1]) != 158 || len(chunks[2]) != 4096 {
		t.Fatalf("unexpected chunk sizes %d, %d", len(chunks[1]), len(chunks[2]))
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	chunks = out.all()
	if len(chunks) != 4 || len(chunks[3]) != 8192-158-4096 {
		t.Fatalf("expected final flush of %d bytes, got %d chunks", 8192-158-4096, len(chunks))
	}
	if sess.State() != Stopped {
		t.Fatalf("expected stopped, got %v", sess.State())
	}
}

func TestSessionStopFlushesPartialChunk(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 4096, ChunkSize: 4096})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push(silence(750))
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	chunks := out.all()
	if len(chunks) != 2 {
		t.Fatalf("expected header + final chunk, got %d chunks", len(chunks))
	}
	if len(chunks[1]) != 1500 {
		t.Fatalf("expected 1500-byte final chunk, got %d", len(chunks[1]))
	}
	if src.stops != 1 {
		t.Fatalf("expected source stopped once, got %d", src.stops)
	}
}

func TestSessionRestartSendsFreshHeader(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{})

	for i := 0; i < 2; i++ {
		if err := sess.Start(); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		src.push(silence(100))
		if err := sess.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}
	if got := out.headers(); got != 2 {
		t.Fatalf("expected one header per run, got %d", got)
	}
}

func TestSessionStartTwiceFails(t *testing.T) {
	sess := NewSession(newFakeSource(16000, 1), &chunkRecorder{}, Options{})
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.Start(); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestSessionStopWithoutStartIsNoop(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{})
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if src.stops != 0 || len(out.all()) != 0 {
		t.Fatalf("expected no side effects, stops=%d chunks=%d", src.stops, len(out.all()))
	}
}

func TestSessionPausedDropsFramesAtTap(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 100, ChunkSize: 100})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess.SetPaused(true)
	src.push(silence(500))
	if n := len(out.all()); n != 0 {
		t.Fatalf("expected no chunks while paused, got %d", n)
	}

	sess.SetPaused(false)
	src.push(silence(50))
	chunks := out.all()
	if len(chunks) != 2 || len(chunks[0]) != audio.HeaderSize || len(chunks[1]) != 100 {
		t.Fatalf("expected header + one 100-byte chunk after resume, got %d chunks", len(chunks))
	}
}

func TestSessionStartRejectsSourceWithoutChannels(t *testing.T) {
	src := newFakeSource(16000, 0)
	lock := NewDeviceLock()
	sess := NewSession(src, &chunkRecorder{}, Options{Lock: lock})

	if err := sess.Start(); !errors.Is(err, ErrNoInputChannel) {
		t.Fatalf("expected ErrNoInputChannel, got %v", err)
	}
	if src.starts != 0 || sess.State() != Stopped {
		t.Fatalf("expected nothing started, starts=%d state=%v", src.starts, sess.State())
	}
	if err := lock.Acquire(); err != nil {
		t.Fatalf("expected device lock to be free: %v", err)
	}
}

func TestSessionStartFailureReleasesDevice(t *testing.T) {
	src := newFakeSource(48000, 2)
	src.setStartErr(errors.New("device unplugged"))
	lock := NewDeviceLock()
	sess := NewSession(src, &chunkRecorder{}, Options{Lock: lock})

	if err := sess.Start(); !errors.Is(err, ErrGraphActivation) {
		t.Fatalf("expected ErrGraphActivation, got %v", err)
	}
	if sess.State() != Stopped {
		t.Fatalf("expected stopped after failed start, got %v", sess.State())
	}
	if err := lock.Acquire(); err != nil {
		t.Fatalf("expected device lock to be released: %v", err)
	}
}

func TestSessionStartRejectsUnsupportedFormat(t *testing.T) {
	src := newFakeSource(0, 1)
	sess := NewSession(src, &chunkRecorder{}, Options{})
	if err := sess.Start(); !errors.Is(err, audio.ErrConverterCreation) {
		t.Fatalf("expected ErrConverterCreation, got %v", err)
	}
	if src.starts != 0 {
		t.Fatal("source must not be started when the converter cannot be built")
	}
}

func TestDeviceLockIsExclusiveAcrossSessions(t *testing.T) {
	lock := NewDeviceLock()
	first := NewSession(newFakeSource(16000, 1), &chunkRecorder{}, Options{Lock: lock})
	second := NewSession(newFakeSource(16000, 1), &chunkRecorder{}, Options{Lock: lock})

	if err := first.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := second.Start(); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if err := first.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := second.Start(); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
}

func TestSessionConversionErrorIsTransient(t *testing.T) {
	src := newFakeSource(16000, 2)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 2, ChunkSize: 2})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.push([]float32{0.1, 0.1, 0.1})
	if sess.Streaming() {
		t.Fatal("expected streaming flag cleared after failed conversion")
	}
	if sess.State() != Running {
		t.Fatalf("expected session to keep running, got %v", sess.State())
	}

	src.push([]float32{0.5, 0.5})
	if !sess.Streaming() {
		t.Fatal("expected streaming flag set after successful conversion")
	}
	chunks := out.all()
	if len(chunks) != 2 || len(chunks[1]) != 2 {
		t.Fatalf("expected header + one data chunk, got %d chunks", len(chunks))
	}
}

func TestSessionInterruptionKeepsSingleHeader(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 100, ChunkSize: 100})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push(silence(50))

	sess.Interrupt(Interruption{Type: InterruptionBegan})
	if sess.State() != Suspended {
		t.Fatalf("expected suspended, got %v", sess.State())
	}
	before := len(out.all())
	src.push(silence(50))
	if len(out.all()) != before {
		t.Fatal("expected no chunks while suspended")
	}

	sess.Interrupt(Interruption{Type: InterruptionEnded, ShouldResume: true})
	if sess.State() != Running {
		t.Fatalf("expected running after resume, got %v", sess.State())
	}
	if src.starts != 2 {
		t.Fatalf("expected source restarted, starts=%d", src.starts)
	}
	src.push(silence(50))

	if got := out.headers(); got != 1 {
		t.Fatalf("expected exactly one header across the interruption, got %d", got)
	}
	if len(out.all()) <= before {
		t.Fatal("expected chunk production to resume")
	}
	if sess.Interruptions() != 1 {
		t.Fatalf("expected 1 interruption, got %d", sess.Interruptions())
	}
}

func TestSessionInterruptionWithoutResumeStaysSuspended(t *testing.T) {
	src := newFakeSource(16000, 1)
	out := &chunkRecorder{}
	sess := NewSession(src, out, Options{FirstChunkSize: 4096, ChunkSize: 4096})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push(silence(100))
	sess.Interrupt(Interruption{Type: InterruptionBegan})
	sess.Interrupt(Interruption{Type: InterruptionEnded, ShouldResume: false})

	if sess.State() != Suspended {
		t.Fatalf("expected suspended, got %v", sess.State())
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if src.stops != 1 {
		t.Fatalf("suspended source must not be stopped twice, stops=%d", src.stops)
	}
	chunks := out.all()
	if len(chunks) != 2 || len(chunks[1]) != 200 {
		t.Fatalf("expected buffered bytes flushed on stop, got %d chunks", len(chunks))
	}
}

func TestSessionFailedReactivationStaysSuspended(t *testing.T) {
	src := newFakeSource(16000, 1)
	sess := NewSession(src, &chunkRecorder{}, Options{})

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess.Interrupt(Interruption{Type: InterruptionBegan})
	src.setStartErr(errors.New("session not reactivated"))
	sess.Interrupt(Interruption{Type: InterruptionEnded, ShouldResume: true})

	if sess.State() != Suspended {
		t.Fatalf("expected suspended after failed reactivation, got %v", sess.State())
	}
}

func TestSessionWatchConsumesInterruptions(t *testing.T) {
	src := newFakeSource(16000, 1)
	sess := NewSession(src, &chunkRecorder{}, Options{})
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Interruption)
	done := make(chan struct{})
	go func() {
		sess.Watch(ctx, events)
		close(done)
	}()

	events <- Interruption{Type: InterruptionBegan}
	deadline := time.Now().Add(time.Second)
	for sess.State() != Suspended {
		if time.Now().After(deadline) {
			t.Fatal("expected watch to suspend the session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Watch to return after cancel")
	}
}

func TestParseInterruptionType(t *testing.T) {
	if got, err := ParseInterruptionType("began"); err != nil || got != InterruptionBegan {
		t.Fatalf("unexpected parse: %v %v", got, err)
	}
	if got, err := ParseInterruptionType("ended"); err != nil || got != InterruptionEnded {
		t.Fatalf("unexpected parse: %v %v", got, err)
	}
	if _, err := ParseInterruptionType("paused"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
