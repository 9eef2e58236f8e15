package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/metrics"
)

var ErrConnect = errors.New("live transcription connect failed")

type SegmentStore interface {
	AppendSegment(recordingID string, seg Segment) error
}

type SegmentWriter interface {
	Append(recordingID string, seg Segment) error
}

type TranscriptBroadcaster interface {
	BroadcastLiveTranscript(recordingID string, seg Segment)
	BroadcastLiveTranscriptInterim(recordingID string, speaker int, text string, start float64)
}

// Stream is an open live transcription connection.
type Stream interface {
	Write(p []byte) (int, error)
	Stop()
}

type Dialer func(ctx context.Context, cb api.LiveMessageCallback) (Stream, error)

type DeepgramOptions struct {
	APIKey   string
	Model    string
	Language string
}

var initDeepgram sync.Once

// DeepgramDialer opens one Deepgram websocket per recording. The stream is sent
// as a WAV container, so no raw encoding or sample rate is declared.
func DeepgramDialer(opts DeepgramOptions) Dialer {
	initDeepgram.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	language := opts.Language
	if language == "" {
		language = "en-US"
	}

	return func(ctx context.Context, cb api.LiveMessageCallback) (Stream, error) {
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		tOptions := &interfaces.LiveTranscriptionOptions{
			Model:          model,
			Language:       language,
			Diarize:        true,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: true,
		}

		dg, err := client.NewWSUsingCallback(ctx, opts.APIKey, cOptions, tOptions, cb)
		if err != nil {
			return nil, fmt.Errorf("create deepgram client: %w", err)
		}
		if !dg.Connect() {
			return nil, ErrConnect
		}
		return dg, nil
	}
}

type LiveOptions struct {
	Store   SegmentStore
	Writer  SegmentWriter
	Hub     TranscriptBroadcaster
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Live feeds each recording's chunk stream to a live transcription backend
// and persists the diarized segments it returns. It follows recording
// boundaries as a recorder observer and receives chunks as a listener.
type Live struct {
	dial    Dialer
	store   SegmentStore
	writer  SegmentWriter
	hub     TranscriptBroadcaster
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	current *liveStream
	wg      sync.WaitGroup
}

func NewLive(dial Dialer, opts LiveOptions) *Live {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Live{
		dial:    dial,
		store:   opts.Store,
		writer:  opts.Writer,
		hub:     opts.Hub,
		log:     log.Named("live"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (l *Live) RecordingStarted(recordingID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &liveStream{
		live:        l,
		recordingID: recordingID,
		buffer:      NewUtteranceBuffer(),
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
	}

	l.mu.Lock()
	prev := l.current
	l.current = s
	l.wg.Add(1)
	l.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	go s.run(ctx)
}

// RecordingStopped closes the recording's stream. Queued chunks are still
// sent and buffered words persisted, on the stream's own goroutine.
func (l *Live) RecordingStopped(recordingID string) {
	l.mu.Lock()
	s := l.current
	if s == nil || s.recordingID != recordingID {
		l.mu.Unlock()
		return
	}
	l.current = nil
	l.mu.Unlock()

	s.close()
}

// OnChunk queues a chunk of recordingID for the active stream. Chunks of any
// other recording are ignored. It never waits on the network.
func (l *Live) OnChunk(recordingID string, chunk []byte) {
	l.mu.Lock()
	s := l.current
	l.mu.Unlock()
	if s != nil && s.recordingID == recordingID {
		s.write(chunk)
	}
}

// Close stops the active stream and waits until every stream finished.
func (l *Live) Close() {
	l.mu.Lock()
	s := l.current
	l.current = nil
	l.mu.Unlock()
	if s != nil {
		s.close()
	}
	l.wg.Wait()
}

type liveStream struct {
	live        *Live
	recordingID string
	buffer      *UtteranceBuffer
	cancel      context.CancelFunc
	wake        chan struct{}

	mu        sync.Mutex
	queue     [][]byte
	connected bool
	failed    bool
	closed    bool
}

// run connects, then writes queued chunks in order until the stream is
// closed and its queue drained.
func (s *liveStream) run(ctx context.Context) {
	defer s.live.wg.Done()

	conn, err := s.live.dial(ctx, liveCallback{stream: s})
	if err != nil {
		s.mu.Lock()
		s.failed = true
		s.queue = nil
		s.mu.Unlock()
		s.cancel()
		s.live.log.Warn("live transcription unavailable", zap.String("recording_id", s.recordingID), zap.Error(err))
		s.live.metrics.TranscriptionFailed("deepgram")
		return
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	for {
		chunk, ok := s.next()
		if !ok {
			break
		}
		if _, err := conn.Write(chunk); err != nil {
			s.mu.Lock()
			s.failed = true
			s.queue = nil
			s.mu.Unlock()
			s.live.log.Warn("live transcription write failed", zap.String("recording_id", s.recordingID), zap.Error(err))
			s.live.metrics.TranscriptionFailed("deepgram")
		}
	}

	conn.Stop()
	s.cancel()
	_ = s.flush()
}

// next blocks until a chunk is queued. It returns false once the stream is
// closed and nothing is left to send.
func (s *liveStream) next() ([]byte, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return chunk, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}
		<-s.wake
	}
}

func (s *liveStream) write(chunk []byte) {
	c := make([]byte, len(chunk))
	copy(c, chunk)

	s.mu.Lock()
	if s.failed || s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	s.signal()
}

func (s *liveStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *liveStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *liveStream) message(mr *api.MessageResponse) error {
	sentence, words := WordsFromResponse(mr)
	if sentence == "" {
		return nil
	}

	if !mr.IsFinal {
		if s.live.hub != nil {
			speaker := UnknownSpeaker
			start := 0.0
			if len(words) > 0 {
				speaker = speakerOf(words[0])
				start = words[0].Start
			}
			s.live.hub.BroadcastLiveTranscriptInterim(s.recordingID, speaker, sentence, start)
		}
		return nil
	}

	s.buffer.AddWords(words)
	if mr.SpeechFinal {
		return s.flush()
	}
	return nil
}

func (s *liveStream) flush() error {
	segments := GroupWordsBySpeaker(s.buffer.Flush(), s.live.now().UTC())

	var errs []error
	for _, seg := range segments {
		if s.live.store != nil {
			if err := s.live.store.AppendSegment(s.recordingID, seg); err != nil {
				errs = append(errs, fmt.Errorf("append segment: %w", err))
				continue
			}
		}
		if s.live.writer != nil {
			if err := s.live.writer.Append(s.recordingID, seg); err != nil {
				s.live.log.Warn("write transcript markdown", zap.String("recording_id", s.recordingID), zap.Error(err))
			}
		}
		s.live.metrics.SegmentStored()
		if s.live.hub != nil {
			s.live.hub.BroadcastLiveTranscript(s.recordingID, seg)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.live.log.Warn("persist live segments", zap.String("recording_id", s.recordingID), zap.Error(err))
	}
	return err
}

type liveCallback struct {
	stream *liveStream
}

func (c liveCallback) Message(mr *api.MessageResponse) error {
	return c.stream.message(mr)
}

func (c liveCallback) Open(*api.OpenResponse) error {
	c.stream.live.log.Info("connected to live transcription", zap.String("recording_id", c.stream.recordingID))
	return nil
}

func (c liveCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c liveCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c liveCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	return c.stream.flush()
}

func (c liveCallback) Close(*api.CloseResponse) error {
	c.stream.live.log.Info("disconnected from live transcription", zap.String("recording_id", c.stream.recordingID))
	return nil
}

func (c liveCallback) Error(er *api.ErrorResponse) error {
	c.stream.live.log.Warn("live transcription error",
		zap.String("recording_id", c.stream.recordingID),
		zap.String("code", er.ErrCode),
		zap.String("description", er.Description),
	)
	c.stream.live.metrics.TranscriptionFailed("deepgram")
	return nil
}

func (c liveCallback) UnhandledEvent([]byte) error { return nil }
