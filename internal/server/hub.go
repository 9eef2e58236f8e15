package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/metrics"
	"github.com/sjawhar/wispr-stream/internal/recorder"
	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

// Subscriber is one event consumer with its own unbounded queue, so a slow
// consumer never holds up the others or loses events.
type Subscriber struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}
}

func newSubscriber() *Subscriber {
	return &Subscriber{wake: make(chan struct{}, 1)}
}

func (s *Subscriber) push(msg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a message is queued. It returns false once the
// subscriber was removed or ctx is done.
func (s *Subscriber) Next(ctx context.Context) ([]byte, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-s.wake:
		}
	}
}

// Pending reports how many messages wait in the queue.
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

type HubOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Subscriber]struct{}
}

func NewHub(opts HubOptions) *Hub {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log.Named("hub"),
		metrics: opts.Metrics,
		clients: make(map[*Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.remove(sub)
}

// Evict removes a subscriber whose connection failed.
func (h *Hub) Evict(sub *Subscriber) {
	if h.remove(sub) {
		h.metrics.SubscriberEvicted()
	}
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	_, ok := h.clients[sub]
	delete(h.clients, sub)
	n := len(h.clients)
	h.mu.Unlock()

	sub.close()
	if ok {
		h.metrics.SetSubscribers(n)
	}
	return ok
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.clients {
		sub.push(msg)
	}
}

// OnAudioChunk publishes a chunk event; it is registered as a chunk listener.
func (h *Hub) OnAudioChunk(ev recorder.AudioChunkEvent) {
	h.broadcastEvent(AudioChunkEvent{
		Event: newEvent("audio_chunk", time.Now().UTC()),
		Data:  ev.Data,
	})
}

func (h *Hub) BroadcastStatusChanged(recordingID, status string) {
	h.broadcastEvent(StatusChangedEvent{
		Event:       newEvent("status_changed", time.Now().UTC()),
		RecordingID: recordingID,
		Status:      status,
	})
}

func (h *Hub) BroadcastInterruption(recordingID string, ev capture.Interruption) {
	h.broadcastEvent(InterruptionEvent{
		Event:        newEvent("interruption", time.Now().UTC()),
		RecordingID:  recordingID,
		Interruption: ev.Type.String(),
		ShouldResume: ev.ShouldResume,
	})
}

func (h *Hub) BroadcastStalled(recordingID string, lastChunk time.Time) {
	ev := StalledEvent{
		Event:       newEvent("stalled", time.Now().UTC()),
		RecordingID: recordingID,
	}
	if !lastChunk.IsZero() {
		ev.LastChunkAt = lastChunk.UTC().Format(time.RFC3339Nano)
	}
	h.broadcastEvent(ev)
}

func (h *Hub) BroadcastTranscriptReady(recordingID, transcript, status string) {
	h.broadcastEvent(TranscriptEvent{
		Event:       newEvent("transcript", time.Now().UTC()),
		RecordingID: recordingID,
		Transcript:  transcript,
		Status:      status,
	})
}

func (h *Hub) BroadcastLiveTranscript(recordingID string, seg transcribe.Segment) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent("live_transcript", seg.Timestamp),
		RecordingID: recordingID,
		Speaker:     seg.Speaker,
		Text:        seg.Text,
		StartTime:   seg.StartTime,
		EndTime:     seg.EndTime,
	})
}

func (h *Hub) BroadcastLiveTranscriptInterim(recordingID string, speaker int, text string, start float64) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent("live_transcript", time.Now().UTC()),
		RecordingID: recordingID,
		Speaker:     speaker,
		Text:        text,
		StartTime:   start,
		Interim:     true,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event marshal error", zap.Error(err))
		return
	}
	h.Broadcast(payload)
}
