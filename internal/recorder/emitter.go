package recorder

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/metrics"
)

// AudioChunkEvent is the onAudioChunk payload. Raw is the undecoded chunk and
// RecordingID the recording that produced it, both for in-process listeners.
type AudioChunkEvent struct {
	Data        string `json:"data"`
	RecordingID string `json:"-"`
	Raw         []byte `json:"-"`
}

type Listener func(AudioChunkEvent)

// Emitter delivers chunks to listeners from its own goroutine, in the order
// they were received. Producers never block on listeners and nothing is
// dropped unless Discard is called for the chunk's recording.
type Emitter struct {
	metrics *metrics.Metrics

	mu         sync.Mutex
	queue      []queuedChunk
	listeners  []listenerEntry
	nextID     uint64
	enqueued   uint64
	dispatched uint64
	progress   chan struct{}
	closed     bool

	// inflight is the recording of the chunk being dispatched; discarded
	// stops its remaining listener calls.
	inflight  string
	discarded string

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type queuedChunk struct {
	recordingID string
	data        []byte
}

type listenerEntry struct {
	id uint64
	fn Listener
}

func NewEmitter(m *metrics.Metrics) *Emitter {
	e := &Emitter{
		metrics:  m,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// OnChunk enqueues a chunk that belongs to no recording.
func (e *Emitter) OnChunk(chunk []byte) {
	e.enqueue("", chunk)
}

// For returns the delivery a capture session of recordingID writes to.
func (e *Emitter) For(recordingID string) capture.Delivery {
	return recordingDelivery{emitter: e, recordingID: recordingID}
}

type recordingDelivery struct {
	emitter     *Emitter
	recordingID string
}

func (d recordingDelivery) OnChunk(chunk []byte) {
	d.emitter.enqueue(d.recordingID, chunk)
}

// enqueue copies chunk into the queue. Chunks arriving after Close are
// ignored.
func (e *Emitter) enqueue(recordingID string, chunk []byte) {
	c := make([]byte, len(chunk))
	copy(c, chunk)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, queuedChunk{recordingID: recordingID, data: c})
	e.enqueued++
	depth := len(e.queue)
	e.mu.Unlock()

	e.metrics.SetDeliveryQueue(depth)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// AddListener registers fn and returns a function that removes it.
func (e *Emitter) AddListener(fn Listener) (remove func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Drain waits until every chunk enqueued before the call was dispatched or
// discarded.
func (e *Emitter) Drain(ctx context.Context) error {
	e.mu.Lock()
	target := e.enqueued
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if e.dispatched >= target {
			e.mu.Unlock()
			return nil
		}
		progress := e.progress
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-progress:
		}
	}
}

// Discard drops the queued chunks of recordingID and stops listener calls for
// the one being dispatched, if any. It returns how many chunks were dropped.
func (e *Emitter) Discard(recordingID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.queue[:0]
	dropped := 0
	for _, c := range e.queue {
		if c.recordingID == recordingID {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	clear(e.queue[len(kept):])
	e.queue = kept

	if e.inflight == recordingID {
		e.discarded = recordingID
	}
	if dropped > 0 {
		e.dispatched += uint64(dropped)
		e.advanceLocked()
	}
	e.metrics.SetDeliveryQueue(len(e.queue))
	return dropped
}

// Close dispatches what is queued and stops the dispatcher.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		select {
		case e.wake <- struct{}{}:
		default:
		}
		<-e.done
	})
}

func (e *Emitter) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		chunk := e.queue[0]
		e.queue[0] = queuedChunk{}
		e.queue = e.queue[1:]
		depth := len(e.queue)
		listeners := append([]listenerEntry(nil), e.listeners...)
		e.inflight = chunk.recordingID
		e.mu.Unlock()

		e.metrics.SetDeliveryQueue(depth)
		ev := AudioChunkEvent{
			Data:        base64.StdEncoding.EncodeToString(chunk.data),
			RecordingID: chunk.recordingID,
			Raw:         chunk.data,
		}
		for _, l := range listeners {
			if e.isDiscarded(chunk.recordingID) {
				break
			}
			l.fn(ev)
		}
		e.metrics.ChunkEmitted(len(chunk.data))

		e.mu.Lock()
		e.inflight = ""
		e.discarded = ""
		e.dispatched++
		e.advanceLocked()
		e.mu.Unlock()
	}
}

func (e *Emitter) isDiscarded(recordingID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recordingID != "" && e.discarded == recordingID
}

// advanceLocked wakes Drain callers; it requires e.mu.
func (e *Emitter) advanceLocked() {
	close(e.progress)
	e.progress = make(chan struct{})
}
