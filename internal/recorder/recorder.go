// Package recorder is the bridge between the host application and the
// capture pipeline: permissions, the recording state machine, chunk events
// and the per-recording bookkeeping around them.
package recorder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/liveness"
	"github.com/sjawhar/wispr-stream/internal/logging"
	"github.com/sjawhar/wispr-stream/internal/metrics"
	"github.com/sjawhar/wispr-stream/internal/storage"
)

const (
	defaultDrainTimeout      = 5 * time.Second
	defaultTranscribeTimeout = 2 * time.Minute
)

type Options struct {
	Sources     SourceFactory
	Probe       func() bool
	Permissions Permissions
	DeviceLock  *capture.DeviceLock
	Emitter     *Emitter

	Store       Store
	Clip        ClipRecorder
	Transcriber ClipTranscriber
	Hub         EventBroadcaster
	Liveness    *liveness.Detector
	Observers   []Observer

	FirstChunkSize int
	ChunkSize      int
	DrainTimeout   time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Recorder struct {
	sources     SourceFactory
	probe       func() bool
	perms       Permissions
	lock        *capture.DeviceLock
	emitter     *Emitter
	store       Store
	clip        ClipRecorder
	transcriber ClipTranscriber
	hub         EventBroadcaster
	detector    *liveness.Detector
	observers   []Observer
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	firstChunk   int
	chunk        int
	drainTimeout time.Duration

	mu     sync.Mutex
	sm     *StateMachine
	active *activeRecording

	// statsMu guards per-recording chunk accounting, which runs on the
	// emitter goroutine while mu may be held by StopRecording.
	statsMu sync.Mutex
	stats   chunkStats

	removeListener func()
	bg             sync.WaitGroup
}

type activeRecording struct {
	id          string
	startedAt   time.Time
	session     *capture.Session
	interrupts  chan capture.Interruption
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	clip        bool
}

type chunkStats struct {
	recordingID   string
	chunks        int64
	bytes         int64
	clip          bool
	headerPending bool
}

func New(opts Options) *Recorder {
	perms := opts.Permissions
	if perms == nil {
		perms = NewStaticPermissions(true, true)
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = NewEmitter(opts.Metrics)
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}

	r := &Recorder{
		sources:      opts.Sources,
		probe:        opts.Probe,
		perms:        perms,
		lock:         opts.DeviceLock,
		emitter:      emitter,
		store:        opts.Store,
		clip:         opts.Clip,
		transcriber:  opts.Transcriber,
		hub:          opts.Hub,
		detector:     opts.Liveness,
		observers:    opts.Observers,
		log:          logging.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		now:          time.Now,
		firstChunk:   opts.FirstChunkSize,
		chunk:        opts.ChunkSize,
		drainTimeout: drain,
		sm:           NewStateMachine(),
	}
	r.removeListener = emitter.AddListener(r.onChunk)
	return r
}

// Emitter returns the chunk event source listeners subscribe to.
func (r *Recorder) Emitter() *Emitter {
	return r.emitter
}

func (r *Recorder) AddListener(fn Listener) (remove func()) {
	return r.emitter.AddListener(fn)
}

func (r *Recorder) CanDeviceVoiceRecord() bool {
	return r.probe != nil && r.probe()
}

func (r *Recorder) RequestAudioRecordingPermission(ctx context.Context) (bool, error) {
	granted, err := r.perms.Request(ctx)
	if err != nil {
		return false, fmt.Errorf("request microphone permission: %w", err)
	}
	return granted, nil
}

func (r *Recorder) HasAudioRecordingPermission() bool {
	return r.perms.Granted()
}

func (r *Recorder) GetCurrentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sm.Status()
}

// CaptureState reports the hardware side of the active recording, which can
// be suspended by an interruption while the logical status stays RECORDING.
func (r *Recorder) CaptureState() capture.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return capture.Stopped
	}
	return r.active.session.State()
}

// ActiveRecordingID returns the id of the current recording, or "".
func (r *Recorder) ActiveRecordingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.id
}

func (r *Recorder) StartRecording(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.perms.Granted() {
		return ErrMissingPermission
	}
	if r.sm.Status() != StatusNone {
		return ErrAlreadyRecording
	}
	if r.sources == nil {
		return ErrCannotRecordOnThisPhone
	}

	src, err := r.sources()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCannotRecordOnThisPhone, err)
	}

	id := uuid.NewString()
	startedAt := r.now().UTC()

	clipOn := false
	if r.clip != nil {
		if err := r.clip.StartSession(id); err != nil {
			r.log.Warn("clip capture disabled for recording", zap.String("recording_id", id), zap.Error(err))
		} else {
			clipOn = true
		}
	}

	r.resetStats(id, clipOn)
	for _, o := range r.observers {
		o.RecordingStarted(id)
	}

	sess := capture.NewSession(src, r.emitter.For(id), capture.Options{
		FirstChunkSize: r.firstChunk,
		ChunkSize:      r.chunk,
		Lock:           r.lock,
		Logger:         r.log.With(zap.String("recording_id", id)),
		Metrics:        r.metrics,
	})
	if err := sess.Start(); err != nil {
		r.abortStart(id, clipOn)
		return fmt.Errorf("%w: %w", ErrCannotRecordOnThisPhone, err)
	}

	if r.store != nil {
		if err := r.store.CreateRecording(id, startedAt); err != nil {
			_ = sess.Stop()
			r.emitter.Discard(id)
			r.abortStart(id, clipOn)
			return fmt.Errorf("%w: create recording: %w", ErrFailedToRecord, err)
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	act := &activeRecording{
		id:          id,
		startedAt:   startedAt,
		session:     sess,
		interrupts:  make(chan capture.Interruption, 8),
		cancelWatch: cancel,
		watchDone:   make(chan struct{}),
		clip:        clipOn,
	}
	go func() {
		defer close(act.watchDone)
		sess.Watch(watchCtx, act.interrupts)
	}()

	r.sm.Start()
	r.active = act
	if r.detector != nil {
		r.detector.Arm()
	}
	r.metrics.RecordingStarted()
	r.log.Info("recording started", zap.String("recording_id", id))
	r.broadcastStatus(id, StatusRecording)
	return nil
}

// StopRecording stops capture and waits until every chunk of the recording
// was delivered, so no chunk event follows the returned acknowledgement.
// Chunks still queued when the drain timeout expires are discarded.
//
// With clip capture on, the recording is stopped even when the clip cannot
// be returned; the error is then ErrEmptyRecording or
// ErrFailedToFetchRecording.
func (r *Recorder) StopRecording(ctx context.Context) (*RecordingData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sm.Status() == StatusNone || r.active == nil {
		return nil, ErrRecordingHasNotStarted
	}
	act := r.active

	act.cancelWatch()
	<-act.watchDone

	if err := act.session.Stop(); err != nil {
		r.log.Warn("stop capture", zap.String("recording_id", act.id), zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(ctx, r.drainTimeout)
	defer cancel()
	if err := r.emitter.Drain(drainCtx); err != nil {
		dropped := r.emitter.Discard(act.id)
		r.log.Warn("chunk delivery not drained, discarding the rest",
			zap.String("recording_id", act.id),
			zap.Int("dropped", dropped),
			zap.Error(err))
	}

	if r.detector != nil {
		r.detector.Disarm()
	}
	r.sm.Stop()
	r.active = nil
	stats := r.resetStats("", false)
	endedAt := r.now().UTC()

	for _, o := range r.observers {
		o.RecordingStopped(act.id)
	}

	fin := storage.Finish{
		EndedAt:       endedAt,
		ChunkCount:    stats.chunks,
		ByteCount:     stats.bytes,
		Interruptions: act.session.Interruptions(),
		DurationMs:    endedAt.Sub(act.startedAt).Milliseconds(),
	}

	var data *RecordingData
	var clipErr error
	if act.clip {
		data, clipErr = r.finishClip(act.id, &fin)
		if clipErr != nil {
			r.log.Error("recording clip unavailable", zap.String("recording_id", act.id), zap.Error(clipErr))
		}
	}

	if r.store != nil {
		if err := r.store.FinishRecording(act.id, fin); err != nil {
			r.log.Error("finish recording row", zap.String("recording_id", act.id), zap.Error(err))
		}
	}

	r.metrics.RecordingStopped(endedAt.Sub(act.startedAt))
	r.log.Info("recording stopped",
		zap.String("recording_id", act.id),
		zap.Int64("chunks", stats.chunks),
		zap.Int64("bytes", stats.bytes),
		zap.Int("interruptions", fin.Interruptions))
	r.broadcastStatus(act.id, StatusNone)

	if r.transcriber != nil && fin.AudioPath != "" {
		r.bg.Add(1)
		go r.transcribeClip(act.id, fin.AudioPath)
	} else if r.store != nil {
		_ = r.store.UpdateTranscript(act.id, "", storage.TranscriptSkipped)
	}

	if clipErr != nil {
		return nil, clipErr
	}
	return data, nil
}

// finishClip ends the clip session and loads it for the host. It fills in
// the audio path and duration of fin when a clip is kept.
func (r *Recorder) finishClip(recordingID string, fin *storage.Finish) (*RecordingData, error) {
	res, err := r.clip.EndSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToFetchRecording, err)
	}
	if res.Path == "" {
		return nil, ErrFailedToFetchRecording
	}
	if res.Bytes <= 0 {
		if err := os.Remove(res.Path); err != nil {
			r.log.Warn("remove empty clip", zap.String("recording_id", recordingID), zap.Error(err))
		}
		return nil, ErrEmptyRecording
	}

	fin.AudioPath = res.Path
	fin.DurationMs = res.Duration.Milliseconds()
	data, err := readRecordingData(res.Path, res.MimeType, fin.DurationMs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToFetchRecording, err)
	}
	return data, nil
}

func (r *Recorder) PauseRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sm.Pause() {
		return false
	}
	r.active.session.SetPaused(true)
	if r.detector != nil {
		r.detector.Disarm()
	}
	r.broadcastStatus(r.active.id, StatusPaused)
	return true
}

func (r *Recorder) ResumeRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sm.Resume() {
		return false
	}
	r.active.session.SetPaused(false)
	if r.detector != nil {
		r.detector.Arm()
	}
	r.broadcastStatus(r.active.id, StatusRecording)
	return true
}

// Interrupt queues an OS audio-session notification for the active recording.
// It reports false when nothing is recording.
func (r *Recorder) Interrupt(ev capture.Interruption) bool {
	r.mu.Lock()
	act := r.active
	if act == nil {
		r.mu.Unlock()
		return false
	}
	act.interrupts <- ev
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.BroadcastInterruption(act.id, ev)
	}
	return true
}

// ForceStop stops the active recording, if any, during shutdown.
func (r *Recorder) ForceStop(ctx context.Context) error {
	_, err := r.StopRecording(ctx)
	if errors.Is(err, ErrRecordingHasNotStarted) {
		return nil
	}
	return err
}

// Wait blocks until background clip transcriptions finished.
func (r *Recorder) Wait() {
	r.bg.Wait()
}

func (r *Recorder) Close() {
	r.bg.Wait()
	if r.removeListener != nil {
		r.removeListener()
	}
}

// onChunk accounts chunks of the current recording only; a chunk dispatched
// late for an earlier recording is ignored.
func (r *Recorder) onChunk(ev AudioChunkEvent) {
	r.statsMu.Lock()
	if r.stats.recordingID == "" || ev.RecordingID != r.stats.recordingID {
		r.statsMu.Unlock()
		return
	}
	r.stats.chunks++
	r.stats.bytes += int64(len(ev.Raw))
	writeClip := r.stats.clip && !r.stats.headerPending
	r.stats.headerPending = false
	id := r.stats.recordingID
	r.statsMu.Unlock()

	if r.detector != nil {
		r.detector.Touch()
	}
	if writeClip {
		if _, err := r.clip.Write(ev.Raw); err != nil {
			r.log.Warn("write clip", zap.String("recording_id", id), zap.Error(err))
		}
	}
}

// resetStats starts accounting for recordingID and returns the previous
// totals. The first chunk of a recording is the stream header, which the clip
// replaces with its own.
func (r *Recorder) resetStats(recordingID string, clip bool) chunkStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	prev := r.stats
	r.stats = chunkStats{recordingID: recordingID, clip: clip, headerPending: true}
	return prev
}

// abortStart requires r.mu.
func (r *Recorder) abortStart(id string, clipOn bool) {
	r.resetStats("", false)
	for _, o := range r.observers {
		o.RecordingStopped(id)
	}
	if clipOn {
		if res, err := r.clip.EndSession(); err == nil && res.Path != "" {
			_ = os.Remove(res.Path)
		}
	}
}

func (r *Recorder) transcribeClip(recordingID, path string) {
	defer r.bg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTranscribeTimeout)
	defer cancel()

	if r.store != nil {
		_ = r.store.UpdateTranscript(recordingID, "", storage.TranscriptRunning)
	}

	text, err := r.transcriber.TranscribeFile(ctx, path)
	if err != nil {
		r.log.Warn("clip transcription failed", zap.String("recording_id", recordingID), zap.Error(err))
		r.metrics.TranscriptionFailed("whisper")
		if r.store != nil {
			_ = r.store.UpdateTranscript(recordingID, "", storage.TranscriptFailed)
		}
		r.broadcastTranscript(recordingID, "", storage.TranscriptFailed)
		return
	}

	if r.store != nil {
		if err := r.store.UpdateTranscript(recordingID, text, storage.TranscriptCompleted); err != nil {
			r.log.Warn("store clip transcript", zap.String("recording_id", recordingID), zap.Error(err))
		}
	}
	r.broadcastTranscript(recordingID, text, storage.TranscriptCompleted)
}

func (r *Recorder) broadcastStatus(recordingID string, status Status) {
	if r.hub != nil {
		r.hub.BroadcastStatusChanged(recordingID, string(status))
	}
}

func (r *Recorder) broadcastTranscript(recordingID, text, status string) {
	if r.hub != nil {
		r.hub.BroadcastTranscriptReady(recordingID, text, status)
	}
}

func readRecordingData(path, mimeType string, durationMs int64) (*RecordingData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clip %s: %w", path, err)
	}
	return &RecordingData{
		RecordDataBase64: base64.StdEncoding.EncodeToString(raw),
		MsDuration:       durationMs,
		MimeType:         mimeType,
	}, nil
}
