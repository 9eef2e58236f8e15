package recorder

import (
	"context"
	"time"

	"github.com/sjawhar/wispr-stream/internal/audio"
	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/storage"
)

// SourceFactory opens the capture source for a new recording.
type SourceFactory func() (capture.Source, error)

type Store interface {
	CreateRecording(id string, startedAt time.Time) error
	FinishRecording(id string, fin storage.Finish) error
	UpdateTranscript(recordingID, transcript, status string) error
}

type ClipRecorder interface {
	StartSession(sessionID string) error
	Write(p []byte) (int, error)
	EndSession() (audio.ClipResult, error)
}

type ClipTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

type EventBroadcaster interface {
	BroadcastStatusChanged(recordingID string, status string)
	BroadcastInterruption(recordingID string, ev capture.Interruption)
	BroadcastTranscriptReady(recordingID, transcript, status string)
}

// Observer follows recording boundaries, e.g. to open a transcription stream.
type Observer interface {
	RecordingStarted(recordingID string)
	RecordingStopped(recordingID string)
}

// RecordingData is the full clip of a stopped recording.
type RecordingData struct {
	RecordDataBase64 string `json:"recordDataBase64"`
	MsDuration       int64  `json:"msDuration"`
	MimeType         string `json:"mimeType"`
}
