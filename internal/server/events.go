package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// AudioChunkEvent is one onAudioChunk delivery. Data is the std base64 of the
// chunk bytes.
type AudioChunkEvent struct {
	Event
	Data string `json:"data"`
}

type StatusChangedEvent struct {
	Event
	RecordingID string `json:"recording_id,omitempty"`
	Status      string `json:"status"`
}

type InterruptionEvent struct {
	Event
	RecordingID  string `json:"recording_id"`
	Interruption string `json:"interruption"`
	ShouldResume bool   `json:"should_resume"`
}

type StalledEvent struct {
	Event
	RecordingID string `json:"recording_id"`
	LastChunkAt string `json:"last_chunk_at,omitempty"`
}

type TranscriptEvent struct {
	Event
	RecordingID string `json:"recording_id"`
	Transcript  string `json:"transcript"`
	Status      string `json:"status"`
}

type LiveTranscriptEvent struct {
	Event
	RecordingID string  `json:"recording_id"`
	Speaker     int     `json:"speaker"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Interim     bool    `json:"interim,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool   `json:"connected"`
	Status    string `json:"status,omitempty"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
