package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/metrics"
	"github.com/sjawhar/wispr-stream/internal/recorder"
	"github.com/sjawhar/wispr-stream/internal/storage"
	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

// Bridge is the recording surface exposed to the host.
type Bridge interface {
	CanDeviceVoiceRecord() bool
	RequestAudioRecordingPermission(ctx context.Context) (bool, error)
	HasAudioRecordingPermission() bool
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*recorder.RecordingData, error)
	PauseRecording() bool
	ResumeRecording() bool
	GetCurrentStatus() recorder.Status
	CaptureState() capture.State
	ActiveRecordingID() string
	Interrupt(ev capture.Interruption) bool
}

type RecordingStore interface {
	GetRecordingsByDate(date string) ([]storage.Recording, error)
	GetRecording(id string) (storage.Recording, error)
	GetSegments(recordingID string) ([]transcribe.Segment, error)
	GetDates() ([]string, error)
}

type api struct {
	bridge  Bridge
	store   RecordingStore
	metrics *metrics.Metrics
	log     *zap.Logger
}

type interruptionRequest struct {
	Type         string `json:"type"`
	ShouldResume bool   `json:"should_resume"`
}

func (a *api) register(mux *http.ServeMux) {
	if a.bridge != nil {
		a.handle(mux, "POST /api/recording/start", a.startRecording)
		a.handle(mux, "POST /api/recording/stop", a.stopRecording)
		a.handle(mux, "POST /api/recording/pause", a.pauseRecording)
		a.handle(mux, "POST /api/recording/resume", a.resumeRecording)
		a.handle(mux, "GET /api/recording/status", a.recordingStatus)
		a.handle(mux, "GET /api/device", a.device)
		a.handle(mux, "GET /api/permission", a.permission)
		a.handle(mux, "POST /api/permission", a.requestPermission)
		a.handle(mux, "POST /api/interruptions", a.interruption)
	}
	if a.store != nil {
		a.handle(mux, "GET /api/recordings", a.listRecordings)
		a.handle(mux, "GET /api/recordings/{id}", a.getRecording)
		a.handle(mux, "GET /api/dates", a.dates)
	}
}

func (a *api) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		a.metrics.Request(pattern, sw.status)
	})
}

func (a *api) startRecording(w http.ResponseWriter, r *http.Request) {
	if err := a.bridge.StartRecording(r.Context()); err != nil {
		a.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value":        true,
		"status":       a.bridge.GetCurrentStatus(),
		"recording_id": a.bridge.ActiveRecordingID(),
	})
}

func (a *api) stopRecording(w http.ResponseWriter, r *http.Request) {
	id := a.bridge.ActiveRecordingID()
	data, err := a.bridge.StopRecording(r.Context())
	if err != nil {
		a.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value":        true,
		"status":       a.bridge.GetCurrentStatus(),
		"recording_id": id,
		"data":         data,
	})
}

func (a *api) pauseRecording(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"value": a.bridge.PauseRecording()})
}

func (a *api) resumeRecording(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"value": a.bridge.ResumeRecording()})
}

func (a *api) recordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       a.bridge.GetCurrentStatus(),
		"capture":      a.bridge.CaptureState().String(),
		"recording_id": a.bridge.ActiveRecordingID(),
	})
}

func (a *api) device(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"value": a.bridge.CanDeviceVoiceRecord()})
}

func (a *api) permission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"value": a.bridge.HasAudioRecordingPermission()})
}

func (a *api) requestPermission(w http.ResponseWriter, r *http.Request) {
	granted, err := a.bridge.RequestAudioRecordingPermission(r.Context())
	if err != nil {
		a.log.Warn("permission request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("request permission: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"value": granted})
}

func (a *api) interruption(w http.ResponseWriter, r *http.Request) {
	var req interruptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode interruption: %v", err))
		return
	}
	typ, err := capture.ParseInterruptionType(req.Type)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !a.bridge.Interrupt(capture.Interruption{Type: typ, ShouldResume: req.ShouldResume}) {
		a.writeBridgeError(w, recorder.ErrRecordingHasNotStarted)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) listRecordings(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid date")
		return
	}

	recordings, err := a.store.GetRecordingsByDate(date)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, recordings)
}

func (a *api) getRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid recording id")
		return
	}

	rec, err := a.store.GetRecording(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
		return
	}

	segments, err := a.store.GetSegments(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recording segments: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recording": rec,
		"segments":  segments,
	})
}

func (a *api) dates(w http.ResponseWriter, r *http.Request) {
	dates, err := a.store.GetDates()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (a *api) writeBridgeError(w http.ResponseWriter, err error) {
	code := recorder.Code(err)
	status := bridgeStatus(code)
	if status == http.StatusInternalServerError {
		a.log.Error("bridge call failed", zap.String("code", code), zap.Error(err))
	}
	if code == "" {
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, status, map[string]string{"error": code, "message": strings.TrimSpace(err.Error())})
}

func bridgeStatus(code string) int {
	switch code {
	case recorder.ErrMissingPermission.Code:
		return http.StatusForbidden
	case recorder.ErrAlreadyRecording.Code, recorder.ErrRecordingHasNotStarted.Code:
		return http.StatusConflict
	case recorder.ErrCannotRecordOnThisPhone.Code:
		return http.StatusServiceUnavailable
	case recorder.ErrEmptyRecording.Code:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
