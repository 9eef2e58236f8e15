package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestWhisperTranscribeFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("expected language en, got %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(file)
		if string(body) != "RIFFfake" {
			t.Errorf("unexpected upload %q", body)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"text": "  hello from the clip  "})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	w, err := NewWhisper("test-key", WhisperOptions{Language: "en", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewWhisper failed: %v", err)
	}

	got, err := w.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile failed: %v", err)
	}
	if got != "hello from the clip" {
		t.Fatalf("unexpected transcript %q", got)
	}
}

func TestWhisperTranscribeFileError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	w, err := NewWhisper("test-key", WhisperOptions{BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewWhisper failed: %v", err)
	}
	if _, err := w.TranscribeFile(context.Background(), path); err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}

func TestNewWhisperRequiresKey(t *testing.T) {
	if _, err := NewWhisper(" ", WhisperOptions{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}
