package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

func TestWriterAppendsPerRecording(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	seg := transcribe.Segment{
		Speaker:   0,
		Text:      "Hello world.",
		StartTime: 0.0,
		EndTime:   1.0,
		Timestamp: time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local),
	}

	if err := w.Append("rec-1", seg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	path := filepath.Join(dir, "2026-02-26", "rec-1.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "Speaker 0") {
		t.Errorf("expected Speaker 0 in content, got: %s", content)
	}
	if !strings.Contains(content, "Hello world.") {
		t.Errorf("expected 'Hello world.' in content, got: %s", content)
	}
}

func TestWriterSeparatesRecordings(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	ts := time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local)

	_ = w.Append("rec-1", transcribe.Segment{Speaker: 0, Text: "First.", Timestamp: ts})
	_ = w.Append("rec-1", transcribe.Segment{Speaker: 1, Text: "Second.", Timestamp: ts})
	_ = w.Append("rec-2", transcribe.Segment{Speaker: 0, Text: "Other.", Timestamp: ts})

	data, _ := os.ReadFile(filepath.Join(dir, "2026-02-26", "rec-1.md"))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines for rec-1, got %d", len(lines))
	}

	other, _ := os.ReadFile(filepath.Join(dir, "2026-02-26", "rec-2.md"))
	if !strings.Contains(string(other), "Other.") {
		t.Fatalf("expected rec-2 transcript, got %q", other)
	}
}
