package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

// Writer appends live transcript segments to one markdown file per recording,
// grouped in a directory per day.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(recordingID string, seg transcribe.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.Path(recordingID, seg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, seg.FormatMarkdown()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) Path(recordingID string, seg transcribe.Segment) string {
	date := seg.Timestamp.Format("2006-01-02")
	return filepath.Join(w.dir, date, recordingID+".md")
}
