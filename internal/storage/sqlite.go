package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

const (
	TranscriptPending   = "pending"
	TranscriptRunning   = "running"
	TranscriptCompleted = "completed"
	TranscriptFailed    = "failed"
	TranscriptSkipped   = "skipped"
)

type Recording struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Status           string     `json:"status"`
	ChunkCount       int64      `json:"chunk_count"`
	ByteCount        int64      `json:"byte_count"`
	Interruptions    int        `json:"interruptions"`
	DurationMs       int64      `json:"duration_ms"`
	AudioPath        string     `json:"audio_path"`
	Transcript       string     `json:"transcript"`
	TranscriptStatus string     `json:"transcript_status"`
}

// Finish carries the stats written when a recording stops.
type Finish struct {
	EndedAt       time.Time
	ChunkCount    int64
	ByteCount     int64
	Interruptions int
	DurationMs    int64
	AudioPath     string
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "wispr-stream.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			byte_count INTEGER NOT NULL DEFAULT 0,
			interruptions INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			audio_path TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			transcript_status TEXT NOT NULL DEFAULT 'pending'
		);
	`); err != nil {
		return fmt.Errorf("create recordings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL,
			speaker INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create segments table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at)"); err != nil {
		return fmt.Errorf("create recordings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_segments_recording_id ON segments(recording_id, timestamp)"); err != nil {
		return fmt.Errorf("create segments index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateRecording(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("recording id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings(id, started_at, status, transcript_status) VALUES(?, ?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		StatusActive,
		TranscriptPending,
	)
	if err != nil {
		return fmt.Errorf("create recording %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRecording(id string, fin Finish) error {
	res, err := s.db.Exec(
		`UPDATE recordings
		 SET ended_at = ?, status = ?, chunk_count = ?, byte_count = ?, interruptions = ?, duration_ms = ?, audio_path = ?
		 WHERE id = ?`,
		fin.EndedAt.UTC().Format(time.RFC3339Nano),
		StatusCompleted,
		fin.ChunkCount,
		fin.ByteCount,
		fin.Interruptions,
		fin.DurationMs,
		fin.AudioPath,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish recording %s: %w", id, err)
	}
	return expectRow(res, "finish recording")
}

// AbandonActive closes rows left active by a previous process and returns how
// many were closed.
func (s *SQLiteStore) AbandonActive(at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE recordings SET status = ?, ended_at = ?, transcript_status = ? WHERE status = ?`,
		StatusAbandoned,
		at.UTC().Format(time.RFC3339Nano),
		TranscriptSkipped,
		StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon active recordings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon active rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateTranscript(recordingID, transcript, status string) error {
	res, err := s.db.Exec(
		`UPDATE recordings SET transcript = ?, transcript_status = ? WHERE id = ?`,
		transcript,
		status,
		recordingID,
	)
	if err != nil {
		return fmt.Errorf("update transcript for recording %s: %w", recordingID, err)
	}
	return expectRow(res, "update transcript")
}

func (s *SQLiteStore) AppendSegment(recordingID string, seg transcribe.Segment) error {
	_, err := s.db.Exec(
		`INSERT INTO segments(recording_id, speaker, text, start_time, end_time, timestamp) VALUES(?, ?, ?, ?, ?, ?)`,
		recordingID,
		seg.Speaker,
		strings.TrimSpace(seg.Text),
		seg.StartTime,
		seg.EndTime,
		seg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append segment for recording %s: %w", recordingID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecordingsByDate(date string) ([]Recording, error) {
	rows, err := s.db.Query(
		`SELECT `+recordingColumns+`
		 FROM recordings
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	recordings := make([]Recording, 0, 16)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings rows: %w", err)
	}

	return recordings, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM recordings ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetRecording(id string) (Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if err != nil {
		return Recording{}, fmt.Errorf("query recording %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetSegments(recordingID string) ([]transcribe.Segment, error) {
	rows, err := s.db.Query(
		`SELECT speaker, text, start_time, end_time, timestamp
		 FROM segments
		 WHERE recording_id = ?
		 ORDER BY id ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		var seg transcribe.Segment
		var ts string
		if err := rows.Scan(&seg.Speaker, &seg.Text, &seg.StartTime, &seg.EndTime, &ts); err != nil {
			return nil, fmt.Errorf("scan segment for recording %s: %w", recordingID, err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse segment timestamp for recording %s: %w", recordingID, err)
		}
		seg.Timestamp = parsedTS

		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for recording %s: %w", recordingID, err)
	}

	return segments, nil
}

const recordingColumns = `id, started_at, ended_at, status, chunk_count, byte_count, interruptions, duration_ms, audio_path, transcript, transcript_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var rec Recording
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(
		&rec.ID, &startedAt, &endedAt, &rec.Status,
		&rec.ChunkCount, &rec.ByteCount, &rec.Interruptions, &rec.DurationMs,
		&rec.AudioPath, &rec.Transcript, &rec.TranscriptStatus,
	); err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Recording{}, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Recording{}, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &parsedEnd
	}

	return rec, nil
}

func expectRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
