package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const activeFileName = "audit.log"

// FileSink appends events as JSON lines to <dir>/audit.log and rotates the file
// once it reaches MaxSizeBytes
type FileSink struct {
	dir      string
	maxSize  int64
	maxFiles int
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileSinkConfig configures a FileSink
type FileSinkConfig struct {
	Dir          string
	MaxSizeBytes int64 // 0 disables rotation
	MaxFiles     int   // rotated files kept, default 10
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		Dir:          "/var/log/auditcore",
		MaxSizeBytes: 100 * 1024 * 1024, // 100MB
		MaxFiles:     10,
	}
}

// NewFileSink creates the directory if needed and opens the active file for append
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}

	s := &FileSink{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSizeBytes,
		maxFiles: cfg.MaxFiles,
		now:      time.Now,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) activePath() string {
	return filepath.Join(s.dir, activeFileName)
}

func (s *FileSink) open() error {
	file, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// Write implements Sink
func (s *FileSink) Write(ctx context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink is closed")
	}
	if s.maxSize > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
			if err := s.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}
	if err := s.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// rotate renames the active file with a timestamp suffix and opens a fresh one.
// The caller holds s.mu.
func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	s.file = nil

	rotated := filepath.Join(s.dir, fmt.Sprintf("audit-%s.log", s.now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(s.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log: %w", err)
	}
	if err := s.prune(); err != nil {
		return err
	}
	return s.open()
}

// prune removes the oldest rotated files beyond maxFiles. Rotated names sort chronologically.
func (s *FileSink) prune() error {
	files, err := s.RotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}
	for _, f := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", f, err)
		}
	}
	return nil
}

// RotatedFiles lists the rotated files, oldest first
func (s *FileSink) RotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "audit-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadEvents reads up to count events from the active file; count <= 0 reads all
func (s *FileSink) ReadEvents(count int) ([]*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// Close implements Sink. Later writes fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var _ Sink = (*FileSink)(nil)
