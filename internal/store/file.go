package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileSink appends records as JSON lines to a local file. When the
// file grows past MaxBytes it is rotated to <path>.<timestamp> and a
// fresh file started; only the newest MaxRotated rotated files are
// kept.
type FileSink struct {
	path string

	// MaxBytes triggers rotation; <= 0 disables it.
	MaxBytes int64

	// MaxRotated bounds how many rotated files are kept.
	MaxRotated int

	file *os.File
	size int64
	enc  *json.Encoder

	// now is injectable for rotation-name tests.
	now func() time.Time
}

// DefaultMaxBytes keeps individual cycle logs around 10 MB.
const DefaultMaxBytes = 10 << 20

// DefaultMaxRotated keeps roughly a week of rotated logs at the stock
// cycle interval.
const DefaultMaxRotated = 7

// NewFileSink opens (or creates) the JSONL file at path for appending.
func NewFileSink(path string) (*FileSink, error) {
	s := &FileSink{
		path:       path,
		MaxBytes:   DefaultMaxBytes,
		MaxRotated: DefaultMaxRotated,
		now:        time.Now,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open cycle log %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat cycle log: %w", err)
	}
	s.file = f
	s.size = info.Size()
	s.enc = json.NewEncoder(f)
	return nil
}

// Write appends one record as a JSON line, rotating first if the file
// is over budget.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	if s.MaxBytes > 0 && s.size >= s.MaxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	n, err := s.file.Write(append(line, '\n'))
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", s.path, s.now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("rotate cycle log: %w", err)
	}

	if err := s.sweep(); err != nil {
		return err
	}
	return s.open()
}

// sweep deletes the oldest rotated files beyond MaxRotated. Rotation
// names sort chronologically, so lexical order is enough.
func (s *FileSink) sweep() error {
	if s.MaxRotated <= 0 {
		return nil
	}
	matches, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return fmt.Errorf("list rotated logs: %w", err)
	}
	if len(matches) <= s.MaxRotated {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-s.MaxRotated] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("remove rotated log %s: %w", old, err)
		}
	}
	return nil
}

// Close flushes and closes the current file.
func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
