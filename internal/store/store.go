// Package store persists call records as a single JSON array on disk.
//
// Every mutation rewrites the whole file through a temp file and rename. The
// mutex serializes writers inside one process only; two processes sharing the
// file still race and the last writer wins.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
)

type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns every record in file order. A missing or unparsable file
// reads as an empty store.
func (s *Store) Load() []extractor.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Upsert replaces the record with the same call id in place, or appends it.
func (s *Store) Upsert(rec extractor.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	replaced := false
	for i := range records {
		if records[i].CallID == rec.CallID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	if err := s.write(records); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.CallID, err)
	}
	return nil
}

// Get scans the file for callID.
func (s *Store) Get(callID string) (*extractor.CallRecord, bool) {
	for _, rec := range s.Load() {
		if rec.CallID == callID {
			return &rec, true
		}
	}
	return nil, false
}

// Clear replaces the file with an empty array.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write([]extractor.CallRecord{}); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *Store) load() []extractor.CallRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("failed to read call store", "path", s.path, "error", err)
		}
		return []extractor.CallRecord{}
	}

	var records []extractor.CallRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Error("failed to parse call store, treating as empty", "path", s.path, "error", err)
		return []extractor.CallRecord{}
	}
	if records == nil {
		records = []extractor.CallRecord{}
	}
	return records
}

// write replaces the file through a temp file and rename, so a crash
// mid-write leaves the previous contents intact.
func (s *Store) write(records []extractor.CallRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
