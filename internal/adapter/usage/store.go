// Package usage implements the Usage Store (spec.md §4.8, component C9):
// an atomic, concurrency-safe incremental JSON file updated on every
// completed request.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// Store guards one on-disk JSON file with a single mutex, per spec.md §4.8
// steps 1-6: acquire, read-modify, write-rename, release. Every Record call
// fully serialises behind the same mutex, so the read-modify-write-rename
// cycle is always applied to the latest on-disk state and no update is ever
// lost or torn (spec.md §8 invariant 4).
type Store struct {
	mu    sync.Mutex
	path  string
	nowFn func() time.Time
}

// New builds a Store writing to path. The parent directory is created
// lazily on first Record call.
func New(path string) *Store {
	return &Store{
		path:  path,
		nowFn: time.Now,
	}
}

// Record increments the usage totals for model on today's date by delta,
// then atomically persists the file (spec.md §4.8 steps 1-6).
func (s *Store) Record(model string, delta domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return fmt.Errorf("usage store: read: %w", err)
	}

	day := s.nowFn().UTC().Format("2006-01-02")
	file.Record(model, day, delta)
	file.GeneratedAt = s.nowFn().UTC().Format(time.RFC3339)

	if err := s.writeAtomic(file); err != nil {
		return fmt.Errorf("usage store: write: %w", err)
	}
	return nil
}

func (s *Store) read() (*domain.UsageFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewUsageFile(), nil
		}
		return nil, err
	}
	file := domain.NewUsageFile()
	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("corrupt usage file %s: %w", s.path, err)
	}
	if file.ByModel == nil {
		file.ByModel = map[string]*domain.UsageRecord{}
	}
	if file.Daily == nil {
		file.Daily = map[string]*domain.DailyUsage{}
	}
	return file, nil
}

// writeAtomic persists file via tempfile-then-rename in the same directory,
// so a concurrent reader never observes a torn write (spec.md §4.8 contract,
// §8 invariant 4).
func (s *Store) writeAtomic(file *domain.UsageFile) error {
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once rename succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, s.path)
}

// Read loads the current file contents, for status/diagnostics surfaces.
func (s *Store) Read() (*domain.UsageFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}
