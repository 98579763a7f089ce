package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
)

// Source loads and saves the profile document.
type Source interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// MemorySource keeps the document in memory.
type MemorySource struct {
	mu      sync.Mutex
	doc     Document
	saves   int
	saveErr error
}

// NewMemorySource returns a source seeded with doc.
func NewMemorySource(doc Document) *MemorySource {
	return &MemorySource{doc: doc.Clone()}
}

// Load returns the stored document.
func (s *MemorySource) Load(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

// Save stores doc unless a save error is configured.
func (s *MemorySource) Save(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.doc = doc.Clone()
	return nil
}

// FailSaves makes every later Save return err; nil restores normal saves.
func (s *MemorySource) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

// Saves returns how many times Save was called.
func (s *MemorySource) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

const watchDebounce = 250 * time.Millisecond

// FileSource persists the document as JSON at path, layered over defaults.
type FileSource struct {
	path     string
	defaults Document
	logger   *logger.Logger

	mu       sync.Mutex
	lastHash uint64
}

// NewFileSource returns a file-backed source. A missing file loads as defaults.
func NewFileSource(path string, defaults Document, log *logger.Logger) *FileSource {
	return &FileSource{
		path:     path,
		defaults: defaults.Clone(),
		logger:   log.WithFields(zap.String("component", "profile-file"), zap.String("path", path)),
	}
}

// Path returns the document location.
func (s *FileSource) Path() string { return s.path }

// Load reads the file and merges it over the defaults.
func (s *FileSource) Load(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.defaults.Clone(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read profiles: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse profiles %s: %w", s.path, err)
	}
	s.remember(data)
	return Merge(s.defaults, doc), nil
}

// Save writes the document through a temp file and rename.
func (s *FileSource) Save(ctx context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create profiles dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	s.remember(data)
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace profiles: %w", err)
	}
	return nil
}

func (s *FileSource) remember(data []byte) {
	s.mu.Lock()
	s.lastHash = hashBytes(data)
	s.mu.Unlock()
}

// changed reports whether the file differs from what was last read or written.
func (s *FileSource) changed() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return hashBytes(data) != s.lastHash
}

// Watch calls onChange after external writes to the file settle. It blocks
// until ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profiles dir: %w", err)
	}
	// Watch the directory: atomic saves replace the file inode.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil || !s.changed() {
				return
			}
			s.logger.Info("profile document changed on disk")
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("profile watch error", zap.Error(err))
		}
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
