package profiles

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
)

// Session owns the current profile document for one process or UI session.
// Construct one at startup and pass it explicitly; there is no package state.
//
// Updates are read-modify-write against the in-memory copy followed by a
// whole-document save. Concurrent sessions on one file are last-write-wins.
type Session struct {
	source Source
	logger *logger.Logger

	mu  sync.RWMutex
	doc Document

	listenersMu sync.Mutex
	listeners   map[int]func(Document)
	nextID      int
}

// NewSession loads the document from source.
func NewSession(ctx context.Context, source Source, log *logger.Logger) (*Session, error) {
	doc, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return &Session{
		source:    source,
		logger:    log.WithFields(zap.String("component", "profile-session")),
		doc:       doc,
		listeners: make(map[int]func(Document)),
	}, nil
}

// Document returns the current document.
func (s *Session) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Update applies fn to the current document and saves the result. When the
// save fails the error is logged, the session reloads from the source and the
// error is returned; nothing is retried.
func (s *Session) Update(ctx context.Context, fn func(Document) (Document, error)) (Document, error) {
	s.mu.Lock()
	next, err := fn(s.doc.Clone())
	if err != nil {
		s.mu.Unlock()
		return Document{}, err
	}
	if err := s.source.Save(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Warn("failed to save profiles; reloading", zap.Error(err))
		if reloadErr := s.Reload(ctx); reloadErr != nil {
			s.logger.Warn("failed to reload profiles after save failure", zap.Error(reloadErr))
		}
		return Document{}, fmt.Errorf("failed to save profiles: %w", err)
	}
	s.doc = next.Clone()
	s.mu.Unlock()

	s.notify(next)
	return next, nil
}

// Replace saves doc as the whole document.
func (s *Session) Replace(ctx context.Context, doc Document) error {
	_, err := s.Update(ctx, func(Document) (Document, error) { return doc, nil })
	return err
}

// Reload re-reads the document from the source.
func (s *Session) Reload(ctx context.Context) error {
	doc, err := s.source.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	s.notify(doc)
	return nil
}

// OnChange registers fn to run after every successful update or reload.
// The returned func unregisters it.
func (s *Session) OnChange(fn func(Document)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) notify(doc Document) {
	s.listenersMu.Lock()
	fns := make([]func(Document), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(doc.Clone())
	}
}

// WatchFile reloads the session whenever source's file changes on disk.
// It blocks until ctx is done.
func (s *Session) WatchFile(ctx context.Context, source *FileSource) error {
	return source.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			s.logger.Warn("failed to reload profiles after file change", zap.Error(err))
		}
	})
}
