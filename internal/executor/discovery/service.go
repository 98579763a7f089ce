package discovery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/events/bus"
	"github.com/kandev/kanrun/internal/executor/models"
)

const (
	eventSource      = "kanrun-discovery"
	subscriberBuffer = 8
)

// Service serves discovered options from the cache, runs discovery on a
// miss and fans updates out to subscribers and the event bus.
type Service struct {
	discoverer Discoverer
	cache      *Cache
	eventBus   bus.EventBus
	logger     *logger.Logger
	group      singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[models.AgentID]map[int]chan Options
	nextID int
	busSub bus.Subscription
}

// NewService creates a discovery service. eventBus may be nil.
func NewService(discoverer Discoverer, cache *Cache, eventBus bus.EventBus, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		discoverer: discoverer,
		cache:      cache,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "discovery")),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[models.AgentID]map[int]chan Options),
	}
}

// Start listens for options published by executors on the event bus.
func (s *Service) Start() error {
	if s.eventBus == nil {
		return nil
	}
	sub, err := s.eventBus.Subscribe(events.ExecutorOptionsSubject("*"), func(ctx context.Context, e *bus.Event) error {
		if e.Source == eventSource {
			return nil
		}
		var opts Options
		if err := e.DecodeData(&opts); err != nil {
			return fmt.Errorf("invalid options event: %w", err)
		}
		if !opts.Executor.Valid() {
			return fmt.Errorf("options event for unknown executor %q", opts.Executor)
		}
		s.Ingest(opts)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to executor options: %w", err)
	}
	s.mu.Lock()
	s.busSub = sub
	s.mu.Unlock()
	return nil
}

// Close stops background discovery and closes every subscriber channel.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busSub != nil {
		_ = s.busSub.Unsubscribe()
		s.busSub = nil
	}
	for executor, subs := range s.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(s.subs, executor)
	}
}

// Get returns cached options, discovering them on a miss.
func (s *Service) Get(ctx context.Context, executor models.AgentID) (Options, error) {
	if entry, ok := s.cache.Get(executor); ok {
		return entry.Options, nil
	}
	return s.Refresh(ctx, executor)
}

// Refresh runs discovery and returns its first update. Later updates on the
// same stream keep flowing to the cache and subscribers in the background.
// Concurrent refreshes of one executor share a single discovery run.
func (s *Service) Refresh(ctx context.Context, executor models.AgentID) (Options, error) {
	ch := s.group.DoChan(string(executor), func() (interface{}, error) {
		return s.startDiscovery(executor)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Options{}, res.Err
		}
		return res.Val.(Options), nil
	case <-ctx.Done():
		return Options{}, ctx.Err()
	}
}

func (s *Service) startDiscovery(executor models.AgentID) (Options, error) {
	stream, err := s.discoverer.Discover(s.ctx, executor)
	if err != nil {
		return Options{}, fmt.Errorf("discovery for %s failed: %w", executor, err)
	}
	var first Options
	select {
	case opts, ok := <-stream:
		if !ok {
			first = Options{Executor: executor}
		} else {
			first = opts
		}
	case <-s.ctx.Done():
		return Options{}, s.ctx.Err()
	}
	first.Executor = executor
	s.publish(first)

	go func() {
		for opts := range stream {
			opts.Executor = executor
			s.publish(opts)
		}
	}()
	return first, nil
}

// Ingest accepts options pushed from outside (the event bus) without republishing.
func (s *Service) Ingest(opts Options) {
	s.cache.Set(opts.Executor, opts)
	s.fanOut(opts)
}

func (s *Service) publish(opts Options) {
	s.cache.Set(opts.Executor, opts)
	s.fanOut(opts)
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"executor":       opts.Executor,
		"model_selector": opts.ModelSelector,
		"loading":        opts.Loading,
		"error":          opts.Error,
	}
	event := bus.NewEvent(events.ExecutorOptionsUpdated, eventSource, data)
	if err := s.eventBus.Publish(s.ctx, events.ExecutorOptionsSubject(string(opts.Executor)), event); err != nil {
		s.logger.Warn("failed to publish options update", zap.String("executor", string(opts.Executor)), zap.Error(err))
	}
}

func (s *Service) fanOut(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[opts.Executor] {
		select {
		case ch <- opts:
		default:
			s.logger.Debug("subscriber slow; dropping options update", zap.String("executor", string(opts.Executor)))
		}
	}
}

// Subscribe streams updates for executor, starting with the current options
// when cached. Call the returned func to unsubscribe.
func (s *Service) Subscribe(executor models.AgentID) (<-chan Options, func()) {
	ch := make(chan Options, subscriberBuffer)
	if entry, ok := s.cache.Get(executor); ok {
		ch <- entry.Options
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[executor] == nil {
		s.subs[executor] = make(map[int]chan Options)
	}
	s.subs[executor][id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subs[executor]; ok {
			if c, ok := subs[id]; ok {
				close(c)
				delete(subs, id)
			}
		}
	}
}
