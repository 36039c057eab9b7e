// Package metadatatest provides a recording MetadataSink for tests.
package metadatatest

import (
	"sync"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/metadata"
)

type ErrorEvent struct {
	ObservedAt  time.Time
	PackageName string
	Action      string
	Cause       metadata.ErrorCause
	Details     string
	Attrs       []metadata.Attribute
}

type FetchEvent struct {
	URL        string
	HTTPStatus int
	Duration   time.Duration
	Strategy   string
	Source     metadata.FetchSource
}

type CacheEvent struct {
	Kind      metadata.CacheEventKind
	CacheName string
	Attrs     []metadata.Attribute
}

type LifecycleEvent struct {
	State   string
	Version string
}

// Sink records every event it receives. Safe for concurrent use.
type Sink struct {
	mu         sync.Mutex
	errors     []ErrorEvent
	fetches    []FetchEvent
	caches     []CacheEvent
	lifecycles []LifecycleEvent
	notices    []string
}

func (s *Sink) RecordError(observedAt time.Time, packageName string, action string, cause metadata.ErrorCause, details string, attrs []metadata.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ErrorEvent{observedAt, packageName, action, cause, details, attrs})
}

func (s *Sink) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, strategy string, source metadata.FetchSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, FetchEvent{fetchUrl, httpStatus, duration, strategy, source})
}

func (s *Sink) RecordCacheEvent(kind metadata.CacheEventKind, cacheName string, attrs []metadata.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches = append(s.caches, CacheEvent{kind, cacheName, attrs})
}

func (s *Sink) RecordLifecycle(state string, version string, attrs []metadata.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycles = append(s.lifecycles, LifecycleEvent{state, version})
}

func (s *Sink) RecordNotice(message string, attrs []metadata.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, message)
}

func (s *Sink) Errors() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEvent(nil), s.errors...)
}

func (s *Sink) Fetches() []FetchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FetchEvent(nil), s.fetches...)
}

func (s *Sink) CacheEvents() []CacheEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CacheEvent(nil), s.caches...)
}

// States lists the lifecycle states in the order they were recorded.
func (s *Sink) States() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]string, 0, len(s.lifecycles))
	for _, l := range s.lifecycles {
		states = append(states, l.State)
	}
	return states
}

func (s *Sink) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

var _ metadata.MetadataSink = (*Sink)(nil)
