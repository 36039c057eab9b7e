package cachestore

import (
	"context"
	"sync"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

// MemoryStorage is an in-memory implementation of the Storage port.
// It uses maps for storage and provides thread-safe operations via RWMutex.
//
// Nothing survives the process; it suits tests and ephemeral deployments.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
	order  []string
	closed bool
	now    func() time.Time
}

type memoryCache struct {
	records map[string]Record
	order   []string
}

// NewMemoryStorage creates an empty storage ready for use.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		caches: make(map[string]*memoryCache),
		now:    time.Now,
	}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Cache, failure.ClassifiedError) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed()
	}
	s.ensureLocked(name)
	return &memoryHandle{storage: s, name: name}, nil
}

func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, failure.ClassifiedError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, errClosed()
	}
	_, ok := s.caches[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, failure.ClassifiedError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed()
	}
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, failure.ClassifiedError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed()
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names, nil
}

func (s *MemoryStorage) Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError) {
	key, err := Key(req)
	if err != nil {
		return resource.Response{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return resource.Response{}, false, errClosed()
	}
	for _, name := range s.order {
		if rec, ok := s.caches[name].records[key]; ok {
			return rec.Response.Clone(), true, nil
		}
	}
	return resource.Response{}, false, nil
}

// Close marks the storage unusable. Entries are dropped.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.caches = make(map[string]*memoryCache)
	s.order = nil
	return nil
}

// ensureLocked returns the named cache, creating it. Caller holds s.mu.
func (s *MemoryStorage) ensureLocked(name string) *memoryCache {
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{records: make(map[string]Record)}
		s.caches[name] = c
		s.order = append(s.order, name)
	}
	return c
}

// memoryHandle addresses a cache by name inside its MemoryStorage.
type memoryHandle struct {
	storage *MemoryStorage
	name    string
}

func (h *memoryHandle) Name() string {
	return h.name
}

func (h *memoryHandle) Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError) {
	key, err := Key(req)
	if err != nil {
		return resource.Response{}, false, err
	}
	s := h.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return resource.Response{}, false, errClosed()
	}
	c, ok := s.caches[h.name]
	if !ok {
		return resource.Response{}, false, nil
	}
	rec, ok := c.records[key]
	if !ok {
		return resource.Response{}, false, nil
	}
	return rec.Response.Clone(), true, nil
}

func (h *memoryHandle) Digest(ctx context.Context, req resource.Request) (string, bool, failure.ClassifiedError) {
	key, err := Key(req)
	if err != nil {
		return "", false, err
	}
	s := h.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, errClosed()
	}
	c, ok := s.caches[h.name]
	if !ok {
		return "", false, nil
	}
	rec, ok := c.records[key]
	if !ok {
		return "", false, nil
	}
	return rec.Digest, true, nil
}

func (h *memoryHandle) Put(ctx context.Context, req resource.Request, resp resource.Response) failure.ClassifiedError {
	return h.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

func (h *memoryHandle) PutAll(ctx context.Context, entries []Entry) failure.ClassifiedError {
	s := h.storage
	now := s.now()

	// build every record before touching the map so a bad key aborts the batch
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		key, err := Key(e.Request)
		if err != nil {
			return err
		}
		records = append(records, NewRecord(key, e.Response, now))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed()
	}
	c := s.ensureLocked(h.name)
	for _, rec := range records {
		if _, exists := c.records[rec.Key]; !exists {
			c.order = append(c.order, rec.Key)
		}
		c.records[rec.Key] = rec
	}
	return nil
}

func (h *memoryHandle) Delete(ctx context.Context, req resource.Request) (bool, failure.ClassifiedError) {
	key, err := Key(req)
	if err != nil {
		return false, err
	}
	s := h.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed()
	}
	c, ok := s.caches[h.name]
	if !ok {
		return false, nil
	}
	if _, ok := c.records[key]; !ok {
		return false, nil
	}
	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (h *memoryHandle) Keys(ctx context.Context) ([]string, failure.ClassifiedError) {
	s := h.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed()
	}
	c, ok := s.caches[h.name]
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys, nil
}

func (h *memoryHandle) Size(ctx context.Context) (int64, failure.ClassifiedError) {
	s := h.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, errClosed()
	}
	c, ok := s.caches[h.name]
	if !ok {
		return 0, nil
	}
	var total int64
	for _, rec := range c.records {
		total += rec.Response.Size()
	}
	return total, nil
}

func errClosed() failure.ClassifiedError {
	return &StoreError{
		Message:   "storage is closed",
		Retryable: false,
		Cause:     ErrCauseClosed,
	}
}

var _ Storage = (*MemoryStorage)(nil)
