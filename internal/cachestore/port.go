package cachestore

import (
	"context"

	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

// Storage is the port for the worker's named cache set, the Go counterpart
// of CacheStorage. Adapters decide where entries live (process memory,
// SQLite on disk); the strategy and lifecycle code never depend on which.
//
// Cache names are enumerated in creation order. That order also decides
// which entry wins when Match finds the same key in several caches.
type Storage interface {
	// Open returns a handle to the named cache, creating it if absent.
	// Opening an existing cache is a no-op.
	Open(ctx context.Context, name string) (Cache, failure.ClassifiedError)

	// Has reports whether the named cache exists.
	Has(ctx context.Context, name string) (bool, failure.ClassifiedError)

	// Delete removes an entire named cache. It reports whether a cache
	// was removed.
	Delete(ctx context.Context, name string) (bool, failure.ClassifiedError)

	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, failure.ClassifiedError)

	// Match looks the request up in every cache, in creation order, and
	// returns a private copy of the first hit.
	Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError)

	Close() error
}

// Cache is a handle to one named cache. Handles address caches by name:
// writing through a handle whose cache was deleted creates it again.
type Cache interface {
	Name() string

	// Match is an exact lookup by the request's cache key.
	Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError)

	// Digest returns the body digest stored with req's entry.
	Digest(ctx context.Context, req resource.Request) (string, bool, failure.ClassifiedError)

	// Put stores a copy of resp under req's key, replacing any previous
	// entry. On failure the previous entry is left untouched.
	Put(ctx context.Context, req resource.Request, resp resource.Response) failure.ClassifiedError

	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) failure.ClassifiedError

	// Delete removes one entry and reports whether it existed.
	Delete(ctx context.Context, req resource.Request) (bool, failure.ClassifiedError)

	// Keys lists the stored request keys in insertion order.
	Keys(ctx context.Context) ([]string, failure.ClassifiedError)

	// Size sums the body length of every stored response.
	Size(ctx context.Context) (int64, failure.ClassifiedError)
}
