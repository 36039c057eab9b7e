package strategy

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/fetcher"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
	"github.com/rohmanhakim/gravity-worker/pkg/hashutil"
)

const tracerName = "github.com/rohmanhakim/gravity-worker/internal/strategy"

/*
Engine answers intercepted requests from the cache, the network, or both.

Every call to Handle settles with a response: network and storage failures
are recovered locally by falling back to the cache or to Offline().

Strategies

  - network-first: fetch; store 2xx in the dynamic cache; on network failure
    serve any cached match, else Offline().
  - cache-first: serve a cached match without touching the network; on a miss
    behave like network-first without the cache fallback.
  - stale-while-revalidate: serve a cached match and refresh it in the
    background; on a miss behave like cache-first, except that failed
    navigations fall back to the cached root document.

Only 2xx responses are stored. Concurrent puts for one key are last-write-wins.
*/
type Engine struct {
	storage      cachestore.Storage
	fetcher      fetcher.Fetcher
	metadataSink metadata.MetadataSink
	tracer       trace.Tracer

	rules        Rules
	dynamicCache string
	rootDocument url.URL

	refreshes singleflight.Group
	inflight  sync.WaitGroup
}

// Params configures an Engine.
type Params struct {
	Rules        Rules
	DynamicCache string
	// RootDocument is served to failed navigations. A zero URL disables
	// the fallback.
	RootDocument url.URL
}

type Option func(*Engine)

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func NewEngine(
	storage cachestore.Storage,
	fetcher fetcher.Fetcher,
	metadataSink metadata.MetadataSink,
	params Params,
	opts ...Option,
) *Engine {
	e := &Engine{
		storage:      storage,
		fetcher:      fetcher,
		metadataSink: metadataSink,
		tracer:       otel.Tracer(tracerName),
		rules:        params.Rules,
		dynamicCache: params.DynamicCache,
		rootDocument: params.RootDocument,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is what Handle hands back to the page.
type Result struct {
	Response resource.Response
	Strategy Kind
	Source   metadata.FetchSource
}

// Handle classifies req and runs the matching strategy.
func (e *Engine) Handle(ctx context.Context, req resource.Request) Result {
	kind := e.rules.Classify(req.URL.String())
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "strategy."+string(kind),
		trace.WithAttributes(
			attribute.String("url.full", req.URL.String()),
			attribute.String("gravity.strategy", string(kind)),
		),
	)
	defer span.End()

	var res Result
	switch kind {
	case KindNetworkFirst:
		res = e.networkFirst(ctx, req)
	case KindCacheFirst:
		res = e.cacheFirst(ctx, req)
	default:
		res = e.staleWhileRevalidate(ctx, req)
	}
	res.Strategy = kind

	span.SetAttributes(
		attribute.String("gravity.source", string(res.Source)),
		attribute.Int("http.response.status_code", res.Response.Status),
	)
	if res.Source == metadata.SourceOffline {
		span.SetStatus(codes.Error, "offline")
	}

	e.metadataSink.RecordFetch(req.URL.String(), res.Response.Status, time.Since(start), string(kind), res.Source)
	return res
}

// Wait blocks until every background refresh started so far has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) networkFirst(ctx context.Context, req resource.Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		e.store(ctx, req, resp)
		return Result{Response: resp, Source: metadata.SourceNetwork}
	}

	if cached, ok := e.match(ctx, req); ok {
		return Result{Response: cached, Source: metadata.SourceCache}
	}
	return Result{Response: Offline(), Source: metadata.SourceOffline}
}

func (e *Engine) cacheFirst(ctx context.Context, req resource.Request) Result {
	if cached, ok := e.match(ctx, req); ok {
		return Result{Response: cached, Source: metadata.SourceCache}
	}
	return e.fetchAndStore(ctx, req)
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req resource.Request) Result {
	if cached, ok := e.match(ctx, req); ok {
		e.refresh(ctx, req)
		return Result{Response: cached, Source: metadata.SourceCache}
	}

	res := e.fetchAndStore(ctx, req)
	if res.Source != metadata.SourceOffline || !req.IsNavigation() || e.rootDocument.Host == "" {
		return res
	}
	root := resource.NewRequest(e.rootDocument, resource.ModeNavigate)
	if doc, ok := e.match(ctx, root); ok {
		return Result{Response: doc, Source: metadata.SourceCache}
	}
	return res
}

func (e *Engine) fetchAndStore(ctx context.Context, req resource.Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{Response: Offline(), Source: metadata.SourceOffline}
	}
	e.store(ctx, req, resp)
	return Result{Response: resp, Source: metadata.SourceNetwork}
}

// refresh re-fetches req in the background. Refreshes of one key coalesce,
// and the refresh outlives the request that triggered it.
func (e *Engine) refresh(ctx context.Context, req resource.Request) {
	key, keyErr := cachestore.Key(req)
	if keyErr != nil {
		return
	}
	detached := context.WithoutCancel(ctx)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		_, _, _ = e.refreshes.Do(key, func() (any, error) {
			resp, err := e.fetcher.Fetch(detached, req)
			if err != nil {
				e.metadataSink.RecordNotice("background refresh failed", []metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, key),
					metadata.NewAttr(metadata.AttrMessage, err.Error()),
				})
				return nil, err
			}
			if e.unchanged(detached, req, resp) {
				e.metadataSink.RecordCacheEvent(metadata.CacheEventUnchanged, e.dynamicCache, []metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, key),
				})
				return nil, nil
			}
			if e.store(detached, req, resp) {
				e.metadataSink.RecordCacheEvent(metadata.CacheEventRefreshed, e.dynamicCache, []metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, key),
				})
			}
			return nil, nil
		})
	}()
}

func (e *Engine) match(ctx context.Context, req resource.Request) (resource.Response, bool) {
	resp, ok, err := e.storage.Match(ctx, req)
	if err != nil {
		e.recordStoreError("Engine.match", req, err)
		return resource.Response{}, false
	}
	return resp, ok
}

// unchanged reports whether the dynamic cache already holds resp's body for req.
func (e *Engine) unchanged(ctx context.Context, req resource.Request, resp resource.Response) bool {
	if !resp.OK() {
		return false
	}
	cache, err := e.storage.Open(ctx, e.dynamicCache)
	if err != nil {
		e.recordStoreError("Engine.unchanged", req, err)
		return false
	}
	digest, ok, err := cache.Digest(ctx, req)
	if err != nil {
		e.recordStoreError("Engine.unchanged", req, err)
		return false
	}
	return ok && digest == hashutil.Digest(resp.Body)
}

// store puts a 2xx resp into the dynamic cache and reports whether it did.
func (e *Engine) store(ctx context.Context, req resource.Request, resp resource.Response) bool {
	if !resp.OK() {
		return false
	}
	cache, err := e.storage.Open(ctx, e.dynamicCache)
	if err != nil {
		e.recordStoreError("Engine.store", req, err)
		return false
	}
	if err := cache.Put(ctx, req, resp); err != nil {
		e.recordStoreError("Engine.store", req, err)
		return false
	}
	return true
}

func (e *Engine) recordStoreError(action string, req resource.Request, err failure.ClassifiedError) {
	cause := metadata.CauseUnknown
	var storeErr *cachestore.StoreError
	if errors.As(err, &storeErr) {
		cause = cachestore.MapToMetadataCause(storeErr)
	}
	e.metadataSink.RecordError(
		time.Now(),
		"strategy",
		action,
		cause,
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, req.URL.String()),
			metadata.NewAttr(metadata.AttrCache, e.dynamicCache),
		},
	)
}
