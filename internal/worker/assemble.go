package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/cachestore/sqlite"
	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/config"
	"github.com/rohmanhakim/gravity-worker/internal/control"
	"github.com/rohmanhakim/gravity-worker/internal/fetcher"
	"github.com/rohmanhakim/gravity-worker/internal/lifecycle"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/notify"
	"github.com/rohmanhakim/gravity-worker/internal/strategy"
	"github.com/rohmanhakim/gravity-worker/internal/syncqueue"
)

// Runtime is a Worker together with the resources it owns.
type Runtime struct {
	*Worker
	Storage cachestore.Storage
	Slots   syncqueue.SlotStore
	Fetcher *fetcher.HTTPFetcher
}

// Deps lets callers inject the pieces that face the outside world. Zero
// fields are built from the config.
type Deps struct {
	Storage  cachestore.Storage
	Slots    syncqueue.SlotStore
	Client   *http.Client
	Notifier notify.Notifier
	Flusher  syncqueue.Flusher
	Options  []strategy.Option
}

// Assemble opens the configured backends and wires one worker version.
func Assemble(ctx context.Context, cfg config.Config, metadataSink metadata.MetadataSink, deps Deps) (*Runtime, error) {
	storage := deps.Storage
	if storage == nil {
		s, err := OpenStorage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		storage = s
	}

	slots := deps.Slots
	if slots == nil {
		s, err := OpenSlots(cfg)
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		slots = s
	}

	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	httpFetcher := fetcher.NewHTTPFetcher(metadataSink, client)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(metadataSink)
	}
	flusher := deps.Flusher
	if flusher == nil {
		flusher = syncqueue.NewLogFlusher(metadataSink)
	}

	registry := clients.NewRegistry(metadataSink)
	manager := lifecycle.NewManager(storage, httpFetcher, registry, metadataSink, lifecycle.Params{
		Version:              cfg.Version(),
		StaticCache:          cfg.StaticCacheName(),
		DynamicCache:         cfg.DynamicCacheName(),
		Manifest:             cfg.ManifestURLs(),
		Retry:                cfg.RetryParam(),
		SkipWaitingOnInstall: cfg.SkipWaitingOnInstall(),
	})
	engine := strategy.NewEngine(storage, httpFetcher, metadataSink, strategy.Params{
		Rules: strategy.Rules{
			NetworkFirst: cfg.NetworkFirst(),
			CacheFirst:   cfg.CacheFirst(),
		},
		DynamicCache: cfg.DynamicCacheName(),
		RootDocument: cfg.RootDocument(),
	}, deps.Options...)
	channel := control.NewChannel(storage, manager, metadataSink)
	service := notify.NewService(notifier, registry, metadataSink, notify.Params{
		Defaults: notify.Defaults{
			Title: cfg.PushTitle(),
			Body:  cfg.PushBody(),
			Icon:  cfg.PushIcon(),
			Badge: cfg.PushBadge(),
		},
		ClientMatch: cfg.ClientMatch(),
		OpenURL:     cfg.OpenURL(),
	})
	queue := syncqueue.NewQueue(slots, flusher, metadataSink)

	w := New(Components{
		Lifecycle: manager,
		Engine:    engine,
		Control:   channel,
		Notify:    service,
		Sync:      queue,
		Clients:   registry,
		Scope:     cfg.Scope(),
	})
	return &Runtime{
		Worker:  w,
		Storage: storage,
		Slots:   slots,
		Fetcher: httpFetcher,
	}, nil
}

// Close waits for background refreshes and releases the backends.
func (r *Runtime) Close() error {
	r.Shutdown()
	return errors.Join(r.Slots.Close(), r.Storage.Close())
}

func OpenStorage(ctx context.Context, cfg config.Config) (cachestore.Storage, error) {
	switch cfg.StoreBackend() {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		return s, nil
	default:
		return cachestore.NewMemoryStorage(), nil
	}
}

func OpenSlots(cfg config.Config) (syncqueue.SlotStore, error) {
	switch cfg.SyncBackend() {
	case config.SyncBolt:
		s, err := syncqueue.OpenBoltSlots(cfg.SyncPath())
		if err != nil {
			return nil, fmt.Errorf("open sync slots: %w", err)
		}
		return s, nil
	default:
		return syncqueue.NewMemorySlots(), nil
	}
}
