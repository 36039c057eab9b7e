package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/fetcher"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
	"github.com/rohmanhakim/gravity-worker/pkg/retry"
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Params describes one worker version.
type Params struct {
	Version      string
	StaticCache  string
	DynamicCache string
	// Manifest lists the absolute URLs stored at install time.
	Manifest []url.URL
	Retry    retry.RetryParam
	// SkipWaitingOnInstall activates the version as soon as it installs.
	SkipWaitingOnInstall bool
}

/*
Manager drives one worker version through install and activate.

  - Install fetches every manifest URL and stores them in the static cache
    as one batch. Any failure leaves the version redundant and the static
    cache untouched.
  - Activate deletes every cache outside {static, dynamic}, opens the
    dynamic cache and claims all clients. Storage failures are logged;
    claiming still happens.

Lifecycle operations are serialized: an Activate or SkipWaiting issued
during Install waits for it to finish.
*/
type Manager struct {
	opMu sync.Mutex

	stateMu     sync.RWMutex
	state       State
	skipWaiting bool

	storage      cachestore.Storage
	fetcher      fetcher.Fetcher
	clients      *clients.Registry
	metadataSink metadata.MetadataSink
	params       Params

	ready     chan struct{}
	readyOnce sync.Once
}

func NewManager(
	storage cachestore.Storage,
	fetcher fetcher.Fetcher,
	registry *clients.Registry,
	metadataSink metadata.MetadataSink,
	params Params,
) *Manager {
	return &Manager{
		state:        StateParsed,
		storage:      storage,
		fetcher:      fetcher,
		clients:      registry,
		metadataSink: metadataSink,
		params:       params,
		ready:        make(chan struct{}),
	}
}

func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) Version() string {
	return m.params.Version
}

// Ready is closed once the version is activated.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Active reports whether the version controls fetches.
func (m *Manager) Active() bool {
	return m.State() == StateActivated
}

// AllowedCaches returns the cache names that survive activation.
func (m *Manager) AllowedCaches() []string {
	return []string{m.params.StaticCache, m.params.DynamicCache}
}

func (m *Manager) Install(ctx context.Context) failure.ClassifiedError {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if state := m.State(); state != StateParsed {
		return &LifecycleError{
			Message:   fmt.Sprintf("cannot install from state %s", state),
			Retryable: false,
			Cause:     ErrCauseInvalidState,
		}
	}
	m.setState(StateInstalling, nil)

	entries, err := m.fetchManifest(ctx)
	if err != nil {
		return m.failInstall(err)
	}

	static, openErr := m.storage.Open(ctx, m.params.StaticCache)
	if openErr != nil {
		return m.failInstall(&LifecycleError{Message: "open static cache", Cause: ErrCauseStorage, Err: openErr})
	}
	if putErr := static.PutAll(ctx, entries); putErr != nil {
		return m.failInstall(&LifecycleError{Message: "store manifest", Cause: ErrCauseStorage, Err: putErr})
	}
	m.metadataSink.RecordCacheEvent(metadata.CacheEventPopulated, m.params.StaticCache, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrCount, strconv.Itoa(len(entries))),
	})

	m.setState(StateInstalled, nil)

	m.stateMu.Lock()
	skip := m.skipWaiting || m.params.SkipWaitingOnInstall
	m.stateMu.Unlock()
	if skip {
		m.activateLocked(ctx)
	}
	return nil
}

// SkipWaiting activates an installed version now, or as soon as it
// installs.
func (m *Manager) SkipWaiting(ctx context.Context) {
	m.stateMu.Lock()
	m.skipWaiting = true
	m.stateMu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.State() == StateInstalled {
		m.activateLocked(ctx)
	}
}

func (m *Manager) Activate(ctx context.Context) failure.ClassifiedError {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch state := m.State(); state {
	case StateActivated:
		return nil
	case StateInstalled:
		m.activateLocked(ctx)
		return nil
	default:
		return &LifecycleError{
			Message:   fmt.Sprintf("cannot activate from state %s", state),
			Retryable: false,
			Cause:     ErrCauseInvalidState,
		}
	}
}

func (m *Manager) activateLocked(ctx context.Context) {
	m.setState(StateActivating, nil)

	allowed := map[string]bool{
		m.params.StaticCache:  true,
		m.params.DynamicCache: true,
	}
	names, err := m.storage.Keys(ctx)
	if err != nil {
		m.recordError("Manager.Activate", &LifecycleError{Message: "list caches", Cause: ErrCauseStorage, Err: err})
	}
	for _, name := range names {
		if allowed[name] {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			m.recordError("Manager.Activate", &LifecycleError{Message: "delete cache " + name, Cause: ErrCauseStorage, Err: err})
			continue
		}
		m.metadataSink.RecordCacheEvent(metadata.CacheEventDeleted, name, nil)
	}
	if _, err := m.storage.Open(ctx, m.params.DynamicCache); err != nil {
		m.recordError("Manager.Activate", &LifecycleError{Message: "open dynamic cache", Cause: ErrCauseStorage, Err: err})
	}

	claimed := 0
	if m.clients != nil {
		claimed = m.clients.Claim(m.params.Version)
	}
	m.setState(StateActivated, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrCount, strconv.Itoa(claimed)),
	})
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Manager) fetchManifest(ctx context.Context) ([]cachestore.Entry, failure.ClassifiedError) {
	entries := make([]cachestore.Entry, len(m.params.Manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range m.params.Manifest {
		g.Go(func() error {
			req := resource.NewRequest(u, resource.ModeNoCORS)
			resp, err := retry.Retry(gctx, m.params.Retry, func(ctx context.Context) (resource.Response, failure.ClassifiedError) {
				resp, err := m.fetcher.Fetch(ctx, req)
				if err != nil {
					return resource.Response{}, err
				}
				if !resp.OK() {
					return resource.Response{}, &LifecycleError{
						Message:   fmt.Sprintf("%s answered %d", u.String(), resp.Status),
						Retryable: resp.Status >= 500,
						Cause:     ErrCauseManifestInvalid,
					}
				}
				return resp, nil
			})
			if err != nil {
				return err
			}
			entries[i] = cachestore.Entry{Request: req, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var lcErr *LifecycleError
		if errors.As(err, &lcErr) {
			return nil, lcErr
		}
		return nil, &LifecycleError{
			Message:   "fetch manifest",
			Retryable: true,
			Cause:     ErrCauseManifestFetch,
			Err:       err,
		}
	}
	return entries, nil
}

func (m *Manager) failInstall(err failure.ClassifiedError) failure.ClassifiedError {
	m.recordError("Manager.Install", err)
	m.setState(StateRedundant, nil)
	return err
}

func (m *Manager) setState(state State, attrs []metadata.Attribute) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()
	m.metadataSink.RecordLifecycle(string(state), m.params.Version, attrs)
}

func (m *Manager) recordError(action string, err failure.ClassifiedError) {
	cause := metadata.CauseUnknown
	var lcErr *LifecycleError
	if errors.As(err, &lcErr) {
		cause = mapLifecycleErrorToMetadataCause(lcErr)
	}
	m.metadataSink.RecordError(
		time.Now(),
		"lifecycle",
		action,
		cause,
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrState, string(m.State())),
		},
	)
}
