// Package worker routes worker events to their handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/control"
	"github.com/rohmanhakim/gravity-worker/internal/notify"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/internal/strategy"
	"github.com/rohmanhakim/gravity-worker/internal/syncqueue"
)

type Kind string

const (
	KindInstall           Kind = "install"
	KindActivate          Kind = "activate"
	KindFetch             Kind = "fetch"
	KindMessage           Kind = "message"
	KindPush              Kind = "push"
	KindNotificationClick Kind = "notificationclick"
	KindSync              Kind = "sync"
)

var (
	ErrUnknownEvent = errors.New("unknown event kind")
	// ErrNotIntercepted rejects fetch events for another origin. The caller
	// fetches those itself.
	ErrNotIntercepted = errors.New("request not intercepted")
)

// Event carries the fields of one worker event. Only the fields of its
// Kind are read.
type Event struct {
	Kind Kind

	Request resource.Request // fetch

	Message control.Message // message
	Port    control.Port

	Data []byte // push

	Action string // notificationclick

	Tag string // sync
}

// Result is what a handler produced.
type Result struct {
	Fetch strategy.Result

	Replied bool

	Notification notify.Notification
	Shown        bool

	Click  notify.ClickOutcome
	Client clients.Client

	Sync syncqueue.DrainResult
}

type Handler func(ctx context.Context, ev Event) (Result, error)

// Dispatcher maps event kinds to handlers. Install and activate events run
// one at a time; every other kind runs concurrently.
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    map[Kind]Handler
	lifecycleMu sync.Mutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]Handler)}
}

// Handle registers h for kind, replacing any previous handler.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	d.mu.RLock()
	h, ok := d.handlers[ev.Kind]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}

	if ev.Kind == KindInstall || ev.Kind == KindActivate {
		d.lifecycleMu.Lock()
		defer d.lifecycleMu.Unlock()
	}
	return h(ctx, ev)
}
