package worker

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/control"
	"github.com/rohmanhakim/gravity-worker/internal/lifecycle"
	"github.com/rohmanhakim/gravity-worker/internal/notify"
	"github.com/rohmanhakim/gravity-worker/internal/strategy"
	"github.com/rohmanhakim/gravity-worker/internal/syncqueue"
	"github.com/rohmanhakim/gravity-worker/pkg/urlutil"
)

// Components are the parts one worker version is made of.
type Components struct {
	Lifecycle *lifecycle.Manager
	Engine    *strategy.Engine
	Control   *control.Channel
	Notify    *notify.Service
	Sync      *syncqueue.Queue
	Clients   *clients.Registry

	// Scope is the origin whose fetches the worker intercepts.
	Scope url.URL
}

// Worker is a wired worker version.
type Worker struct {
	Components
	dispatcher *Dispatcher
}

func New(c Components) *Worker {
	w := &Worker{Components: c, dispatcher: NewDispatcher()}

	w.dispatcher.Handle(KindInstall, func(ctx context.Context, ev Event) (Result, error) {
		if err := w.Lifecycle.Install(ctx); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	})
	w.dispatcher.Handle(KindActivate, func(ctx context.Context, ev Event) (Result, error) {
		if err := w.Lifecycle.Activate(ctx); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	})
	w.dispatcher.Handle(KindFetch, func(ctx context.Context, ev Event) (Result, error) {
		if !urlutil.SameOrigin(ev.Request.URL, w.Scope) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotIntercepted, ev.Request.URL.String())
		}
		return Result{Fetch: w.Engine.Handle(ctx, ev.Request)}, nil
	})
	w.dispatcher.Handle(KindMessage, func(ctx context.Context, ev Event) (Result, error) {
		return Result{Replied: w.Control.Handle(ctx, ev.Message, ev.Port)}, nil
	})
	w.dispatcher.Handle(KindPush, func(ctx context.Context, ev Event) (Result, error) {
		n, shown, err := w.Notify.Push(ctx, ev.Data)
		return Result{Notification: n, Shown: shown}, err
	})
	w.dispatcher.Handle(KindNotificationClick, func(ctx context.Context, ev Event) (Result, error) {
		outcome, c, err := w.Notify.Click(ctx, ev.Action)
		return Result{Click: outcome, Client: c}, err
	})
	w.dispatcher.Handle(KindSync, func(ctx context.Context, ev Event) (Result, error) {
		res, err := w.Sync.Drain(ctx, ev.Tag)
		return Result{Sync: res}, err
	})
	return w
}

func (w *Worker) Dispatch(ctx context.Context, ev Event) (Result, error) {
	return w.dispatcher.Dispatch(ctx, ev)
}

// Start installs the version and activates it. A freshly started process
// has no older controller to wait for, so activation follows install
// directly.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Dispatch(ctx, Event{Kind: KindInstall}); err != nil {
		return err
	}
	if _, err := w.Dispatch(ctx, Event{Kind: KindActivate}); err != nil {
		return err
	}
	return nil
}

// Active reports whether fetches should be intercepted.
func (w *Worker) Active() bool {
	return w.Lifecycle.Active()
}

// Shutdown waits for background refreshes to finish.
func (w *Worker) Shutdown() {
	w.Engine.Wait()
}
