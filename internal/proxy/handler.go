// Package proxy serves the worker over HTTP. It stands between pages and the
// app origin: page requests become fetch events and the worker's other
// events are exposed under /__worker/.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rohmanhakim/gravity-worker/internal/control"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/notify"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/internal/worker"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
	"github.com/rohmanhakim/gravity-worker/pkg/urlutil"
)

const (
	ScriptPath = "/sw.js"
	// maxEventBody caps the body of every /__worker/ request.
	maxEventBody = 1 << 20
)

// registrationScript is served at ScriptPath so pages keep registering a
// worker. The proxy does the actual work.
const registrationScript = "// offline caching is provided by gravity-worker\n"

// Forwarder relays a request the worker does not intercept.
type Forwarder interface {
	Forward(ctx context.Context, r *http.Request, target url.URL) (resource.Response, failure.ClassifiedError)
}

type Handler struct {
	worker       *worker.Worker
	forwarder    Forwarder
	origin       url.URL
	metadataSink metadata.MetadataSink
	mux          *http.ServeMux
}

func NewHandler(w *worker.Worker, forwarder Forwarder, origin url.URL, metadataSink metadata.MetadataSink) *Handler {
	h := &Handler{
		worker:       w,
		forwarder:    forwarder,
		origin:       origin,
		metadataSink: metadataSink,
		mux:          http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /__worker/message", h.serveMessage)
	h.mux.HandleFunc("POST /__worker/push", h.servePush)
	h.mux.HandleFunc("POST /__worker/notificationclick", h.serveNotificationClick)
	h.mux.HandleFunc("POST /__worker/sync", h.serveSync)
	h.mux.HandleFunc("POST /__worker/pending", h.servePending)
	h.mux.HandleFunc("POST /__worker/clients", h.serveRegisterClient)
	h.mux.HandleFunc("GET /__worker/clients", h.serveListClients)
	h.mux.HandleFunc("GET "+ScriptPath, h.serveScript)
	h.mux.HandleFunc("/", h.serveFetch)
	return h
}

// Instrumented wraps the handler with OpenTelemetry server spans.
func (h *Handler) Instrumented() http.Handler {
	return otelhttp.NewHandler(h, "gravity-worker")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// absolute-form requests for another origin never reach the worker routes
	if r.URL.IsAbs() && !urlutil.SameOrigin(*r.URL, h.origin) {
		h.passthrough(w, r, *r.URL)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveFetch(w http.ResponseWriter, r *http.Request) {
	target := h.target(r)
	if r.Method != http.MethodGet || !h.worker.Active() {
		h.passthrough(w, r, target)
		return
	}

	res, err := h.worker.Dispatch(r.Context(), worker.Event{
		Kind:    worker.KindFetch,
		Request: resource.FromHTTP(r, target),
	})
	if errors.Is(err, worker.ErrNotIntercepted) {
		h.passthrough(w, r, target)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res.Fetch.Response.WriteHTTP(w)
}

// target resolves the request URI against the origin.
func (h *Handler) target(r *http.Request) url.URL {
	if r.URL.IsAbs() {
		return *r.URL
	}
	u := url.URL{
		Scheme:   h.origin.Scheme,
		Host:     h.origin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	return u
}

func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request, target url.URL) {
	start := time.Now()
	resp, err := h.forwarder.Forward(r.Context(), r, target)
	if err != nil {
		h.metadataSink.RecordFetch(target.String(), http.StatusBadGateway, time.Since(start), "", metadata.SourcePassthrough)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.metadataSink.RecordFetch(target.String(), resp.Status, time.Since(start), "", metadata.SourcePassthrough)
	resp.WriteHTTP(w)
}

func (h *Handler) serveScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, registrationScript)
}

func (h *Handler) serveMessage(w http.ResponseWriter, r *http.Request) {
	var msg control.Message
	if !decodeJSON(w, r, &msg) {
		return
	}

	port := make(chan control.Reply, 1)
	res, err := h.worker.Dispatch(r.Context(), worker.Event{
		Kind:    worker.KindMessage,
		Message: msg,
		Port:    port,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !res.Replied {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, <-port)
}

func (h *Handler) servePush(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := h.worker.Dispatch(r.Context(), worker.Event{Kind: worker.KindPush, Data: data})
	if err != nil {
		status := http.StatusInternalServerError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if !res.Shown {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res.Notification)
}

type clickRequest struct {
	Action string `json:"action"`
}

type clickResponse struct {
	Outcome  notify.ClickOutcome `json:"outcome"`
	ClientID string              `json:"clientId,omitempty"`
	URL      string              `json:"url,omitempty"`
}

func (h *Handler) serveNotificationClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.worker.Dispatch(r.Context(), worker.Event{Kind: worker.KindNotificationClick, Action: req.Action})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, clickResponse{
		Outcome:  res.Click,
		ClientID: res.Client.ID,
		URL:      res.Client.URL,
	})
}

type syncRequest struct {
	Tag string `json:"tag"`
}

type syncResponse struct {
	Tag     string `json:"tag"`
	Ran     bool   `json:"ran"`
	Drained int    `json:"drained"`
}

func (h *Handler) serveSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.worker.Dispatch(r.Context(), worker.Event{Kind: worker.KindSync, Tag: req.Tag})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Tag: res.Sync.Tag, Ran: res.Sync.Ran, Drained: res.Sync.Drained})
}

func (h *Handler) servePending(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	n, err := h.worker.Sync.Append(r.Context(), json.RawMessage(data))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"pending": n})
}

type clientRequest struct {
	URL string `json:"url"`
}

type clientView struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Controller string `json:"controller,omitempty"`
	Focused    bool   `json:"focused"`
}

func (h *Handler) serveRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.worker.Clients.Register(req.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, clientView{ID: c.ID, URL: c.URL, Controller: c.Controller, Focused: c.Focused})
}

func (h *Handler) serveListClients(w http.ResponseWriter, r *http.Request) {
	all := h.worker.Clients.MatchAll()
	views := make([]clientView, 0, len(all))
	for _, c := range all {
		views = append(views, clientView{ID: c.ID, URL: c.URL, Controller: c.Controller, Focused: c.Focused})
	}
	writeJSON(w, http.StatusOK, views)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
