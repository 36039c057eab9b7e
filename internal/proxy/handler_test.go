package proxy_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/gravity-worker/internal/config"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/metadata/metadatatest"
	"github.com/rohmanhakim/gravity-worker/internal/proxy"
	"github.com/rohmanhakim/gravity-worker/internal/strategy"
	"github.com/rohmanhakim/gravity-worker/internal/worker"
)

var appFiles = map[string]string{
	"/":              "<html>home</html>",
	"/index.html":    "<html>home</html>",
	"/style.css":     "body{}",
	"/script.js":     "console.log(1)",
	"/manifest.json": `{"name":"Gravity Glutes"}`,
}

type origin struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.requests = append(o.requests, r.Method+" "+r.URL.Path)
		o.mu.Unlock()
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, "saved %s", body)
			return
		}
		body, ok := appFiles[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.requests...)
}

type fixture struct {
	origin  *origin
	runtime *worker.Runtime
	proxy   *httptest.Server
	sink    *metadatatest.Sink
}

func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()
	o := newOrigin(t)
	u, err := url.Parse(o.URL)
	require.NoError(t, err)
	cfg, err := config.WithDefault(*u).Build()
	require.NoError(t, err)

	sink := &metadatatest.Sink{}
	rt, err := worker.Assemble(context.Background(), cfg, sink, worker.Deps{Client: o.Client()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	if start {
		require.NoError(t, rt.Start(context.Background()))
	}

	h := proxy.NewHandler(rt.Worker, rt.Fetcher, cfg.Scope(), sink)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{origin: o, runtime: rt, proxy: srv, sink: sink}
}

func (f *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.proxy.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.proxy.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, string) {
	t.Helper()
	resp, err := f.proxy.Client().Post(f.proxy.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHandler_PassesThroughBeforeActivation(t *testing.T) {
	f := newFixture(t, false)

	resp, body := f.get(t, "/style.css", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", body)
	assert.Equal(t, []string{"GET /style.css"}, f.origin.seen())
	names, err := f.runtime.Storage.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names, "nothing is cached without a controller")
}

func TestHandler_ServesFromCacheOnceActive(t *testing.T) {
	f := newFixture(t, true)
	installed := len(f.origin.seen())

	resp, body := f.get(t, "/style.css", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", body)
	assert.Len(t, f.origin.seen(), installed, "cache-first hit stays off the network")
	fetches := f.sink.Fetches()
	require.NotEmpty(t, fetches)
	last := fetches[len(fetches)-1]
	assert.Equal(t, string(strategy.KindCacheFirst), last.Strategy)
	assert.Equal(t, metadata.SourceCache, last.Source)
}

func TestHandler_Offline(t *testing.T) {
	f := newFixture(t, true)
	f.origin.Close()

	t.Run("precached asset", func(t *testing.T) {
		resp, body := f.get(t, "/script.js", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "console.log(1)", body)
	})

	t.Run("navigation falls back to the root document", func(t *testing.T) {
		resp, body := f.get(t, "/workouts/today", http.Header{"Sec-Fetch-Mode": {"navigate"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<html>home</html>", body)
	})

	t.Run("uncached subresource", func(t *testing.T) {
		resp, body := f.get(t, "/api/progress", http.Header{"Sec-Fetch-Mode": {"cors"}})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, strategy.OfflineBody, body)
		assert.Equal(t, "1", resp.Header.Get(strategy.OfflineHeader))
	})

	t.Run("network-first manifest served from cache", func(t *testing.T) {
		resp, body := f.get(t, "/manifest.json", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, appFiles["/manifest.json"], body)
	})
}

func TestHandler_NonGETPassesThrough(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.post(t, "/api/sets", `{"reps":12}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `saved {"reps":12}`, body)
	assert.Contains(t, f.origin.seen(), "POST /api/sets")
}

func TestHandler_CrossOriginIsNotIntercepted(t *testing.T) {
	f := newFixture(t, true)
	var hits atomic.Int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "cdn font")
	}))
	defer other.Close()

	proxyURL, err := url.Parse(f.proxy.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(other.URL + "/font.woff2")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, "cdn font", string(body))
	}

	assert.Equal(t, int32(2), hits.Load(), "cross-origin requests are never answered from cache")
	names, err := f.runtime.Storage.Keys(context.Background())
	require.NoError(t, err)
	for _, name := range names {
		cache, err := f.runtime.Storage.Open(context.Background(), name)
		require.NoError(t, err)
		keys, err := cache.Keys(context.Background())
		require.NoError(t, err)
		for _, k := range keys {
			assert.NotContains(t, k, "font.woff2")
		}
	}
}

func TestHandler_Messages(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.post(t, "/__worker/message", `{"type":"GET_CACHE_SIZE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var size struct {
		Size int64 `json:"size"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &size))
	var want int64
	for _, p := range []string{"/", "/index.html", "/style.css", "/script.js", "/manifest.json"} {
		want += int64(len(appFiles[p]))
	}
	assert.Equal(t, want, size.Size)

	resp, _ = f.post(t, "/__worker/message", `{"type":"SKIP_WAITING"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.post(t, "/__worker/message", `{"type":"STRETCH"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.post(t, "/__worker/message", `{"type":"CLEAR_CACHE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true}`, body)
	names, err := f.runtime.Storage.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	resp, _ = f.post(t, "/__worker/message", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Script(t *testing.T) {
	f := newFixture(t, false)

	resp, _ := f.get(t, proxy.ScriptPath, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Service-Worker-Allowed"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Empty(t, f.origin.seen())
}

func TestHandler_PushAndClick(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.post(t, "/__worker/push", `{"title":"Leg day"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var n struct {
		Title   string `json:"title"`
		Body    string `json:"body"`
		Vibrate []int  `json:"vibrate"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &n))
	assert.Equal(t, "Leg day", n.Title)
	assert.Equal(t, "Time for your workout!", n.Body)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)

	resp, _ = f.post(t, "/__worker/push", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.post(t, "/__worker/push", `squats`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.post(t, "/__worker/clients", `{"url":"http://gravity.local/index.html"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &registered))

	resp, body = f.post(t, "/__worker/notificationclick", `{"action":"open"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var click struct {
		Outcome  string `json:"outcome"`
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &click))
	assert.Equal(t, "focused", click.Outcome)
	assert.Equal(t, registered.ID, click.ClientID)

	resp, body = f.post(t, "/__worker/notificationclick", `{"action":"dismiss"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"outcome":"ignored"}`, body)
}

func TestHandler_PendingAndSync(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.post(t, "/__worker/pending", `{"exercise":"squat"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"pending":1}`, body)

	resp, _ = f.post(t, "/__worker/pending", `{oops`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.post(t, "/__worker/sync", `{"tag":"periodic"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"tag":"periodic","ran":false,"drained":0}`, body)

	resp, body = f.post(t, "/__worker/sync", `{"tag":"background-sync"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"tag":"background-sync","ran":true,"drained":1}`, body)

	resp, body = f.get(t, "/__worker/clients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, body)
}
