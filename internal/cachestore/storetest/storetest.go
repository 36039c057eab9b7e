// Package storetest holds the behavioural suite every cachestore.Storage
// adapter must pass.
package storetest

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/hashutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty storage. The suite closes it.
type Factory func(t *testing.T) cachestore.Storage

// Request builds a GET request for raw.
func Request(t *testing.T, raw string) resource.Request {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return resource.NewRequest(*u, resource.ModeNoCORS)
}

// Response builds a 200 response with body.
func Response(body string) resource.Response {
	return resource.Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

// Run executes the suite against the adapter built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s cachestore.Storage)
	}{
		{"OpenIsIdempotent", testOpenIsIdempotent},
		{"OpenRejectsEmptyName", testOpenRejectsEmptyName},
		{"PutAndMatch", testPutAndMatch},
		{"PutOverwrites", testPutOverwrites},
		{"DigestTracksBody", testDigestTracksBody},
		{"MatchReturnsPrivateCopy", testMatchReturnsPrivateCopy},
		{"MatchIgnoresFragment", testMatchIgnoresFragment},
		{"PutRejectsNonGET", testPutRejectsNonGET},
		{"PutAllIsAtomic", testPutAllIsAtomic},
		{"DeleteNamedCache", testDeleteNamedCache},
		{"DeleteEntry", testDeleteEntry},
		{"KeysInCreationOrder", testKeysInCreationOrder},
		{"StorageMatchSearchesAllCaches", testStorageMatchSearchesAllCaches},
		{"HandleRecreatesDeletedCache", testHandleRecreatesDeletedCache},
		{"SizeSumsBodies", testSizeSumsBodies},
		{"ConcurrentPutLastWriteWins", testConcurrentPut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testOpenIsIdempotent(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	first, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)
	require.Nil(t, first.Put(ctx, Request(t, "https://app.example.com/"), Response("root")))

	second, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)
	keys, err := second.Keys(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"https://app.example.com/"}, keys)

	names, err := s.Keys(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"static-v1"}, names)
}

func testOpenRejectsEmptyName(t *testing.T, s cachestore.Storage) {
	_, err := s.Open(context.Background(), " ")
	require.NotNil(t, err)
	var storeErr *cachestore.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, cachestore.ErrCauseInvalidName, storeErr.Cause)
}

func testPutAndMatch(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)

	req := Request(t, "https://app.example.com/style.css")
	stored := Response("body{margin:0}")
	stored.Header.Set("Content-Type", "text/css")
	require.Nil(t, c.Put(ctx, req, stored))

	got, ok, err := c.Match(ctx, req)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "OK", got.StatusText)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body{margin:0}"), got.Body)

	_, ok, err = c.Match(ctx, Request(t, "https://app.example.com/missing.css"))
	require.Nil(t, err)
	assert.False(t, ok)
}

func testPutOverwrites(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	req := Request(t, "https://app.example.com/script.js")

	require.Nil(t, c.Put(ctx, req, Response("v1")))
	require.Nil(t, c.Put(ctx, req, Response("v2")))

	got, ok, err := c.Match(ctx, req)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Body))

	keys, err := c.Keys(ctx)
	require.Nil(t, err)
	assert.Len(t, keys, 1)
}

func testDigestTracksBody(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	req := Request(t, "https://app.example.com/script.js")

	_, ok, err := c.Digest(ctx, req)
	require.Nil(t, err)
	assert.False(t, ok)

	require.Nil(t, c.Put(ctx, req, Response("v1")))
	digest, ok, err := c.Digest(ctx, req)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, hashutil.Digest([]byte("v1")), digest)
	assert.True(t, hashutil.VerifyDigest([]byte("v1"), digest))

	require.Nil(t, c.Put(ctx, req, Response("v2")))
	digest, ok, err = c.Digest(ctx, req)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, hashutil.Digest([]byte("v2")), digest)
}

func testMatchReturnsPrivateCopy(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	req := Request(t, "https://app.example.com/")

	original := Response("hello")
	require.Nil(t, c.Put(ctx, req, original))
	original.Body[0] = 'J'

	got, _, err := c.Match(ctx, req)
	require.Nil(t, err)
	assert.Equal(t, "hello", string(got.Body))
	got.Body[0] = 'Y'

	again, _, err := c.Match(ctx, req)
	require.Nil(t, err)
	assert.Equal(t, "hello", string(again.Body))
}

func testMatchIgnoresFragment(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)
	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/index.html"), Response("doc")))

	_, ok, err := c.Match(ctx, Request(t, "https://APP.example.com:443/index.html#timer"))
	require.Nil(t, err)
	assert.True(t, ok)

	_, ok, err = c.Match(ctx, Request(t, "https://app.example.com/index.html?v=2"))
	require.Nil(t, err)
	assert.False(t, ok, "query is part of the key")
}

func testPutRejectsNonGET(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)

	req := Request(t, "https://app.example.com/api/progress")
	req.Method = http.MethodPost
	putErr := c.Put(ctx, req, Response("{}"))
	require.NotNil(t, putErr)

	var storeErr *cachestore.StoreError
	require.ErrorAs(t, putErr, &storeErr)
	assert.Equal(t, cachestore.ErrCauseMethodNotAllowed, storeErr.Cause)
}

func testPutAllIsAtomic(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)

	bad := Request(t, "https://app.example.com/form")
	bad.Method = http.MethodPost
	putErr := c.PutAll(ctx, []cachestore.Entry{
		{Request: Request(t, "https://app.example.com/"), Response: Response("root")},
		{Request: bad, Response: Response("nope")},
	})
	require.NotNil(t, putErr)

	keys, err := c.Keys(ctx)
	require.Nil(t, err)
	assert.Empty(t, keys)

	require.Nil(t, c.PutAll(ctx, []cachestore.Entry{
		{Request: Request(t, "https://app.example.com/"), Response: Response("root")},
		{Request: Request(t, "https://app.example.com/index.html"), Response: Response("index")},
		{Request: Request(t, "https://app.example.com/style.css"), Response: Response("css")},
	}))
	keys, err = c.Keys(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{
		"https://app.example.com/",
		"https://app.example.com/index.html",
		"https://app.example.com/style.css",
	}, keys)
}

func testDeleteNamedCache(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "static-v0")
	require.Nil(t, err)
	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/"), Response("old")))

	deleted, err := s.Delete(ctx, "static-v0")
	require.Nil(t, err)
	assert.True(t, deleted)

	has, err := s.Has(ctx, "static-v0")
	require.Nil(t, err)
	assert.False(t, has)

	_, ok, err := s.Match(ctx, Request(t, "https://app.example.com/"))
	require.Nil(t, err)
	assert.False(t, ok)

	deleted, err = s.Delete(ctx, "static-v0")
	require.Nil(t, err)
	assert.False(t, deleted)
}

func testDeleteEntry(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	req := Request(t, "https://app.example.com/manifest.json")
	require.Nil(t, c.Put(ctx, req, Response("{}")))

	removed, err := c.Delete(ctx, req)
	require.Nil(t, err)
	assert.True(t, removed)

	removed, err = c.Delete(ctx, req)
	require.Nil(t, err)
	assert.False(t, removed)
}

func testKeysInCreationOrder(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	for _, name := range []string{"b-static", "a-dynamic", "c-legacy"} {
		_, err := s.Open(ctx, name)
		require.Nil(t, err)
	}
	names, err := s.Keys(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"b-static", "a-dynamic", "c-legacy"}, names)
}

func testStorageMatchSearchesAllCaches(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	static, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)
	dynamic, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)

	root := Request(t, "https://app.example.com/")
	require.Nil(t, dynamic.Put(ctx, root, Response("dynamic-root")))
	require.Nil(t, static.Put(ctx, root, Response("static-root")))
	require.Nil(t, dynamic.Put(ctx, Request(t, "https://app.example.com/extra.png"), Response("png")))

	got, ok, err := s.Match(ctx, root)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "static-root", string(got.Body), "earliest created cache wins")

	got, ok, err = s.Match(ctx, Request(t, "https://app.example.com/extra.png"))
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "png", string(got.Body))
}

func testHandleRecreatesDeletedCache(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	_, err = s.Delete(ctx, "dynamic-v1")
	require.Nil(t, err)

	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/"), Response("again")))
	has, err := s.Has(ctx, "dynamic-v1")
	require.Nil(t, err)
	assert.True(t, has)
}

func testSizeSumsBodies(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "static-v1")
	require.Nil(t, err)
	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/a"), Response("12345")))
	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/b"), Response("123")))
	require.Nil(t, c.Put(ctx, Request(t, "https://app.example.com/c"), Response("")))

	size, err := c.Size(ctx)
	require.Nil(t, err)
	assert.Equal(t, int64(8), size)

	empty, err := s.Open(ctx, "empty")
	require.Nil(t, err)
	size, err = empty.Size(ctx)
	require.Nil(t, err)
	assert.Equal(t, int64(0), size)
}

func testConcurrentPut(t *testing.T, s cachestore.Storage) {
	ctx := context.Background()
	c, err := s.Open(ctx, "dynamic-v1")
	require.Nil(t, err)
	req := Request(t, "https://app.example.com/")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Put(ctx, req, Response("same"))
			_, _, _ = c.Match(ctx, req)
		}()
	}
	wg.Wait()

	got, ok, err := c.Match(ctx, req)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "same", string(got.Body))
}
