package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/build"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

/*
Responsibilities

- Perform HTTP requests on behalf of intercepted page requests
- Strip hop-by-hop headers in both directions
- Turn transport failures into classified errors

Fetch Semantics

- Redirects are followed by the http.Client
- Non-2xx statuses are returned as responses, never as errors
- Bodies are read fully; a truncated body is a failed fetch

The fetcher never caches; deciding what to store belongs to the strategy engine.
*/

// hop-by-hop headers, RFC 7230 section 6.1
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type HTTPFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string
}

// NewHTTPFetcher builds a fetcher over client. A nil client means a fresh
// http.Client with no timeout.
func NewHTTPFetcher(
	metadataSink metadata.MetadataSink,
	client *http.Client,
) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		metadataSink: metadataSink,
		httpClient:   client,
		userAgent:    build.UserAgent(),
	}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, req resource.Request) (resource.Response, failure.ClassifiedError) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), nil)
	if err != nil {
		return h.fail("HTTPFetcher.Fetch", req.URL, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseInvalidRequest,
		})
	}
	copyRequestHeaders(httpReq.Header, req.Header)
	return h.do("HTTPFetcher.Fetch", httpReq)
}

// Forward relays an inbound request, body included, to target. It serves
// requests the worker does not intercept.
func (h *HTTPFetcher) Forward(ctx context.Context, r *http.Request, target url.URL) (resource.Response, failure.ClassifiedError) {
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return h.fail("HTTPFetcher.Forward", target, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseInvalidRequest,
		})
	}
	httpReq.ContentLength = r.ContentLength
	copyRequestHeaders(httpReq.Header, r.Header)
	return h.do("HTTPFetcher.Forward", httpReq)
}

func (h *HTTPFetcher) do(callerMethod string, httpReq *http.Request) (resource.Response, failure.ClassifiedError) {
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		cause := ErrCauseNetworkFailure
		if errors.Is(err, context.Canceled) {
			cause = ErrCauseCanceled
		}
		// Network/transport errors are retryable
		return h.fail(callerMethod, *httpReq.URL, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: cause == ErrCauseNetworkFailure,
			Cause:     cause,
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.fail(callerMethod, *httpReq.URL, &FetchError{
			Message:   fmt.Sprintf("failed to read body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		})
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	// the body is buffered and rewritten, so the origin's length no longer applies
	header.Del("Content-Length")

	return resource.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       body,
	}, nil
}

func (h *HTTPFetcher) fail(callerMethod string, target url.URL, fetchErr *FetchError) (resource.Response, failure.ClassifiedError) {
	h.metadataSink.RecordError(
		time.Now(),
		"fetcher",
		callerMethod,
		mapFetchErrorToMetadataCause(fetchErr),
		fetchErr.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, target.String()),
		},
	)
	return resource.Response{}, fetchErr
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	removeHopHeaders(dst)
	// let the transport negotiate and transparently decode compression
	dst.Del("Accept-Encoding")
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// statusText strips the numeric prefix from resp.Status ("200 OK" -> "OK").
func statusText(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}

var _ Fetcher = (*HTTPFetcher)(nil)
