package resource

import (
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the fetch request mode a page attaches to a request.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Request is an intercepted page request.
type Request struct {
	URL    url.URL
	Method string
	Mode   Mode
	Header http.Header
}

// NewRequest builds a GET request for u in the given mode.
func NewRequest(u url.URL, mode Mode) Request {
	return Request{
		URL:    u,
		Method: http.MethodGet,
		Mode:   mode,
		Header: http.Header{},
	}
}

// IsNavigation reports whether the request loads a top-level document.
func (r Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// FromHTTP converts an inbound server request. target is the absolute URL
// the request addresses (the proxy resolves relative request URIs against
// its configured origin).
func FromHTTP(r *http.Request, target url.URL) Request {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return Request{
		URL:    target,
		Method: method,
		Mode:   ModeFromHTTP(r),
		Header: r.Header.Clone(),
	}
}

// ModeFromHTTP derives the request mode from Sec-Fetch-Mode. Clients that
// do not send fetch metadata are treated as navigating when they GET and
// prefer HTML.
func ModeFromHTTP(r *http.Request) Mode {
	switch Mode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeNoCORS:
		return ModeNoCORS
	case ModeCORS:
		return ModeCORS
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeNoCORS
}

// Response is a fetched or stored response. A Response read from a cache is
// a private copy; callers may mutate it freely.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Clone returns a deep copy of r.
func (r Response) Clone() Response {
	clone := r
	clone.Header = r.Header.Clone()
	if r.Body != nil {
		clone.Body = make([]byte, len(r.Body))
		copy(clone.Body, r.Body)
	}
	return clone
}

// OK reports a status in the 200-299 range.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Size is the body length in bytes.
func (r Response) Size() int64 {
	return int64(len(r.Body))
}

// WriteHTTP writes r to an http.ResponseWriter.
func (r Response) WriteHTTP(w http.ResponseWriter) {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body)
}
