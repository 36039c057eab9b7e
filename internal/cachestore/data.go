package cachestore

import (
	"net/http"
	"strings"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
	"github.com/rohmanhakim/gravity-worker/pkg/hashutil"
	"github.com/rohmanhakim/gravity-worker/pkg/urlutil"
)

// Entry pairs a request with the response to store for it.
type Entry struct {
	Request  resource.Request
	Response resource.Response
}

// Record is a stored entry as adapters hold it.
type Record struct {
	Key      string
	Response resource.Response
	Digest   string
	StoredAt time.Time
}

// NewRecord clones resp and stamps it with a body digest.
func NewRecord(key string, resp resource.Response, now time.Time) Record {
	clone := resp.Clone()
	return Record{
		Key:      key,
		Response: clone,
		Digest:   hashutil.Digest(clone.Body),
		StoredAt: now.UTC(),
	}
}

// Key returns the cache key of req: its canonical URL. Only GET requests
// have a key.
func Key(req resource.Request) (string, failure.ClassifiedError) {
	method := strings.ToUpper(req.Method)
	if method != "" && method != http.MethodGet {
		return "", &StoreError{
			Message:   "only GET requests can be cached, got " + method,
			Retryable: false,
			Cause:     ErrCauseMethodNotAllowed,
		}
	}
	if req.URL.Host == "" {
		return "", &StoreError{
			Message:   "request URL must be absolute: " + req.URL.String(),
			Retryable: false,
			Cause:     ErrCauseInvalidKey,
		}
	}
	canonical := urlutil.Canonicalize(req.URL)
	return canonical.String(), nil
}

// ValidateName rejects empty cache names.
func ValidateName(name string) failure.ClassifiedError {
	if strings.TrimSpace(name) == "" {
		return &StoreError{
			Message:   "cache name is required",
			Retryable: false,
			Cause:     ErrCauseInvalidName,
		}
	}
	return nil
}
