package strategy

import (
	"net/http"

	"github.com/rohmanhakim/gravity-worker/internal/resource"
)

const (
	OfflineBody   = "Offline - Content not available"
	OfflineHeader = "X-Gravity-Offline"
)

// Offline builds the synthetic response returned when neither the cache nor
// the network can answer. It always carries OfflineHeader so callers can
// tell it apart from a 503 sent by the origin.
func Offline() resource.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set(OfflineHeader, "1")
	return resource.Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     h,
		Body:       []byte(OfflineBody),
	}
}

// IsOffline reports whether resp was built by Offline.
func IsOffline(resp resource.Response) bool {
	return resp.Status == http.StatusServiceUnavailable && resp.Header.Get(OfflineHeader) == "1"
}
