package fetcher

import (
	"context"

	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

// Fetcher is the worker's view of the network.
//
// Any HTTP status is a resolved response; only failing to get a response at
// all is an error.
type Fetcher interface {
	Fetch(ctx context.Context, req resource.Request) (resource.Response, failure.ClassifiedError)
}
