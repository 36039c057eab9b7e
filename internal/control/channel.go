// Package control answers the typed messages a page posts to the worker.
package control

import (
	"context"
	"strconv"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
)

const (
	TypeSkipWaiting  = "SKIP_WAITING"
	TypeGetCacheSize = "GET_CACHE_SIZE"
	TypeClearCache   = "CLEAR_CACHE"
)

// Message is a page-to-worker message.
type Message struct {
	Type string `json:"type"`
}

// Reply is sent once on the port that came with a Message.
type Reply struct {
	Size    *int64 `json:"size,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func SizeReply(size int64) Reply {
	return Reply{Size: &size}
}

func SuccessReply() Reply {
	ok := true
	return Reply{Success: &ok}
}

func FailureReply(err error) Reply {
	ok := false
	return Reply{Success: &ok, Error: err.Error()}
}

// Port is the reply end of a message. A nil Port discards the reply.
type Port chan<- Reply

// SkipWaiter is the part of the lifecycle the channel can drive.
type SkipWaiter interface {
	SkipWaiting(ctx context.Context)
}

type Channel struct {
	storage      cachestore.Storage
	lifecycle    SkipWaiter
	metadataSink metadata.MetadataSink
}

func NewChannel(storage cachestore.Storage, lifecycle SkipWaiter, metadataSink metadata.MetadataSink) *Channel {
	return &Channel{
		storage:      storage,
		lifecycle:    lifecycle,
		metadataSink: metadataSink,
	}
}

// Handle processes msg and sends at most one reply on port. It reports
// whether a reply was sent. Sends honor ctx so an abandoned port cannot
// block the worker.
func (c *Channel) Handle(ctx context.Context, msg Message, port Port) bool {
	switch msg.Type {
	case TypeSkipWaiting:
		c.lifecycle.SkipWaiting(ctx)
		return false
	case TypeGetCacheSize:
		size, err := c.TotalSize(ctx)
		if err != nil {
			// the page still expects a size; report what could be counted
			c.recordError("Channel.GetCacheSize", err)
		}
		return send(ctx, port, SizeReply(size))
	case TypeClearCache:
		if err := c.ClearAll(ctx); err != nil {
			c.recordError("Channel.ClearCache", err)
			return send(ctx, port, FailureReply(err))
		}
		return send(ctx, port, SuccessReply())
	default:
		c.metadataSink.RecordNotice("unknown message type", []metadata.Attribute{
			metadata.NewAttr(metadata.AttrMessageType, msg.Type),
		})
		return false
	}
}

// TotalSize sums the body length of every entry in every cache. On error it
// returns the partial sum.
func (c *Channel) TotalSize(ctx context.Context) (int64, error) {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		cache, err := c.storage.Open(ctx, name)
		if err != nil {
			return total, err
		}
		size, err := cache.Size(ctx)
		if err != nil {
			return total, err
		}
		total += size
	}
	return total, nil
}

// ClearAll deletes every named cache.
func (c *Channel) ClearAll(ctx context.Context) error {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := c.storage.Delete(ctx, name); err != nil {
			return err
		}
	}
	c.metadataSink.RecordCacheEvent(metadata.CacheEventCleared, "*", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrCount, strconv.Itoa(len(names))),
	})
	return nil
}

func send(ctx context.Context, port Port, reply Reply) bool {
	if port == nil {
		return false
	}
	select {
	case port <- reply:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) recordError(action string, err error) {
	c.metadataSink.RecordError(
		time.Now(),
		"control",
		action,
		metadata.CauseStorageFailure,
		err.Error(),
		nil,
	)
}
