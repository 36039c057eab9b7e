// Package syncqueue holds items a page queued while offline and flushes
// them when a background sync fires.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/metadata"
)

const (
	SlotKey = "pendingSync"
	SyncTag = "background-sync"
)

// Flusher sends pending items upstream.
type Flusher interface {
	Flush(ctx context.Context, items []json.RawMessage) error
}

// LogFlusher pretends to sync by recording the items. There is no upstream.
type LogFlusher struct {
	metadataSink metadata.MetadataSink
}

func NewLogFlusher(metadataSink metadata.MetadataSink) *LogFlusher {
	return &LogFlusher{metadataSink: metadataSink}
}

func (l *LogFlusher) Flush(ctx context.Context, items []json.RawMessage) error {
	l.metadataSink.RecordNotice("background sync: processing pending data", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrCount, strconv.Itoa(len(items))),
	})
	return nil
}

// DrainResult reports what a sync event did.
type DrainResult struct {
	Tag string
	// Ran is false when the tag is not SyncTag.
	Ran     bool
	Drained int
}

// Queue is an ordered list of opaque items kept in one slot. The list is
// created on first Append and removed after a successful drain; it is never
// partially drained.
type Queue struct {
	mu           sync.Mutex
	slots        SlotStore
	flusher      Flusher
	metadataSink metadata.MetadataSink
}

func NewQueue(slots SlotStore, flusher Flusher, metadataSink metadata.MetadataSink) *Queue {
	return &Queue{
		slots:        slots,
		flusher:      flusher,
		metadataSink: metadataSink,
	}
}

// Append adds item to the end of the pending list. item must be valid JSON.
func (q *Queue) Append(ctx context.Context, item json.RawMessage) (int, error) {
	if !json.Valid(item) {
		return 0, fmt.Errorf("pending item is not valid JSON")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	items = append(items, item)
	encoded, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("encode pending items: %w", err)
	}
	if err := q.slots.Set(ctx, SlotKey, encoded); err != nil {
		return 0, fmt.Errorf("store pending items: %w", err)
	}
	return len(items), nil
}

func (q *Queue) Pending(ctx context.Context) ([]json.RawMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Drain flushes and clears the pending list when tag is SyncTag. A failed
// flush leaves the list untouched for the next sync.
func (q *Queue) Drain(ctx context.Context, tag string) (DrainResult, error) {
	res := DrainResult{Tag: tag}
	if tag != SyncTag {
		return res, nil
	}
	res.Ran = true

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.recordError(tag, err)
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}
	if err := q.flusher.Flush(ctx, items); err != nil {
		q.recordError(tag, err)
		return res, fmt.Errorf("flush pending items: %w", err)
	}
	if err := q.slots.Delete(ctx, SlotKey); err != nil {
		q.recordError(tag, err)
		return res, fmt.Errorf("clear pending items: %w", err)
	}
	res.Drained = len(items)
	q.metadataSink.RecordNotice("background sync drained", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrTag, tag),
		metadata.NewAttr(metadata.AttrCount, strconv.Itoa(len(items))),
	})
	return res, nil
}

func (q *Queue) load(ctx context.Context) ([]json.RawMessage, error) {
	raw, ok, err := q.slots.Get(ctx, SlotKey)
	if err != nil {
		return nil, fmt.Errorf("read pending items: %w", err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode pending items: %w", err)
	}
	return items, nil
}

func (q *Queue) recordError(tag string, err error) {
	q.metadataSink.RecordError(
		time.Now(),
		"syncqueue",
		"Queue.Drain",
		metadata.CauseStorageFailure,
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrTag, tag)},
	)
}
