package metadata

import (
	"context"
	"log/slog"
	"time"
)

/*
Recorder captures structured worker events and writes them as slog records.
It must not:
- perform I/O decisions
- affect control flow

Events from concurrently running fetch handlers are written in the order
the handlers reach the recorder; no causal ordering is implied.
*/
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger, workerID string) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger: logger.With(slog.String("worker", workerID)),
	}
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	base := []slog.Attr{
		slog.Time("observed_at", observedAt),
		slog.String("package", packageName),
		slog.String("action", action),
		slog.String("cause", cause.String()),
		slog.String("error", errorString),
	}
	r.logger.LogAttrs(context.Background(), slog.LevelError, "worker error", withAttrs(base, attrs)...)
}

func (r *Recorder) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	strategy string,
	source FetchSource,
) {
	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "fetch handled",
		slog.String(string(AttrURL), fetchUrl),
		slog.Int(string(AttrHTTPStatus), httpStatus),
		slog.Duration("duration", duration),
		slog.String(string(AttrStrategy), strategy),
		slog.String("source", string(source)),
	)
}

func (r *Recorder) RecordCacheEvent(kind CacheEventKind, cacheName string, attrs []Attribute) {
	base := []slog.Attr{
		slog.String("event", string(kind)),
		slog.String(string(AttrCache), cacheName),
	}
	r.logger.LogAttrs(context.Background(), slog.LevelInfo, "cache event", withAttrs(base, attrs)...)
}

func (r *Recorder) RecordLifecycle(state string, version string, attrs []Attribute) {
	base := []slog.Attr{
		slog.String(string(AttrState), state),
		slog.String("version", version),
	}
	r.logger.LogAttrs(context.Background(), slog.LevelInfo, "lifecycle", withAttrs(base, attrs)...)
}

func (r *Recorder) RecordNotice(message string, attrs []Attribute) {
	r.logger.LogAttrs(context.Background(), slog.LevelInfo, message, withAttrs(nil, attrs)...)
}

func withAttrs(base []slog.Attr, attrs []Attribute) []slog.Attr {
	for _, a := range attrs {
		base = append(base, slog.String(string(a.Key), a.Value))
	}
	return base
}

type MetadataSink interface {
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		details string,
		attrs []Attribute,
	)

	RecordFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		strategy string,
		source FetchSource,
	)

	RecordCacheEvent(kind CacheEventKind, cacheName string, attrs []Attribute)

	RecordLifecycle(state string, version string, attrs []Attribute)

	RecordNotice(message string, attrs []Attribute)
}

// NoopSink implements MetadataSink but does nothing.
// Components (or tests) can decide whether to inject Recorder or NoopSink.
type NoopSink struct{}

func (n *NoopSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
}

func (n *NoopSink) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	strategy string,
	source FetchSource,
) {
}

func (n *NoopSink) RecordCacheEvent(kind CacheEventKind, cacheName string, attrs []Attribute) {}

func (n *NoopSink) RecordLifecycle(state string, version string, attrs []Attribute) {}

func (n *NoopSink) RecordNotice(message string, attrs []Attribute) {}

var (
	_ MetadataSink = (*Recorder)(nil)
	_ MetadataSink = (*NoopSink)(nil)
)
