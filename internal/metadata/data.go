package metadata

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, reporting).

	Rules:
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used for fallback, retry or abort decisions.
	 - Packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

  - The failure does not map cleanly to any known category.

# CauseNetworkFailure

  - Failure caused by network transport or remote availability.
  - DNS failures, connection resets, origin unreachable while offline.

# CauseContentInvalid

  - A response was received but cannot be used.
  - A manifest entry answered with a non-OK status during install.

# CauseStorageFailure

  - Failure while reading or writing cache storage or the pending-sync slot.

# CauseProtocolViolation

  - A page sent a message or payload the worker cannot interpret.

# CauseInvariantViolation

  - A worker-level invariant was violated, e.g. an event arrived in a
    lifecycle state that cannot handle it.
*/
const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CauseContentInvalid
	CauseStorageFailure
	CauseProtocolViolation
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseProtocolViolation:
		return "protocol_violation"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// FetchSource says where the bytes handed back to the page came from.
type FetchSource string

const (
	SourceCache       FetchSource = "cache"
	SourceNetwork     FetchSource = "network"
	SourceOffline     FetchSource = "offline"
	SourcePassthrough FetchSource = "passthrough"
)

// CacheEventKind names a mutation of cache storage.
type CacheEventKind string

const (
	CacheEventPopulated CacheEventKind = "populated"
	CacheEventDeleted   CacheEventKind = "deleted"
	CacheEventCleared   CacheEventKind = "cleared"
	CacheEventRefreshed CacheEventKind = "refreshed"
	CacheEventUnchanged CacheEventKind = "unchanged"
)

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrURL         AttributeKey = "url"
	AttrCache       AttributeKey = "cache"
	AttrStrategy    AttributeKey = "strategy"
	AttrHTTPStatus  AttributeKey = "http_status"
	AttrCount       AttributeKey = "count"
	AttrDigest      AttributeKey = "digest"
	AttrState       AttributeKey = "state"
	AttrClient      AttributeKey = "client"
	AttrMessageType AttributeKey = "message_type"
	AttrTag         AttributeKey = "tag"
	AttrMessage     AttributeKey = "message"
)
