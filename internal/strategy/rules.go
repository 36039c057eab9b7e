package strategy

import "strings"

// Kind names a caching strategy.
type Kind string

const (
	KindNetworkFirst         Kind = "network-first"
	KindCacheFirst           Kind = "cache-first"
	KindStaleWhileRevalidate Kind = "stale-while-revalidate"
)

// Rules classifies request URLs by substring match.
//
// A URL matching both lists is network-first: NetworkFirst is checked
// before CacheFirst. Anything unmatched gets KindStaleWhileRevalidate.
type Rules struct {
	NetworkFirst []string
	CacheFirst   []string
}

func (r Rules) Classify(rawURL string) Kind {
	if containsAny(rawURL, r.NetworkFirst) {
		return KindNetworkFirst
	}
	if containsAny(rawURL, r.CacheFirst) {
		return KindCacheFirst
	}
	return KindStaleWhileRevalidate
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
