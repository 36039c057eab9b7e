package urlutil

import (
	"net/url"
	"strings"
)

// Canonicalize applies a deterministic normalization to a URL, producing the
// form used as a cache lookup key.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//   - An empty path becomes "/"
//   - Fragments are removed
//
// Path and query are kept verbatim: "/" and "/index.html" are different
// entries, and so are "/a?x=1" and "/a?x=2".
func Canonicalize(sourceUrl url.URL) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if isDefaultPort(canonical.Scheme, port) {
			canonical.Host = host
			if strings.Contains(host, ":") {
				canonical.Host = "[" + host + "]"
			}
		}
	}

	if canonical.Path == "" && canonical.Opaque == "" && canonical.Host != "" {
		canonical.Path = "/"
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""
	canonical.ForceQuery = false

	return canonical
}

// SameOrigin reports whether a and b share scheme, host and effective port.
func SameOrigin(a, b url.URL) bool {
	if lowerASCII(a.Scheme) != lowerASCII(b.Scheme) {
		return false
	}
	if lowerASCII(a.Hostname()) != lowerASCII(b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

// Origin returns scheme://host[:port] of u, with default ports removed.
func Origin(u url.URL) string {
	c := Canonicalize(u)
	return c.Scheme + "://" + c.Host
}

// Resolve resolves ref (e.g. "./style.css") against base.
func Resolve(base url.URL, ref string) (url.URL, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return url.URL{}, err
	}
	return *base.ResolveReference(parsed), nil
}

func effectivePort(u url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch lowerASCII(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
