package urlutil

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return *u
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "fragment removed",
			input:    "https://app.example.com/index.html#workouts",
			expected: "https://app.example.com/index.html",
		},
		{
			name:     "query kept",
			input:    "https://app.example.com/style.css?v=2",
			expected: "https://app.example.com/style.css?v=2",
		},
		{
			name:     "trailing slash kept",
			input:    "https://app.example.com/guide/",
			expected: "https://app.example.com/guide/",
		},
		{
			name:     "scheme and host lowercased",
			input:    "HTTPS://App.Example.COM/Script.js",
			expected: "https://app.example.com/Script.js",
		},
		{
			name:     "default https port removed",
			input:    "https://app.example.com:443/",
			expected: "https://app.example.com/",
		},
		{
			name:     "default http port removed",
			input:    "http://localhost:80/manifest.json",
			expected: "http://localhost/manifest.json",
		},
		{
			name:     "non-default port kept",
			input:    "http://localhost:8080/",
			expected: "http://localhost:8080/",
		},
		{
			name:     "empty path becomes root",
			input:    "https://app.example.com",
			expected: "https://app.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(mustParse(t, tt.input))
			if got.String() != tt.expected {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got.String(), tt.expected)
			}
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://App.Example.COM:443/index.html?x=1#top",
		"http://localhost:8080",
	}
	for _, raw := range inputs {
		once := Canonicalize(mustParse(t, raw))
		twice := Canonicalize(once)
		if once.String() != twice.String() {
			t.Errorf("Canonicalize not idempotent for %q: %q vs %q", raw, once.String(), twice.String())
		}
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "identical", a: "https://app.example.com/a", b: "https://app.example.com/b", want: true},
		{name: "explicit default port", a: "https://app.example.com:443/", b: "https://app.example.com/", want: true},
		{name: "case insensitive host", a: "https://APP.example.com/", b: "https://app.example.com/", want: true},
		{name: "different scheme", a: "http://app.example.com/", b: "https://app.example.com/", want: false},
		{name: "different host", a: "https://i.imgur.com/x.png", b: "https://app.example.com/", want: false},
		{name: "different port", a: "http://localhost:8080/", b: "http://localhost:9090/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SameOrigin(mustParse(t, tt.a), mustParse(t, tt.b))
			if got != tt.want {
				t.Errorf("SameOrigin(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	got := Origin(mustParse(t, "HTTPS://App.Example.com:443/index.html?x=1"))
	if got != "https://app.example.com" {
		t.Errorf("Origin() = %q", got)
	}
}

func TestResolve(t *testing.T) {
	base := mustParse(t, "https://app.example.com/gravity/")

	tests := []struct {
		ref  string
		want string
	}{
		{ref: "./", want: "https://app.example.com/gravity/"},
		{ref: "./index.html", want: "https://app.example.com/gravity/index.html"},
		{ref: "/style.css", want: "https://app.example.com/style.css"},
		{ref: "https://i.imgur.com/8QJb2c2.png", want: "https://i.imgur.com/8QJb2c2.png"},
	}

	for _, tt := range tests {
		got, err := Resolve(base, tt.ref)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", tt.ref, err)
		}
		if got.String() != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got.String(), tt.want)
		}
	}
}
