package config_test

import (
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/config"
)

func testOrigin() url.URL {
	return url.URL{Scheme: "https", Host: "gravity.example.com"}
}

func TestWithDefault(t *testing.T) {
	cfg := config.WithDefault(testOrigin())

	if cfg == nil {
		t.Fatal("WithDefault() returned nil")
	}

	builtCfg, err := cfg.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if builtCfg.AppName() != "gravity-glutes" {
		t.Errorf("expected AppName 'gravity-glutes', got %q", builtCfg.AppName())
	}
	if builtCfg.Version() != "v1.0.0" {
		t.Errorf("expected Version 'v1.0.0', got %q", builtCfg.Version())
	}
	if builtCfg.StaticCacheName() != "gravity-glutes-static-v1.0.0" {
		t.Errorf("unexpected StaticCacheName %q", builtCfg.StaticCacheName())
	}
	if builtCfg.DynamicCacheName() != "gravity-glutes-dynamic-v1.0.0" {
		t.Errorf("unexpected DynamicCacheName %q", builtCfg.DynamicCacheName())
	}
	if builtCfg.ListenAddr() != ":8080" {
		t.Errorf("expected ListenAddr ':8080', got %q", builtCfg.ListenAddr())
	}
	if !builtCfg.SkipWaitingOnInstall() {
		t.Error("expected SkipWaitingOnInstall to default to true")
	}

	// Manifest resolves against the scope
	wantManifest := []string{
		"https://gravity.example.com/",
		"https://gravity.example.com/index.html",
		"https://gravity.example.com/style.css",
		"https://gravity.example.com/script.js",
		"https://gravity.example.com/manifest.json",
	}
	got := builtCfg.ManifestURLs()
	if len(got) != len(wantManifest) {
		t.Fatalf("expected %d manifest URLs, got %d", len(wantManifest), len(got))
	}
	for i, want := range wantManifest {
		if got[i].String() != want {
			t.Errorf("manifest[%d]: expected %q, got %q", i, want, got[i].String())
		}
	}

	if r := builtCfg.RootDocument(); r.String() != "https://gravity.example.com/index.html" {
		t.Errorf("unexpected RootDocument %q", r.String())
	}
	if builtCfg.OpenURL() != "https://gravity.example.com/" {
		t.Errorf("unexpected OpenURL %q", builtCfg.OpenURL())
	}

	if builtCfg.StoreBackend() != config.StoreMemory {
		t.Errorf("expected memory store, got %q", builtCfg.StoreBackend())
	}
	if builtCfg.SyncBackend() != config.SyncMemory {
		t.Errorf("expected memory sync slots, got %q", builtCfg.SyncBackend())
	}

	if builtCfg.MaxAttempt() != 1 {
		t.Errorf("expected MaxAttempt 1, got %d", builtCfg.MaxAttempt())
	}
	if builtCfg.Timeout() != 0 {
		t.Errorf("expected no timeout, got %v", builtCfg.Timeout())
	}
	if builtCfg.RandomSeed() == 0 {
		t.Error("expected RandomSeed to be set, got 0")
	}
	if builtCfg.ClientMatch() != "gravity" {
		t.Errorf("expected ClientMatch 'gravity', got %q", builtCfg.ClientMatch())
	}
	if builtCfg.PushTitle() != "Gravity Glutes" || builtCfg.PushBody() != "Time for your workout!" {
		t.Errorf("unexpected push defaults %q / %q", builtCfg.PushTitle(), builtCfg.PushBody())
	}
	if builtCfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info log level, got %v", builtCfg.LogLevel())
	}
}

func TestRoutingPatternsResolveRelativeEntries(t *testing.T) {
	cfg, err := config.WithDefault(testOrigin()).
		WithCacheFirst([]string{"./style.css", ".woff2"}).
		Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	nf := cfg.NetworkFirst()
	if len(nf) != 1 || nf[0] != "https://gravity.example.com/manifest.json" {
		t.Errorf("unexpected NetworkFirst %v", nf)
	}
	cf := cfg.CacheFirst()
	if len(cf) != 2 || cf[0] != "https://gravity.example.com/style.css" || cf[1] != ".woff2" {
		t.Errorf("unexpected CacheFirst %v", cf)
	}
}

func TestRetryParam(t *testing.T) {
	cfg, err := config.WithDefault(testOrigin()).
		WithMaxAttempt(4).
		WithJitter(0).
		WithRandomSeed(7).
		WithBackoffInitialDuration(10 * time.Millisecond).
		WithBackoffMultiplier(3).
		WithBackoffMaxDuration(time.Second).
		Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	p := cfg.RetryParam()
	if p.MaxAttempts != 4 || p.RandomSeed != 7 || p.Jitter != 0 {
		t.Errorf("unexpected retry param %+v", p)
	}
	if p.BackoffParam.InitialDuration() != 10*time.Millisecond {
		t.Errorf("expected initial backoff 10ms, got %v", p.BackoffParam.InitialDuration())
	}
	if p.BackoffParam.Multiplier() != 3 {
		t.Errorf("expected multiplier 3, got %v", p.BackoffParam.Multiplier())
	}
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"missing origin", config.WithDefault(url.URL{})},
		{"relative origin", config.WithDefault(url.URL{Path: "/app"})},
		{"ftp origin", config.WithDefault(url.URL{Scheme: "ftp", Host: "files.example.com"})},
		{"empty version", config.WithDefault(testOrigin()).WithVersion("")},
		{"empty manifest", config.WithDefault(testOrigin()).WithManifest(nil)},
		{"cross-origin manifest entry", config.WithDefault(testOrigin()).WithManifest([]string{"https://cdn.example.com/app.js"})},
		{"unknown store", config.WithDefault(testOrigin()).WithStore("redis", "")},
		{"sqlite without path", config.WithDefault(testOrigin()).WithStore(config.StoreSQLite, "")},
		{"unknown sync backend", config.WithDefault(testOrigin()).WithSync("file", "x")},
		{"bolt without path", config.WithDefault(testOrigin()).WithSync(config.SyncBolt, "")},
		{"zero attempts", config.WithDefault(testOrigin()).WithMaxAttempt(0)},
		{"shrinking backoff", config.WithDefault(testOrigin()).WithBackoffMultiplier(0.5)},
		{"bad log level", config.WithDefault(testOrigin()).WithLogLevel("loud")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Build()
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLogLevel_UnparsedFallsBackToInfo(t *testing.T) {
	builder := config.WithDefault(testOrigin()).WithLogLevel("loud")
	if builder.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info for an unparsable level, got %v", builder.LogLevel())
	}
	if _, err := builder.Build(); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg, err := config.WithDefault(testOrigin()).WithLogLevel("WARN").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("expected warn log level, got %v", cfg.LogLevel())
	}
}

func TestOpenURLIsScope(t *testing.T) {
	u := url.URL{Scheme: "http", Host: "localhost:3000", Path: "/app/"}
	cfg, err := config.WithDefault(u).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenURL() != "http://localhost:3000/" {
		t.Errorf("unexpected OpenURL %q", cfg.OpenURL())
	}
}

func TestWithVersionChangesCacheNames(t *testing.T) {
	cfg, err := config.WithDefault(testOrigin()).WithVersion("v2.0.0").Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.StaticCacheName() != "gravity-glutes-static-v2.0.0" {
		t.Errorf("unexpected StaticCacheName %q", cfg.StaticCacheName())
	}
	if cfg.DynamicCacheName() != "gravity-glutes-dynamic-v2.0.0" {
		t.Errorf("unexpected DynamicCacheName %q", cfg.DynamicCacheName())
	}
}

func TestWithConfigFile_FileDoesNotExist(t *testing.T) {
	_, err := config.WithConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Errorf("expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestWithConfigFile_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"origin": `)

	_, err := config.WithConfigFile(path)
	if !errors.Is(err, config.ErrConfigParsingFail) {
		t.Errorf("expected ErrConfigParsingFail, got %v", err)
	}
}

func TestWithConfigFile_PartialConfig(t *testing.T) {
	path := writeConfig(t, `{
		"origin": "http://localhost:3000",
		"version": "v1.1.0",
		"storeBackend": "sqlite",
		"storePath": "/var/lib/gravity/cache.db",
		"skipWaitingOnInstall": false,
		"networkFirst": ["/api/"],
		"pushTitle": "Leg day"
	}`)

	cfg, err := config.WithConfigFile(path)
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if o := cfg.Origin(); o.String() != "http://localhost:3000" {
		t.Errorf("unexpected origin %q", o.String())
	}
	if cfg.StaticCacheName() != "gravity-glutes-static-v1.1.0" {
		t.Errorf("unexpected StaticCacheName %q", cfg.StaticCacheName())
	}
	if cfg.StoreBackend() != config.StoreSQLite || cfg.StorePath() != "/var/lib/gravity/cache.db" {
		t.Errorf("unexpected store %q at %q", cfg.StoreBackend(), cfg.StorePath())
	}
	if cfg.SkipWaitingOnInstall() {
		t.Error("expected SkipWaitingOnInstall false from file")
	}
	if nf := cfg.NetworkFirst(); len(nf) != 1 || nf[0] != "/api/" {
		t.Errorf("unexpected NetworkFirst %v", nf)
	}
	if cfg.PushTitle() != "Leg day" {
		t.Errorf("unexpected PushTitle %q", cfg.PushTitle())
	}

	// Untouched fields keep their defaults
	if len(cfg.Manifest()) != 5 {
		t.Errorf("expected default manifest, got %v", cfg.Manifest())
	}
	if cc := cfg.CacheFirst(); len(cc) != 2 {
		t.Errorf("expected default cache-first patterns, got %v", cc)
	}
}

func TestWithConfigFile_EmptyJSON(t *testing.T) {
	path := writeConfig(t, `{}`)

	_, err := config.WithConfigFile(path)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for a config without origin, got %v", err)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("GRAVITY_ORIGIN", "https://staging.example.com")
	t.Setenv("GRAVITY_VERSION", "v3.0.0")
	t.Setenv("GRAVITY_CACHE_FIRST", "./style.css,.png")
	t.Setenv("GRAVITY_SKIP_WAITING_ON_INSTALL", "false")
	t.Setenv("GRAVITY_MAX_ATTEMPT", "3")
	t.Setenv("GRAVITY_BACKOFF_INITIAL", "250ms")
	t.Setenv("GRAVITY_LOG_LEVEL", "debug")

	builder, err := config.WithDefault(url.URL{}).WithEnv()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	cfg, err := builder.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if o := cfg.Origin(); o.Host != "staging.example.com" {
		t.Errorf("unexpected origin %q", o.String())
	}
	if cfg.Version() != "v3.0.0" {
		t.Errorf("unexpected version %q", cfg.Version())
	}
	if cf := cfg.CacheFirst(); len(cf) != 2 || cf[0] != "https://staging.example.com/style.css" || cf[1] != ".png" {
		t.Errorf("unexpected CacheFirst %v", cf)
	}
	if cfg.SkipWaitingOnInstall() {
		t.Error("expected SkipWaitingOnInstall false from env")
	}
	if cfg.MaxAttempt() != 3 {
		t.Errorf("expected MaxAttempt 3, got %d", cfg.MaxAttempt())
	}
	if cfg.BackoffInitialDuration() != 250*time.Millisecond {
		t.Errorf("expected 250ms initial backoff, got %v", cfg.BackoffInitialDuration())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug log level, got %v", cfg.LogLevel())
	}
	// Unset variables keep defaults
	if cfg.AppName() != "gravity-glutes" {
		t.Errorf("unexpected AppName %q", cfg.AppName())
	}
}

func TestWithEnv_InvalidValue(t *testing.T) {
	t.Setenv("GRAVITY_MAX_ATTEMPT", "many")

	_, err := config.WithDefault(testOrigin()).WithEnv()
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
