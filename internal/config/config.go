package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rohmanhakim/gravity-worker/pkg/retry"
	"github.com/rohmanhakim/gravity-worker/pkg/timeutil"
	"github.com/rohmanhakim/gravity-worker/pkg/urlutil"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	SyncMemory = "memory"
	SyncBolt   = "bolt"
)

type Config struct {
	//===============
	//  Scope
	//===============
	// Origin of the app the worker fronts. The worker scope is its root path.
	origin url.URL
	// Address the proxy listens on
	listenAddr string

	//===============
	// Version
	//===============
	// Prefix of every cache name
	appName string
	// Worker version. Changing it retires the caches of the previous version.
	version string
	// Entries stored at install time, relative to the scope
	manifest []string
	// Activate right after install instead of waiting for SKIP_WAITING
	skipWaitingOnInstall bool

	//===============
	// Routing
	//===============
	// URL substrings routed network-first. Checked before cacheFirst.
	networkFirst []string
	// URL substrings routed cache-first
	cacheFirst []string
	// Document served to navigations the network and cache cannot answer
	rootDocument string

	//===============
	// Storage
	//===============
	// "memory" or "sqlite"
	storeBackend string
	// SQLite database file, used when storeBackend is "sqlite"
	storePath string
	// "memory" or "bolt"
	syncBackend string
	// bbolt file for the pending sync slot, used when syncBackend is "bolt"
	syncPath string

	//===============
	// Install retry
	//===============
	// maximum attempt per manifest entry
	maxAttempt int
	// Randomized variation added on top of each backoff delay
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration
	// Per request timeout of the upstream client. Zero means none.
	timeout time.Duration

	//===============
	// Notifications
	//===============
	// Substring identifying app windows when a notification is clicked
	clientMatch string
	pushTitle   string
	pushBody    string
	pushIcon    string
	pushBadge   string

	//===============
	// Observability
	//===============
	logLevel string
	// OTLP/HTTP collector URL. Empty disables tracing export.
	otelEndpoint string
}

type configDTO struct {
	Origin                 string        `json:"origin"`
	ListenAddr             string        `json:"listenAddr,omitempty"`
	AppName                string        `json:"appName,omitempty"`
	Version                string        `json:"version,omitempty"`
	Manifest               []string      `json:"manifest,omitempty"`
	SkipWaitingOnInstall   *bool         `json:"skipWaitingOnInstall,omitempty"`
	NetworkFirst           []string      `json:"networkFirst,omitempty"`
	CacheFirst             []string      `json:"cacheFirst,omitempty"`
	RootDocument           string        `json:"rootDocument,omitempty"`
	StoreBackend           string        `json:"storeBackend,omitempty"`
	StorePath              string        `json:"storePath,omitempty"`
	SyncBackend            string        `json:"syncBackend,omitempty"`
	SyncPath               string        `json:"syncPath,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
	ClientMatch            string        `json:"clientMatch,omitempty"`
	PushTitle              string        `json:"pushTitle,omitempty"`
	PushBody               string        `json:"pushBody,omitempty"`
	PushIcon               string        `json:"pushIcon,omitempty"`
	PushBadge              string        `json:"pushBadge,omitempty"`
	LogLevel               string        `json:"logLevel,omitempty"`
	OtelEndpoint           string        `json:"otelEndpoint,omitempty"`
}

// envDTO mirrors configDTO for the GRAVITY_* environment variables. Unset
// variables leave the current value alone.
type envDTO struct {
	Origin                 string        `env:"GRAVITY_ORIGIN"`
	ListenAddr             string        `env:"GRAVITY_LISTEN_ADDR"`
	AppName                string        `env:"GRAVITY_APP_NAME"`
	Version                string        `env:"GRAVITY_VERSION"`
	Manifest               []string      `env:"GRAVITY_MANIFEST" envSeparator:","`
	SkipWaitingOnInstall   *bool         `env:"GRAVITY_SKIP_WAITING_ON_INSTALL"`
	NetworkFirst           []string      `env:"GRAVITY_NETWORK_FIRST" envSeparator:","`
	CacheFirst             []string      `env:"GRAVITY_CACHE_FIRST" envSeparator:","`
	RootDocument           string        `env:"GRAVITY_ROOT_DOCUMENT"`
	StoreBackend           string        `env:"GRAVITY_STORE_BACKEND"`
	StorePath              string        `env:"GRAVITY_STORE_PATH"`
	SyncBackend            string        `env:"GRAVITY_SYNC_BACKEND"`
	SyncPath               string        `env:"GRAVITY_SYNC_PATH"`
	MaxAttempt             int           `env:"GRAVITY_MAX_ATTEMPT"`
	Jitter                 time.Duration `env:"GRAVITY_JITTER"`
	RandomSeed             int64         `env:"GRAVITY_RANDOM_SEED"`
	BackoffInitialDuration time.Duration `env:"GRAVITY_BACKOFF_INITIAL"`
	BackoffMultiplier      float64       `env:"GRAVITY_BACKOFF_MULTIPLIER"`
	BackoffMaxDuration     time.Duration `env:"GRAVITY_BACKOFF_MAX"`
	Timeout                time.Duration `env:"GRAVITY_TIMEOUT"`
	ClientMatch            string        `env:"GRAVITY_CLIENT_MATCH"`
	LogLevel               string        `env:"GRAVITY_LOG_LEVEL"`
	OtelEndpoint           string        `env:"GRAVITY_OTEL_ENDPOINT"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	origin, err := parseOrigin(dto.Origin)
	if err != nil {
		return Config{}, err
	}
	cfg := WithDefault(origin)

	// Only override if a non-zero value is provided
	cfg.overlay(overlayValues{
		listenAddr:             dto.ListenAddr,
		appName:                dto.AppName,
		version:                dto.Version,
		manifest:               dto.Manifest,
		skipWaitingOnInstall:   dto.SkipWaitingOnInstall,
		networkFirst:           dto.NetworkFirst,
		cacheFirst:             dto.CacheFirst,
		rootDocument:           dto.RootDocument,
		storeBackend:           dto.StoreBackend,
		storePath:              dto.StorePath,
		syncBackend:            dto.SyncBackend,
		syncPath:               dto.SyncPath,
		maxAttempt:             dto.MaxAttempt,
		jitter:                 dto.Jitter,
		randomSeed:             dto.RandomSeed,
		backoffInitialDuration: dto.BackoffInitialDuration,
		backoffMultiplier:      dto.BackoffMultiplier,
		backoffMaxDuration:     dto.BackoffMaxDuration,
		timeout:                dto.Timeout,
		clientMatch:            dto.ClientMatch,
		logLevel:               dto.LogLevel,
		otelEndpoint:           dto.OtelEndpoint,
	})
	if dto.PushTitle != "" {
		cfg.pushTitle = dto.PushTitle
	}
	if dto.PushBody != "" {
		cfg.pushBody = dto.PushBody
	}
	if dto.PushIcon != "" {
		cfg.pushIcon = dto.PushIcon
	}
	if dto.PushBadge != "" {
		cfg.pushBadge = dto.PushBadge
	}

	return cfg.Build()
}

type overlayValues struct {
	listenAddr             string
	appName                string
	version                string
	manifest               []string
	skipWaitingOnInstall   *bool
	networkFirst           []string
	cacheFirst             []string
	rootDocument           string
	storeBackend           string
	storePath              string
	syncBackend            string
	syncPath               string
	maxAttempt             int
	jitter                 time.Duration
	randomSeed             int64
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration
	timeout                time.Duration
	clientMatch            string
	logLevel               string
	otelEndpoint           string
}

func (c *Config) overlay(v overlayValues) {
	if v.listenAddr != "" {
		c.listenAddr = v.listenAddr
	}
	if v.appName != "" {
		c.appName = v.appName
	}
	if v.version != "" {
		c.version = v.version
	}
	if len(v.manifest) > 0 {
		c.manifest = v.manifest
	}
	if v.skipWaitingOnInstall != nil {
		c.skipWaitingOnInstall = *v.skipWaitingOnInstall
	}
	if len(v.networkFirst) > 0 {
		c.networkFirst = v.networkFirst
	}
	if len(v.cacheFirst) > 0 {
		c.cacheFirst = v.cacheFirst
	}
	if v.rootDocument != "" {
		c.rootDocument = v.rootDocument
	}
	if v.storeBackend != "" {
		c.storeBackend = v.storeBackend
	}
	if v.storePath != "" {
		c.storePath = v.storePath
	}
	if v.syncBackend != "" {
		c.syncBackend = v.syncBackend
	}
	if v.syncPath != "" {
		c.syncPath = v.syncPath
	}
	if v.maxAttempt != 0 {
		c.maxAttempt = v.maxAttempt
	}
	if v.jitter != 0 {
		c.jitter = v.jitter
	}
	if v.randomSeed != 0 {
		c.randomSeed = v.randomSeed
	}
	if v.backoffInitialDuration != 0 {
		c.backoffInitialDuration = v.backoffInitialDuration
	}
	if v.backoffMultiplier != 0 {
		c.backoffMultiplier = v.backoffMultiplier
	}
	if v.backoffMaxDuration != 0 {
		c.backoffMaxDuration = v.backoffMaxDuration
	}
	if v.timeout != 0 {
		c.timeout = v.timeout
	}
	if v.clientMatch != "" {
		c.clientMatch = v.clientMatch
	}
	if v.logLevel != "" {
		c.logLevel = v.logLevel
	}
	if v.otelEndpoint != "" {
		c.otelEndpoint = v.otelEndpoint
	}
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config for origin with default values for all other fields.
// origin is mandatory; Build rejects a config without one.
func WithDefault(origin url.URL) *Config {
	defaultConfig := Config{
		origin:               origin,
		listenAddr:           ":8080",
		appName:              "gravity-glutes",
		version:              "v1.0.0",
		skipWaitingOnInstall: true,
		manifest: []string{
			"./",
			"./index.html",
			"./style.css",
			"./script.js",
			"./manifest.json",
		},
		networkFirst:           []string{"./manifest.json"},
		cacheFirst:             []string{"./style.css", "./script.js"},
		rootDocument:           "./index.html",
		storeBackend:           StoreMemory,
		storePath:              "gravity-cache.db",
		syncBackend:            SyncMemory,
		syncPath:               "gravity-sync.db",
		maxAttempt:             1,
		jitter:                 100 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     5 * time.Second,
		timeout:                0,
		clientMatch:            "gravity",
		pushTitle:              "Gravity Glutes",
		pushBody:               "Time for your workout!",
		pushIcon:               "./icon-192x192.png",
		pushBadge:              "./icon-96x96.png",
		logLevel:               "info",
	}
	return &defaultConfig
}

// WithEnv overlays the GRAVITY_* environment variables that are set.
func (c *Config) WithEnv() (*Config, error) {
	var dto envDTO
	if err := env.Parse(&dto); err != nil {
		return c, fmt.Errorf("%w: parse env: %s", ErrInvalidConfig, err.Error())
	}
	if dto.Origin != "" {
		origin, err := parseOrigin(dto.Origin)
		if err != nil {
			return c, err
		}
		c.origin = origin
	}
	c.overlay(overlayValues{
		listenAddr:             dto.ListenAddr,
		appName:                dto.AppName,
		version:                dto.Version,
		manifest:               dto.Manifest,
		skipWaitingOnInstall:   dto.SkipWaitingOnInstall,
		networkFirst:           dto.NetworkFirst,
		cacheFirst:             dto.CacheFirst,
		rootDocument:           dto.RootDocument,
		storeBackend:           dto.StoreBackend,
		storePath:              dto.StorePath,
		syncBackend:            dto.SyncBackend,
		syncPath:               dto.SyncPath,
		maxAttempt:             dto.MaxAttempt,
		jitter:                 dto.Jitter,
		randomSeed:             dto.RandomSeed,
		backoffInitialDuration: dto.BackoffInitialDuration,
		backoffMultiplier:      dto.BackoffMultiplier,
		backoffMaxDuration:     dto.BackoffMaxDuration,
		timeout:                dto.Timeout,
		clientMatch:            dto.ClientMatch,
		logLevel:               dto.LogLevel,
		otelEndpoint:           dto.OtelEndpoint,
	})
	return c, nil
}

func (c *Config) WithOrigin(origin url.URL) *Config {
	c.origin = origin
	return c
}

func (c *Config) WithListenAddr(addr string) *Config {
	c.listenAddr = addr
	return c
}

func (c *Config) WithAppName(name string) *Config {
	c.appName = name
	return c
}

func (c *Config) WithVersion(version string) *Config {
	c.version = version
	return c
}

func (c *Config) WithManifest(entries []string) *Config {
	c.manifest = entries
	return c
}

func (c *Config) WithSkipWaitingOnInstall(skip bool) *Config {
	c.skipWaitingOnInstall = skip
	return c
}

func (c *Config) WithNetworkFirst(patterns []string) *Config {
	c.networkFirst = patterns
	return c
}

func (c *Config) WithCacheFirst(patterns []string) *Config {
	c.cacheFirst = patterns
	return c
}

func (c *Config) WithRootDocument(ref string) *Config {
	c.rootDocument = ref
	return c
}

func (c *Config) WithStore(backend, path string) *Config {
	c.storeBackend = backend
	c.storePath = path
	return c
}

func (c *Config) WithSync(backend, path string) *Config {
	c.syncBackend = backend
	c.syncPath = path
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithClientMatch(pattern string) *Config {
	c.clientMatch = pattern
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.logLevel = level
	return c
}

func (c *Config) WithOtelEndpoint(endpoint string) *Config {
	c.otelEndpoint = endpoint
	return c
}

func (c *Config) Build() (Config, error) {
	if c.origin.Host == "" || (c.origin.Scheme != "http" && c.origin.Scheme != "https") {
		return Config{}, fmt.Errorf("%w: origin must be an absolute http(s) URL", ErrInvalidConfig)
	}
	if c.appName == "" || c.version == "" {
		return Config{}, fmt.Errorf("%w: appName and version cannot be empty", ErrInvalidConfig)
	}
	if len(c.manifest) == 0 {
		return Config{}, fmt.Errorf("%w: manifest cannot be empty", ErrInvalidConfig)
	}
	scope := c.Scope()
	for _, entry := range append(append([]string{}, c.manifest...), c.rootDocument) {
		u, err := urlutil.Resolve(scope, entry)
		if err != nil {
			return Config{}, fmt.Errorf("%w: entry %q: %s", ErrInvalidConfig, entry, err.Error())
		}
		if !urlutil.SameOrigin(u, scope) {
			return Config{}, fmt.Errorf("%w: entry %q is outside the origin", ErrInvalidConfig, entry)
		}
	}
	switch c.storeBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.storePath == "" {
			return Config{}, fmt.Errorf("%w: sqlite store needs a path", ErrInvalidConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.storeBackend)
	}
	switch c.syncBackend {
	case SyncMemory:
	case SyncBolt:
		if c.syncPath == "" {
			return Config{}, fmt.Errorf("%w: bolt sync slots need a path", ErrInvalidConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown sync backend %q", ErrInvalidConfig, c.syncBackend)
	}
	if c.maxAttempt < 1 {
		return Config{}, fmt.Errorf("%w: maxAttempt must be at least 1", ErrInvalidConfig)
	}
	if c.backoffMultiplier < 1 {
		return Config{}, fmt.Errorf("%w: backoffMultiplier must be at least 1", ErrInvalidConfig)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return Config{}, fmt.Errorf("%w: logLevel: %s", ErrInvalidConfig, err.Error())
	}
	return *c, nil
}

func (c Config) Origin() url.URL {
	return c.origin
}

// Scope is the origin root every relative entry resolves against.
func (c Config) Scope() url.URL {
	return url.URL{Scheme: c.origin.Scheme, Host: c.origin.Host, Path: "/"}
}

func (c Config) ListenAddr() string {
	return c.listenAddr
}

func (c Config) AppName() string {
	return c.appName
}

func (c Config) Version() string {
	return c.version
}

func (c Config) StaticCacheName() string {
	return c.appName + "-static-" + c.version
}

func (c Config) DynamicCacheName() string {
	return c.appName + "-dynamic-" + c.version
}

func (c Config) Manifest() []string {
	entries := make([]string, len(c.manifest))
	copy(entries, c.manifest)
	return entries
}

// ManifestURLs resolves the manifest against the scope. Build has already
// checked every entry.
func (c Config) ManifestURLs() []url.URL {
	urls := make([]url.URL, 0, len(c.manifest))
	for _, entry := range c.manifest {
		u, _ := urlutil.Resolve(c.Scope(), entry)
		urls = append(urls, u)
	}
	return urls
}

func (c Config) RootDocument() url.URL {
	u, _ := urlutil.Resolve(c.Scope(), c.rootDocument)
	return u
}

// OpenURL is the page opened when a notification click finds no window.
func (c Config) OpenURL() string {
	scope := c.Scope()
	return scope.String()
}

func (c Config) SkipWaitingOnInstall() bool {
	return c.skipWaitingOnInstall
}

// NetworkFirst returns the network-first patterns. Relative patterns
// ("./x") are resolved against the scope so they match absolute URLs.
func (c Config) NetworkFirst() []string {
	return c.resolvePatterns(c.networkFirst)
}

func (c Config) CacheFirst() []string {
	return c.resolvePatterns(c.cacheFirst)
}

func (c Config) resolvePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") {
			if u, err := urlutil.Resolve(c.Scope(), p); err == nil {
				p = u.String()
			}
		}
		out = append(out, p)
	}
	return out
}

func (c Config) StoreBackend() string {
	return c.storeBackend
}

func (c Config) StorePath() string {
	return c.storePath
}

func (c Config) SyncBackend() string {
	return c.syncBackend
}

func (c Config) SyncPath() string {
	return c.syncPath
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) RetryParam() retry.RetryParam {
	return retry.NewRetryParam(
		c.jitter,
		c.randomSeed,
		c.maxAttempt,
		timeutil.NewBackoffParam(c.backoffInitialDuration, c.backoffMultiplier, c.backoffMaxDuration),
	)
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) ClientMatch() string {
	return c.clientMatch
}

func (c Config) PushTitle() string {
	return c.pushTitle
}

func (c Config) PushBody() string {
	return c.pushBody
}

func (c Config) PushIcon() string {
	return c.pushIcon
}

func (c Config) PushBadge() string {
	return c.pushBadge
}

func (c Config) LogLevel() slog.Level {
	var level slog.Level
	// Build rejects levels that do not parse. Unbuilt configs fall back to info.
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c Config) OtelEndpoint() string {
	return c.otelEndpoint
}

func parseOrigin(raw string) (url.URL, error) {
	if raw == "" {
		return url.URL{}, fmt.Errorf("%w: origin cannot be empty", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return url.URL{}, fmt.Errorf("%w: origin: %s", ErrInvalidConfig, err.Error())
	}
	return *u, nil
}
