package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/rohmanhakim/gravity-worker/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	origin        string
	listenAddr    string
	workerVersion string
	storeBackend  string
	storePath     string
	syncBackend   string
	syncPath      string
	logLevel      string
	otelEndpoint  string
	waitForSkip   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gravity-worker",
	Short: "An offline caching proxy for the Gravity Glutes app.",
	Long: `gravity-worker sits between pages and the app origin and plays the role
of the app's service worker: it precaches the app shell on install, retires
caches of older versions on activate, and answers requests network-first,
cache-first or stale-while-revalidate so the app keeps working offline.

Worker events (messages, push, notification clicks, background sync) are
exposed under /__worker/.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /etc/gravity-worker/config.json)")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "origin of the app to front (e.g., https://gravity.example.com)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "address the proxy listens on (default :8080)")
	rootCmd.PersistentFlags().StringVar(&workerVersion, "worker-version", "", "worker version; changing it retires older caches")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "cache store backend: memory or sqlite")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "sqlite database file")
	rootCmd.PersistentFlags().StringVar(&syncBackend, "sync", "", "pending sync slot backend: memory or bolt")
	rootCmd.PersistentFlags().StringVar(&syncPath, "sync-path", "", "bbolt file for pending sync items")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP/HTTP collector URL; empty disables trace export")
	rootCmd.PersistentFlags().BoolVar(&waitForSkip, "wait-for-skip", false, "stay installed until a SKIP_WAITING message arrives")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

// InitConfig reads in config file and ENV variables if set.
func InitConfig() config.Config {
	cfg, err := InitConfigWithError()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError layers the config file (or the defaults), then the
// GRAVITY_* environment, then command line flags.
func InitConfigWithError() (config.Config, error) {
	var configBuilder *config.Config
	if cfgFile != "" {
		fileCfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("error initializing config from file: %w", err)
		}
		configBuilder = &fileCfg
	} else {
		configBuilder = config.WithDefault(url.URL{})
	}

	configBuilder, err := configBuilder.WithEnv()
	if err != nil {
		return config.Config{}, err
	}

	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return config.Config{}, fmt.Errorf("%w: origin: %s", config.ErrInvalidConfig, err.Error())
		}
		configBuilder = configBuilder.WithOrigin(*u)
	}

	if listenAddr != "" {
		configBuilder = configBuilder.WithListenAddr(listenAddr)
	}

	if workerVersion != "" {
		configBuilder = configBuilder.WithVersion(workerVersion)
	}

	if storeBackend != "" || storePath != "" {
		backend, path := configBuilder.StoreBackend(), configBuilder.StorePath()
		if storeBackend != "" {
			backend = storeBackend
		}
		if storePath != "" {
			path = storePath
		}
		configBuilder = configBuilder.WithStore(backend, path)
	}

	if syncBackend != "" || syncPath != "" {
		backend, path := configBuilder.SyncBackend(), configBuilder.SyncPath()
		if syncBackend != "" {
			backend = syncBackend
		}
		if syncPath != "" {
			path = syncPath
		}
		configBuilder = configBuilder.WithSync(backend, path)
	}

	if logLevel != "" {
		configBuilder = configBuilder.WithLogLevel(logLevel)
	}

	if otelEndpoint != "" {
		configBuilder = configBuilder.WithOtelEndpoint(otelEndpoint)
	}

	if waitForSkip {
		configBuilder = configBuilder.WithSkipWaitingOnInstall(false)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

func ResetFlags() {
	cfgFile = ""
	origin = ""
	listenAddr = ""
	workerVersion = ""
	storeBackend = ""
	storePath = ""
	syncBackend = ""
	syncPath = ""
	logLevel = ""
	otelEndpoint = ""
	waitForSkip = false
}

// ExecuteForTest runs the command tree with args, writing to out.
func ExecuteForTest(args []string, out io.Writer) error {
	return ExecuteContextForTest(context.Background(), args, out)
}

// ExecuteContextForTest is ExecuteForTest under ctx. Every command gets ctx,
// so a cancelled run does not leak into the next one.
func ExecuteContextForTest(ctx context.Context, args []string, out io.Writer) error {
	setContext(rootCmd, ctx)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	return rootCmd.ExecuteContext(ctx)
}

func setContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		setContext(sub, ctx)
	}
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetOriginForTest(raw string) {
	origin = raw
}

func SetWorkerVersionForTest(v string) {
	workerVersion = v
}

func SetStoreForTest(backend, path string) {
	storeBackend = backend
	storePath = path
}

func SetWaitForSkipForTest(wait bool) {
	waitForSkip = wait
}
