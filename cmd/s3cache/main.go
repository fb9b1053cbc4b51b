package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oriys/s3cache/internal/cache"
	"github.com/oriys/s3cache/internal/config"
	"github.com/oriys/s3cache/internal/logging"
	"github.com/oriys/s3cache/internal/observability"
	"github.com/spf13/cobra"
)

// errNegative marks a command whose cache operation reported false or a
// miss. It maps to exit status 1 without an error message.
var errNegative = errors.New("negative result")

var (
	configPath         string
	bucket             string
	keyPrefix          string
	endpointURL        string
	backendName        string
	defaultTimeout     int
	purgeExpiredOnRead bool
	logLevel           string
	logFormat          string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNegative) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "s3cache",
		Short:         "s3cache - expiring key/value cache on object storage",
		Long:          "A command line client for a key/value cache stored as objects in an S3 bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to YAML config file")
	pf.StringVar(&bucket, "bucket", "", "Bucket name")
	pf.StringVar(&keyPrefix, "prefix", "", "Key prefix")
	pf.StringVar(&endpointURL, "endpoint", "", "S3 endpoint URL override (LocalStack, MinIO)")
	pf.StringVar(&backendName, "backend", "", "Storage backend: s3, redis or memory")
	pf.IntVar(&defaultTimeout, "default-timeout", 300, "Default timeout in seconds (0 = never expire)")
	pf.BoolVar(&purgeExpiredOnRead, "purge-expired-on-read", false, "Delete expired entries when read")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(
		getCmd(),
		setCmd(),
		addCmd(),
		deleteCmd(),
		hasCmd(),
		clearCmd(),
		checkCmd(),
	)
	return rootCmd
}

// loadConfig merges the config file, environment and explicitly set flags,
// in that order of increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		fileCfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	config.LoadFromEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("bucket") {
		cfg.Cache.Bucket = bucket
	}
	if flags.Changed("prefix") {
		cfg.Cache.KeyPrefix = keyPrefix
	}
	if flags.Changed("endpoint") {
		cfg.S3.EndpointURL = endpointURL
		cfg.S3.UsePathStyle = true
	}
	if flags.Changed("backend") {
		cfg.Cache.Backend = backendName
	}
	if flags.Changed("default-timeout") {
		cfg.Cache.DefaultTimeout = defaultTimeout
	}
	if flags.Changed("purge-expired-on-read") {
		cfg.Cache.PurgeExpiredOnRead = purgeExpiredOnRead
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// withCache opens the configured cache, runs fn and releases everything.
func withCache(cmd *cobra.Command, fn func(ctx context.Context, c cache.Cache) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logging.InitStructured(cfg.Log.Format, cfg.Log.Level)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := observability.Init(ctx, cfg); err != nil {
		logging.Op().Warn("tracing disabled", "error", err)
	}
	defer observability.Shutdown(context.Background())

	c, err := cache.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func result(ok bool) error {
	if ok {
		return nil
	}
	return errNegative
}
