// Command tap-sentry extracts issues and events from the Sentry REST API and
// writes them as Singer messages or to Redis streams.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/client"
	"github.com/Sternrassler/tap-sentry/pkg/logging"
	"github.com/Sternrassler/tap-sentry/pkg/metrics"
	"github.com/Sternrassler/tap-sentry/pkg/output"
	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/Sternrassler/tap-sentry/pkg/tap"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath  string
	catalogPath string
	discover    bool
	streams     []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tap-sentry",
		Short: "Extract Sentry issues and events",
		Long: `tap-sentry reads issues and events of a Sentry organization and writes
them as Singer SCHEMA and RECORD messages on stdout, or to Redis streams.

Use --discover to print the catalog of available streams.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON config file")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "Path to a catalog selecting the streams to sync")
	cmd.Flags().BoolVar(&opts.discover, "discover", false, "Print the stream catalog and exit")
	cmd.Flags().StringArrayVarP(&opts.streams, "stream", "s", nil, "Stream to sync (repeatable); default all")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("tap-sentry failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	if opts.discover {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tap.NewCatalog(stream.All(cfg.settings())))
	}

	names, err := selectStreams(opts)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	clientCfg := cfg.clientConfig()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis_url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Str("addr", redisOpts.Addr).Int("db", redisOpts.DB).Msg("Connected to Redis")
		clientCfg.Redis = redisClient
	}

	sentry, err := client.New(clientCfg)
	if err != nil {
		return err
	}

	runner, writer, err := newTap(cfg, sentry, redisClient, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing output failed")
		}
	}()

	stats, err := runner.Run(ctx, names)
	for _, s := range stats {
		logger.Info().
			Str("stream", s.Stream).
			Int("pages", s.Pages).
			Int("records", s.Records).
			Int("dropped", s.Dropped).
			Bool("truncated", s.Truncated).
			Dur("duration", s.Duration).
			Msg("Stream summary")
	}
	if tap.IsCancelled(err) || errors.Is(err, client.ErrContextCancelled) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

// newTap builds the tap with the configured output. The writer is returned
// so the caller can close it.
func newTap(cfg tapConfig, fetcher tap.Fetcher, redisClient *redis.Client, stdout io.Writer) (*tap.Tap, output.Writer, error) {
	runID := uuid.NewString()

	var writer output.Writer
	switch cfg.Output {
	case outputRedis:
		writer = output.NewRedisWriter(redisClient, cfg.RedisStreamPrefix, runID, cfg.RedisStreamMaxLen)
	default:
		writer = output.NewSingerWriter(stdout)
	}

	runner, err := tap.New(tap.Config{
		Fetcher:  fetcher,
		Writer:   writer,
		Settings: cfg.settings(),
		MaxPages: cfg.MaxPages,
		RunID:    runID,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner, writer, nil
}

// selectStreams resolves the streams to sync from --stream or --catalog.
// Neither means all streams.
func selectStreams(opts *rootOptions) ([]string, error) {
	if len(opts.streams) > 0 && opts.catalogPath != "" {
		return nil, errors.New("--stream and --catalog are mutually exclusive")
	}
	if len(opts.streams) > 0 {
		return opts.streams, nil
	}
	if opts.catalogPath == "" {
		return nil, nil
	}

	f, err := os.Open(opts.catalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	catalog, err := tap.ReadCatalog(f)
	if err != nil {
		return nil, err
	}
	names := catalog.Selected()
	if len(names) == 0 {
		return nil, errors.New("catalog selects no streams")
	}
	return names, nil
}
