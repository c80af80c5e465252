package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acgodson/blueband/internal/api"
	"github.com/acgodson/blueband/internal/cache"
	"github.com/acgodson/blueband/internal/config"
	"github.com/acgodson/blueband/internal/daemon"
	"github.com/acgodson/blueband/internal/embed"
	"github.com/acgodson/blueband/internal/logging"
	"github.com/acgodson/blueband/internal/store"
	"github.com/acgodson/blueband/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vector database daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, cleanup, err := logging.Setup(logging.Config{
			Level:         cfg.Logging.Level,
			FilePath:      cfg.Logging.FilePath,
			MaxSizeMB:     cfg.Logging.MaxSizeMB,
			MaxFiles:      cfg.Logging.MaxFiles,
			WriteToStderr: cfg.Logging.Stderr,
		})
		if err != nil {
			return err
		}
		defer cleanup()
		slog.SetDefault(logger)

		logger.Info("bluebandd_starting",
			slog.String("version", version.Short()),
			slog.String("data_dir", cfg.Store.DataDir))

		st, err := store.Open(cfg.Store.DataDir, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		provider := buildProvider(cfg, logger)
		a := api.New(st, provider, cache.Config{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   uint64(cfg.Cache.MaxMemoryMB) << 20,
			TTL:        time.Duration(cfg.Cache.TTLHours) * time.Hour,
		}, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Sweep expired cache entries periodically.
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := a.CleanupCache(); n > 0 {
						logger.Info("cache_cleanup", slog.Int("expired", n))
					}
				}
			}
		}()

		srv := daemon.NewServer(cfg.Server.SocketPath, a, logger)
		err = srv.ListenAndServe(ctx)
		if err == context.Canceled {
			err = nil
		}
		logger.Info("bluebandd_stopped")
		return err
	},
}

// buildProvider assembles the embedding port from config: the HTTP adapter
// wrapped with retries, or the deterministic static provider for offline
// use.
func buildProvider(cfg *config.Config, logger *slog.Logger) embed.Provider {
	if cfg.Embeddings.Provider == "static" {
		return embed.NewStaticProvider()
	}
	httpProvider := embed.NewHTTPProvider(embed.HTTPConfig{
		DefaultURL: cfg.Embeddings.URL,
		Timeout:    time.Duration(cfg.Embeddings.TimeoutSeconds) * time.Second,
	}, logger)
	retryCfg := embed.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Embeddings.MaxRetries
	return embed.NewRetryingProvider(httpProvider, retryCfg)
}
