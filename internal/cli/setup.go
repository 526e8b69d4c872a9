package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/config"
	"github.com/ximing/aimo/internal/logger"
	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/store"
)

// loadConfig reads the config file and applies command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.StorageContext, error) {
	return store.Open(ctx, store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		VectorPath:  cfg.Storage.VectorPath,
		PostgresURL: cfg.Storage.PostgresURL,
		Dimension:   cfg.Embedding.Dimension,
	}, log)
}

// newEmbedder builds the configured embedding provider, wrapped in a
// cache when one is configured. The returned func releases the cache.
func newEmbedder(cfg *config.Config) (memo.Embedder, func(), error) {
	var base memo.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, nil, fmt.Errorf("embedding.api_key is required for the openai provider")
		}
		base = memo.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model,
			memo.WithDimension(cfg.Embedding.Dimension))
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}

	if cfg.Embedding.CacheSize <= 0 {
		return base, func() {}, nil
	}

	cached, err := memo.NewCachedEmbedder(base, int64(cfg.Embedding.CacheSize))
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}
