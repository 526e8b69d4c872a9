package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ximing/aimo/internal/api"
	"github.com/ximing/aimo/internal/config"
	"github.com/ximing/aimo/internal/observability"
	"github.com/ximing/aimo/pkg/aitag"
	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/migrate"
	"github.com/ximing/aimo/pkg/reconcile"
	"github.com/ximing/aimo/pkg/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memo API server",
	Long: `Run the memo API server in the foreground.
Pending migrations are applied on startup; the server refuses to start
if any migration fails.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	observability.EnsureRegistered()

	ctx := context.Background()
	storage, err := openStorage(ctx, cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer storage.Close()

	// a half-migrated vector store must not serve traffic
	if err := storage.Migrate(ctx, migrate.Options{}, log.Zerolog()); err != nil {
		return err
	}

	embedder, closeEmbedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	repo := memo.NewRepository(storage.Relational, storage.Vectors, embedder, log.Zerolog())
	coordinator := search.NewCoordinator(storage.Relational, storage.Vectors, embedder,
		cfg.Search.DefaultLimit, cfg.Search.MaxLimit, log.Zerolog())

	var suggester *aitag.Suggester
	if cfg.AI.APIKey != "" {
		completer, err := aitag.NewCompleter(cfg.AI.Provider, cfg.AI.APIKey)
		if err != nil {
			return err
		}
		suggester = aitag.NewSuggester(completer, cfg.AI.Model, log.Zerolog())
	} else {
		log.Warn().Msg("No AI API key configured; tag suggestion disabled")
	}

	// live reload covers the log level only; storage and embedding changes
	// need a restart
	configPath, err := config.NewLoader(cfgFile).Path()
	if err != nil {
		return err
	}
	watcher, err := config.NewWatcher(configPath, log.Zerolog(), func() {
		reloaded, err := loadConfig()
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid config change")
			return
		}
		if level, err := zerolog.ParseLevel(reloaded.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
			log.Info().Str("level", level.String()).Msg("Log level updated")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watching disabled")
	} else {
		defer watcher.Stop()
	}

	reconciler := reconcile.New(storage.Relational, storage.Vectors, embedder, log.Zerolog())
	if cfg.Reconciler.Enabled {
		if err := reconciler.Start(cfg.Reconciler.Schedule); err != nil {
			return err
		}
		defer reconciler.Stop()
	}

	server, err := api.NewServer(api.ServerOptions{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
	}, repo, coordinator, suggester, log.Zerolog())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
