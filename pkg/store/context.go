package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ximing/aimo/pkg/migrate"
)

// Config selects and configures a storage backend
type Config struct {
	Driver      string // sqlite or postgres
	Path        string // relational sqlite file
	VectorPath  string // vector sqlite file
	PostgresURL string
	Dimension   int // embedding dimension, fixed per deployment
}

// StorageContext bundles the process-wide store handles. It is constructed
// once at startup and passed by reference into every repository and the
// migration manager; tests build isolated instances against temp files.
type StorageContext struct {
	Relational RelationalStore
	Vectors    VectorTable

	// MigrateConn is the connection migrations run against
	MigrateConn migrate.Conn
	// Migrations is the registered history for this backend
	Migrations []migrate.Migration

	closers []func() error
}

// Open constructs the storage context for the configured driver
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*StorageContext, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension is required")
	}

	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg, logger)
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func openSQLite(cfg Config, logger zerolog.Logger) (*StorageContext, error) {
	rel, err := NewSQLiteStore(cfg.Path, logger)
	if err != nil {
		return nil, err
	}

	vec, err := NewSQLiteVectorDB(cfg.VectorPath, logger)
	if err != nil {
		rel.Close()
		return nil, err
	}

	return &StorageContext{
		Relational:  rel,
		Vectors:     vec.MemoVectors(),
		MigrateConn: migrate.NewSQLConn(vec.DB()),
		Migrations:  VectorMigrations(cfg.Dimension),
		closers:     []func() error{vec.Close, rel.Close},
	}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger zerolog.Logger) (*StorageContext, error) {
	pg, err := NewPostgresStore(ctx, cfg.PostgresURL, logger)
	if err != nil {
		return nil, err
	}

	return &StorageContext{
		Relational:  pg,
		Vectors:     pg.MemoVectors(),
		MigrateConn: pg.MigrateConn(),
		Migrations:  PostgresVectorMigrations(cfg.Dimension),
		closers:     []func() error{pg.Close},
	}, nil
}

// Migrate runs all registered migrations to completion
func (s *StorageContext) Migrate(ctx context.Context, opts migrate.Options, logger zerolog.Logger) error {
	registry, err := migrate.NewRegistry(s.Migrations...)
	if err != nil {
		return err
	}
	return migrate.NewManager(registry, s.MigrateConn, opts, logger).Initialize(ctx)
}

// Close releases all store handles
func (s *StorageContext) Close() error {
	var errs []error
	for _, close := range s.closers {
		if err := close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
