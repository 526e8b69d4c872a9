package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Options controls manager behavior
type Options struct {
	// DryRun logs the migrations that would run without applying them
	DryRun bool
	// Verbose enables per-migration progress logging
	Verbose bool
}

// Manager drives the executor through the gap between each table's current
// and latest registered version. Expected to run once at startup, before
// any repository is used.
type Manager struct {
	registry *Registry
	executor *Executor
	conn     Conn
	opts     Options
	logger   zerolog.Logger
}

// NewManager creates a migration manager
func NewManager(registry *Registry, conn Conn, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		executor: NewExecutor(logger),
		conn:     conn,
		opts:     opts,
		logger:   logger,
	}
}

// Initialize migrates every registered table to its latest version. Tables
// are independent: a failure on one is logged and collected, and the
// remaining tables are still attempted before the joined error is returned.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.executor.EnsureMetadataTable(ctx, m.conn); err != nil {
		return err
	}

	var errs []error
	for _, table := range m.registry.Tables() {
		if err := m.migrateTable(ctx, table); err != nil {
			m.logger.Error().Err(err).Str("table", table).Msg("Table migration failed")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) migrateTable(ctx context.Context, table string) error {
	current, err := m.executor.CurrentVersion(ctx, m.conn, table)
	if err != nil {
		return err
	}

	target := m.registry.LatestVersion(table)
	if current == target {
		m.logger.Debug().Str("table", table).Int("version", current).Msg("Table up to date")
		return nil
	}
	if current > target {
		return fmt.Errorf("table %s is at v%d but only v%d is registered", table, current, target)
	}

	pending := m.registry.Pending(table, current)

	if m.opts.DryRun {
		for _, mig := range pending {
			m.logger.Info().
				Str("table", mig.Table).
				Int("version", mig.Version).
				Str("description", mig.Description).
				Msg("Would apply migration (dry run)")
		}
		return nil
	}

	if m.opts.Verbose {
		m.logger.Info().
			Str("table", table).
			Int("from", current).
			Int("to", target).
			Int("pending", len(pending)).
			Msg("Migrating table")
	}

	return m.executor.Apply(ctx, m.conn, pending)
}

// Status returns the current version per registered table
func (m *Manager) Status(ctx context.Context) (map[string]int, error) {
	if err := m.executor.EnsureMetadataTable(ctx, m.conn); err != nil {
		return nil, err
	}

	status := make(map[string]int)
	for _, table := range m.registry.Tables() {
		current, err := m.executor.CurrentVersion(ctx, m.conn, table)
		if err != nil {
			return nil, err
		}
		status[table] = current
	}
	return status, nil
}

// ValidationReport lists tables whose current version lags the registry
type ValidationReport struct {
	Valid  bool
	Errors []string
}

// Validate reports tables whose current version differs from the latest
func (m *Manager) Validate(ctx context.Context) (*ValidationReport, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{Valid: true}
	for _, table := range m.registry.Tables() {
		latest := m.registry.LatestVersion(table)
		if status[table] != latest {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("table %s is at v%d, latest is v%d", table, status[table], latest))
		}
	}
	return report, nil
}
