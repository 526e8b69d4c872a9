package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/observability"
)

// metadataTable records the current version per logical table
const metadataTable = "table_migrations"

// Executor applies migrations to a connection and records progress in the
// metadata table.
type Executor struct {
	logger zerolog.Logger
}

// NewExecutor creates an executor
func NewExecutor(logger zerolog.Logger) *Executor {
	observability.EnsureRegistered()
	return &Executor{logger: logger}
}

// EnsureMetadataTable creates the metadata table if absent. Idempotent.
func (e *Executor) EnsureMetadataTable(ctx context.Context, conn Conn) error {
	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+metadataTable+` (
			table_name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			migrated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure metadata table: %w", err)
	}
	return nil
}

// CurrentVersion returns the recorded version for table, 0 if no row exists
func (e *Executor) CurrentVersion(ctx context.Context, conn Conn, table string) (int, error) {
	var version int
	err := conn.QueryRow(ctx,
		"SELECT version FROM "+metadataTable+" WHERE table_name = ?", table).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read current version for %s: %w", table, err)
	}
	return version, nil
}

// recordVersion persists the new version for table
func (e *Executor) recordVersion(ctx context.Context, conn Conn, table string, version int) error {
	err := conn.Exec(ctx, `
		INSERT INTO `+metadataTable+` (table_name, version, migrated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET version = excluded.version, migrated_at = excluded.migrated_at
	`, table, version, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record version %d for %s: %w", version, table, err)
	}
	return nil
}

// Apply runs migrations strictly in ascending version order, recording the
// version after each successful step. On failure it stops immediately; the
// metadata reflects only the last version that succeeded.
func (e *Executor) Apply(ctx context.Context, conn Conn, migrations []Migration) error {
	for _, m := range migrations {
		e.logger.Info().
			Str("table", m.Table).
			Int("version", m.Version).
			Str("description", m.Description).
			Msg("Applying migration")

		if err := m.Up(ctx, conn); err != nil {
			observability.RecordMigrationFailure(m.Table)
			return &Error{Table: m.Table, Version: m.Version, Err: err}
		}

		if err := e.recordVersion(ctx, conn, m.Table, m.Version); err != nil {
			return &Error{Table: m.Table, Version: m.Version, Err: err}
		}

		observability.RecordMigrationApplied(m.Table)
	}
	return nil
}
