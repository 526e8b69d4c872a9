package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ximing/aimo/pkg/migrate"
)

// VectorMigrations returns the migration history for the sqlite vector
// table. vec0 virtual tables have no ALTER, so schema growth happens as
// idempotent create steps: the embedding table itself, then a scalar
// sidecar for attributes the vector engine cannot hold.
func VectorMigrations(dimension int) []migrate.Migration {
	return []migrate.Migration{
		{
			Version:     1,
			Table:       VectorTableName,
			Description: "create memo embedding table",
			Up: func(ctx context.Context, conn migrate.Conn) error {
				return conn.Exec(ctx, fmt.Sprintf(`
					CREATE VIRTUAL TABLE IF NOT EXISTS memo_vectors USING vec0(
						memo_id TEXT PRIMARY KEY,
						embedding FLOAT[%d] distance_metric=cosine
					)
				`, dimension))
			},
		},
		{
			Version:     2,
			Table:       VectorTableName,
			Description: "add uid attribute via sidecar table",
			Up: func(ctx context.Context, conn migrate.Conn) error {
				return conn.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS memo_vector_meta (
						memo_id TEXT PRIMARY KEY,
						uid TEXT
					)
				`)
			},
		},
	}
}

// PostgresVectorMigrations returns the migration history for the pgvector
// backend. Postgres has native ALTER, but the steps still flow through the
// same registry and executor, and stay defensive about pre-existing state.
func PostgresVectorMigrations(dimension int) []migrate.Migration {
	return []migrate.Migration{
		{
			Version:     1,
			Table:       VectorTableName,
			Description: "create memo embedding table",
			Up: func(ctx context.Context, conn migrate.Conn) error {
				if err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
					return err
				}
				return conn.Exec(ctx, fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS memo_vectors (
						memo_id TEXT PRIMARY KEY,
						embedding vector(%d) NOT NULL
					)
				`, dimension))
			},
		},
		{
			Version:     2,
			Table:       VectorTableName,
			Description: "add uid column",
			Up: func(ctx context.Context, conn migrate.Conn) error {
				err := conn.Exec(ctx, "ALTER TABLE memo_vectors ADD COLUMN uid TEXT")
				if err != nil && strings.Contains(err.Error(), "already exists") {
					return nil
				}
				return err
			},
		},
	}
}
