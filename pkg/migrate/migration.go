package migrate

import (
	"context"
	"fmt"
)

// Row is a single-row query result
type Row interface {
	Scan(dest ...any) error
}

// Conn is the minimal database surface migrations run against. Both the
// sqlite handle and the postgres pool adapt to it.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Migration is one versioned schema step for a logical table. Up must be
// idempotent: re-running after a partial batch failure is expected, so it
// has to detect already-applied state and return nil.
type Migration struct {
	Version     int
	Table       string
	Description string
	Up          func(ctx context.Context, conn Conn) error
}

// Error wraps a failed migration apply with its table/version context
type Error struct {
	Table   string
	Version int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration %s v%d failed: %v", e.Table, e.Version, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
