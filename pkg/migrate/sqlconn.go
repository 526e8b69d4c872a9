package migrate

import (
	"context"
	"database/sql"
)

// sqlConn adapts a database/sql handle to the Conn interface
type sqlConn struct {
	db *sql.DB
}

// NewSQLConn wraps a *sql.DB as a migration connection
func NewSQLConn(db *sql.DB) Conn {
	return &sqlConn{db: db}
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c *sqlConn) QueryRow(ctx context.Context, query string, args ...any) Row {
	return c.db.QueryRowContext(ctx, query, args...)
}
