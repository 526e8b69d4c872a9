package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(t *testing.T) Conn {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "migrate-test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})

	return NewSQLConn(db)
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

// createTableMigration returns a defensive migration that creates a table
func createTableMigration(table string, version int, ddl string) Migration {
	return Migration{
		Version:     version,
		Table:       table,
		Description: fmt.Sprintf("step v%d for %s", version, table),
		Up: func(ctx context.Context, conn Conn) error {
			return conn.Exec(ctx, ddl)
		},
	}
}

func TestInitialize_ScenarioWidgets(t *testing.T) {
	conn := testConn(t)

	reg, err := NewRegistry(
		createTableMigration("widgets", 1, "CREATE TABLE IF NOT EXISTS widgets (id TEXT PRIMARY KEY)"),
		Migration{
			Version: 2, Table: "widgets", Description: "add column x",
			Up: func(ctx context.Context, conn Conn) error {
				err := conn.Exec(ctx, "ALTER TABLE widgets ADD COLUMN x INTEGER")
				if err != nil && isDuplicateColumn(err) {
					return nil
				}
				return err
			},
		},
	)
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{}, testLogger())
	require.NoError(t, mgr.Initialize(context.Background()))

	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"widgets": 2}, status)

	report, err := mgr.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
}

func isDuplicateColumn(err error) bool {
	return err != nil &&
		(strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists"))
}

func TestInitialize_Idempotent(t *testing.T) {
	conn := testConn(t)

	applies := 0
	reg, err := NewRegistry(Migration{
		Version: 1, Table: "widgets",
		Up: func(ctx context.Context, conn Conn) error {
			applies++
			return conn.Exec(ctx, "CREATE TABLE IF NOT EXISTS widgets (id TEXT)")
		},
	})
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{}, testLogger())
	require.NoError(t, mgr.Initialize(context.Background()))
	require.NoError(t, mgr.Initialize(context.Background()))

	// second run short-circuits on currentVersion == latest
	assert.Equal(t, 1, applies)

	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status["widgets"])
}

func TestApply_StopsOnFailure(t *testing.T) {
	conn := testConn(t)

	var applied []int
	step := func(version int, fail bool) Migration {
		return Migration{
			Version: version, Table: "widgets",
			Up: func(ctx context.Context, conn Conn) error {
				if fail {
					return errors.New("boom")
				}
				applied = append(applied, version)
				return nil
			},
		}
	}

	reg, err := NewRegistry(
		step(1, false), step(2, false), step(3, false), step(4, true), step(5, false),
	)
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{}, testLogger())
	err = mgr.Initialize(context.Background())
	require.Error(t, err)

	var mErr *Error
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, "widgets", mErr.Table)
	assert.Equal(t, 4, mErr.Version)

	// v5 never ran, metadata reflects the last success
	assert.Equal(t, []int{1, 2, 3}, applied)
	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status["widgets"])

	report, err := mgr.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "widgets")
}

func TestInitialize_ResumesAfterPartialFailure(t *testing.T) {
	conn := testConn(t)

	shouldFail := true
	step := func(version int, failable bool) Migration {
		return Migration{
			Version: version, Table: "widgets",
			Up: func(ctx context.Context, conn Conn) error {
				if failable && shouldFail {
					return errors.New("transient")
				}
				return nil
			},
		}
	}

	reg, err := NewRegistry(step(1, false), step(2, true), step(3, false))
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{}, testLogger())
	require.Error(t, mgr.Initialize(context.Background()))

	// re-attempt picks up from v2
	shouldFail = false
	require.NoError(t, mgr.Initialize(context.Background()))

	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status["widgets"])
}

func TestInitialize_TablesAreIndependent(t *testing.T) {
	conn := testConn(t)

	gadgetsRan := false
	reg, err := NewRegistry(
		Migration{
			Version: 1, Table: "widgets",
			Up: func(ctx context.Context, conn Conn) error { return errors.New("boom") },
		},
		Migration{
			Version: 1, Table: "gadgets",
			Up: func(ctx context.Context, conn Conn) error {
				gadgetsRan = true
				return nil
			},
		},
	)
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{}, testLogger())
	err = mgr.Initialize(context.Background())
	require.Error(t, err)

	// the widgets failure did not block gadgets
	assert.True(t, gadgetsRan)
	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status["widgets"])
	assert.Equal(t, 1, status["gadgets"])
}

func TestInitialize_DryRun(t *testing.T) {
	conn := testConn(t)

	applies := 0
	reg, err := NewRegistry(Migration{
		Version: 1, Table: "widgets",
		Up: func(ctx context.Context, conn Conn) error {
			applies++
			return nil
		},
	})
	require.NoError(t, err)

	mgr := NewManager(reg, conn, Options{DryRun: true}, testLogger())
	require.NoError(t, mgr.Initialize(context.Background()))

	assert.Equal(t, 0, applies)
	status, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status["widgets"])
}

func TestCurrentVersion_NoRowIsZero(t *testing.T) {
	conn := testConn(t)
	exec := NewExecutor(testLogger())

	require.NoError(t, exec.EnsureMetadataTable(context.Background(), conn))
	// idempotent
	require.NoError(t, exec.EnsureMetadataTable(context.Background(), conn))

	v, err := exec.CurrentVersion(context.Background(), conn, "widgets")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
