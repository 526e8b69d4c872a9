package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ximing/aimo/pkg/migrate"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending vector store migrations",
	Long: `Apply pending vector store migrations.
Each table migrates independently; a failure in one table does not stop
the others, and a partially migrated table resumes from its recorded
version on the next run.`,
	RunE: runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version per table",
	RunE:  runMigrateStatus,
}

var migrateValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every table is at its latest version",
	RunE:  runMigrateValidate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "log pending migrations without applying them")
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateValidateCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withManager opens storage and hands a configured manager to fn
func withManager(opts migrate.Options, fn func(ctx context.Context, m *migrate.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := context.Background()
	storage, err := openStorage(ctx, cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer storage.Close()

	registry, err := migrate.NewRegistry(storage.Migrations...)
	if err != nil {
		return err
	}
	return fn(ctx, migrate.NewManager(registry, storage.MigrateConn, opts, log.Zerolog()))
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withManager(migrate.Options{DryRun: migrateDryRun, Verbose: true},
		func(ctx context.Context, m *migrate.Manager) error {
			if err := m.Initialize(ctx); err != nil {
				return err
			}
			if migrateDryRun {
				fmt.Println("Dry run complete; no migrations were applied")
			} else {
				fmt.Println("Migrations applied")
			}
			return nil
		})
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	return withManager(migrate.Options{},
		func(ctx context.Context, m *migrate.Manager) error {
			status, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for table, version := range status {
				fmt.Printf("%s: version %d\n", table, version)
			}
			return nil
		})
}

func runMigrateValidate(cmd *cobra.Command, args []string) error {
	return withManager(migrate.Options{},
		func(ctx context.Context, m *migrate.Manager) error {
			report, err := m.Validate(ctx)
			if err != nil {
				return err
			}
			if !report.Valid {
				for _, msg := range report.Errors {
					fmt.Println(msg)
				}
				return fmt.Errorf("migration state is invalid")
			}
			fmt.Println("All tables are at their latest version")
			return nil
		})
}
