package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ximing/aimo/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass and exit",
	Long: `Run one reconciliation pass and exit.
Memos without a vector row are re-embedded; vector rows without a memo
are removed. Prints a JSON report.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
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

	embedder, closeEmbedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	report, err := reconcile.New(storage.Relational, storage.Vectors, embedder, log.Zerolog()).Run(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
