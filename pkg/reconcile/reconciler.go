// Package reconcile repairs drift between the relational and vector
// stores. Vector writes are best-effort, so two kinds of gaps accumulate:
// memos with no vector row (unsearchable) and vector rows whose memo is
// gone (phantom hits). The reconciler closes both.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/observability"
	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/store"
)

// Report summarizes one reconciliation pass
type Report struct {
	Scanned         int `json:"scanned"`
	MissingRepaired int `json:"missing_repaired"`
	OrphansRemoved  int `json:"orphans_removed"`
	Failures        int `json:"failures"`
}

// Reconciler scans both stores and repairs inconsistencies
type Reconciler struct {
	rel      store.RelationalStore
	vec      store.VectorTable
	embedder memo.Embedder
	logger   zerolog.Logger

	cron *cron.Cron
}

// New wires a reconciler over the given stores
func New(rel store.RelationalStore, vec store.VectorTable, embedder memo.Embedder, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		rel:      rel,
		vec:      vec,
		embedder: embedder,
		logger:   logger,
	}
}

// Run performs one full pass. Per-memo failures are counted and logged
// but do not stop the scan; the returned error covers only a failure to
// enumerate either store.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	relIDs, err := r.rel.MemoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	vecIDs, err := r.vec.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector rows: %w", err)
	}

	inRel := make(map[string]struct{}, len(relIDs))
	for _, id := range relIDs {
		inRel[id] = struct{}{}
	}
	inVec := make(map[string]struct{}, len(vecIDs))
	for _, id := range vecIDs {
		inVec[id] = struct{}{}
	}

	report := &Report{Scanned: len(relIDs)}

	for _, id := range relIDs {
		if _, ok := inVec[id]; ok {
			continue
		}
		if err := r.repairMissing(ctx, id); err != nil {
			report.Failures++
			r.logger.Error().Err(err).Str("memo_id", id).Msg("Failed to repair missing vector")
			continue
		}
		report.MissingRepaired++
		observability.RecordReconcilerRepair("missing_vector")
	}

	for _, id := range vecIDs {
		if _, ok := inRel[id]; ok {
			continue
		}
		if err := r.vec.Delete(ctx, id); err != nil {
			report.Failures++
			r.logger.Error().Err(err).Str("memo_id", id).Msg("Failed to remove orphan vector")
			continue
		}
		report.OrphansRemoved++
		observability.RecordReconcilerRepair("orphan_vector")
	}

	r.logger.Info().
		Int("scanned", report.Scanned).
		Int("missing_repaired", report.MissingRepaired).
		Int("orphans_removed", report.OrphansRemoved).
		Int("failures", report.Failures).
		Msg("Reconciliation pass completed")
	return report, nil
}

// repairMissing re-embeds a memo and restores its vector row
func (r *Reconciler) repairMissing(ctx context.Context, memoID string) error {
	record, err := r.rel.GetMemo(ctx, memoID)
	if err != nil {
		// deleted between the scan and the repair
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	embedding, err := r.embedder.Embed(ctx, record.Content)
	if err != nil {
		return fmt.Errorf("failed to embed memo: %w", err)
	}

	return r.vec.Add(ctx, store.MemoVectorRecord{
		MemoID:    record.MemoID,
		UID:       record.UID,
		Embedding: embedding,
	})
}

// Start schedules periodic passes with a cron expression (robfig/cron
// syntax, @every included). It returns after scheduling; passes run on
// the cron goroutine.
func (r *Reconciler) Start(schedule string) error {
	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.Error().Err(err).Msg("Scheduled reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconciler schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.Info().Str("schedule", schedule).Msg("Reconciler started")
	return nil
}

// Stop halts scheduled passes, waiting for a running pass to finish
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
	r.logger.Info().Msg("Reconciler stopped")
}
