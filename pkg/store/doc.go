// Package store provides the hybrid persistence layer: a relational store
// for scalar memo fields and a vector store for embeddings.
//
// Invariants:
// - Relational writes are transactional per call; the committed relational
//   row is the durability source of truth.
// - Vector writes are a best-effort projection of relational state and may
//   lag or be missing after partial failure; the reconciler repairs gaps.
// - Raw vector store rows cross into native Go types exactly once, at the
//   codec boundary in this package.
//
// Usage:
//
//	sctx, _ := store.Open(ctx, store.Config{Driver: "sqlite", Path: p, VectorPath: vp, Dimension: 1536}, logger)
//	defer sctx.Close()
package store
