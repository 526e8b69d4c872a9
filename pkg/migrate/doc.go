// Package migrate versions vector store tables through ordered, idempotent
// data-transform scripts. The vector engine has no native ALTER, so every
// schema change is an Up function that must tolerate the target state
// already existing.
//
// Invariants:
// - Registered versions per table are contiguous starting at 1.
// - Migrations apply strictly in ascending version order; the recorded
//   version always reflects the last successful apply.
// - A failed apply stops the batch for that table; other tables still run.
//
// Usage:
//
//	reg, _ := migrate.NewRegistry(migs...)
//	mgr := migrate.NewManager(reg, conn, migrate.Options{}, logger)
//	if err := mgr.Initialize(ctx); err != nil { ... }
package migrate
