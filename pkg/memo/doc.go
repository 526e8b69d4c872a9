// Package memo implements the write path of the knowledge base: every
// memo mutation goes through a Repository that keeps the relational store
// and the vector store consistent.
//
// Invariants:
//   - The relational transaction is the durability boundary. A memo exists
//     iff its relational row committed.
//   - Vector writes happen after the relational commit and never roll it
//     back. A failed vector write is reported to the caller as a
//     WriteError in the "vector" stage while the committed row stays; the
//     reconciler repairs the gap.
//   - Side effects (tag name resolution, usage counters, relation edges)
//     are best-effort and never fail the operation.
package memo
