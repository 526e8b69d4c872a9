package store

import "context"

// RelationalStore is the scalar side of the hybrid engine. Implementations
// must keep each call atomic; cross-call consistency with the vector store
// is the repository's concern, not the store's.
type RelationalStore interface {
	// WithTx runs fn inside a transaction, committing on nil return and
	// rolling back on error.
	WithTx(ctx context.Context, fn func(tx MemoTx) error) error

	GetMemo(ctx context.Context, memoID string) (*MemoRecord, error)
	// GetMemosByIDs fetches the given memos owned by uid that pass filter.
	// Missing or filtered-out ids are silently absent from the result.
	GetMemosByIDs(ctx context.Context, uid string, ids []string, filter MemoFilter) ([]*MemoRecord, error)
	ListMemos(ctx context.Context, uid string, filter MemoFilter, limit, offset int) ([]*MemoRecord, int, error)
	// MemoIDs returns every memo id in the store, for reconciliation scans.
	MemoIDs(ctx context.Context) ([]string, error)

	// ResolveTags maps tag names to records, creating missing tags for uid.
	ResolveTags(ctx context.Context, uid string, names []string) ([]*TagRecord, error)
	GetTagsByIDs(ctx context.Context, ids []string) ([]*TagRecord, error)
	// AdjustTagUsage shifts usage_count by delta for each tag, clamped at zero.
	AdjustTagUsage(ctx context.Context, ids []string, delta int) error

	GetCategory(ctx context.Context, categoryID string) (*CategoryRecord, error)

	CreateRelation(ctx context.Context, rel *RelationRecord) error
	// DeleteRelationsFor removes edges where memoID is source or target.
	DeleteRelationsFor(ctx context.Context, memoID string) error
	RelationsFrom(ctx context.Context, memoID string) ([]*RelationRecord, error)
	RelationsTo(ctx context.Context, memoID string) ([]*RelationRecord, error)

	Close() error
}

// MemoTx is the transactional surface for memo row mutations
type MemoTx interface {
	InsertMemo(ctx context.Context, m *MemoRecord) error
	UpdateMemo(ctx context.Context, m *MemoRecord) error
	DeleteMemo(ctx context.Context, memoID string) error
}

// VectorTable is the vector side of the hybrid engine: one row per memo,
// nearest-neighbor search ascending by distance.
type VectorTable interface {
	Add(ctx context.Context, recs ...MemoVectorRecord) error
	// Upsert guarantees exactly one vector row per memo id after the call.
	Upsert(ctx context.Context, rec MemoVectorRecord) error
	Delete(ctx context.Context, memoID string) error
	Get(ctx context.Context, memoID string) (*MemoVectorRecord, error)
	Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error)
	IDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}
