package memo

import (
	"context"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/observability"
	"github.com/ximing/aimo/pkg/store"
)

// MaxContentLength caps memo content size
const MaxContentLength = 100_000

// Repository coordinates memo writes across the relational and vector
// stores. See the package doc for the consistency contract.
type Repository struct {
	rel      store.RelationalStore
	vec      store.VectorTable
	embedder Embedder
	logger   zerolog.Logger

	// injectable for tests
	now   func() time.Time
	newID func() (string, error)
}

// NewRepository wires a repository over the given stores
func NewRepository(rel store.RelationalStore, vec store.VectorTable, embedder Embedder, logger zerolog.Logger) *Repository {
	return &Repository{
		rel:      rel,
		vec:      vec,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
		newID:    func() (string, error) { return gonanoid.New() },
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return validationErr("content must not be empty")
	}
	if len(content) > MaxContentLength {
		return validationErr("content exceeds %d bytes", MaxContentLength)
	}
	return nil
}

// Create stores a new memo. The embedding is generated before anything is
// written, so an embedding failure leaves both stores untouched. The
// relational insert is the commit point; a vector write failure after it
// surfaces as an error but the committed row stays, and tag counter or
// relation failures never fail the call at all.
func (r *Repository) Create(ctx context.Context, input CreateInput) (*Memo, error) {
	start := r.now()

	if input.UID == "" {
		return nil, validationErr("uid is required")
	}
	if err := validateContent(input.Content); err != nil {
		return nil, err
	}
	if input.CategoryID != "" {
		if _, err := r.rel.GetCategory(ctx, input.CategoryID); err != nil {
			return nil, validationErr("unknown category %q", input.CategoryID)
		}
	}

	embedding, err := r.embedder.Embed(ctx, input.Content)
	if err != nil {
		observability.RecordMemoWrite("create", "error", r.now().Sub(start))
		return nil, &WriteError{Stage: "embedding", Err: err}
	}

	tags := r.resolveTags(ctx, input.UID, input.TagNames)

	memoID, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate memo id: %w", err)
	}

	now := r.now()
	record := &store.MemoRecord{
		MemoID:        memoID,
		UID:           input.UID,
		Content:       input.Content,
		CategoryID:    input.CategoryID,
		TagIDs:        tagIDs(tags),
		AttachmentIDs: input.AttachmentIDs,
		IsPublic:      input.IsPublic,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.rel.WithTx(ctx, func(tx store.MemoTx) error {
		return tx.InsertMemo(ctx, record)
	}); err != nil {
		observability.RecordMemoWrite("create", "error", r.now().Sub(start))
		return nil, &WriteError{Stage: "relational", Err: err}
	}

	// committed; the memo survives whatever happens below
	if err := r.writeVector(ctx, store.MemoVectorRecord{MemoID: memoID, UID: input.UID, Embedding: embedding}, false); err != nil {
		observability.RecordMemoWrite("create", "error", r.now().Sub(start))
		return nil, err
	}
	r.adjustTagUsage(ctx, record.TagIDs, 1)
	for _, target := range input.RelatedMemoIDs {
		r.createRelation(ctx, memoID, target)
	}

	observability.RecordMemoWrite("create", "ok", r.now().Sub(start))
	r.logger.Info().Str("memo_id", memoID).Str("uid", input.UID).Msg("Memo created")
	return r.materialize(ctx, record, tags)
}

// Get returns one memo with tags resolved
func (r *Repository) Get(ctx context.Context, memoID string) (*Memo, error) {
	record, err := r.rel.GetMemo(ctx, memoID)
	if err != nil {
		return nil, err
	}
	return r.materialize(ctx, record, nil)
}

// Update applies a partial update. Only a content change re-embeds; tag
// changes adjust usage counters by the delta between old and new sets.
func (r *Repository) Update(ctx context.Context, memoID string, input UpdateInput) (*Memo, error) {
	start := r.now()

	record, err := r.rel.GetMemo(ctx, memoID)
	if err != nil {
		return nil, err
	}

	contentChanged := input.Content != nil && *input.Content != record.Content
	if input.Content != nil {
		if err := validateContent(*input.Content); err != nil {
			return nil, err
		}
		record.Content = *input.Content
	}
	if input.CategoryID != nil {
		if *input.CategoryID != "" {
			if _, err := r.rel.GetCategory(ctx, *input.CategoryID); err != nil {
				return nil, validationErr("unknown category %q", *input.CategoryID)
			}
		}
		record.CategoryID = *input.CategoryID
	}
	if input.AttachmentIDs != nil {
		record.AttachmentIDs = *input.AttachmentIDs
	}
	if input.IsPublic != nil {
		record.IsPublic = *input.IsPublic
	}

	var embedding []float32
	if contentChanged {
		embedding, err = r.embedder.Embed(ctx, record.Content)
		if err != nil {
			observability.RecordMemoWrite("update", "error", r.now().Sub(start))
			return nil, &WriteError{Stage: "embedding", Err: err}
		}
	}

	oldTagIDs := record.TagIDs
	var tags []*store.TagRecord
	if input.TagNames != nil {
		tags = r.resolveTags(ctx, record.UID, *input.TagNames)
		record.TagIDs = tagIDs(tags)
	}

	record.UpdatedAt = r.now()

	if err := r.rel.WithTx(ctx, func(tx store.MemoTx) error {
		return tx.UpdateMemo(ctx, record)
	}); err != nil {
		observability.RecordMemoWrite("update", "error", r.now().Sub(start))
		return nil, &WriteError{Stage: "relational", Err: err}
	}

	if contentChanged {
		if err := r.writeVector(ctx, store.MemoVectorRecord{MemoID: memoID, UID: record.UID, Embedding: embedding}, true); err != nil {
			observability.RecordMemoWrite("update", "error", r.now().Sub(start))
			return nil, err
		}
	}
	if input.TagNames != nil {
		added, removed := diffIDs(oldTagIDs, record.TagIDs)
		r.adjustTagUsage(ctx, added, 1)
		r.adjustTagUsage(ctx, removed, -1)
	}

	observability.RecordMemoWrite("update", "ok", r.now().Sub(start))
	r.logger.Info().Str("memo_id", memoID).Bool("re_embedded", contentChanged).Msg("Memo updated")
	return r.materialize(ctx, record, tags)
}

// Delete removes a memo from both stores along with its relation edges
func (r *Repository) Delete(ctx context.Context, memoID string) error {
	start := r.now()

	record, err := r.rel.GetMemo(ctx, memoID)
	if err != nil {
		return err
	}

	if err := r.rel.WithTx(ctx, func(tx store.MemoTx) error {
		return tx.DeleteMemo(ctx, memoID)
	}); err != nil {
		observability.RecordMemoWrite("delete", "error", r.now().Sub(start))
		return &WriteError{Stage: "relational", Err: err}
	}

	var vecErr error
	if err := r.vec.Delete(ctx, memoID); err != nil {
		observability.RecordVectorWriteError()
		r.logger.Error().Err(err).Str("memo_id", memoID).Msg("Vector delete failed; reconciler will remove the orphan")
		vecErr = &WriteError{Stage: "vector", Err: err}
	}
	if err := r.rel.DeleteRelationsFor(ctx, memoID); err != nil {
		observability.RecordSideEffectError("relations")
		r.logger.Warn().Err(err).Str("memo_id", memoID).Msg("Relation cleanup failed")
	}
	r.adjustTagUsage(ctx, record.TagIDs, -1)

	if vecErr != nil {
		observability.RecordMemoWrite("delete", "error", r.now().Sub(start))
		return vecErr
	}

	observability.RecordMemoWrite("delete", "ok", r.now().Sub(start))
	r.logger.Info().Str("memo_id", memoID).Msg("Memo deleted")
	return nil
}

// List pages through a user's memos newest first
func (r *Repository) List(ctx context.Context, uid string, opts ListOptions) ([]*Memo, int, error) {
	records, total, err := r.rel.ListMemos(ctx, uid, opts.Filter, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}

	memos, err := r.materializeAll(ctx, records)
	if err != nil {
		return nil, 0, err
	}
	return memos, total, nil
}

// writeVector pushes an embedding after the relational commit. A failure
// is returned to the caller; the committed row is never rolled back, the
// reconciler restores the missing vector later.
func (r *Repository) writeVector(ctx context.Context, rec store.MemoVectorRecord, replace bool) error {
	var err error
	if replace {
		err = r.vec.Upsert(ctx, rec)
	} else {
		err = r.vec.Add(ctx, rec)
	}
	if err != nil {
		observability.RecordVectorWriteError()
		r.logger.Error().Err(err).Str("memo_id", rec.MemoID).Msg("Vector write failed; memo is unsearchable until reconciled")
		return &WriteError{Stage: "vector", Err: err}
	}
	return nil
}

// resolveTags maps tag names to records one name at a time. A name that
// fails to resolve is logged and skipped; the write proceeds with the
// tags that did resolve.
func (r *Repository) resolveTags(ctx context.Context, uid string, names []string) []*store.TagRecord {
	tags := make([]*store.TagRecord, 0, len(names))
	for _, name := range names {
		resolved, err := r.rel.ResolveTags(ctx, uid, []string{name})
		if err != nil {
			observability.RecordSideEffectError("tag_resolve")
			r.logger.Warn().Err(err).Str("tag", name).Msg("Tag resolution failed; memo proceeds without it")
			continue
		}
		tags = append(tags, resolved...)
	}
	return tags
}

func (r *Repository) adjustTagUsage(ctx context.Context, ids []string, delta int) {
	if len(ids) == 0 {
		return
	}
	if err := r.rel.AdjustTagUsage(ctx, ids, delta); err != nil {
		observability.RecordSideEffectError("tag_usage")
		r.logger.Warn().Err(err).Int("delta", delta).Msg("Tag usage update failed")
	}
}

func (r *Repository) createRelation(ctx context.Context, source, target string) {
	err := r.rel.CreateRelation(ctx, &store.RelationRecord{SourceID: source, TargetID: target})
	if err != nil {
		observability.RecordSideEffectError("relations")
		r.logger.Warn().Err(err).Str("source", source).Str("target", target).Msg("Relation create failed")
	}
}

// materialize builds the caller-facing view. tags may be pre-resolved;
// when nil they are fetched by id.
func (r *Repository) materialize(ctx context.Context, record *store.MemoRecord, tags []*store.TagRecord) (*Memo, error) {
	if tags == nil {
		var err error
		tags, err = r.rel.GetTagsByIDs(ctx, record.TagIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tags: %w", err)
		}
	}

	return &Memo{
		MemoID:        record.MemoID,
		UID:           record.UID,
		Content:       record.Content,
		CategoryID:    record.CategoryID,
		Tags:          tags,
		AttachmentIDs: record.AttachmentIDs,
		IsPublic:      record.IsPublic,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}, nil
}

// materializeAll resolves tags for a batch with one query
func (r *Repository) materializeAll(ctx context.Context, records []*store.MemoRecord) ([]*Memo, error) {
	idSet := make(map[string]struct{})
	for _, rec := range records {
		for _, id := range rec.TagIDs {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	tags, err := r.rel.GetTagsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", err)
	}
	byID := make(map[string]*store.TagRecord, len(tags))
	for _, tag := range tags {
		byID[tag.TagID] = tag
	}

	memos := make([]*Memo, 0, len(records))
	for _, rec := range records {
		memoTags := make([]*store.TagRecord, 0, len(rec.TagIDs))
		for _, id := range rec.TagIDs {
			if tag, ok := byID[id]; ok {
				memoTags = append(memoTags, tag)
			}
		}
		m, err := r.materialize(ctx, rec, memoTags)
		if err != nil {
			return nil, err
		}
		memos = append(memos, m)
	}
	return memos, nil
}

func tagIDs(tags []*store.TagRecord) []string {
	ids := make([]string, len(tags))
	for i, tag := range tags {
		ids[i] = tag.TagID
	}
	return ids
}

// diffIDs returns ids present only in b (added) and only in a (removed)
func diffIDs(a, b []string) (added, removed []string) {
	inA := make(map[string]struct{}, len(a))
	for _, id := range a {
		inA[id] = struct{}{}
	}
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}

	for _, id := range b {
		if _, ok := inA[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
