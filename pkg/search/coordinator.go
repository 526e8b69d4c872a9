// Package search implements similarity search over memos: a kNN pass
// against the vector store followed by batched materialization from the
// relational store.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/observability"
	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/store"
)

// Options narrows and pages a search. Page is 1-based.
type Options struct {
	Filter store.MemoFilter
	Limit  int
	Page   int
}

// Result is one hit: the memo enriched with tags and relation edges, and
// a relevance score in [0, 1] derived from cosine distance.
type Result struct {
	Memo      *memo.Memo              `json:"memo"`
	Relevance float64                 `json:"relevance"`
	Relations []*store.RelationRecord `json:"relations"`
}

// Pagination describes the returned page. Total counts filter-matching
// rows among the neighbors fetched so far (limit*page of them), so it is
// an approximation, not a corpus-wide count.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

// Response is a page of search results
type Response struct {
	Results    []Result   `json:"results"`
	Pagination Pagination `json:"pagination"`
}

// Coordinator joins the vector and relational stores for reads
type Coordinator struct {
	rel      store.RelationalStore
	vec      store.VectorTable
	embedder memo.Embedder
	logger   zerolog.Logger

	defaultLimit int
	maxLimit     int
}

// NewCoordinator wires a search coordinator. defaultLimit applies when a
// query asks for no limit; maxLimit caps what a query may ask for.
func NewCoordinator(rel store.RelationalStore, vec store.VectorTable, embedder memo.Embedder, defaultLimit, maxLimit int, logger zerolog.Logger) *Coordinator {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &Coordinator{
		rel:          rel,
		vec:          vec,
		embedder:     embedder,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (c *Coordinator) clampLimit(limit int) int {
	if limit <= 0 {
		return c.defaultLimit
	}
	if limit > c.maxLimit {
		return c.maxLimit
	}
	return limit
}

// maxWindow bounds the kNN fetch so a huge page number from a query
// parameter cannot balloon the neighbor list or the placeholder set that
// materializes it. Pages past the cap come back empty.
const maxWindow = 1000

func (c *Coordinator) window(page, limit int) int {
	k := page * limit
	if k > maxWindow {
		return maxWindow
	}
	return k
}

// relevance converts a cosine distance in [0, 2] to a score in [0, 1]
func relevance(distance float64) float64 {
	score := 1 - distance/2
	return math.Max(0, math.Min(1, score))
}

// Search embeds the query and returns uid's nearest memos. The kNN window
// covers page*limit neighbors; the page is cut from that window before
// relational filters apply, so a filtered page may hold fewer than limit
// results even when more matches exist deeper in the index. That is the
// intended trade: pages stay stable under concurrent writes and the
// vector layer never needs a per-user partition.
func (c *Coordinator) Search(ctx context.Context, uid, query string, opts Options) (*Response, error) {
	start := time.Now()

	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", memo.ErrValidation)
	}
	limit := c.clampLimit(opts.Limit)
	page := opts.Page
	if page < 1 {
		page = 1
	}

	embedding, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := c.vec.Search(ctx, embedding, c.window(page, limit))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	resp, err := c.paginate(ctx, uid, matches, opts.Filter, page, limit)
	if err != nil {
		return nil, err
	}

	observability.RecordSearch(time.Since(start), len(resp.Results))
	c.logger.Debug().Str("uid", uid).Int("results", len(resp.Results)).Msg("Search completed")
	return resp, nil
}

// FindRelated returns memos similar to an existing memo, excluding the
// memo itself. A memo with no vector row (a reconciliation gap) yields
// store.ErrNotFound.
func (c *Coordinator) FindRelated(ctx context.Context, uid, memoID string, limit, page int) (*Response, error) {
	limit = c.clampLimit(limit)
	if page < 1 {
		page = 1
	}

	seed, err := c.vec.Get(ctx, memoID)
	if err != nil {
		return nil, err
	}

	// one extra neighbor since the seed memo matches itself at distance 0
	matches, err := c.vec.Search(ctx, seed.Embedding, c.window(page, limit)+1)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	filtered := make([]store.VectorMatch, 0, len(matches))
	for _, m := range matches {
		if m.MemoID != memoID {
			filtered = append(filtered, m)
		}
	}

	return c.paginate(ctx, uid, filtered, store.MemoFilter{}, page, limit)
}

// paginate fetches the relational rows for every match, counts the
// filter survivors as the approximate total, then cuts the page out of
// the distance-ordered match list. The cut happens on vector order, so
// rows filtered out of earlier pages do not shift later ones.
func (c *Coordinator) paginate(ctx context.Context, uid string, matches []store.VectorMatch, filter store.MemoFilter, page, limit int) (*Response, error) {
	ids := make([]string, len(matches))
	distance := make(map[string]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.MemoID
		distance[m.MemoID] = m.Distance
	}

	records, err := c.rel.GetMemosByIDs(ctx, uid, ids, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize matches: %w", err)
	}
	byID := make(map[string]*store.MemoRecord, len(records))
	for _, rec := range records {
		byID[rec.MemoID] = rec
	}
	total := len(records)

	lo := (page - 1) * limit
	hi := page * limit
	if lo > len(matches) {
		lo = len(matches)
	}
	if hi > len(matches) {
		hi = len(matches)
	}

	window := make([]*store.MemoRecord, 0, hi-lo)
	for _, m := range matches[lo:hi] {
		if rec, ok := byID[m.MemoID]; ok {
			window = append(window, rec)
		}
	}

	results, err := c.enrich(ctx, window, distance)
	if err != nil {
		return nil, err
	}

	return &Response{
		Results: results,
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// enrich attaches tags (one batch query) and relation edges (per item,
// degrading to empty) and orders by relevance descending
func (c *Coordinator) enrich(ctx context.Context, records []*store.MemoRecord, distance map[string]float64) ([]Result, error) {
	tagsByID, err := c.fetchTags(ctx, records)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		memoTags := make([]*store.TagRecord, 0, len(rec.TagIDs))
		for _, id := range rec.TagIDs {
			if tag, ok := tagsByID[id]; ok {
				memoTags = append(memoTags, tag)
			}
		}

		results = append(results, Result{
			Memo: &memo.Memo{
				MemoID:        rec.MemoID,
				UID:           rec.UID,
				Content:       rec.Content,
				CategoryID:    rec.CategoryID,
				Tags:          memoTags,
				AttachmentIDs: rec.AttachmentIDs,
				IsPublic:      rec.IsPublic,
				CreatedAt:     rec.CreatedAt,
				UpdatedAt:     rec.UpdatedAt,
			},
			Relevance: relevance(distance[rec.MemoID]),
			Relations: c.fetchRelations(ctx, rec.MemoID),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	return results, nil
}

func (c *Coordinator) fetchTags(ctx context.Context, records []*store.MemoRecord) (map[string]*store.TagRecord, error) {
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

	tags, err := c.rel.GetTagsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", err)
	}
	byID := make(map[string]*store.TagRecord, len(tags))
	for _, tag := range tags {
		byID[tag.TagID] = tag
	}
	return byID, nil
}

// fetchRelations collects edges in both directions, degrading to empty
func (c *Coordinator) fetchRelations(ctx context.Context, memoID string) []*store.RelationRecord {
	from, err := c.rel.RelationsFrom(ctx, memoID)
	if err != nil {
		c.logger.Warn().Err(err).Str("memo_id", memoID).Msg("Relation enrichment failed")
		return []*store.RelationRecord{}
	}
	to, err := c.rel.RelationsTo(ctx, memoID)
	if err != nil {
		c.logger.Warn().Err(err).Str("memo_id", memoID).Msg("Relation enrichment failed")
		return from
	}
	return append(from, to...)
}
