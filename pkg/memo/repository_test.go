package memo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ximing/aimo/pkg/migrate"
	"github.com/ximing/aimo/pkg/store"
)

const testDimension = 4

// staticEmbedder derives a deterministic unit vector from the content so
// different texts get different embeddings without a network call.
type staticEmbedder struct {
	calls int
	fail  bool
}

func (e *staticEmbedder) Dimension() int { return testDimension }

func (e *staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, assert.AnError
	}
	v := make([]float32, testDimension)
	for i, c := range []byte(text) {
		v[i%testDimension] += float32(c) / 255
	}
	return v, nil
}

// failingVectorTable rejects every write so tests can observe the
// commit-then-report behavior.
type failingVectorTable struct {
	store.VectorTable
}

func (failingVectorTable) Add(context.Context, ...store.MemoVectorRecord) error {
	return assert.AnError
}

func (failingVectorTable) Upsert(context.Context, store.MemoVectorRecord) error {
	return assert.AnError
}

func (failingVectorTable) Delete(context.Context, string) error {
	return assert.AnError
}

// flakyTagStore fails tag resolution for chosen names while delegating
// everything else to the real store.
type flakyTagStore struct {
	store.RelationalStore
	failNames map[string]bool
}

func (s flakyTagStore) ResolveTags(ctx context.Context, uid string, names []string) ([]*store.TagRecord, error) {
	for _, name := range names {
		if s.failNames[name] {
			return nil, assert.AnError
		}
	}
	return s.RelationalStore.ResolveTags(ctx, uid, names)
}

type testEnv struct {
	repo     *Repository
	rel      *store.SQLiteStore
	vec      store.VectorTable
	embedder *staticEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	rel, err := store.NewSQLiteStore(filepath.Join(dir, "aimo.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	vdb, err := store.NewSQLiteVectorDB(filepath.Join(dir, "vectors.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { vdb.Close() })

	registry, err := migrate.NewRegistry(store.VectorMigrations(testDimension)...)
	require.NoError(t, err)
	manager := migrate.NewManager(registry, migrate.NewSQLConn(vdb.DB()), migrate.Options{}, zerolog.Nop())
	require.NoError(t, manager.Initialize(context.Background()))

	embedder := &staticEmbedder{}
	vec := vdb.MemoVectors()
	return &testEnv{
		repo:     NewRepository(rel, vec, embedder, zerolog.Nop()),
		rel:      rel,
		vec:      vec,
		embedder: embedder,
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{
		UID:      "u1",
		Content:  "remember to rotate the api keys",
		TagNames: []string{"ops", "security"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.MemoID)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	require.Len(t, created.Tags, 2)

	// readable from the relational side
	got, err := env.repo.Get(ctx, created.MemoID)
	require.NoError(t, err)
	assert.Equal(t, created.Content, got.Content)
	require.Len(t, got.Tags, 2)
	assert.Equal(t, "ops", got.Tags[0].Name)

	// vector row landed with the right dimension and owner
	rec, err := env.vec.Get(ctx, created.MemoID)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UID)
	assert.Len(t, rec.Embedding, testDimension)

	// tag usage counters moved
	tags, err := env.rel.GetTagsByIDs(ctx, []string{got.Tags[0].TagID})
	require.NoError(t, err)
	assert.Equal(t, 1, tags[0].UsageCount)
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.repo.Create(ctx, CreateInput{Content: "no owner"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.repo.Create(ctx, CreateInput{UID: "u1", Content: "x", CategoryID: "missing"})
	assert.ErrorIs(t, err, ErrValidation)

	// nothing reached either store
	ids, err := env.rel.MemoIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	n, err := env.vec.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Zero(t, env.embedder.calls, "validation rejects before embedding")
}

func TestCreate_EmbeddingFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.fail = true
	ctx := context.Background()

	_, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "hello"})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "embedding", writeErr.Stage)

	ids, err := env.rel.MemoIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreate_VectorFailureReportsButKeepsMemo(t *testing.T) {
	env := newTestEnv(t)
	env.repo.vec = failingVectorTable{env.vec}
	ctx := context.Background()

	_, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "survives"})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "vector", writeErr.Stage)

	// the relational commit stands; only the vector row is missing
	ids, err := env.rel.MemoIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	got, err := env.repo.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "survives", got.Content)

	n, err := env.vec.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the gap is left for the reconciler")
}

func TestUpdate_VectorFailureReportsButKeepsRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "before"})
	require.NoError(t, err)

	env.repo.vec = failingVectorTable{env.vec}
	newContent := "after"
	_, err = env.repo.Update(ctx, created.MemoID, UpdateInput{Content: &newContent})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "vector", writeErr.Stage)

	got, err := env.repo.Get(ctx, created.MemoID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Content, "relational update is already committed")
}

func TestDelete_VectorFailureReportsButRowIsGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "doomed", TagNames: []string{"t"}})
	require.NoError(t, err)

	env.repo.vec = failingVectorTable{env.vec}
	err = env.repo.Delete(ctx, created.MemoID)
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "vector", writeErr.Stage)

	_, err = env.repo.Get(ctx, created.MemoID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// side effects still ran despite the vector failure
	tags, err := env.rel.ResolveTags(ctx, "u1", []string{"t"})
	require.NoError(t, err)
	assert.Equal(t, 0, tags[0].UsageCount)
}

func TestCreate_TagResolutionDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.repo.rel = flakyTagStore{RelationalStore: env.rel, failNames: map[string]bool{"bad": true}}
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{
		UID:      "u1",
		Content:  "tagged anyway",
		TagNames: []string{"good", "bad"},
	})
	require.NoError(t, err, "a failed tag name does not fail the write")
	require.Len(t, created.Tags, 1)
	assert.Equal(t, "good", created.Tags[0].Name)
}

func TestCreate_WithRelations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "first"})
	require.NoError(t, err)

	second, err := env.repo.Create(ctx, CreateInput{
		UID:            "u1",
		Content:        "second",
		RelatedMemoIDs: []string{first.MemoID},
	})
	require.NoError(t, err)

	rels, err := env.rel.RelationsFrom(ctx, second.MemoID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, first.MemoID, rels[0].TargetID)
	assert.Equal(t, store.RelationTypeReference, rels[0].Type)
}

func TestUpdate_ContentReEmbeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "draft"})
	require.NoError(t, err)
	before, err := env.vec.Get(ctx, created.MemoID)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	newContent := "final version"
	updated, err := env.repo.Update(ctx, created.MemoID, UpdateInput{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, newContent, updated.Content)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.Equal(t, created.CreatedAt.UnixNano(), updated.CreatedAt.UnixNano())

	after, err := env.vec.Get(ctx, created.MemoID)
	require.NoError(t, err)
	assert.NotEqual(t, before.Embedding, after.Embedding)
	assert.Equal(t, 2, env.embedder.calls)
}

func TestUpdate_MetadataOnlySkipsEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "stable"})
	require.NoError(t, err)

	isPublic := true
	updated, err := env.repo.Update(ctx, created.MemoID, UpdateInput{IsPublic: &isPublic})
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, 1, env.embedder.calls, "metadata change does not re-embed")

	// same content re-submitted is also not re-embedded
	same := "stable"
	_, err = env.repo.Update(ctx, created.MemoID, UpdateInput{Content: &same})
	require.NoError(t, err)
	assert.Equal(t, 1, env.embedder.calls)
}

func TestUpdate_TagDeltas(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "x", TagNames: []string{"keep", "drop"}})
	require.NoError(t, err)

	newTags := []string{"keep", "new"}
	updated, err := env.repo.Update(ctx, created.MemoID, UpdateInput{TagNames: &newTags})
	require.NoError(t, err)
	require.Len(t, updated.Tags, 2)

	byName := make(map[string]int)
	all, err := env.rel.ResolveTags(ctx, "u1", []string{"keep", "drop", "new"})
	require.NoError(t, err)
	for _, tag := range all {
		byName[tag.Name] = tag.UsageCount
	}
	assert.Equal(t, 1, byName["keep"])
	assert.Equal(t, 0, byName["drop"])
	assert.Equal(t, 1, byName["new"])
}

func TestUpdate_NotFound(t *testing.T) {
	env := newTestEnv(t)
	content := "x"
	_, err := env.repo.Update(context.Background(), "missing", UpdateInput{Content: &content})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_RemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: "other"})
	require.NoError(t, err)
	created, err := env.repo.Create(ctx, CreateInput{
		UID:            "u1",
		Content:        "doomed",
		TagNames:       []string{"temp"},
		RelatedMemoIDs: []string{other.MemoID},
	})
	require.NoError(t, err)

	require.NoError(t, env.repo.Delete(ctx, created.MemoID))

	_, err = env.repo.Get(ctx, created.MemoID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.vec.Get(ctx, created.MemoID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rels, err := env.rel.RelationsFrom(ctx, created.MemoID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	tags, err := env.rel.ResolveTags(ctx, "u1", []string{"temp"})
	require.NoError(t, err)
	assert.Equal(t, 0, tags[0].UsageCount)

	assert.ErrorIs(t, env.repo.Delete(ctx, created.MemoID), store.ErrNotFound)
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := env.repo.Create(ctx, CreateInput{UID: "u1", Content: content, TagNames: []string{"t"}})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	memos, total, err := env.repo.List(ctx, "u1", ListOptions{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, memos, 2)
	assert.Equal(t, "three", memos[0].Content, "newest first")
	require.Len(t, memos[0].Tags, 1)
	assert.Equal(t, "t", memos[0].Tags[0].Name)
}

func TestDiffIDs(t *testing.T) {
	added, removed := diffIDs([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)

	added, removed = diffIDs(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
