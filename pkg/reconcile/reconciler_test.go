package reconcile

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

type testEnv struct {
	rec      *Reconciler
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
		rec:      New(rel, vec, embedder, zerolog.Nop()),
		rel:      rel,
		vec:      vec,
		embedder: embedder,
	}
}

func (env *testEnv) insertMemo(t *testing.T, id, content string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, env.rel.WithTx(ctx, func(tx store.MemoTx) error {
		return tx.InsertMemo(ctx, &store.MemoRecord{
			MemoID: id, UID: "u1", Content: content, CreatedAt: now, UpdatedAt: now,
		})
	}))
}

func TestRun_NothingToRepair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.insertMemo(t, "m1", "hello")
	require.NoError(t, env.vec.Add(ctx, store.MemoVectorRecord{MemoID: "m1", UID: "u1", Embedding: []float32{1, 0, 0, 0}}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Zero(t, report.MissingRepaired)
	assert.Zero(t, report.OrphansRemoved)
	assert.Zero(t, env.embedder.calls)
}

func TestRun_RepairsMissingVector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.insertMemo(t, "m1", "lost my vector")

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MissingRepaired)
	assert.Zero(t, report.Failures)

	rec, err := env.vec.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UID)
	assert.Len(t, rec.Embedding, testDimension)
}

func TestRun_RemovesOrphanVector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.vec.Add(ctx, store.MemoVectorRecord{MemoID: "ghost", Embedding: []float32{1, 0, 0, 0}}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRemoved)

	n, err := env.vec.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_CountsFailuresAndContinues(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.fail = true
	ctx := context.Background()

	env.insertMemo(t, "m1", "cannot embed")
	require.NoError(t, env.vec.Add(ctx, store.MemoVectorRecord{MemoID: "ghost", Embedding: []float32{1, 0, 0, 0}}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures, "embed failure is counted, not fatal")
	assert.Equal(t, 1, report.OrphansRemoved, "orphan sweep still ran")
}

func TestRun_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.insertMemo(t, "m1", "repair me")

	_, err := env.rec.Run(ctx)
	require.NoError(t, err)

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.MissingRepaired)
	assert.Equal(t, 1, env.embedder.calls, "second pass found nothing to do")
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.rec.Start("@every 1h"))
	assert.Error(t, env.rec.Start("@every 1h"), "double start is rejected")
	env.rec.Stop()

	// restart after stop is allowed
	require.NoError(t, env.rec.Start("@every 1h"))
	env.rec.Stop()

	assert.Error(t, env.rec.Start("not a schedule"))
}
