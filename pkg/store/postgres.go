package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/ximing/aimo/pkg/migrate"
)

// PostgresStore implements RelationalStore and hosts the pgvector table.
// Both sides live in one database here, but the write paths stay split the
// same way as the sqlite backend: relational rows are transactional, vector
// rows are written separately and best-effort.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to the given database URL
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Msg("Postgres store opened")
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memos (
			memo_id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			content TEXT NOT NULL,
			category_id TEXT,
			tag_ids TEXT NOT NULL DEFAULT '[]',
			attachment_ids TEXT NOT NULL DEFAULT '[]',
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memos_uid_created ON memos(uid, created_at DESC);

		CREATE TABLE IF NOT EXISTS tags (
			tag_id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			name TEXT NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(uid, name)
		);

		CREATE TABLE IF NOT EXISTS categories (
			category_id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE(uid, name)
		);

		CREATE TABLE IF NOT EXISTS memo_relations (
			relation_id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE(source_id, target_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_source ON memo_relations(source_id);
		CREATE INDEX IF NOT EXISTS idx_relations_target ON memo_relations(target_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// MigrateConn returns a migration connection over the pool
func (s *PostgresStore) MigrateConn() migrate.Conn {
	return &pgxConn{pool: s.pool}
}

// MemoVectors returns the pgvector table handle
func (s *PostgresStore) MemoVectors() *PostgresVectorTable {
	return &PostgresVectorTable{pool: s.pool, logger: s.logger}
}

// pgxConn adapts the pool to migrate.Conn, rewriting ? placeholders to
// postgres $n form so shared migration SQL runs unchanged.
type pgxConn struct {
	pool *pgxpool.Pool
}

func rebindPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (c *pgxConn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.pool.Exec(ctx, rebindPlaceholders(query), args...)
	return err
}

func (c *pgxConn) QueryRow(ctx context.Context, query string, args ...any) migrate.Row {
	return &pgxRow{row: c.pool.QueryRow(ctx, rebindPlaceholders(query), args...)}
}

// pgxRow maps pgx.ErrNoRows to database/sql semantics so the executor's
// zero-version fallback works against both backends
type pgxRow struct {
	row pgx.Row
}

func (r *pgxRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return sql.ErrNoRows
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx MemoTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *pgTx) InsertMemo(ctx context.Context, m *MemoRecord) error {
	tagIDs, err := encodeStringList(m.TagIDs)
	if err != nil {
		return err
	}
	attachmentIDs, err := encodeStringList(m.AttachmentIDs)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO memos (memo_id, uid, content, category_id, tag_ids, attachment_ids, is_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.MemoID, m.UID, m.Content, pgNullable(m.CategoryID), tagIDs, attachmentIDs, m.IsPublic,
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert memo: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateMemo(ctx context.Context, m *MemoRecord) error {
	tagIDs, err := encodeStringList(m.TagIDs)
	if err != nil {
		return err
	}
	attachmentIDs, err := encodeStringList(m.AttachmentIDs)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE memos
		SET content = $1, category_id = $2, tag_ids = $3, attachment_ids = $4, is_public = $5, updated_at = $6
		WHERE memo_id = $7
	`, m.Content, pgNullable(m.CategoryID), tagIDs, attachmentIDs, m.IsPublic, m.UpdatedAt.UnixNano(), m.MemoID)
	if err != nil {
		return fmt.Errorf("failed to update memo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteMemo(ctx context.Context, memoID string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM memos WHERE memo_id = $1", memoID)
	if err != nil {
		return fmt.Errorf("failed to delete memo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgMemo(scanner interface{ Scan(dest ...any) error }) (*MemoRecord, error) {
	var m MemoRecord
	var categoryID *string
	var tagIDs, attachmentIDs string
	var createdAt, updatedAt int64

	if err := scanner.Scan(&m.MemoID, &m.UID, &m.Content, &categoryID, &tagIDs, &attachmentIDs,
		&m.IsPublic, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if categoryID != nil {
		m.CategoryID = *categoryID
	}
	m.CreatedAt = time.Unix(0, createdAt)
	m.UpdatedAt = time.Unix(0, updatedAt)

	var err error
	if m.TagIDs, err = decodeStringList(tagIDs); err != nil {
		return nil, err
	}
	if m.AttachmentIDs, err = decodeStringList(attachmentIDs); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMemo fetches a memo by id
func (s *PostgresStore) GetMemo(ctx context.Context, memoID string) (*MemoRecord, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+memoColumns+" FROM memos WHERE memo_id = $1", memoID)
	m, err := scanPgMemo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memo: %w", err)
	}
	return m, nil
}

func pgFilterClause(filter MemoFilter, clauses []string, args []any) ([]string, []any) {
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		clauses = append(clauses, "category_id = $"+strconv.Itoa(len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UnixNano())
		clauses = append(clauses, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UnixNano())
		clauses = append(clauses, "created_at <= $"+strconv.Itoa(len(args)))
	}
	return clauses, args
}

// GetMemosByIDs fetches the given memos owned by uid that pass filter
func (s *PostgresStore) GetMemosByIDs(ctx context.Context, uid string, ids []string, filter MemoFilter) ([]*MemoRecord, error) {
	if len(ids) == 0 {
		return []*MemoRecord{}, nil
	}

	args := []any{uid, ids}
	clauses := []string{"uid = $1", "memo_id = ANY($2)"}
	clauses, args = pgFilterClause(filter, clauses, args)

	query := "SELECT " + memoColumns + " FROM memos WHERE " + strings.Join(clauses, " AND ")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memos: %w", err)
	}
	defer rows.Close()

	var memos []*MemoRecord
	for rows.Next() {
		m, err := scanPgMemo(rows)
		if err != nil {
			return nil, err
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// ListMemos lists uid's memos newest first, with the total filter-matching count
func (s *PostgresStore) ListMemos(ctx context.Context, uid string, filter MemoFilter, limit, offset int) ([]*MemoRecord, int, error) {
	args := []any{uid}
	clauses := []string{"uid = $1"}
	clauses, args = pgFilterClause(filter, clauses, args)
	where := strings.Join(clauses, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memos WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count memos: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM memos WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		memoColumns, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()

	var memos []*MemoRecord
	for rows.Next() {
		m, err := scanPgMemo(rows)
		if err != nil {
			return nil, 0, err
		}
		memos = append(memos, m)
	}
	return memos, total, rows.Err()
}

// MemoIDs returns all memo ids
func (s *PostgresStore) MemoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT memo_id FROM memos")
	if err != nil {
		return nil, fmt.Errorf("failed to query memo ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveTags maps tag names to records, creating missing tags
func (s *PostgresStore) ResolveTags(ctx context.Context, uid string, names []string) ([]*TagRecord, error) {
	tags := make([]*TagRecord, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		var tag TagRecord
		err := s.pool.QueryRow(ctx,
			"SELECT tag_id, uid, name, usage_count FROM tags WHERE uid = $1 AND name = $2", uid, name).
			Scan(&tag.TagID, &tag.UID, &tag.Name, &tag.UsageCount)
		if errors.Is(err, pgx.ErrNoRows) {
			tag = TagRecord{TagID: uuid.NewString(), UID: uid, Name: name}
			if _, err := s.pool.Exec(ctx,
				"INSERT INTO tags (tag_id, uid, name, usage_count) VALUES ($1, $2, $3, 0)",
				tag.TagID, tag.UID, tag.Name); err != nil {
				return nil, fmt.Errorf("failed to create tag %q: %w", name, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to resolve tag %q: %w", name, err)
		}

		tags = append(tags, &tag)
	}
	return tags, nil
}

// GetTagsByIDs batch-fetches tags
func (s *PostgresStore) GetTagsByIDs(ctx context.Context, ids []string) ([]*TagRecord, error) {
	if len(ids) == 0 {
		return []*TagRecord{}, nil
	}

	rows, err := s.pool.Query(ctx,
		"SELECT tag_id, uid, name, usage_count FROM tags WHERE tag_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*TagRecord
	for rows.Next() {
		var tag TagRecord
		if err := rows.Scan(&tag.TagID, &tag.UID, &tag.Name, &tag.UsageCount); err != nil {
			return nil, err
		}
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}

// AdjustTagUsage shifts usage counts, clamping at zero
func (s *PostgresStore) AdjustTagUsage(ctx context.Context, ids []string, delta int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE tags SET usage_count = GREATEST(0, usage_count + $1) WHERE tag_id = ANY($2)", delta, ids)
	if err != nil {
		return fmt.Errorf("failed to adjust tag usage: %w", err)
	}
	return nil
}

// GetCategory fetches a category by id
func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (*CategoryRecord, error) {
	var c CategoryRecord
	err := s.pool.QueryRow(ctx,
		"SELECT category_id, uid, name FROM categories WHERE category_id = $1", categoryID).
		Scan(&c.CategoryID, &c.UID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// CreateRelation inserts a memo relation edge
func (s *PostgresStore) CreateRelation(ctx context.Context, rel *RelationRecord) error {
	if rel.RelationID == "" {
		rel.RelationID = uuid.NewString()
	}
	if rel.Type == "" {
		rel.Type = RelationTypeReference
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO memo_relations (relation_id, source_id, target_id, relation_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, target_id, relation_type) DO NOTHING
	`, rel.RelationID, rel.SourceID, rel.TargetID, rel.Type, rel.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create relation: %w", err)
	}
	return nil
}

// DeleteRelationsFor removes edges touching memoID on either side
func (s *PostgresStore) DeleteRelationsFor(ctx context.Context, memoID string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM memo_relations WHERE source_id = $1 OR target_id = $1", memoID)
	if err != nil {
		return fmt.Errorf("failed to delete relations: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryRelations(ctx context.Context, query, memoID string) ([]*RelationRecord, error) {
	rows, err := s.pool.Query(ctx, query, memoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var rels []*RelationRecord
	for rows.Next() {
		var rel RelationRecord
		var createdAt int64
		if err := rows.Scan(&rel.RelationID, &rel.SourceID, &rel.TargetID, &rel.Type, &createdAt); err != nil {
			return nil, err
		}
		rel.CreatedAt = time.Unix(0, createdAt)
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// RelationsFrom returns edges where memoID is the source
func (s *PostgresStore) RelationsFrom(ctx context.Context, memoID string) ([]*RelationRecord, error) {
	return s.queryRelations(ctx,
		"SELECT relation_id, source_id, target_id, relation_type, created_at FROM memo_relations WHERE source_id = $1", memoID)
}

// RelationsTo returns edges where memoID is the target
func (s *PostgresStore) RelationsTo(ctx context.Context, memoID string) ([]*RelationRecord, error) {
	return s.queryRelations(ctx,
		"SELECT relation_id, source_id, target_id, relation_type, created_at FROM memo_relations WHERE target_id = $1", memoID)
}

// PostgresVectorTable implements VectorTable over a pgvector column
type PostgresVectorTable struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Add inserts vector rows
func (t *PostgresVectorTable) Add(ctx context.Context, recs ...MemoVectorRecord) error {
	for _, rec := range recs {
		_, err := t.pool.Exec(ctx,
			"INSERT INTO memo_vectors (memo_id, embedding, uid) VALUES ($1, $2, $3)",
			rec.MemoID, pgvector.NewVector(rec.Embedding), pgNullable(rec.UID))
		if err != nil {
			return pgMapStoreErr(fmt.Errorf("failed to insert vector row: %w", err))
		}
	}
	return nil
}

// Upsert replaces the vector row for a memo
func (t *PostgresVectorTable) Upsert(ctx context.Context, rec MemoVectorRecord) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO memo_vectors (memo_id, embedding, uid) VALUES ($1, $2, $3)
		ON CONFLICT (memo_id) DO UPDATE SET embedding = EXCLUDED.embedding, uid = EXCLUDED.uid
	`, rec.MemoID, pgvector.NewVector(rec.Embedding), pgNullable(rec.UID))
	if err != nil {
		return pgMapStoreErr(fmt.Errorf("failed to upsert vector row: %w", err))
	}
	return nil
}

// Delete removes the vector row for a memo
func (t *PostgresVectorTable) Delete(ctx context.Context, memoID string) error {
	_, err := t.pool.Exec(ctx, "DELETE FROM memo_vectors WHERE memo_id = $1", memoID)
	if err != nil {
		return pgMapStoreErr(fmt.Errorf("failed to delete vector row: %w", err))
	}
	return nil
}

// Get fetches the vector row for a memo
func (t *PostgresVectorTable) Get(ctx context.Context, memoID string) (*MemoVectorRecord, error) {
	var vec pgvector.Vector
	var uid *string
	err := t.pool.QueryRow(ctx,
		"SELECT embedding, uid FROM memo_vectors WHERE memo_id = $1", memoID).Scan(&vec, &uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgMapStoreErr(fmt.Errorf("failed to get vector row: %w", err))
	}

	rec := &MemoVectorRecord{MemoID: memoID, Embedding: vec.Slice()}
	if uid != nil {
		rec.UID = *uid
	}
	return rec, nil
}

// Search returns the k nearest neighbors ordered by ascending cosine distance
func (t *PostgresVectorTable) Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT memo_id, embedding <=> $1 AS distance
		FROM memo_vectors
		ORDER BY distance ASC
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, pgMapStoreErr(fmt.Errorf("failed to search vectors: %w", err))
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.MemoID, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// IDs returns every memo id with a vector row
func (t *PostgresVectorTable) IDs(ctx context.Context) ([]string, error) {
	rows, err := t.pool.Query(ctx, "SELECT memo_id FROM memo_vectors")
	if err != nil {
		return nil, pgMapStoreErr(fmt.Errorf("failed to query vector ids: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of vector rows
func (t *PostgresVectorTable) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memo_vectors").Scan(&n); err != nil {
		return 0, pgMapStoreErr(fmt.Errorf("failed to count vectors: %w", err))
	}
	return n, nil
}

func pgMapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return err
}

func pgNullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
