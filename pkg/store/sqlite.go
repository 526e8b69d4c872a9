package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore implements RelationalStore over a sqlite database file
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (and if needed creates) the relational database
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Relational store opened")
	return s, nil
}

// initSchema creates relational tables
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memos (
			memo_id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			content TEXT NOT NULL,
			category_id TEXT,
			tag_ids TEXT NOT NULL DEFAULT '[]',
			attachment_ids TEXT NOT NULL DEFAULT '[]',
			is_public INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memos_uid_created ON memos(uid, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_memos_category ON memos(category_id);

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
			created_at INTEGER NOT NULL,
			UNIQUE(source_id, target_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_source ON memo_relations(source_id);
		CREATE INDEX IF NOT EXISTS idx_relations_target ON memo_relations(target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying handle for migration wiring
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx MemoTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertMemo(ctx context.Context, m *MemoRecord) error {
	tagIDs, err := encodeStringList(m.TagIDs)
	if err != nil {
		return err
	}
	attachmentIDs, err := encodeStringList(m.AttachmentIDs)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO memos (memo_id, uid, content, category_id, tag_ids, attachment_ids, is_public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.MemoID, m.UID, m.Content, nullable(m.CategoryID), tagIDs, attachmentIDs, boolToInt(m.IsPublic),
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert memo: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateMemo(ctx context.Context, m *MemoRecord) error {
	tagIDs, err := encodeStringList(m.TagIDs)
	if err != nil {
		return err
	}
	attachmentIDs, err := encodeStringList(m.AttachmentIDs)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE memos
		SET content = ?, category_id = ?, tag_ids = ?, attachment_ids = ?, is_public = ?, updated_at = ?
		WHERE memo_id = ?
	`, m.Content, nullable(m.CategoryID), tagIDs, attachmentIDs, boolToInt(m.IsPublic),
		m.UpdatedAt.UnixNano(), m.MemoID)
	if err != nil {
		return fmt.Errorf("failed to update memo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) DeleteMemo(ctx context.Context, memoID string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM memos WHERE memo_id = ?", memoID)
	if err != nil {
		return fmt.Errorf("failed to delete memo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const memoColumns = "memo_id, uid, content, category_id, tag_ids, attachment_ids, is_public, created_at, updated_at"

func scanMemo(scanner interface{ Scan(dest ...any) error }) (*MemoRecord, error) {
	var m MemoRecord
	var categoryID sql.NullString
	var tagIDs, attachmentIDs string
	var isPublic int
	var createdAt, updatedAt int64

	if err := scanner.Scan(&m.MemoID, &m.UID, &m.Content, &categoryID, &tagIDs, &attachmentIDs,
		&isPublic, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	m.CategoryID = categoryID.String
	m.IsPublic = isPublic != 0
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
func (s *SQLiteStore) GetMemo(ctx context.Context, memoID string) (*MemoRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memoColumns+" FROM memos WHERE memo_id = ?", memoID)
	m, err := scanMemo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memo: %w", err)
	}
	return m, nil
}

// filterClause appends scalar filter predicates and their args
func filterClause(filter MemoFilter, clauses []string, args []any) ([]string, []any) {
	if filter.CategoryID != "" {
		clauses = append(clauses, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}
	return clauses, args
}

// GetMemosByIDs fetches the given memos owned by uid that pass filter
func (s *SQLiteStore) GetMemosByIDs(ctx context.Context, uid string, ids []string, filter MemoFilter) ([]*MemoRecord, error) {
	if len(ids) == 0 {
		return []*MemoRecord{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	clauses := []string{"uid = ?", "memo_id IN (" + placeholders + ")"}
	args := make([]any, 0, len(ids)+4)
	args = append(args, uid)
	for _, id := range ids {
		args = append(args, id)
	}
	clauses, args = filterClause(filter, clauses, args)

	query := "SELECT " + memoColumns + " FROM memos WHERE " + strings.Join(clauses, " AND ")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memos: %w", err)
	}
	defer rows.Close()

	var memos []*MemoRecord
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// ListMemos lists uid's memos newest first, with the total filter-matching count
func (s *SQLiteStore) ListMemos(ctx context.Context, uid string, filter MemoFilter, limit, offset int) ([]*MemoRecord, int, error) {
	clauses := []string{"uid = ?"}
	args := []any{uid}
	clauses, args = filterClause(filter, clauses, args)
	where := strings.Join(clauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memos WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count memos: %w", err)
	}

	query := "SELECT " + memoColumns + " FROM memos WHERE " + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()

	var memos []*MemoRecord
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, 0, err
		}
		memos = append(memos, m)
	}
	return memos, total, rows.Err()
}

// MemoIDs returns all memo ids
func (s *SQLiteStore) MemoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT memo_id FROM memos")
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
func (s *SQLiteStore) ResolveTags(ctx context.Context, uid string, names []string) ([]*TagRecord, error) {
	tags := make([]*TagRecord, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		var tag TagRecord
		err := s.db.QueryRowContext(ctx,
			"SELECT tag_id, uid, name, usage_count FROM tags WHERE uid = ? AND name = ?", uid, name).
			Scan(&tag.TagID, &tag.UID, &tag.Name, &tag.UsageCount)
		if errors.Is(err, sql.ErrNoRows) {
			tag = TagRecord{TagID: uuid.NewString(), UID: uid, Name: name}
			if _, err := s.db.ExecContext(ctx,
				"INSERT INTO tags (tag_id, uid, name, usage_count) VALUES (?, ?, ?, 0)",
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
func (s *SQLiteStore) GetTagsByIDs(ctx context.Context, ids []string) ([]*TagRecord, error) {
	if len(ids) == 0 {
		return []*TagRecord{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT tag_id, uid, name, usage_count FROM tags WHERE tag_id IN ("+placeholders+")", args...)
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
func (s *SQLiteStore) AdjustTagUsage(ctx context.Context, ids []string, delta int) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, delta)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE tags SET usage_count = MAX(0, usage_count + ?) WHERE tag_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to adjust tag usage: %w", err)
	}
	return nil
}

// GetCategory fetches a category by id
func (s *SQLiteStore) GetCategory(ctx context.Context, categoryID string) (*CategoryRecord, error) {
	var c CategoryRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT category_id, uid, name FROM categories WHERE category_id = ?", categoryID).
		Scan(&c.CategoryID, &c.UID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// CreateRelation inserts a memo relation edge
func (s *SQLiteStore) CreateRelation(ctx context.Context, rel *RelationRecord) error {
	if rel.RelationID == "" {
		rel.RelationID = uuid.NewString()
	}
	if rel.Type == "" {
		rel.Type = RelationTypeReference
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memo_relations (relation_id, source_id, target_id, relation_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rel.RelationID, rel.SourceID, rel.TargetID, rel.Type, rel.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create relation: %w", err)
	}
	return nil
}

// DeleteRelationsFor removes edges touching memoID on either side
func (s *SQLiteStore) DeleteRelationsFor(ctx context.Context, memoID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM memo_relations WHERE source_id = ? OR target_id = ?", memoID, memoID)
	if err != nil {
		return fmt.Errorf("failed to delete relations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryRelations(ctx context.Context, query, memoID string) ([]*RelationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, memoID)
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
func (s *SQLiteStore) RelationsFrom(ctx context.Context, memoID string) ([]*RelationRecord, error) {
	return s.queryRelations(ctx,
		"SELECT relation_id, source_id, target_id, relation_type, created_at FROM memo_relations WHERE source_id = ?", memoID)
}

// RelationsTo returns edges where memoID is the target
func (s *SQLiteStore) RelationsTo(ctx context.Context, memoID string) ([]*RelationRecord, error) {
	return s.queryRelations(ctx,
		"SELECT relation_id, source_id, target_id, relation_type, created_at FROM memo_relations WHERE target_id = ?", memoID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
