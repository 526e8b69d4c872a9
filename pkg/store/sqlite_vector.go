package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// VectorTableName is the logical table holding memo embeddings
const VectorTableName = "memo_vectors"

// SQLiteVectorDB wraps the vector database connection. The vec0 table and
// its sidecar are created by migrations, not here.
type SQLiteVectorDB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteVectorDB opens the vector database file
func NewSQLiteVectorDB(path string, logger zerolog.Logger) (*SQLiteVectorDB, error) {
	if path == "" {
		return nil, errors.New("vector database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info().Str("path", path).Msg("Vector store opened")
	return &SQLiteVectorDB{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for migration wiring
func (v *SQLiteVectorDB) DB() *sql.DB {
	return v.db
}

// Close closes the database
func (v *SQLiteVectorDB) Close() error {
	return v.db.Close()
}

// MemoVectors returns the table handle for memo embeddings
func (v *SQLiteVectorDB) MemoVectors() *SQLiteVectorTable {
	return &SQLiteVectorTable{db: v.db, logger: v.logger}
}

// SQLiteVectorTable implements VectorTable over a sqlite-vec vec0 table
// plus a scalar sidecar table for attributes the vector engine cannot hold.
type SQLiteVectorTable struct {
	db     *sql.DB
	logger zerolog.Logger
}

// mapStoreErr converts driver errors for missing tables into the typed
// not-initialized error so callers can tell "migrations never ran" apart
// from a genuine write failure.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return err
}

// Add inserts vector rows
func (t *SQLiteVectorTable) Add(ctx context.Context, recs ...MemoVectorRecord) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := insertVector(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertVector(ctx context.Context, tx *sql.Tx, rec MemoVectorRecord) error {
	embedding, err := encodeVector(rec.Embedding)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memo_vectors (memo_id, embedding) VALUES (?, ?)",
		rec.MemoID, embedding); err != nil {
		return mapStoreErr(fmt.Errorf("failed to insert vector row: %w", err))
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO memo_vector_meta (memo_id, uid) VALUES (?, ?)",
		rec.MemoID, rec.UID); err != nil {
		return mapStoreErr(fmt.Errorf("failed to insert vector meta: %w", err))
	}
	return nil
}

// Upsert replaces the vector row for a memo. vec0 has no reliable UPDATE,
// so this is delete-then-insert; the net effect is exactly one row per id.
func (t *SQLiteVectorTable) Upsert(ctx context.Context, rec MemoVectorRecord) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memo_vectors WHERE memo_id = ?", rec.MemoID); err != nil {
		return mapStoreErr(fmt.Errorf("failed to delete vector row: %w", err))
	}
	if err := insertVector(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the vector row for a memo
func (t *SQLiteVectorTable) Delete(ctx context.Context, memoID string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memo_vectors WHERE memo_id = ?", memoID); err != nil {
		return mapStoreErr(fmt.Errorf("failed to delete vector row: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memo_vector_meta WHERE memo_id = ?", memoID); err != nil {
		return mapStoreErr(fmt.Errorf("failed to delete vector meta: %w", err))
	}
	return tx.Commit()
}

// Get fetches the vector row for a memo
func (t *SQLiteVectorTable) Get(ctx context.Context, memoID string) (*MemoVectorRecord, error) {
	var raw []byte
	err := t.db.QueryRowContext(ctx,
		"SELECT embedding FROM memo_vectors WHERE memo_id = ?", memoID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("failed to get vector row: %w", err))
	}

	embedding, err := decodeVector(raw)
	if err != nil {
		return nil, err
	}

	rec := &MemoVectorRecord{MemoID: memoID, Embedding: embedding}

	// uid lives in the sidecar; rows written before the sidecar migration
	// legitimately have none
	var uid sql.NullString
	err = t.db.QueryRowContext(ctx,
		"SELECT uid FROM memo_vector_meta WHERE memo_id = ?", memoID).Scan(&uid)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(fmt.Errorf("failed to get vector meta: %w", err))
	}
	rec.UID = uid.String

	return rec, nil
}

// Search returns the k nearest neighbors ordered by ascending cosine distance
func (t *SQLiteVectorTable) Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	embedding, err := encodeVector(query)
	if err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT memo_id, vec_distance_cosine(embedding, ?) AS distance
		FROM memo_vectors
		ORDER BY distance ASC
		LIMIT ?
	`, embedding, k)
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("failed to search vectors: %w", err))
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
func (t *SQLiteVectorTable) IDs(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT memo_id FROM memo_vectors")
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("failed to query vector ids: %w", err))
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
func (t *SQLiteVectorTable) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memo_vectors").Scan(&n); err != nil {
		return 0, mapStoreErr(fmt.Errorf("failed to count vectors: %w", err))
	}
	return n, nil
}
