package store

import "time"

// MemoRecord is the relational row for a memo. MemoID is externally
// generated and is the stable join key into the vector store.
type MemoRecord struct {
	MemoID        string    `json:"memo_id"`
	UID           string    `json:"uid"`
	Content       string    `json:"content"`
	CategoryID    string    `json:"category_id,omitempty"`
	TagIDs        []string  `json:"tag_ids"`
	AttachmentIDs []string  `json:"attachment_ids"`
	IsPublic      bool      `json:"is_public"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TagRecord is a tag with its denormalized usage count
type TagRecord struct {
	TagID      string `json:"tag_id"`
	UID        string `json:"uid"`
	Name       string `json:"name"`
	UsageCount int    `json:"usage_count"`
}

// CategoryRecord is a memo category
type CategoryRecord struct {
	CategoryID string `json:"category_id"`
	UID        string `json:"uid"`
	Name       string `json:"name"`
}

// RelationRecord is a directed edge between two memos
type RelationRecord struct {
	RelationID string    `json:"relation_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// RelationTypeReference is the default memo relation type
const RelationTypeReference = "REFERENCE"

// MemoVectorRecord is the vector store row for a memo
type MemoVectorRecord struct {
	MemoID    string    `json:"memo_id"`
	UID       string    `json:"uid"`
	Embedding []float32 `json:"embedding"`
}

// VectorMatch is a nearest-neighbor hit, ascending by Distance
type VectorMatch struct {
	MemoID   string  `json:"memo_id"`
	Distance float64 `json:"distance"`
}

// MemoFilter narrows memo queries by scalar fields
type MemoFilter struct {
	CategoryID string
	From       time.Time
	To         time.Time
}
