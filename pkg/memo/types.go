package memo

import (
	"time"

	"github.com/ximing/aimo/pkg/store"
)

// Memo is the materialized view returned to callers: the relational row
// with tag ids resolved into full tag records.
type Memo struct {
	MemoID        string             `json:"memo_id"`
	UID           string             `json:"uid"`
	Content       string             `json:"content"`
	CategoryID    string             `json:"category_id,omitempty"`
	Tags          []*store.TagRecord `json:"tags"`
	AttachmentIDs []string           `json:"attachment_ids"`
	IsPublic      bool               `json:"is_public"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// CreateInput carries a new memo. TagNames are resolved to tag records,
// creating tags that do not exist yet. RelatedMemoIDs become REFERENCE
// edges from the new memo.
type CreateInput struct {
	UID            string   `json:"uid"`
	Content        string   `json:"content"`
	CategoryID     string   `json:"category_id,omitempty"`
	TagNames       []string `json:"tags,omitempty"`
	AttachmentIDs  []string `json:"attachment_ids,omitempty"`
	IsPublic       bool     `json:"is_public,omitempty"`
	RelatedMemoIDs []string `json:"related_memo_ids,omitempty"`
}

// UpdateInput is a partial update; nil fields keep their current value.
// A changed Content re-embeds the memo and replaces its vector row.
type UpdateInput struct {
	Content       *string   `json:"content,omitempty"`
	CategoryID    *string   `json:"category_id,omitempty"`
	TagNames      *[]string `json:"tags,omitempty"`
	AttachmentIDs *[]string `json:"attachment_ids,omitempty"`
	IsPublic      *bool     `json:"is_public,omitempty"`
}

// ListOptions narrows and pages a memo listing
type ListOptions struct {
	Filter store.MemoFilter
	Limit  int
	Offset int
}
