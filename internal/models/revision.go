package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*
LEARNING: REVISION LOG

Every created document and every successful save or publish leaves a revision: the JSON patch (RFC 6902)
that turns the previous stored version into the new one.

Why persist revisions?
- Audit trail of who changed what, without storing full copies
- Cheap to compute off the request path (background workers)
- Bounded: old entries are pruned per document

Flow:
  Save succeeds → enqueue (before, after) → worker diffs → store revision
  → prune to the configured count
*/

type RevisionKind string

const (
	RevisionCreate    RevisionKind = "create"
	RevisionSave      RevisionKind = "save"
	RevisionPublish   RevisionKind = "publish"
	RevisionUnpublish RevisionKind = "unpublish"
)

// Revision stores one change to a document as a JSON patch.
type Revision struct {
	ID         string         `gorm:"type:varchar(27);primaryKey" json:"id"`
	DocumentID string         `gorm:"type:varchar(27);not null;index:idx_rev_doc_time" json:"document_id"`
	Kind       RevisionKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Patch      datatypes.JSON `gorm:"not null;default:'[]'" json:"patch"`
	Ops        int            `gorm:"not null;default:0" json:"ops"`
	CreatedAt  time.Time      `gorm:"index:idx_rev_doc_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (r *Revision) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Revision) TableName() string {
	return "revisions"
}
