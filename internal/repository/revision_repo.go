package repository

import (
	"context"
	"errors"
	"fmt"

	"docsync/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*
LEARNING: REVISION PERSISTENCE

Storing one JSON patch per save allows:
1. An audit trail without keeping full copies of every version
2. Showing editors what the last saves changed
3. Bounded storage through pruning

Query patterns:
- ListRevisions: history view (newest first)
- LatestRevision: "last changed" indicator
- StoreRevision: written by background workers
*/

// RevisionRepositoryImpl handles revision storage
type RevisionRepositoryImpl struct {
	db *gorm.DB
}

// NewRevisionRepository creates a new revision repository
func NewRevisionRepository(db *gorm.DB) *RevisionRepositoryImpl {
	return &RevisionRepositoryImpl{db: db}
}

// StoreRevision stores a revision. A revision without operations is stored
// with an empty patch.
func (r *RevisionRepositoryImpl) StoreRevision(ctx context.Context, rev *models.Revision) error {
	if len(rev.Patch) == 0 {
		rev.Patch = datatypes.JSON("[]")
	}
	if err := r.db.WithContext(ctx).Create(rev).Error; err != nil {
		return fmt.Errorf("failed to store revision: %w", err)
	}

	return nil
}

// ListRevisions retrieves the newest revisions of a document
func (r *RevisionRepositoryImpl) ListRevisions(ctx context.Context, documentID string, limit int) ([]*models.Revision, error) {
	var revisions []*models.Revision

	err := r.db.WithContext(ctx).
		Where("document_id = ?", models.PublicID(documentID)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&revisions).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get revisions: %w", err)
	}

	return revisions, nil
}

// LatestRevision gets the most recent revision for a document
func (r *RevisionRepositoryImpl) LatestRevision(ctx context.Context, documentID string) (*models.Revision, error) {
	var rev models.Revision

	err := r.db.WithContext(ctx).
		Where("document_id = ?", models.PublicID(documentID)).
		Order("created_at DESC").
		Order("id DESC").
		First(&rev).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No revisions yet
		}
		return nil, fmt.Errorf("failed to get latest revision: %w", err)
	}

	return &rev, nil
}

// PruneRevisions keeps only the newest keepCount revisions of a document
// Call after storing to prevent unbounded growth
func (r *RevisionRepositoryImpl) PruneRevisions(ctx context.Context, documentID string, keepCount int) error {
	var keep []string
	if err := r.db.WithContext(ctx).
		Model(&models.Revision{}).
		Where("document_id = ?", models.PublicID(documentID)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(keepCount).
		Pluck("id", &keep).Error; err != nil {
		return fmt.Errorf("failed to select revisions to keep: %w", err)
	}

	q := r.db.WithContext(ctx).Where("document_id = ?", models.PublicID(documentID))
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	if err := q.Delete(&models.Revision{}).Error; err != nil {
		return fmt.Errorf("failed to delete old revisions: %w", err)
	}

	return nil
}

// DeleteRevisions removes the whole history of a document
func (r *RevisionRepositoryImpl) DeleteRevisions(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", models.PublicID(documentID)).
		Delete(&models.Revision{}).Error; err != nil {
		return fmt.Errorf("failed to delete revisions: %w", err)
	}
	return nil
}
