package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidPatch = errors.New("invalid patch")
)

// DocumentRepositoryImpl handles all database operations for documents using GORM
// Learning: This is the IMPLEMENTATION. It doesn't know about any interface.
// The services package will declare the interface it needs.
type DocumentRepositoryImpl struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDocumentRepository creates a new document repository
// Returns concrete type - "Accept interfaces, return structs"
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db, now: time.Now}
}

// Create inserts a new draft with per-type defaults and the next legacy id.
// The KSUID is auto-generated in the BeforeCreate hook
func (r *DocumentRepositoryImpl) Create(ctx context.Context, req *models.DocumentCreate) (*models.Document, error) {
	doc := &models.Document{
		Type:  req.Type,
		Title: "Untitled " + strings.ToUpper(string(req.Type[:1])) + string(req.Type[1:]),
	}

	if req.CreatorID != "" {
		creator := models.Reference{ID: req.CreatorID, Title: req.CreatorName}
		switch req.Type {
		case models.TypeReview, models.TypeArticle:
			doc.Authors = []models.Reference{creator}
		case models.TypeNews:
			doc.Reporters = []models.Reference{creator}
		}
	}

	switch req.Type {
	case models.TypeReview:
		doc.Verdict = "..."
		doc.Pros = []string{}
		doc.Cons = []string{}
	case models.TypeGameRelease:
		doc.ReleaseDate = r.now().UTC().Format(time.DateOnly)
		doc.Synopsis = "..."
		doc.Platforms = []string{}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&models.Document{}).
			Select("COALESCE(MAX(legacy_id), 0)").
			Scan(&last).Error; err != nil {
			return fmt.Errorf("failed to read legacy ids: %w", err)
		}
		doc.LegacyID = last + 1
		return tx.Create(doc).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return doc, nil
}

// Load returns the editor view of a document: the draft when one exists,
// the published version otherwise.
func (r *DocumentRepositoryImpl) Load(ctx context.Context, id string) (*models.Document, error) {
	return r.load(r.db.WithContext(ctx), models.PublicID(id))
}

func (r *DocumentRepositoryImpl) load(tx *gorm.DB, id string) (*models.Document, error) {
	var rows []*models.Document
	err := tx.Where("row_id IN ?", []string{id, models.DraftRowID(id)}).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var draft, published *models.Document
	for _, row := range rows {
		if row.IsDraft() {
			draft = row
		} else {
			published = row
		}
	}

	switch {
	case draft != nil:
		draft.Published = published != nil
		return draft, nil
	case published != nil:
		published.Published = true
		return published, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
}

// List returns the editor view of the most recently changed documents,
// optionally restricted to one type.
func (r *DocumentRepositoryImpl) List(ctx context.Context, docType models.DocType, limit, offset int) ([]*models.Document, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&models.Document{}).
		Select("public_id").
		Group("public_id").
		Order("MAX(updated_at) DESC").
		Limit(limit).
		Offset(offset)
	if docType != "" {
		q = q.Where("doc_type = ?", docType)
	}
	if err := q.Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	documents := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// SaveDraftPatch applies patch to the draft. Without a draft, the draft is
// first created from the published version.
// Learning: the reference document handed back is re-read inside the same transaction
func (r *DocumentRepositoryImpl) SaveDraftPatch(ctx context.Context, id string, patch map[string]any) (*models.Document, error) {
	id = models.PublicID(id)
	var saved *models.Document

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := r.findRow(tx, models.DraftRowID(id))
		if err != nil {
			return err
		}

		if draft == nil {
			published, err := r.findRow(tx, id)
			if err != nil {
				return err
			}
			if published == nil {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			draft = published.Clone()
			draft.RowID = models.DraftRowID(id)
			draft.CreatedAt = time.Time{}
			draft.UpdatedAt = time.Time{}
			if err := applyPatch(draft, patch); err != nil {
				return err
			}
			if err := tx.Create(draft).Error; err != nil {
				return fmt.Errorf("failed to create draft: %w", err)
			}
		} else {
			if err := applyPatch(draft, patch); err != nil {
				return err
			}
			if err := tx.Save(draft).Error; err != nil {
				return fmt.Errorf("failed to update draft: %w", err)
			}
		}

		saved, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// Publish moves a document between draft and published.
//   - Unpublish: the published row is removed, its content kept as a draft
//     without publishedAt.
//   - otherwise the draft (if any) replaces the published row. publishedAt is
//     req.At, else the existing publishedAt, else now. Game releases carry no
//     publishedAt.
func (r *DocumentRepositoryImpl) Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error) {
	id = models.PublicID(id)
	var result *models.Document

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := r.findRow(tx, models.DraftRowID(id))
		if err != nil {
			return err
		}
		published, err := r.findRow(tx, id)
		if err != nil {
			return err
		}
		if draft == nil && published == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		if req.Unpublish {
			if err := r.unpublish(tx, id, draft, published); err != nil {
				return err
			}
		} else if err := r.publish(tx, draft, published, req.At); err != nil {
			return err
		}

		result, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *DocumentRepositoryImpl) unpublish(tx *gorm.DB, id string, draft, published *models.Document) error {
	if published == nil {
		if draft.PublishedAt == nil {
			return nil
		}
		draft.PublishedAt = nil
		return tx.Save(draft).Error
	}

	if draft == nil {
		draft = published.Clone()
		draft.RowID = models.DraftRowID(id)
		draft.PublishedAt = nil
		if err := tx.Create(draft).Error; err != nil {
			return fmt.Errorf("failed to create draft: %w", err)
		}
	} else {
		draft.PublishedAt = nil
		if err := tx.Save(draft).Error; err != nil {
			return fmt.Errorf("failed to update draft: %w", err)
		}
	}

	if err := tx.Delete(&models.Document{}, "row_id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete published version: %w", err)
	}
	return nil
}

func (r *DocumentRepositoryImpl) publish(tx *gorm.DB, draft, published *models.Document, at *time.Time) error {
	var docType models.DocType
	if draft != nil {
		docType = draft.Type
	} else {
		docType = published.Type
	}

	var finalTime *time.Time
	if docType.HasPublishedAt() {
		switch {
		case at != nil:
			t := at.UTC()
			finalTime = &t
		case published != nil && published.PublishedAt != nil:
			finalTime = published.PublishedAt
		default:
			t := r.now().UTC()
			finalTime = &t
		}
	}

	if draft == nil {
		if !docType.HasPublishedAt() {
			return nil
		}
		published.PublishedAt = finalTime
		if err := tx.Save(published).Error; err != nil {
			return fmt.Errorf("failed to update published version: %w", err)
		}
		return nil
	}

	next := draft.Clone()
	next.RowID = draft.ID
	next.PublishedAt = finalTime
	if published != nil {
		next.CreatedAt = published.CreatedAt
	}
	next.UpdatedAt = time.Time{}

	// createOrReplace
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(next).Error; err != nil {
		return fmt.Errorf("failed to write published version: %w", err)
	}
	if err := tx.Delete(&models.Document{}, "row_id = ?", draft.RowID).Error; err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// Delete removes both the draft and the published version
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	id = models.PublicID(id)
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "row_id IN ?", []string{id, models.DraftRowID(id)})

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// SlugTaken reports whether another document of any content type uses slug.
// Both versions of the document itself are ignored.
func (r *DocumentRepositoryImpl) SlugTaken(ctx context.Context, slug, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("slug = ? AND doc_type IN ? AND public_id <> ?", slug, models.ContentTypes, models.PublicID(id)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

func (r *DocumentRepositoryImpl) findRow(tx *gorm.DB, rowID string) (*models.Document, error) {
	var doc models.Document
	err := tx.First(&doc, "row_id = ?", rowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}
