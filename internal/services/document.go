package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docsync/internal/controller"
	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/repository"
	"docsync/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DocumentServiceImpl is the content repository seen by editing sessions and
// the HTTP API. It records a revision for every version it writes and tells
// listeners about it.
type DocumentServiceImpl struct {
	docRepo   DocumentRepository
	revisions RevisionRecorder
	validate  *validation.Validator
	log       logrus.FieldLogger

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewDocumentService creates a document service. revisions may be nil.
func NewDocumentService(
	docRepo DocumentRepository,
	revisions RevisionRecorder,
	validate *validation.Validator,
	log logrus.FieldLogger,
) *DocumentServiceImpl {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &DocumentServiceImpl{
		docRepo:   docRepo,
		revisions: revisions,
		validate:  validate,
		log:       log.WithField("component", "documents"),
	}
}

// OnChange registers a listener for written versions
func (s *DocumentServiceImpl) OnChange(fn ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

type originKey struct{}

// WithOrigin tags ctx with the session that causes a change, so listeners
// can skip it.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// CreateDocument validates req and creates a new draft
func (s *DocumentServiceImpl) CreateDocument(ctx context.Context, req *models.DocumentCreate) (*models.Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Documents.Create", attribute.String("document.type", string(req.Type)))
	defer span.End()

	if err := s.validate.Validate(req); err != nil {
		return nil, &ValidationError{Err: err}
	}

	doc, err := s.docRepo.Create(ctx, req)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"document_id": doc.ID, "type": doc.Type, "legacy_id": doc.LegacyID}).Info("✓ Draft created")
	s.record(ctx, doc.ID, models.RevisionCreate, nil, doc)
	return doc, nil
}

func (s *DocumentServiceImpl) LoadDocument(ctx context.Context, id string) (*models.Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Documents.Load", attribute.String("document.id", id))
	defer span.End()

	doc, err := s.docRepo.Load(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		middleware.AddSpanError(ctx, err)
	}
	return doc, err
}

func (s *DocumentServiceImpl) ListDocuments(ctx context.Context, docType models.DocType, limit, offset int) ([]*models.Document, error) {
	if docType != "" && !docType.Valid() {
		return nil, &ValidationError{Err: fmt.Errorf("unknown document type %q", docType)}
	}
	return s.docRepo.List(ctx, docType, limit, offset)
}

// SaveDraftPatch applies patch to the draft and records the change
func (s *DocumentServiceImpl) SaveDraftPatch(ctx context.Context, id string, patch map[string]any) (*models.Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Documents.SaveDraftPatch",
		attribute.String("document.id", id),
		attribute.Int("patch.fields", len(patch)),
	)
	defer span.End()

	before, err := s.docRepo.Load(ctx, id)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	doc, err := s.docRepo.SaveDraftPatch(ctx, id, patch)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	s.record(ctx, id, models.RevisionSave, before, doc)
	return doc, nil
}

// Publish publishes, schedules or unpublishes a document
func (s *DocumentServiceImpl) Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Documents.Publish",
		attribute.String("document.id", id),
		attribute.Bool("unpublish", req.Unpublish),
	)
	defer span.End()

	before, err := s.docRepo.Load(ctx, id)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	doc, err := s.docRepo.Publish(ctx, id, req)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	kind := models.RevisionPublish
	if req.Unpublish {
		kind = models.RevisionUnpublish
	}
	s.record(ctx, id, kind, before, doc)
	return doc, nil
}

// DeleteDocument removes both versions of a document and its history
func (s *DocumentServiceImpl) DeleteDocument(ctx context.Context, id string) error {
	ctx, span := middleware.StartSpan(ctx, "Documents.Delete", attribute.String("document.id", id))
	defer span.End()

	if err := s.docRepo.Delete(ctx, id); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	if s.revisions != nil {
		if err := s.revisions.Forget(ctx, id); err != nil {
			s.log.WithError(err).WithField("document_id", id).Warn("Failed to delete revisions")
		}
	}
	s.log.WithField("document_id", id).Info("🗑️  Document deleted")
	return nil
}

// ValidateSlug checks format and uniqueness of slug across all content types,
// ignoring both versions of the document itself.
func (s *DocumentServiceImpl) ValidateSlug(ctx context.Context, slug, documentID string) (controller.SlugCheck, error) {
	ctx, span := middleware.StartSpan(ctx, "Documents.ValidateSlug", attribute.String("slug", slug))
	defer span.End()

	switch {
	case slug == "":
		return controller.SlugCheck{Message: "Slug is required"}, nil
	case !validation.ValidSlug(slug):
		return controller.SlugCheck{Message: "Slug may only contain lowercase letters, numbers and single hyphens"}, nil
	}

	taken, err := s.docRepo.SlugTaken(ctx, slug, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return controller.SlugCheck{}, err
	}
	if taken {
		return controller.SlugCheck{Message: "Slug is already in use"}, nil
	}
	return controller.SlugCheck{Valid: true}, nil
}

func (s *DocumentServiceImpl) record(ctx context.Context, id string, kind models.RevisionKind, before, after *models.Document) {
	if s.revisions != nil {
		job := RevisionJob{DocumentID: id, Kind: kind, Before: before, After: after}
		if err := s.revisions.SubmitJob(job); err != nil {
			s.log.WithError(err).WithField("document_id", id).Warn("Revision not recorded")
		}
	}

	s.mu.RLock()
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()

	origin := originFrom(ctx)
	for _, fn := range listeners {
		fn(after, kind, origin)
	}
}

// ValidationError marks input the caller has to correct
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
