package api

import (
	"context"

	"docsync/internal/controller"
	"docsync/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of services, so service interfaces live HERE.

The handler doesn't care about service implementation details - it only cares about
the methods it needs to call. This is the "Interface Segregation Principle" from SOLID.

Benefits:
- Handler package defines exactly what it needs
- Service implementations can change without affecting handler
- Easy to create mock services for testing handlers
- No circular dependencies
*/

// DocumentService defines what handlers need from the document service
type DocumentService interface {
	CreateDocument(ctx context.Context, req *models.DocumentCreate) (*models.Document, error)
	LoadDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, docType models.DocType, limit, offset int) ([]*models.Document, error)
	SaveDraftPatch(ctx context.Context, id string, patch map[string]any) (*models.Document, error)
	Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ValidateSlug(ctx context.Context, slug, documentID string) (controller.SlugCheck, error)
}

// RevisionHistory serves the stored change history
type RevisionHistory interface {
	History(ctx context.Context, documentID string, limit int) ([]*models.Revision, error)
	GetQueueLength() int
}
