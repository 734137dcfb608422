package services

import (
	"context"

	"docsync/internal/models"
)

/*
LEARNING: GO INTERFACE BEST PRACTICE

"Accept interfaces, return structs" - Rob Pike

Key Principle: Interfaces should be defined where they are USED, not where implemented.

Why?
1. Consumer-driven design: The user of the dependency defines what it needs
2. Smaller, focused interfaces: Only declare methods you actually use
3. No circular dependencies: Implementation doesn't know about interface
4. Better testability: Easy to mock exactly what you need

This package (services) is the CONSUMER of repositories, so interfaces go here!
The sync controller does the same with controller.ContentRepository, which
DocumentServiceImpl satisfies.
*/

// DocumentRepository defines what the service needs from document storage
// Only methods actually used by services are declared here
type DocumentRepository interface {
	Create(ctx context.Context, req *models.DocumentCreate) (*models.Document, error)
	Load(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, docType models.DocType, limit, offset int) ([]*models.Document, error)
	SaveDraftPatch(ctx context.Context, id string, patch map[string]any) (*models.Document, error)
	Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error)
	Delete(ctx context.Context, id string) error
	SlugTaken(ctx context.Context, slug, id string) (bool, error)
}

// RevisionRepository defines what the revision workers need from storage
type RevisionRepository interface {
	StoreRevision(ctx context.Context, rev *models.Revision) error
	ListRevisions(ctx context.Context, documentID string, limit int) ([]*models.Revision, error)
	PruneRevisions(ctx context.Context, documentID string, keepCount int) error
	DeleteRevisions(ctx context.Context, documentID string) error
}

// RevisionRecorder receives every stored change of a document
type RevisionRecorder interface {
	SubmitJob(job RevisionJob) error
	Forget(ctx context.Context, documentID string) error
}

// ChangeListener is told about every document version written through the
// service, e.g. to notify other editing sessions.
type ChangeListener func(doc *models.Document, kind models.RevisionKind, origin string)
