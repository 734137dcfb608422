package controller

import (
	"context"
	"errors"

	"docsync/internal/models"
)

var (
	// ErrInvalidSlug rejects a save or publish while the slug is not valid.
	ErrInvalidSlug = errors.New("invalid slug")
	// ErrIncompleteDocument rejects a publish missing required fields.
	ErrIncompleteDocument = errors.New("document is incomplete")
	ErrClosed             = errors.New("controller closed")
	// ErrInvalidContent rejects an editor tree that is not a document.
	ErrInvalidContent     = errors.New("invalid editor content")
)

// SyncState is where a session stands between its edits and the repository.
type SyncState int

const (
	Clean SyncState = iota
	DirtyUnsaved
	SavingLocal
	AwaitingRemoteSave
	SavingRemote
)

func (s SyncState) String() string {
	switch s {
	case Clean:
		return "clean"
	case DirtyUnsaved:
		return "dirty-unsaved"
	case SavingLocal:
		return "saving-local"
	case AwaitingRemoteSave:
		return "awaiting-remote-save"
	case SavingRemote:
		return "saving-remote"
	default:
		return "unknown"
	}
}

type Status string

const (
	StatusSynced  Status = "synced"
	StatusPending Status = "pending"
	StatusSaving  Status = "saving"
	StatusFailed  Status = "failed"
)

// SaveStatus reports the local snapshot and the remote save separately.
type SaveStatus struct {
	Local  Status `json:"local"`
	Remote Status `json:"remote"`
}

type SlugStatus string

const (
	SlugPending SlugStatus = "pending"
	SlugValid   SlugStatus = "valid"
	SlugInvalid SlugStatus = "invalid"
)

// SlugCheck is the verdict of a SlugValidator.
type SlugCheck struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// ContentRepository is the remote source of truth.
// Learning: defined where it is consumed; services.DocumentService satisfies it.
type ContentRepository interface {
	LoadDocument(ctx context.Context, id string) (*models.Document, error)
	SaveDraftPatch(ctx context.Context, id string, patch map[string]any) (*models.Document, error)
	Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error)
}

type SlugValidator interface {
	ValidateSlug(ctx context.Context, slug, documentID string) (SlugCheck, error)
}

// Notifier observes a controller. Calls are made without the controller's
// lock held and must not block.
type Notifier interface {
	StatusChanged(status SaveStatus)
	SlugChecked(slug string, check SlugCheck)
	Saved(doc *models.Document)
	Published(doc *models.Document)
}

type nopNotifier struct{}

func (nopNotifier) StatusChanged(SaveStatus)      {}
func (nopNotifier) SlugChecked(string, SlugCheck) {}
func (nopNotifier) Saved(*models.Document)        {}
func (nopNotifier) Published(*models.Document)    {}
