package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docsync/internal/blocks"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocType string

const (
	TypeReview      DocType = "review"
	TypeArticle     DocType = "article"
	TypeNews        DocType = "news"
	TypeGameRelease DocType = "gameRelease"
)

// ContentTypes lists every document type that owns a slug.
var ContentTypes = []DocType{TypeReview, TypeArticle, TypeNews, TypeGameRelease}

func (t DocType) Valid() bool {
	for _, ct := range ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// HasContent reports whether documents of this type carry rich content.
func (t DocType) HasContent() bool {
	return t != TypeGameRelease
}

// HasPublishedAt reports whether the type is scheduled through publishedAt.
func (t DocType) HasPublishedAt() bool {
	return t != TypeGameRelease
}

const draftPrefix = "drafts."

// DraftRowID returns the row id of a document's draft version.
func DraftRowID(id string) string {
	return draftPrefix + strings.TrimPrefix(id, draftPrefix)
}

// PublicID strips the draft prefix from a row id.
func PublicID(rowID string) string {
	return strings.TrimPrefix(rowID, draftPrefix)
}

/*
LEARNING: DRAFT / PUBLISHED DUALITY

Every document exists as up to two rows sharing one public id:

	<id>         the published version readers see
	drafts.<id>  the working version editors change

Saving only ever touches the draft row. Publishing copies the draft over
the published row and deletes the draft; unpublishing deletes the
published row and keeps (or recreates) the draft.
*/

// Document is one stored version of a piece of content.
type Document struct {
	RowID    string  `json:"-" gorm:"column:row_id;type:varchar(40);primaryKey"`
	ID       string  `json:"_id" gorm:"column:public_id;type:char(27);not null;index"`
	Type     DocType `json:"_type" gorm:"column:doc_type;type:varchar(32);not null;index"`
	LegacyID int     `json:"legacyId" gorm:"column:legacy_id;not null;default:0"`

	Title   string  `json:"title" gorm:"type:text"`
	Slug    string  `json:"slug" gorm:"type:varchar(200);index"`
	Score   float64 `json:"score,omitempty"`
	Verdict string  `json:"verdict,omitempty" gorm:"type:text"`

	Pros      datatypes.JSONSlice[string] `json:"pros,omitempty"`
	Cons      datatypes.JSONSlice[string] `json:"cons,omitempty"`
	Platforms datatypes.JSONSlice[string] `json:"platforms,omitempty"`

	Game      *Reference                     `json:"game,omitempty" gorm:"serializer:json"`
	Tags      datatypes.JSONSlice[Reference] `json:"tags,omitempty"`
	Authors   datatypes.JSONSlice[Reference] `json:"authors,omitempty"`
	Reporters datatypes.JSONSlice[Reference] `json:"reporters,omitempty"`
	Designers datatypes.JSONSlice[Reference] `json:"designers,omitempty"`
	MainImage *ImageAsset                    `json:"mainImage,omitempty" gorm:"serializer:json"`

	ReleaseDate string `json:"releaseDate,omitempty" gorm:"type:varchar(10)"`
	Synopsis    string `json:"synopsis,omitempty" gorm:"type:text"`

	Content datatypes.JSONSlice[blocks.Block] `json:"content,omitempty"`

	PublishedAt *time.Time `json:"publishedAt,omitempty" gorm:"column:published_at"`
	CreatedAt   time.Time  `json:"_createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `json:"_updatedAt" gorm:"column:updated_at;autoUpdateTime"`

	// Published is filled on load: whether a published row exists.
	Published bool `json:"isPublished" gorm:"-"`
}

// BeforeCreate hook generates KSUID
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	if d.RowID == "" {
		d.RowID = DraftRowID(d.ID)
	}
	return nil
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) IsDraft() bool {
	return strings.HasPrefix(d.RowID, draftPrefix)
}

// Clone returns a deep copy so a loaded document can serve as an immutable reference.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Pros = cloneSlice(d.Pros)
	c.Cons = cloneSlice(d.Cons)
	c.Platforms = cloneSlice(d.Platforms)
	c.Tags = cloneSlice(d.Tags)
	c.Authors = cloneSlice(d.Authors)
	c.Reporters = cloneSlice(d.Reporters)
	c.Designers = cloneSlice(d.Designers)
	c.Content = cloneSlice(d.Content)
	if d.Game != nil {
		g := *d.Game
		c.Game = &g
	}
	if d.MainImage != nil {
		m := *d.MainImage
		c.MainImage = &m
	}
	if d.PublishedAt != nil {
		p := *d.PublishedAt
		c.PublishedAt = &p
	}
	return &c
}

func cloneSlice[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}
	return append(S(nil), s...)
}

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusScheduled DocumentStatus = "scheduled"
	StatusPublished DocumentStatus = "published"
)

// Status derives the editorial status shown next to a document.
func (d *Document) Status(now time.Time) DocumentStatus {
	if !d.Published {
		return StatusDraft
	}
	if !d.Type.HasPublishedAt() {
		return StatusPublished
	}
	if d.PublishedAt == nil {
		return StatusDraft
	}
	if d.PublishedAt.After(now) {
		return StatusScheduled
	}
	return StatusPublished
}

// Reference points at another document (game, tag, author, ...). Title is
// denormalized for display and never compared.
type Reference struct {
	ID    string `json:"_id"`
	Title string `json:"title,omitempty"`
}

// ImageAsset is a document's main image, identified by asset id.
type ImageAsset struct {
	AssetID  string `json:"assetId"`
	AssetURL string `json:"assetUrl,omitempty"`
}

// DocumentCreate is the payload for creating a new draft.
type DocumentCreate struct {
	Type        DocType `json:"type" validate:"required,doctype"`
	CreatorID   string  `json:"creatorId,omitempty"`
	CreatorName string  `json:"creatorName,omitempty"`
}

// PublishRequest selects one of three publish modes: Unpublish moves the
// document back to draft-only, At schedules it, neither publishes now.
type PublishRequest struct {
	At        *time.Time
	Unpublish bool
}

// ParsePublishAt reads the publishAt wire value. A nil value (field absent)
// publishes now, a JSON null unpublishes, an RFC 3339 string schedules.
func ParsePublishAt(raw json.RawMessage) (PublishRequest, error) {
	var req PublishRequest
	switch {
	case raw == nil:
	case strings.TrimSpace(string(raw)) == "null":
		req.Unpublish = true
	default:
		var at time.Time
		if err := json.Unmarshal(raw, &at); err != nil {
			return req, fmt.Errorf("publishAt must be an RFC 3339 time: %w", err)
		}
		req.At = &at
	}
	return req, nil
}
