// Package session holds the flat, form-like editing state of a document and
// the pure reducer that applies editor actions to it.
package session

import (
	"regexp"
	"strings"
	"time"

	"docsync/internal/models"
)

// State is everything the editor changes outside the rich content.
type State struct {
	ID           string             `json:"_id"`
	Type         models.DocType     `json:"_type"`
	Title        string             `json:"title"`
	Slug         string             `json:"slug"`
	IsSlugManual bool               `json:"isSlugManual"`
	Score        float64            `json:"score"`
	Verdict      string             `json:"verdict"`
	Pros         []string           `json:"pros"`
	Cons         []string           `json:"cons"`
	Game         *models.Reference  `json:"game"`
	Tags         []models.Reference `json:"tags"`
	Authors      []models.Reference `json:"authors"`
	Reporters    []models.Reference `json:"reporters"`
	Designers    []models.Reference `json:"designers"`
	MainImage    models.ImageAsset  `json:"mainImage"`
	PublishedAt  *time.Time         `json:"publishedAt"`
	ReleaseDate  string             `json:"releaseDate"`
	Platforms    []string           `json:"platforms"`
	Synopsis     string             `json:"synopsis"`
}

// FromDocument derives the editing state of a stored document. References
// without an id (dangling relations) are dropped.
func FromDocument(d *models.Document) State {
	s := State{
		ID:           d.ID,
		Type:         d.Type,
		Title:        d.Title,
		Slug:         d.Slug,
		IsSlugManual: d.Slug != "",
		Score:        d.Score,
		Verdict:      d.Verdict,
		Pros:         append([]string{}, d.Pros...),
		Cons:         append([]string{}, d.Cons...),
		Tags:         liveRefs(d.Tags),
		Authors:      liveRefs(d.Authors),
		Reporters:    liveRefs(d.Reporters),
		Designers:    liveRefs(d.Designers),
		ReleaseDate:  d.ReleaseDate,
		Platforms:    append([]string{}, d.Platforms...),
		Synopsis:     d.Synopsis,
	}
	if d.Game != nil && d.Game.ID != "" {
		g := *d.Game
		s.Game = &g
	}
	if d.MainImage != nil {
		s.MainImage = *d.MainImage
	}
	if d.PublishedAt != nil {
		p := *d.PublishedAt
		s.PublishedAt = &p
	}
	return s
}

func liveRefs(refs []models.Reference) []models.Reference {
	out := make([]models.Reference, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			out = append(out, r)
		}
	}
	return out
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugCollapse = regexp.MustCompile(`[\s-]+`)
)

// Slugify lowercases, drops everything outside [a-z0-9 -] and collapses
// runs of whitespace and hyphens into a single hyphen.
func Slugify(text string) string {
	if text == "" {
		return ""
	}
	s := strings.TrimSpace(strings.ToLower(text))
	s = slugStrip.ReplaceAllString(s, "")
	return slugCollapse.ReplaceAllString(s, "-")
}
