package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"docsync/internal/blocks"
	"docsync/internal/models"
)

// wire shapes accepted in a draft patch
type wireRef struct {
	Ref   string `json:"_ref"`
	Title string `json:"title,omitempty"`
}

type wireSlug struct {
	Current string `json:"current"`
}

type wireImage struct {
	Asset wireRef `json:"asset"`
}

// applyPatch sets every field named in patch on doc. A nil value clears the
// field. Denormalized titles and cached image URLs survive when the
// referenced id does not change.
func applyPatch(doc *models.Document, patch map[string]any) error {
	for field, value := range patch {
		if err := applyField(doc, field, value); err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrInvalidPatch, field, err)
		}
	}
	return nil
}

func applyField(doc *models.Document, field string, value any) error {
	switch field {
	case "title":
		return decodeInto(value, &doc.Title)
	case "verdict":
		return decodeInto(value, &doc.Verdict)
	case "releaseDate":
		return decodeInto(value, &doc.ReleaseDate)
	case "synopsis":
		return decodeInto(value, &doc.Synopsis)
	case "score":
		return decodeInto(value, &doc.Score)
	case "slug":
		var s wireSlug
		if err := decodeInto(value, &s); err != nil {
			return err
		}
		doc.Slug = s.Current
	case "pros":
		return decodeInto(value, &doc.Pros)
	case "cons":
		return decodeInto(value, &doc.Cons)
	case "platforms":
		return decodeInto(value, &doc.Platforms)
	case "game":
		var r *wireRef
		if err := decodeInto(value, &r); err != nil {
			return err
		}
		if r == nil || r.Ref == "" {
			doc.Game = nil
			return nil
		}
		title := r.Title
		if title == "" && doc.Game != nil && doc.Game.ID == r.Ref {
			title = doc.Game.Title
		}
		doc.Game = &models.Reference{ID: r.Ref, Title: title}
	case "tags":
		return applyRefs(&doc.Tags, value)
	case "authors":
		return applyRefs(&doc.Authors, value)
	case "reporters":
		return applyRefs(&doc.Reporters, value)
	case "designers":
		return applyRefs(&doc.Designers, value)
	case "mainImage":
		var img *wireImage
		if err := decodeInto(value, &img); err != nil {
			return err
		}
		if img == nil || img.Asset.Ref == "" {
			doc.MainImage = nil
			return nil
		}
		url := ""
		if doc.MainImage != nil && doc.MainImage.AssetID == img.Asset.Ref {
			url = doc.MainImage.AssetURL
		}
		doc.MainImage = &models.ImageAsset{AssetID: img.Asset.Ref, AssetURL: url}
	case "content":
		var content []blocks.Block
		if err := decodeInto(value, &content); err != nil {
			return err
		}
		if err := blocks.Validate(content); err != nil {
			return err
		}
		doc.Content = content
	case "publishedAt":
		var t *time.Time
		if err := decodeInto(value, &t); err != nil {
			return err
		}
		doc.PublishedAt = t
	default:
		return fmt.Errorf("unknown field")
	}
	return nil
}

func applyRefs[S ~[]models.Reference](dst *S, value any) error {
	var refs []wireRef
	if err := decodeInto(value, &refs); err != nil {
		return err
	}
	titles := make(map[string]string, len(*dst))
	for _, r := range *dst {
		titles[r.ID] = r.Title
	}
	out := make(S, 0, len(refs))
	for _, r := range refs {
		if r.Ref == "" {
			continue
		}
		title := r.Title
		if title == "" {
			title = titles[r.Ref]
		}
		out = append(out, models.Reference{ID: r.Ref, Title: title})
	}
	if len(out) == 0 {
		out = nil
	}
	*dst = out
	return nil
}

// decodeInto converts a loosely typed patch value (decoded JSON or Go
// values) into a typed destination. nil zeroes the destination.
func decodeInto(value any, dst any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	target := reflect.ValueOf(dst).Elem()
	if string(raw) == "null" {
		target.SetZero()
		return nil
	}
	fresh := reflect.New(target.Type())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return err
	}
	target.Set(fresh.Elem())
	return nil
}
