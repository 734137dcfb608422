// Package patch computes the minimal set of field changes between the live
// editing state and the last saved document.
package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"docsync/internal/blocks"
	"docsync/internal/converter"
	"docsync/internal/models"
	"docsync/internal/session"
)

// Patch is a sparse field map already shaped for the repository. A nil value
// means "unset this field".
type Patch map[string]any

func (p Patch) Empty() bool {
	return len(p) == 0
}

// Fields returns the changed field names in sorted order.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var ErrNoReference = errors.New("no reference document")

// Differ compares editing state against a reference document.
type Differ struct {
	conv *converter.Converter
}

func NewDiffer(conv *converter.Converter) *Differ {
	return &Differ{conv: conv}
}

// Diff returns the fields of state (plus the serialized editor tree) that
// differ from ref. Empty strings, false, zero and empty lists count as
// absent; relations compare by id only; content compares after conversion
// with keys stripped. An empty tree leaves content out of the comparison.
func (d *Differ) Diff(state session.State, ref *models.Document, tree json.RawMessage) (Patch, error) {
	if ref == nil {
		return nil, ErrNoReference
	}
	p := Patch{}

	diffString(p, "title", state.Title, ref.Title)
	if state.Slug != ref.Slug {
		if state.Slug == "" {
			p["slug"] = nil
		} else {
			p["slug"] = map[string]any{"_type": "slug", "current": state.Slug}
		}
	}
	if state.Score != ref.Score {
		if state.Score == 0 {
			p["score"] = nil
		} else {
			p["score"] = state.Score
		}
	}
	diffString(p, "verdict", state.Verdict, ref.Verdict)
	diffString(p, "releaseDate", state.ReleaseDate, ref.ReleaseDate)
	diffString(p, "synopsis", state.Synopsis, ref.Synopsis)

	diffStrings(p, "pros", state.Pros, ref.Pros)
	diffStrings(p, "cons", state.Cons, ref.Cons)
	diffStrings(p, "platforms", state.Platforms, ref.Platforms)

	if refID(state.Game) != refID(ref.Game) {
		if id := refID(state.Game); id == "" {
			p["game"] = nil
		} else {
			w := wireRef(id)
			if state.Game.Title != "" {
				w["title"] = state.Game.Title
			}
			p["game"] = w
		}
	}

	diffRefs(p, "tags", state.Tags, ref.Tags)
	diffRefs(p, "authors", state.Authors, ref.Authors)
	diffRefs(p, "reporters", state.Reporters, ref.Reporters)
	diffRefs(p, "designers", state.Designers, ref.Designers)

	refImage := ""
	if ref.MainImage != nil {
		refImage = ref.MainImage.AssetID
	}
	if state.MainImage.AssetID != refImage {
		if state.MainImage.AssetID == "" {
			p["mainImage"] = nil
		} else {
			p["mainImage"] = map[string]any{
				"_type": "image",
				"asset": wireRef(state.MainImage.AssetID),
			}
		}
	}

	if ref.Type.HasContent() && len(tree) > 0 {
		content, err := d.conv.BlocksFromJSON(tree)
		if err != nil {
			return nil, fmt.Errorf("failed to convert editor content: %w", err)
		}
		ops, err := ContentOps(ref.Content, content)
		if err != nil {
			return nil, err
		}
		if !ops.Empty() {
			p["content"] = content
		}
	}

	return p, nil
}

func diffString(p Patch, field, cur, ref string) {
	if cur == ref {
		return
	}
	if cur == "" {
		p[field] = nil
		return
	}
	p[field] = cur
}

func diffStrings(p Patch, field string, cur, ref []string) {
	if len(cur) == 0 && len(ref) == 0 {
		return
	}
	if slices.Equal(cur, ref) {
		return
	}
	if len(cur) == 0 {
		p[field] = nil
		return
	}
	p[field] = append([]string{}, cur...)
}

func diffRefs(p Patch, field string, cur, ref []models.Reference) {
	curIDs := idSet(cur)
	if slices.Equal(curIDs, idSet(ref)) {
		return
	}
	if len(curIDs) == 0 {
		p[field] = nil
		return
	}
	list := make([]map[string]any, 0, len(cur))
	for _, r := range cur {
		if r.ID == "" {
			continue
		}
		w := wireRef(r.ID)
		w["_key"] = r.ID
		if r.Title != "" {
			w["title"] = r.Title
		}
		list = append(list, w)
	}
	p[field] = list
}

// idSet returns the sorted, de-duplicated ids of refs.
func idSet(refs []models.Reference) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return slices.Compact(ids)
}

func refID(r *models.Reference) string {
	if r == nil {
		return ""
	}
	return r.ID
}

func wireRef(id string) map[string]any {
	return map[string]any{"_type": "reference", "_ref": id}
}

// ContentEqual reports whether two block arrays are equivalent.
func ContentEqual(a, b []blocks.Block) (bool, error) {
	ops, err := ContentOps(a, b)
	if err != nil {
		return false, err
	}
	return ops.Empty(), nil
}
