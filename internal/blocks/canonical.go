package blocks

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Canonical returns a copy of bs in the form used for equivalence checks:
// keys stripped, cached asset URLs dropped, defaults filled in and mark
// definitions deduplicated and renumbered by first use. The input is not
// modified.
func Canonical(bs []Block) []Block {
	out := make([]Block, 0, len(bs))
	for _, b := range bs {
		out = append(out, canonicalBlock(b))
	}
	return out
}

// Equal reports whether two block arrays are equivalent after canonicalization.
func Equal(a, b []Block) bool {
	ja, err := json.Marshal(Canonical(a))
	if err != nil {
		return false
	}
	jb, err := json.Marshal(Canonical(b))
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func canonicalBlock(b Block) Block {
	c := b
	c.Key = ""

	switch b.Type {
	case TypeText:
		if c.Style == "" {
			c.Style = StyleNormal
		}
		if c.ListItem == "" {
			c.Level = 0
		} else if c.Level == 0 {
			c.Level = 1
		}
		c.Children, c.MarkDefs = canonicalSpans(b.Children, b.MarkDefs)
	case TypeTable:
		c.Rows = make([]TableRow, 0, len(b.Rows))
		for _, row := range b.Rows {
			cr := TableRow{Type: "tableRow", Cells: make([]TableCell, 0, len(row.Cells))}
			for _, cell := range row.Cells {
				cc := cell
				cc.Key = ""
				cc.Type = "tableCell"
				if cc.ColSpan == 1 {
					cc.ColSpan = 0
				}
				if cc.RowSpan == 1 {
					cc.RowSpan = 0
				}
				cc.Content = Canonical(cell.Content)
				cr.Cells = append(cr.Cells, cc)
			}
			c.Rows = append(c.Rows, cr)
		}
	case TypeImage:
		c.Asset = canonicalAsset(b.Asset)
	case TypeImageCompare, TypeTwoImageGrid, TypeFourImageGrid:
		c.Image1 = canonicalImage(b.Image1)
		c.Image2 = canonicalImage(b.Image2)
		c.Image3 = canonicalImage(b.Image3)
		c.Image4 = canonicalImage(b.Image4)
		if b.Type == TypeImageCompare && c.Size == "" {
			c.Size = SizeLarge
		}
	case TypeGameDetails:
		c.Details = make([]DetailItem, 0, len(b.Details))
		for _, d := range b.Details {
			c.Details = append(c.Details, DetailItem{Label: d.Label, Value: d.Value})
		}
	}
	return c
}

func canonicalAsset(a *AssetRef) *AssetRef {
	if a == nil {
		return nil
	}
	return &AssetRef{Type: "reference", Ref: a.Ref}
}

func canonicalImage(r *ImageRef) *ImageRef {
	if r == nil || r.Asset == nil || r.Asset.Ref == "" {
		return nil
	}
	return &ImageRef{Type: TypeImage, Asset: canonicalAsset(r.Asset)}
}

type defIdentity struct {
	typ, href, hex string
}

func canonicalSpans(spans []Span, defs []MarkDef) ([]Span, []MarkDef) {
	byKey := make(map[string]MarkDef, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}

	renamed := make(map[defIdentity]string)
	var outDefs []MarkDef
	outSpans := make([]Span, 0, len(spans))

	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		cs := Span{Type: "span", Text: s.Text}
		for _, m := range s.Marks {
			d, ok := byKey[m]
			if !ok {
				cs.Marks = append(cs.Marks, m)
				continue
			}
			id := defIdentity{d.Type, d.Href, d.Hex}
			key, seen := renamed[id]
			if !seen {
				key = "m" + strconv.Itoa(len(outDefs))
				renamed[id] = key
				outDefs = append(outDefs, MarkDef{Key: key, Type: d.Type, Href: d.Href, Hex: d.Hex})
			}
			cs.Marks = append(cs.Marks, key)
		}
		// adjacent runs with identical marks are one run
		if n := len(outSpans); n > 0 && sameMarks(outSpans[n-1].Marks, cs.Marks) {
			outSpans[n-1].Text += cs.Text
			continue
		}
		outSpans = append(outSpans, cs)
	}

	if len(outSpans) == 0 {
		outSpans = append(outSpans, Span{Type: "span", Text: ""})
	}
	return outSpans, outDefs
}

func sameMarks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
