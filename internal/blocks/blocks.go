package blocks

import (
	"fmt"
)

// Block types stored in a document's content array.
const (
	TypeText          = "block"
	TypeTable         = "table"
	TypeImage         = "image"
	TypeImageCompare  = "imageCompare"
	TypeTwoImageGrid  = "twoImageGrid"
	TypeFourImageGrid = "fourImageGrid"
	TypeYoutube       = "youtube"
	TypeGameDetails   = "gameDetails"
)

// Text block styles.
const (
	StyleNormal     = "normal"
	StyleBlockquote = "blockquote"
)

const ListBullet = "bullet"

// Literal span marks.
const (
	MarkStrong = "strong"
	MarkEm     = "em"
)

// Mark definition types referenced from span marks by key.
const (
	MarkDefLink  = "link"
	MarkDefColor = "color"
)

// Image compare sizes.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Block is one entry of the block array. It is a tagged union on Type:
// only the fields belonging to that type are populated.
type Block struct {
	Type string `json:"_type"`
	Key  string `json:"_key,omitempty"`

	// block
	Style    string    `json:"style,omitempty"`
	ListItem string    `json:"listItem,omitempty"`
	Level    int       `json:"level,omitempty"`
	Children []Span    `json:"children,omitempty"`
	MarkDefs []MarkDef `json:"markDefs,omitempty"`

	// table
	Rows []TableRow `json:"rows,omitempty"`

	// image
	Asset *AssetRef `json:"asset,omitempty"`

	// imageCompare, twoImageGrid, fourImageGrid
	Image1 *ImageRef `json:"image1,omitempty"`
	Image2 *ImageRef `json:"image2,omitempty"`
	Image3 *ImageRef `json:"image3,omitempty"`
	Image4 *ImageRef `json:"image4,omitempty"`
	Size   string    `json:"size,omitempty"`

	// youtube
	URL string `json:"url,omitempty"`

	// gameDetails
	Details []DetailItem `json:"details,omitempty"`
	Width   string       `json:"width,omitempty"`
}

// Span is a run of text sharing the same marks. Marks hold either a literal
// decorator (strong, em) or the key of a MarkDef on the enclosing block.
type Span struct {
	Type  string   `json:"_type"`
	Key   string   `json:"_key,omitempty"`
	Text  string   `json:"text"`
	Marks []string `json:"marks,omitempty"`
}

type MarkDef struct {
	Key  string `json:"_key"`
	Type string `json:"_type"`
	Href string `json:"href,omitempty"`
	Hex  string `json:"hex,omitempty"`
}

type TableRow struct {
	Type  string      `json:"_type"`
	Key   string      `json:"_key,omitempty"`
	Cells []TableCell `json:"cells"`
}

// TableCell content is itself a block array, so tables nest without limit.
type TableCell struct {
	Type    string  `json:"_type"`
	Key     string  `json:"_key,omitempty"`
	Header  bool    `json:"isHeader,omitempty"`
	ColSpan int     `json:"colspan,omitempty"`
	RowSpan int     `json:"rowspan,omitempty"`
	Content []Block `json:"content"`
}

// AssetRef points at a stored media asset. URL is a denormalized cache that
// loaded documents may carry; it never takes part in comparisons.
type AssetRef struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
	URL  string `json:"url,omitempty"`
}

type ImageRef struct {
	Type  string    `json:"_type"`
	Asset *AssetRef `json:"asset"`
}

type DetailItem struct {
	Key   string `json:"_key,omitempty"`
	Label string `json:"label"`
	Value string `json:"value"`
}

func NewAssetRef(id string) *AssetRef {
	return &AssetRef{Type: "reference", Ref: id}
}

// NewImageRef returns nil for an empty id so that unset slots serialize as absent.
func NewImageRef(id string) *ImageRef {
	if id == "" {
		return nil
	}
	return &ImageRef{Type: TypeImage, Asset: NewAssetRef(id)}
}

// AssetID returns the referenced asset id, or "" when the slot is empty.
func (r *ImageRef) AssetID() string {
	if r == nil || r.Asset == nil {
		return ""
	}
	return r.Asset.Ref
}

// Images returns the multi-image slots in order.
func (b Block) Images() []*ImageRef {
	return []*ImageRef{b.Image1, b.Image2, b.Image3, b.Image4}
}

// PlainText concatenates the text of every span in the block.
func (b Block) PlainText() string {
	out := ""
	for _, s := range b.Children {
		out += s.Text
	}
	return out
}

// Validate checks the structural rules of a block array: every span mark must
// be a literal decorator or resolve to a markDef of its block, and tables
// must have rows of cells.
func Validate(bs []Block) error {
	for i, b := range bs {
		if err := validateBlock(b); err != nil {
			return fmt.Errorf("block %d (%s): %w", i, b.Type, err)
		}
	}
	return nil
}

func validateBlock(b Block) error {
	switch b.Type {
	case TypeText:
		defs := make(map[string]bool, len(b.MarkDefs))
		for _, d := range b.MarkDefs {
			defs[d.Key] = true
		}
		for _, s := range b.Children {
			for _, m := range s.Marks {
				if m == MarkStrong || m == MarkEm {
					continue
				}
				if !defs[m] {
					return fmt.Errorf("span mark %q has no definition", m)
				}
			}
		}
	case TypeTable:
		for r, row := range b.Rows {
			for c, cell := range row.Cells {
				if err := Validate(cell.Content); err != nil {
					return fmt.Errorf("cell %d/%d: %w", r, c, err)
				}
			}
		}
	case TypeImage:
		if b.Asset == nil || b.Asset.Ref == "" {
			return fmt.Errorf("image without asset reference")
		}
	case TypeImageCompare, TypeTwoImageGrid, TypeFourImageGrid, TypeYoutube, TypeGameDetails:
	default:
		return fmt.Errorf("unknown block type")
	}
	return nil
}
