package converter

import (
	"fmt"
	"strconv"
	"strings"

	"docsync/internal/blocks"
	"docsync/internal/nodetree"
)

// ToNodeTree converts a stored block array into an editor tree. Contiguous
// bullet blocks are grouped into one list and contiguous blockquote blocks
// into one quote; every image-bearing node receives a displayable src.
func (c *Converter) ToNodeTree(bs []blocks.Block) nodetree.Node {
	return nodetree.Doc(c.buildNodes(bs)...)
}

func (c *Converter) buildNodes(bs []blocks.Block) []nodetree.Node {
	out := make([]nodetree.Node, 0, len(bs))
	for i := 0; i < len(bs); {
		b := bs[i]

		if isBullet(b) {
			j := i
			for j < len(bs) && isBullet(bs[j]) {
				j++
			}
			out = append(out, c.buildList(bs[i:j], 1))
			i = j
			continue
		}

		if isQuote(b) {
			quote := nodetree.Node{Type: nodetree.TypeBlockquote}
			for i < len(bs) && isQuote(bs[i]) {
				quote.Content = append(quote.Content, nodetree.Paragraph(c.inline(bs[i])...))
				i++
			}
			out = append(out, quote)
			continue
		}

		if n, ok := c.buildNode(b); ok {
			out = append(out, n)
		}
		i++
	}
	return out
}

func isBullet(b blocks.Block) bool {
	return b.Type == blocks.TypeText && b.ListItem != ""
}

func isQuote(b blocks.Block) bool {
	return b.Type == blocks.TypeText && b.ListItem == "" && b.Style == blocks.StyleBlockquote
}

func listLevel(b blocks.Block) int {
	if b.Level < 1 {
		return 1
	}
	return b.Level
}

// buildList nests deeper-level runs inside the preceding list item.
func (c *Converter) buildList(run []blocks.Block, level int) nodetree.Node {
	list := nodetree.Node{Type: nodetree.TypeBulletList}
	for i := 0; i < len(run); {
		if listLevel(run[i]) <= level {
			list.Content = append(list.Content, nodetree.Node{
				Type:    nodetree.TypeListItem,
				Content: []nodetree.Node{c.listItemNode(run[i])},
			})
			i++
			continue
		}

		j := i
		for j < len(run) && listLevel(run[j]) > level {
			j++
		}
		nested := c.buildList(run[i:j], level+1)
		if last := len(list.Content) - 1; last >= 0 {
			list.Content[last].Content = append(list.Content[last].Content, nested)
		} else {
			list.Content = append(list.Content, nodetree.Node{
				Type:    nodetree.TypeListItem,
				Content: []nodetree.Node{nested},
			})
		}
		i = j
	}
	return list
}

func (c *Converter) buildNode(b blocks.Block) (nodetree.Node, bool) {
	switch b.Type {
	case blocks.TypeText:
		return c.textNode(b), true
	case blocks.TypeTable:
		return c.tableNode(b), true
	case blocks.TypeImage:
		if b.Asset == nil || b.Asset.Ref == "" {
			return nodetree.Node{}, false
		}
		return nodetree.Node{
			Type: nodetree.TypeImage,
			Attrs: map[string]interface{}{
				"src":     c.assets.displaySrc(b.Asset.Ref, b.Asset.URL),
				"assetId": b.Asset.Ref,
			},
		}, true
	case blocks.TypeImageCompare:
		n := c.multiImageNode(b, nodetree.TypeImageCompare, 2)
		size := b.Size
		if size == "" {
			size = blocks.SizeLarge
		}
		n.Attrs["data-size"] = size
		return n, true
	case blocks.TypeTwoImageGrid:
		return c.multiImageNode(b, nodetree.TypeTwoImageGrid, 2), true
	case blocks.TypeFourImageGrid:
		return c.multiImageNode(b, nodetree.TypeFourImageGrid, 4), true
	case blocks.TypeYoutube:
		return nodetree.Node{Type: nodetree.TypeYoutube, Attrs: map[string]interface{}{"src": b.URL}}, true
	case blocks.TypeGameDetails:
		details := make([]interface{}, 0, len(b.Details))
		for _, d := range b.Details {
			details = append(details, map[string]interface{}{"label": d.Label, "value": d.Value})
		}
		attrs := map[string]interface{}{"details": details}
		if b.Width != "" {
			attrs["width"] = b.Width
		}
		return nodetree.Node{Type: nodetree.TypeGameDetails, Attrs: attrs}, true
	default:
		c.log.WithField("type", b.Type).Warn("Unknown block type")
		return nodetree.Node{}, false
	}
}

// textNode maps a text block to a paragraph or heading by style.
func (c *Converter) textNode(b blocks.Block) nodetree.Node {
	if level, ok := headingLevel(b.Style); ok {
		return nodetree.Node{
			Type:    nodetree.TypeHeading,
			Attrs:   map[string]interface{}{"level": level},
			Content: c.inline(b),
		}
	}
	return nodetree.Paragraph(c.inline(b)...)
}

// listItemNode is textNode for list items, which may also be quoted.
func (c *Converter) listItemNode(b blocks.Block) nodetree.Node {
	if b.Style == blocks.StyleBlockquote {
		return nodetree.Node{
			Type:    nodetree.TypeBlockquote,
			Content: []nodetree.Node{nodetree.Paragraph(c.inline(b)...)},
		}
	}
	return c.textNode(b)
}

func headingLevel(style string) (int, bool) {
	rest, ok := strings.CutPrefix(style, "h")
	if !ok {
		return 0, false
	}
	level, err := strconv.Atoi(rest)
	if err != nil || level < 1 {
		return 0, false
	}
	return level, true
}

// inline converts spans to text leaves. Empty spans disappear since the
// editor has no empty text nodes; newlines become hard breaks.
func (c *Converter) inline(b blocks.Block) []nodetree.Node {
	defs := make(map[string]blocks.MarkDef, len(b.MarkDefs))
	for _, d := range b.MarkDefs {
		defs[d.Key] = d
	}

	var out []nodetree.Node
	for _, s := range b.Children {
		if s.Text == "" {
			continue
		}
		marks := c.marks(s.Marks, defs)
		for i, part := range strings.Split(s.Text, "\n") {
			if i > 0 {
				out = append(out, nodetree.Node{Type: nodetree.TypeHardBreak, Marks: marks})
			}
			if part != "" {
				out = append(out, nodetree.Text(part, marks...))
			}
		}
	}
	return out
}

func (c *Converter) marks(keys []string, defs map[string]blocks.MarkDef) []nodetree.Mark {
	var out []nodetree.Mark
	for _, k := range keys {
		switch k {
		case blocks.MarkStrong:
			out = append(out, nodetree.Mark{Type: nodetree.MarkBold})
			continue
		case blocks.MarkEm:
			out = append(out, nodetree.Mark{Type: nodetree.MarkItalic})
			continue
		}
		d, ok := defs[k]
		if !ok {
			c.log.WithField("mark", k).Warn("Dropping mark without definition")
			continue
		}
		switch d.Type {
		case blocks.MarkDefLink:
			out = append(out, nodetree.Mark{Type: nodetree.MarkLink, Attrs: map[string]interface{}{"href": d.Href}})
		case blocks.MarkDefColor:
			out = append(out, nodetree.Mark{Type: nodetree.MarkTextStyle, Attrs: map[string]interface{}{"color": d.Hex}})
		default:
			c.log.WithField("mark_type", d.Type).Warn("Dropping unknown mark definition")
		}
	}
	return out
}

func (c *Converter) tableNode(b blocks.Block) nodetree.Node {
	table := nodetree.Node{Type: nodetree.TypeTable}
	for _, row := range b.Rows {
		rowNode := nodetree.Node{Type: nodetree.TypeTableRow}
		for _, cell := range row.Cells {
			typ := nodetree.TypeTableCell
			if cell.Header {
				typ = nodetree.TypeTableHeader
			}
			attrs := map[string]interface{}{}
			if cell.ColSpan > 0 {
				attrs["colspan"] = cell.ColSpan
			}
			if cell.RowSpan > 0 {
				attrs["rowspan"] = cell.RowSpan
			}
			if len(attrs) == 0 {
				attrs = nil
			}
			rowNode.Content = append(rowNode.Content, nodetree.Node{
				Type:    typ,
				Attrs:   attrs,
				Content: c.buildNodes(cell.Content),
			})
		}
		table.Content = append(table.Content, rowNode)
	}
	return table
}

func (c *Converter) multiImageNode(b blocks.Block, typ string, slots int) nodetree.Node {
	attrs := map[string]interface{}{}
	for i, ref := range b.Images()[:slots] {
		id := ref.AssetID()
		if id == "" {
			continue
		}
		attrs[fmt.Sprintf("assetId%d", i+1)] = id
		attrs[fmt.Sprintf("src%d", i+1)] = c.assets.displaySrc(id, ref.Asset.URL)
	}
	return nodetree.Node{Type: typ, Attrs: attrs}
}
