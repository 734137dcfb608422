package converter

import (
	"fmt"
	"strconv"

	"docsync/internal/blocks"
	"docsync/internal/nodetree"
)

// ToBlockArray converts an editor tree into the stored block array.
// Anything that is not a doc root yields an empty array.
func (c *Converter) ToBlockArray(root nodetree.Node) []blocks.Block {
	if root.Type != nodetree.TypeDoc {
		return []blocks.Block{}
	}
	return c.convertNodes(root.Content)
}

func (c *Converter) convertNodes(nodes []nodetree.Node) []blocks.Block {
	out := make([]blocks.Block, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, c.convertNode(n)...)
	}
	return out
}

func (c *Converter) convertNode(n nodetree.Node) []blocks.Block {
	switch n.Type {
	case nodetree.TypeParagraph:
		return []blocks.Block{c.textBlock(n.Content, blocks.StyleNormal)}
	case nodetree.TypeHeading:
		return []blocks.Block{c.textBlock(n.Content, headingStyle(n))}
	case nodetree.TypeBlockquote:
		return c.blockquote(n)
	case nodetree.TypeBulletList:
		return c.bulletList(n, 1)
	case nodetree.TypeListItem:
		// stray list item outside a list
		return c.listItem(n, 1)
	case nodetree.TypeTable:
		return []blocks.Block{c.table(n)}
	case nodetree.TypeImage:
		return c.image(n)
	case nodetree.TypeImageCompare:
		size := n.AttrString("data-size")
		if size == "" {
			size = blocks.SizeLarge
		}
		b := c.multiImage(n, blocks.TypeImageCompare, 2)
		b.Size = size
		return []blocks.Block{b}
	case nodetree.TypeTwoImageGrid:
		return []blocks.Block{c.multiImage(n, blocks.TypeTwoImageGrid, 2)}
	case nodetree.TypeFourImageGrid:
		return []blocks.Block{c.multiImage(n, blocks.TypeFourImageGrid, 4)}
	case nodetree.TypeYoutube:
		return []blocks.Block{{Type: blocks.TypeYoutube, Key: c.newKey(), URL: n.AttrString("src")}}
	case nodetree.TypeGameDetails:
		return []blocks.Block{c.gameDetails(n)}
	default:
		c.log.WithField("type", n.Type).Warn("Unknown node type")
		return nil
	}
}

// textBlock builds a text block from inline content. Link and color marks
// become mark definitions; identical definitions within a block are shared.
func (c *Converter) textBlock(inline []nodetree.Node, style string) blocks.Block {
	b := blocks.Block{
		Type:     blocks.TypeText,
		Key:      c.newKey(),
		Style:    style,
		Children: []blocks.Span{},
		MarkDefs: []blocks.MarkDef{},
	}

	defKeys := make(map[string]string)
	markDef := func(typ, href, hex string) string {
		id := typ + "\x00" + href + "\x00" + hex
		if k, ok := defKeys[id]; ok {
			return k
		}
		k := c.newKey()
		defKeys[id] = k
		b.MarkDefs = append(b.MarkDefs, blocks.MarkDef{Key: k, Type: typ, Href: href, Hex: hex})
		return k
	}

	for _, n := range inline {
		text := n.Text
		switch n.Type {
		case nodetree.TypeText:
		case nodetree.TypeHardBreak:
			text = "\n"
		default:
			c.log.WithField("type", n.Type).Warn("Dropping unknown inline node")
			continue
		}
		if text == "" {
			continue
		}

		marks := []string{}
		for _, m := range n.Marks {
			switch m.Type {
			case nodetree.MarkBold:
				marks = append(marks, blocks.MarkStrong)
			case nodetree.MarkItalic:
				marks = append(marks, blocks.MarkEm)
			case nodetree.MarkLink:
				marks = append(marks, markDef(blocks.MarkDefLink, m.AttrString("href"), ""))
			case nodetree.MarkTextStyle:
				if color := m.AttrString("color"); color != "" {
					marks = append(marks, markDef(blocks.MarkDefColor, "", color))
				}
			default:
				c.log.WithField("mark", m.Type).Warn("Dropping unknown mark")
			}
		}
		b.Children = append(b.Children, blocks.Span{Type: "span", Key: c.newKey(), Text: text, Marks: marks})
	}

	if len(b.Children) == 0 {
		b.Children = append(b.Children, blocks.Span{Type: "span", Key: c.newKey(), Text: "", Marks: []string{}})
	}
	return b
}

// headingStyle maps a heading node to h<level>, defaulting to h2.
func headingStyle(n nodetree.Node) string {
	level := n.AttrInt("level")
	if level == 0 {
		level = 2
	}
	return "h" + strconv.Itoa(level)
}

func (c *Converter) blockquote(n nodetree.Node) []blocks.Block {
	var out []blocks.Block
	for _, child := range n.Content {
		if child.Type == nodetree.TypeParagraph || child.Type == nodetree.TypeHeading {
			out = append(out, c.textBlock(child.Content, blocks.StyleBlockquote))
		}
	}
	if len(out) == 0 {
		out = append(out, c.textBlock(nil, blocks.StyleBlockquote))
	}
	return out
}

func (c *Converter) bulletList(n nodetree.Node, level int) []blocks.Block {
	var out []blocks.Block
	for _, item := range n.Content {
		out = append(out, c.listItem(item, level)...)
	}
	return out
}

// listItem emits one bullet block per paragraph of the item, and descends
// into nested lists one level deeper.
func (c *Converter) listItem(n nodetree.Node, level int) []blocks.Block {
	var out []blocks.Block
	for _, child := range n.Content {
		switch child.Type {
		case nodetree.TypeParagraph, nodetree.TypeHeading:
			style := blocks.StyleNormal
			if child.Type == nodetree.TypeHeading {
				style = headingStyle(child)
			}
			b := c.textBlock(child.Content, style)
			b.ListItem = blocks.ListBullet
			b.Level = level
			out = append(out, b)
		case nodetree.TypeBlockquote:
			for _, para := range child.Content {
				if para.Type != nodetree.TypeParagraph {
					continue
				}
				b := c.textBlock(para.Content, blocks.StyleBlockquote)
				b.ListItem = blocks.ListBullet
				b.Level = level
				out = append(out, b)
			}
		case nodetree.TypeBulletList:
			out = append(out, c.bulletList(child, level+1)...)
		default:
			c.log.WithField("type", child.Type).Warn("Dropping unsupported list item content")
		}
	}
	return out
}

func (c *Converter) table(n nodetree.Node) blocks.Block {
	b := blocks.Block{Type: blocks.TypeTable, Key: c.newKey(), Rows: []blocks.TableRow{}}
	for _, rowNode := range n.Content {
		if rowNode.Type != nodetree.TypeTableRow {
			continue
		}
		row := blocks.TableRow{Type: "tableRow", Key: c.newKey(), Cells: []blocks.TableCell{}}
		for _, cellNode := range rowNode.Content {
			if cellNode.Type != nodetree.TypeTableCell && cellNode.Type != nodetree.TypeTableHeader {
				continue
			}
			row.Cells = append(row.Cells, blocks.TableCell{
				Type:    "tableCell",
				Key:     c.newKey(),
				Header:  cellNode.Type == nodetree.TypeTableHeader,
				ColSpan: cellNode.AttrInt("colspan"),
				RowSpan: cellNode.AttrInt("rowspan"),
				Content: c.convertNodes(cellNode.Content),
			})
		}
		b.Rows = append(b.Rows, row)
	}
	return b
}

func (c *Converter) image(n nodetree.Node) []blocks.Block {
	id := c.assets.resolveID(n.AttrString("assetId"), n.AttrString("src"))
	if id == "" {
		c.log.WithField("src", n.AttrString("src")).Debug("dropping image without resolvable asset id")
		return nil
	}
	return []blocks.Block{{Type: blocks.TypeImage, Key: c.newKey(), Asset: blocks.NewAssetRef(id)}}
}

func (c *Converter) multiImage(n nodetree.Node, typ string, slots int) blocks.Block {
	b := blocks.Block{Type: typ, Key: c.newKey()}
	refs := []**blocks.ImageRef{&b.Image1, &b.Image2, &b.Image3, &b.Image4}
	for i := 0; i < slots; i++ {
		id := c.assets.resolveID(
			n.AttrString(fmt.Sprintf("assetId%d", i+1)),
			n.AttrString(fmt.Sprintf("src%d", i+1)),
		)
		*refs[i] = blocks.NewImageRef(id)
	}
	return b
}

func (c *Converter) gameDetails(n nodetree.Node) blocks.Block {
	b := blocks.Block{
		Type:    blocks.TypeGameDetails,
		Key:     c.newKey(),
		Details: []blocks.DetailItem{},
		Width:   n.AttrString("width"),
	}
	for _, item := range n.AttrObjects("details") {
		label, _ := item["label"].(string)
		value, _ := item["value"].(string)
		b.Details = append(b.Details, blocks.DetailItem{Key: c.newKey(), Label: label, Value: value})
	}
	return b
}
