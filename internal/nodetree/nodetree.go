// Package nodetree models the editor's JSON document tree (TipTap/ProseMirror
// format) and the attribute helpers needed to read it safely.
package nodetree

import (
	"encoding/json"
	"fmt"
)

// Node types produced and understood by the editor.
const (
	TypeDoc           = "doc"
	TypeParagraph     = "paragraph"
	TypeHeading       = "heading"
	TypeBlockquote    = "blockquote"
	TypeBulletList    = "bulletList"
	TypeListItem      = "listItem"
	TypeTable         = "table"
	TypeTableRow      = "tableRow"
	TypeTableCell     = "tableCell"
	TypeTableHeader   = "tableHeader"
	TypeImage         = "image"
	TypeImageCompare  = "imageCompare"
	TypeTwoImageGrid  = "twoImageGrid"
	TypeFourImageGrid = "fourImageGrid"
	TypeYoutube       = "youtube"
	TypeGameDetails   = "gameDetails"
	TypeText          = "text"
	TypeHardBreak     = "hardBreak"
)

// Mark types.
const (
	MarkBold      = "bold"
	MarkItalic    = "italic"
	MarkLink      = "link"
	MarkTextStyle = "textStyle"
)

// Node is a generic editor node. Attrs stays a map so that node types with
// very different attributes share one representation.
type Node struct {
	Type    string                 `json:"type"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Content []Node                 `json:"content,omitempty"`
	Marks   []Mark                 `json:"marks,omitempty"`
	Text    string                 `json:"text,omitempty"`
}

// Mark is inline formatting on a text node (bold, italic, link, textStyle).
type Mark struct {
	Type  string                 `json:"type"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// Parse decodes a serialized tree. The root must be a doc node.
func Parse(raw []byte) (Node, error) {
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, fmt.Errorf("failed to decode node tree: %w", err)
	}
	if n.Type != TypeDoc {
		return Node{}, fmt.Errorf("unexpected root node type %q", n.Type)
	}
	return n, nil
}

// Serialize encodes the tree in the editor's wire format.
func (n Node) Serialize() (json.RawMessage, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node tree: %w", err)
	}
	return raw, nil
}

// Doc builds a root node around the given children.
func Doc(children ...Node) Node {
	return Node{Type: TypeDoc, Content: children}
}

// Paragraph builds a paragraph containing the given inline nodes.
func Paragraph(inline ...Node) Node {
	return Node{Type: TypeParagraph, Content: inline}
}

// Text builds a text leaf.
func Text(s string, marks ...Mark) Node {
	return Node{Type: TypeText, Text: s, Marks: marks}
}

// AttrString safely reads a string attribute.
func (n Node) AttrString(key string) string {
	return getAttrString(n.Attrs, key)
}

// AttrInt safely reads an integer attribute. JSON numbers decode as float64,
// attributes built in Go are usually int; both are accepted.
func (n Node) AttrInt(key string) int {
	return getAttrInt(n.Attrs, key)
}

func (m Mark) AttrString(key string) string {
	return getAttrString(m.Attrs, key)
}

func getAttrString(attrs map[string]interface{}, key string) string {
	if attrs == nil {
		return ""
	}
	val, ok := attrs[key]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}

func getAttrInt(attrs map[string]interface{}, key string) int {
	if attrs == nil {
		return 0
	}
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	}
	return 0
}

// AttrObjects reads an attribute holding a list of objects, such as
// gameDetails' details. It accepts both the decoded-JSON shape
// ([]interface{} of maps) and a Go-built []map[string]interface{}.
func (n Node) AttrObjects(key string) []map[string]interface{} {
	if n.Attrs == nil {
		return nil
	}
	switch v := n.Attrs[key].(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
