// Package converter translates between the editor node tree and the stored
// block array. Both directions are pure apart from key generation; media is
// carried by asset id only, display URLs are derived on the way back.
package converter

import (
	"encoding/json"
	"fmt"

	"docsync/internal/blocks"
	"docsync/internal/nodetree"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultAssetBaseURL = "https://cdn.sanity.io/images"

// Options configures a Converter. Zero values fall back to defaults.
type Options struct {
	// AssetBaseURL, ProjectID and Dataset build display URLs from asset ids.
	AssetBaseURL string
	ProjectID    string
	Dataset      string

	// NewKey generates _key values for blocks, spans and mark definitions.
	NewKey func() string

	Logger logrus.FieldLogger
}

// Converter is safe for concurrent use as long as NewKey is.
type Converter struct {
	assets *AssetResolver
	newKey func() string
	log    logrus.FieldLogger
}

func New(opts Options) *Converter {
	if opts.NewKey == nil {
		opts.NewKey = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Converter{
		assets: NewAssetResolver(opts.AssetBaseURL, opts.ProjectID, opts.Dataset),
		newKey: opts.NewKey,
		log:    opts.Logger.WithField("component", "converter"),
	}
}

// BlocksFromJSON decodes a serialized editor tree and converts it.
func (c *Converter) BlocksFromJSON(raw json.RawMessage) ([]blocks.Block, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []blocks.Block{}, nil
	}
	root, err := nodetree.Parse(raw)
	if err != nil {
		return nil, err
	}
	return c.ToBlockArray(root), nil
}

// TreeJSON converts blocks and serializes the resulting editor tree.
func (c *Converter) TreeJSON(bs []blocks.Block) (json.RawMessage, error) {
	raw, err := c.ToNodeTree(bs).Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize converted tree: %w", err)
	}
	return raw, nil
}
