package converter

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// image-<hash>-<W>x<H>-<ext>, anywhere in the string
	assetIDPattern = regexp.MustCompile(`image-([a-fA-F0-9]+-[0-9]+x[0-9]+-[a-z]+)`)
	// .../images/<project>/<dataset>/<hash>-<W>x<H>.<ext>
	cdnPathPattern = regexp.MustCompile(`/images/[^/]+/[^/]+/([a-fA-F0-9]+)-([0-9]+x[0-9]+)\.([a-z]+)`)
	// exact asset id, used to split it back into parts
	assetIDParts = regexp.MustCompile(`^image-([a-fA-F0-9]+)-([0-9]+x[0-9]+)-([a-z]+)$`)
)

// AssetResolver maps between stored asset ids and displayable URLs.
type AssetResolver struct {
	baseURL   string
	projectID string
	dataset   string
}

func NewAssetResolver(baseURL, projectID, dataset string) *AssetResolver {
	if baseURL == "" {
		baseURL = DefaultAssetBaseURL
	}
	if dataset == "" {
		dataset = "production"
	}
	return &AssetResolver{
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: projectID,
		dataset:   dataset,
	}
}

// RecoverID extracts an asset id from an image source. Only sources that
// embed an id or point at the asset CDN resolve; transient previews
// (blob:, data:) yield "".
func (r *AssetResolver) RecoverID(src string) string {
	if src == "" {
		return ""
	}
	if m := assetIDPattern.FindStringSubmatch(src); m != nil {
		return "image-" + m[1]
	}
	if m := cdnPathPattern.FindStringSubmatch(src); m != nil {
		return fmt.Sprintf("image-%s-%s-%s", m[1], m[2], m[3])
	}
	return ""
}

// URL derives the canonical CDN URL for an asset id. It returns "" when the
// id is malformed or no project is configured.
func (r *AssetResolver) URL(assetID string) string {
	if r.projectID == "" {
		return ""
	}
	m := assetIDParts.FindStringSubmatch(assetID)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/%s-%s.%s", r.baseURL, r.projectID, r.dataset, m[1], m[2], m[3])
}

// resolveID prefers an explicit id and falls back to recovering one from src.
func (r *AssetResolver) resolveID(assetID, src string) string {
	if assetID != "" {
		return assetID
	}
	return r.RecoverID(src)
}

// displaySrc prefers a cached URL and falls back to the derived one.
func (r *AssetResolver) displaySrc(assetID, cached string) string {
	if cached != "" {
		return cached
	}
	return r.URL(assetID)
}
