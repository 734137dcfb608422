package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetResolver_RecoverID(t *testing.T) {
	r := NewAssetResolver("", "proj", "production")

	tests := []struct {
		src  string
		want string
	}{
		{"image-abc123-800x600-png", "image-abc123-800x600-png"},
		{"https://example.com/x/image-ABCdef-10x10-jpg?fit=max", "image-ABCdef-10x10-jpg"},
		{"https://cdn.sanity.io/images/proj/production/abc123-800x600.webp", "image-abc123-800x600-webp"},
		{"blob:http://localhost:3000/9b2a", ""},
		{"data:image/png;base64,iVBORw0KGgo=", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RecoverID(tt.src))
		})
	}
}

func TestAssetResolver_URL(t *testing.T) {
	r := NewAssetResolver("https://cdn.example.com/images/", "proj", "staging")

	assert.Equal(t, "https://cdn.example.com/images/proj/staging/abc-1x2.png", r.URL("image-abc-1x2-png"))
	assert.Equal(t, "", r.URL("not-an-asset"))

	unconfigured := NewAssetResolver("", "", "")
	assert.Equal(t, "", unconfigured.URL("image-abc-1x2-png"))
}

func TestAssetResolver_URLRecoverRoundTrip(t *testing.T) {
	r := NewAssetResolver("", "proj", "")
	id := "image-0f0f0f-1920x1080-jpg"

	assert.Equal(t, id, r.RecoverID(r.URL(id)))
}
