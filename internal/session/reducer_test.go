package session

import (
	"encoding/json"
	"testing"
	"time"

	"docsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUpdate(t *testing.T, field string, v any) Action {
	t.Helper()
	a, err := UpdateField(field, v)
	require.NoError(t, err)
	return a
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"  Elden Ring: Shadow of the Erdtree  ", "elden-ring-shadow-of-the-erdtree"},
		{"a -- b", "a-b"},
		{"Already-a-slug", "already-a-slug"},
		{"مرحبا", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestReduce_Initialize(t *testing.T) {
	next, err := Reduce(State{}, Initialize(State{ID: "d1", Title: "T", Slug: "t"}))
	require.NoError(t, err)
	assert.True(t, next.IsSlugManual)

	next, err = Reduce(State{}, Initialize(State{ID: "d1"}))
	require.NoError(t, err)
	assert.False(t, next.IsSlugManual)
}

func TestReduce_TitleDerivesSlugUntilManual(t *testing.T) {
	s := State{ID: "d1"}

	s, err := Reduce(s, mustUpdate(t, "title", "My First Review"))
	require.NoError(t, err)
	assert.Equal(t, "my-first-review", s.Slug)

	s, err = Reduce(s, UpdateSlug("Custom Slug!", true))
	require.NoError(t, err)
	assert.Equal(t, "custom-slug", s.Slug)
	assert.True(t, s.IsSlugManual)

	s, err = Reduce(s, mustUpdate(t, "title", "Renamed"))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", s.Title)
	assert.Equal(t, "custom-slug", s.Slug)
}

func TestReduce_UpdateFieldTypes(t *testing.T) {
	s := State{Tags: []models.Reference{{ID: "a"}, {ID: "b"}}}
	when := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := Reduce(s, mustUpdate(t, "tags", []models.Reference{{ID: "c"}}))
	require.NoError(t, err)
	assert.Equal(t, []models.Reference{{ID: "c"}}, s.Tags)

	s, err = Reduce(s, mustUpdate(t, "game", models.Reference{ID: "g1", Title: "Game"}))
	require.NoError(t, err)
	require.NotNil(t, s.Game)
	assert.Equal(t, "g1", s.Game.ID)

	s, err = Reduce(s, mustUpdate(t, "game", nil))
	require.NoError(t, err)
	assert.Nil(t, s.Game)

	s, err = Reduce(s, mustUpdate(t, "score", 8.5))
	require.NoError(t, err)
	assert.Equal(t, 8.5, s.Score)

	s, err = Reduce(s, mustUpdate(t, "publishedAt", when))
	require.NoError(t, err)
	require.NotNil(t, s.PublishedAt)
	assert.True(t, when.Equal(*s.PublishedAt))

	s, err = Reduce(s, mustUpdate(t, "mainImage", models.ImageAsset{AssetID: "image-a-1x1-png"}))
	require.NoError(t, err)
	assert.Equal(t, "image-a-1x1-png", s.MainImage.AssetID)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	before := State{Pros: []string{"fast"}}

	after, err := Reduce(before, mustUpdate(t, "pros", []string{"slow", "pretty"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"fast"}, before.Pros)
	assert.Equal(t, []string{"slow", "pretty"}, after.Pros)
}

func TestReduce_Errors(t *testing.T) {
	_, err := Reduce(State{}, Action{Type: "BOGUS"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = Reduce(State{}, Action{Type: ActionUpdateField, Field: "slug", Value: json.RawMessage(`"x"`)})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = Reduce(State{}, Action{Type: ActionUpdateField, Field: "score", Value: json.RawMessage(`"high"`)})
	assert.Error(t, err)

	_, err = Reduce(State{}, Action{Type: ActionInitialize})
	assert.Error(t, err)
}

func TestFromDocument(t *testing.T) {
	doc := &models.Document{
		ID:      "d1",
		Type:    models.TypeReview,
		Title:   "Title",
		Slug:    "title",
		Game:    &models.Reference{ID: ""},
		Authors: []models.Reference{{ID: "a1"}, {ID: ""}},
	}

	s := FromDocument(doc)

	assert.Equal(t, "d1", s.ID)
	assert.True(t, s.IsSlugManual)
	assert.Nil(t, s.Game)
	assert.Equal(t, []models.Reference{{ID: "a1"}}, s.Authors)
	assert.NotNil(t, s.Pros)
}
