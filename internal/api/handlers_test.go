package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docsync/internal/converter"
	"docsync/internal/db"
	"docsync/internal/repository"
	"docsync/internal/services"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	router    *mux.Router
	revisions *services.RevisionServiceImpl
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	revisions := services.NewRevisionService(repository.NewRevisionRepository(gdb.DB), 1, 16, 0, log)
	revisions.Start()
	t.Cleanup(revisions.Shutdown)

	docs := services.NewDocumentService(repository.NewDocumentRepository(gdb.DB), revisions, nil, log)
	h := NewHandler(docs, revisions, converter.New(converter.Options{ProjectID: "proj"}), nil, log)
	return &apiEnv{router: SetupRoutes(h, log), revisions: revisions}
}

func (e *apiEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *apiEnv) create(t *testing.T, docType string) string {
	t.Helper()
	rec, out := e.do(t, http.MethodPost, "/api/documents", `{"type":"`+docType+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["_id"].(string)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec, out := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateDocument(t *testing.T) {
	env := newAPIEnv(t)

	rec, out := env.do(t, http.MethodPost, "/api/documents", `{"type":"article"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "article", out["_type"])
	assert.Equal(t, "draft", out["status"])
	assert.Contains(t, out, "tiptapContent")

	rec, _ = env.do(t, http.MethodPost, "/api/documents", `{"type":"podcast"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/documents", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocument_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	rec, out := env.do(t, http.MethodGet, "/api/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "not found")
}

func TestPatchDocument(t *testing.T) {
	env := newAPIEnv(t)
	id := env.create(t, "review")

	rec, out := env.do(t, http.MethodPatch, "/api/documents/"+id,
		`{"title":"Elden Ring","slug":{"current":"elden-ring"},"score":9.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Elden Ring", out["title"])
	assert.Equal(t, "elden-ring", out["slug"])

	rec, out = env.do(t, http.MethodGet, "/api/documents/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9.5, out["score"])

	rec, _ = env.do(t, http.MethodPatch, "/api/documents/"+id, `{"colour":"red"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.do(t, http.MethodPatch, "/api/documents/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishDocument(t *testing.T) {
	env := newAPIEnv(t)
	id := env.create(t, "news")

	rec, out := env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "published", out["status"])
	assert.Equal(t, true, out["isPublished"])

	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	rec, out = env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", `{"publishAt":"`+future+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scheduled", out["status"])

	rec, out = env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", `{"publishAt":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", out["status"])
	assert.Nil(t, out["publishedAt"])

	rec, out = env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "published", out["status"])

	rec, out = env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", `{"unpublish":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "draft", out["status"])
	assert.Nil(t, out["publishedAt"])

	rec, _ = env.do(t, http.MethodPost, "/api/documents/"+id+"/publish", `{"publishAt":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRevisions(t *testing.T) {
	env := newAPIEnv(t)
	id := env.create(t, "article")
	rec, _ := env.do(t, http.MethodPatch, "/api/documents/"+id, `{"title":"Changed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Drain the workers so both revisions are stored
	env.revisions.Shutdown()

	rec, out := env.do(t, http.MethodGet, "/api/documents/"+id+"/revisions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, out["document_id"])
	assert.Len(t, out["revisions"], 2)
}

func TestValidateSlug(t *testing.T) {
	env := newAPIEnv(t)
	a := env.create(t, "article")
	b := env.create(t, "news")
	rec, _ := env.do(t, http.MethodPatch, "/api/documents/"+a, `{"slug":{"current":"launch-day"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, out := env.do(t, http.MethodGet, "/api/slugs/validate?slug=launch-day&id="+b, "")
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "Slug is already in use", out["message"])

	_, out = env.do(t, http.MethodGet, "/api/slugs/validate?slug=launch-day&docId="+a, "")
	assert.Equal(t, true, out["valid"])

	_, out = env.do(t, http.MethodGet, "/api/slugs/validate?slug=Launch%20Day&id="+b, "")
	assert.Equal(t, false, out["valid"])
}

func TestConvertRoundTrip(t *testing.T) {
	env := newAPIEnv(t)
	blocksJSON := `[{"_type":"block","style":"normal","children":[{"_type":"span","text":"Hello ","marks":[]},{"_type":"span","text":"world","marks":["strong"]}],"markDefs":[]}]`

	req := httptest.NewRequest(http.MethodPost, "/api/convert/tree", strings.NewReader(blocksJSON))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"type":"doc"`)

	req = httptest.NewRequest(http.MethodPost, "/api/convert/blocks", strings.NewReader(rec.Body.String()))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	children := got[0]["children"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, "world", children[1].(map[string]any)["text"])

	req = httptest.NewRequest(http.MethodPost, "/api/convert/tree", strings.NewReader(`[{"_type":"hologram"}]`))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	env := newAPIEnv(t)
	id := env.create(t, "article")

	rec, _ := env.do(t, http.MethodDelete, "/api/documents/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/documents/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentWebSocket_Disabled(t *testing.T) {
	env := newAPIEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/ws/documents/abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPublishRequest(t *testing.T) {
	req, err := publishRequest(nil)
	require.NoError(t, err)
	assert.Nil(t, req.At)
	assert.False(t, req.Unpublish)

	req, err = publishRequest(map[string]json.RawMessage{"publishAt": json.RawMessage("null")})
	require.NoError(t, err)
	assert.Nil(t, req.At)
	assert.True(t, req.Unpublish)

	req, err = publishRequest(map[string]json.RawMessage{"publishAt": json.RawMessage(`"2030-01-02T03:04:05Z"`)})
	require.NoError(t, err)
	require.NotNil(t, req.At)
	assert.Equal(t, 2030, req.At.Year())

	req, err = publishRequest(map[string]json.RawMessage{
		"publishAt": json.RawMessage(`"2030-01-02T03:04:05Z"`),
		"unpublish": json.RawMessage("true"),
	})
	require.NoError(t, err)
	assert.Nil(t, req.At)
	assert.True(t, req.Unpublish)

	_, err = publishRequest(map[string]json.RawMessage{"unpublish": json.RawMessage(`"yes"`)})
	assert.Error(t, err)
}
