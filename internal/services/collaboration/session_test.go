package collaboration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docsync/internal/controller"
	"docsync/internal/converter"
	"docsync/internal/db"
	"docsync/internal/drafts"
	"docsync/internal/models"
	"docsync/internal/repository"
	"docsync/internal/services"
	"docsync/internal/session"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEnv struct {
	server *httptest.Server
	docs   *services.DocumentServiceImpl
	drafts *drafts.Store
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	docs := services.NewDocumentService(repository.NewDocumentRepository(gdb.DB), nil, nil, nil)
	store := drafts.NewStore(drafts.NewMemoryKV(), drafts.Config{})
	sm := NewSessionManager(controller.Deps{
		Repo:      docs,
		Slugs:     docs,
		Drafts:    store,
		Converter: converter.New(converter.Options{ProjectID: "proj"}),
	}, controller.Options{
		LocalSyncInterval: 10 * time.Millisecond,
		SlugCheckDelay:    5 * time.Millisecond,
		SaveTimeout:       time.Second,
	}, nil)
	docs.OnChange(sm.DocumentChanged)
	sm.Start()

	router := mux.NewRouter()
	router.HandleFunc("/ws/documents/{id}", NewWebSocketHandler(sm).HandleDocumentConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(sm.Shutdown)

	return &wsEnv{server: server, docs: docs, drafts: store}
}

func (e *wsEnv) createDocument(t *testing.T, slug string) string {
	t.Helper()
	doc, err := e.docs.CreateDocument(context.Background(), &models.DocumentCreate{Type: models.TypeArticle})
	require.NoError(t, err)
	if slug != "" {
		_, err = e.docs.SaveDraftPatch(context.Background(), doc.ID, map[string]any{"slug": map[string]any{"current": slug}})
		require.NoError(t, err)
	}
	return doc.ID
}

func (e *wsEnv) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	return e.dialQuery(t, id, "")
}

func (e *wsEnv) dialQuery(t *testing.T, id, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/documents/" + id + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the next message of the given type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, typ models.MessageType) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == string(typ) {
			return msg
		}
	}
}

func setTitle(t *testing.T, conn *websocket.Conn, title string) {
	t.Helper()
	action, err := session.UpdateField("title", title)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": models.MessageDispatch, "action": action}))
}

func TestSession_InitCarriesView(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	msg := readUntil(t, conn, models.MessageInit)

	assert.NotEmpty(t, msg["sessionId"])
	view := msg["view"].(map[string]any)
	state := view["state"].(map[string]any)
	assert.Equal(t, id, state["_id"])
	assert.Equal(t, "first-look", state["slug"])
	assert.Equal(t, "clean", view["syncState"])
}

func TestSession_EditAndSave(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	setTitle(t, conn, "Hello")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": models.MessageSave}))

	saved := readUntil(t, conn, models.MessageSaved)
	assert.Equal(t, "Hello", saved["document"].(map[string]any)["title"])

	doc, err := env.docs.LoadDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.Title)
}

func TestSession_PatchRequest(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	setTitle(t, conn, "Pending")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": models.MessagePatch, "requestId": "r1"}))

	msg := readUntil(t, conn, models.MessagePatch)
	assert.Equal(t, "r1", msg["requestId"])
	assert.Equal(t, "Pending", msg["patch"].(map[string]any)["title"])
}

func TestSession_SaveRejectsMissingSlug(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": models.MessageSave, "requestId": "s1"}))
	msg := readUntil(t, conn, models.MessageError)
	assert.Equal(t, "s1", msg["requestId"])
	assert.Equal(t, "invalid_slug", msg["code"])
}

func TestSession_MalformedMessage(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn, models.MessageError)
	assert.Equal(t, "bad_request", msg["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "shout"}))
	msg = readUntil(t, conn, models.MessageError)
	assert.Equal(t, "bad_request", msg["code"])
}

func TestSession_RemoteUpdateReachesOtherSessions(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	writer := env.dial(t, id)
	readUntil(t, writer, models.MessageInit)
	reader := env.dial(t, id)
	readUntil(t, reader, models.MessageInit)

	setTitle(t, writer, "From writer")
	require.NoError(t, writer.WriteJSON(map[string]any{"type": models.MessageSave}))

	msg := readUntil(t, reader, models.MessageRemoteUpdate)
	assert.Equal(t, true, msg["adopted"])
	state := msg["view"].(map[string]any)["state"].(map[string]any)
	assert.Equal(t, "From writer", state["title"])

	readUntil(t, writer, models.MessageSaved)
}

func TestSession_PublishNullUnpublishes(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")
	_, err := env.docs.Publish(context.Background(), id, models.PublishRequest{})
	require.NoError(t, err)

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"publish","publishAt":null}`)))
	msg := readUntil(t, conn, models.MessagePublished)
	doc := msg["document"].(map[string]any)
	assert.Equal(t, false, doc["isPublished"])
	assert.NotContains(t, doc, "publishedAt")

	stored, err := env.docs.LoadDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, stored.Status(time.Now()))
	assert.Equal(t, "first-look", stored.Slug)
}

func TestSession_PublishRejectsBadTimestamp(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": models.MessagePublish, "requestId": "p1", "publishAt": "soon"}))
	msg := readUntil(t, conn, models.MessageError)
	assert.Equal(t, "p1", msg["requestId"])
	assert.Equal(t, "bad_request", msg["code"])
}

func TestHandleDocumentConnection_NotFound(t *testing.T) {
	env := newWSEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/documents/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSession_RejectsNullContent(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dial(t, id)
	readUntil(t, conn, models.MessageInit)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"content","requestId":"c1","tree":null}`)))
	msg := readUntil(t, conn, models.MessageError)
	assert.Equal(t, "c1", msg["requestId"])
	assert.Equal(t, "bad_request", msg["code"])
}

func TestSession_ClientResumesOwnDraft(t *testing.T) {
	env := newWSEnv(t)
	id := env.createDocument(t, "first-look")

	conn := env.dialQuery(t, id, "?client_id=tab-1")
	readUntil(t, conn, models.MessageInit)
	setTitle(t, conn, "Unsaved")
	require.Eventually(t, func() bool {
		snap, ok, _ := env.drafts.ForClient("tab-1").Load(id)
		return ok && snap.State.Title == "Unsaved"
	}, 3*time.Second, 10*time.Millisecond)
	conn.Close()

	other := env.dialQuery(t, id, "?client_id=tab-2")
	state := readUntil(t, other, models.MessageInit)["view"].(map[string]any)["state"].(map[string]any)
	assert.NotEqual(t, "Unsaved", state["title"])

	again := env.dialQuery(t, id, "?client_id=tab-1")
	state = readUntil(t, again, models.MessageInit)["view"].(map[string]any)["state"].(map[string]any)
	assert.Equal(t, "Unsaved", state["title"])
}
