package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"docsync/internal/converter"
	"docsync/internal/db"
	"docsync/internal/drafts"
	"docsync/internal/models"
	"docsync/internal/nodetree"
	"docsync/internal/repository"
	"docsync/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type countingRepo struct {
	docs *repository.DocumentRepositoryImpl

	mu        sync.Mutex
	saves     int
	publishes int
	saveErr   error

	// entered is signalled when a save reaches the repository, which then
	// waits for release
	entered chan struct{}
	release chan struct{}
}

func (r *countingRepo) LoadDocument(ctx context.Context, id string) (*models.Document, error) {
	return r.docs.Load(ctx, id)
}

func (r *countingRepo) SaveDraftPatch(ctx context.Context, id string, p map[string]any) (*models.Document, error) {
	r.mu.Lock()
	r.saves++
	err := r.saveErr
	entered, release := r.entered, r.release
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}
	return r.docs.SaveDraftPatch(ctx, id, p)
}

func (r *countingRepo) Publish(ctx context.Context, id string, req models.PublishRequest) (*models.Document, error) {
	r.mu.Lock()
	r.publishes++
	r.mu.Unlock()
	return r.docs.Publish(ctx, id, req)
}

func (r *countingRepo) counts() (saves, publishes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves, r.publishes
}

type takenSlugs map[string]bool

func (s takenSlugs) ValidateSlug(_ context.Context, slug, _ string) (SlugCheck, error) {
	switch {
	case slug == "":
		return SlugCheck{Message: "Slug is required"}, nil
	case s[slug]:
		return SlugCheck{Message: "Slug is already in use"}, nil
	}
	return SlugCheck{Valid: true}, nil
}

type harness struct {
	repo   *countingRepo
	store  *drafts.Store
	deps   Deps
	opts   Options
	docID  string
	events *recorder
}

type recorder struct {
	mu        sync.Mutex
	saved     int
	published int
}

func (r *recorder) StatusChanged(SaveStatus)      {}
func (r *recorder) SlugChecked(string, SlugCheck) {}
func (r *recorder) Saved(*models.Document) {
	r.mu.Lock()
	r.saved++
	r.mu.Unlock()
}
func (r *recorder) Published(*models.Document) {
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
}

// newHarness creates an article with the given draft fields.
func newHarness(t *testing.T, fields map[string]any) *harness {
	t.Helper()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	docs := repository.NewDocumentRepository(gdb.DB)
	doc, err := docs.Create(context.Background(), &models.DocumentCreate{Type: models.TypeArticle})
	require.NoError(t, err)
	if len(fields) > 0 {
		_, err = docs.SaveDraftPatch(context.Background(), doc.ID, fields)
		require.NoError(t, err)
	}

	repo := &countingRepo{docs: docs}
	store := drafts.NewStore(drafts.NewMemoryKV(), drafts.Config{})
	events := &recorder{}
	return &harness{
		repo:  repo,
		store: store,
		deps: Deps{
			Repo:      repo,
			Slugs:     takenSlugs{"taken": true},
			Drafts:    store,
			Converter: converter.New(converter.Options{ProjectID: "proj"}),
			Notifier:  events,
		},
		opts: Options{
			LocalSyncInterval: 10 * time.Millisecond,
			AutosaveDelay:     40 * time.Millisecond,
			SlugCheckDelay:    5 * time.Millisecond,
			SaveTimeout:       time.Second,
		},
		docID:  doc.ID,
		events: events,
	}
}

func (h *harness) open(t *testing.T) *Controller {
	t.Helper()
	c, err := Open(context.Background(), h.docID, h.deps, h.opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (h *harness) stored(t *testing.T) *models.Document {
	t.Helper()
	doc, err := h.repo.docs.Load(context.Background(), h.docID)
	require.NoError(t, err)
	return doc
}

// title reads the stored title; safe to call from Eventually.
func (h *harness) title() string {
	doc, err := h.repo.docs.Load(context.Background(), h.docID)
	if err != nil {
		return ""
	}
	return doc.Title
}

func setField(t *testing.T, c *Controller, field string, v any) {
	t.Helper()
	a, err := session.UpdateField(field, v)
	require.NoError(t, err)
	require.NoError(t, c.Dispatch(a))
}

var publishable = map[string]any{
	"title":     "Hello",
	"slug":      map[string]any{"current": "hello"},
	"game":      map[string]any{"_ref": "game-1"},
	"authors":   []map[string]any{{"_ref": "author-1", "_key": "author-1"}},
	"mainImage": map[string]any{"asset": map[string]any{"_ref": "image-abc-10x10-png"}},
}

func TestOpen_StartsClean(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A"})
	c := h.open(t)

	assert.Equal(t, Clean, c.State())
	assert.Equal(t, SaveStatus{Local: StatusSynced, Remote: StatusSynced}, c.SaveStatus())

	p, err := c.Patch()
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestLocalSnapshot_ReloadAdoptsEdit(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A"})
	c := h.open(t)

	setField(t, c, "title", "B")
	assert.NotEqual(t, Clean, c.State())

	require.Eventually(t, func() bool {
		return c.SaveStatus().Local == StatusSynced
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, AwaitingRemoteSave, c.State())

	snap, ok, err := h.store.Load(h.docID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", snap.State.Title)

	c.Close()
	saves, _ := h.repo.counts()
	assert.Zero(t, saves)
	assert.Equal(t, "A", h.stored(t).Title)

	reopened := h.open(t)
	assert.Equal(t, "B", reopened.View().State.Title)
	assert.Equal(t, StatusPending, reopened.SaveStatus().Remote)

	p, err := reopened.Patch()
	require.NoError(t, err)
	assert.Equal(t, "B", p["title"])
}

func TestHydration_DiscardsStaleSnapshot(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "Remote"})
	doc := h.stored(t)

	stale := session.FromDocument(doc)
	stale.Title = "Old local"
	require.NoError(t, h.store.Save(h.docID, drafts.Snapshot{
		State:   stale,
		SavedAt: doc.UpdatedAt.Add(-time.Minute),
	}))

	c := h.open(t)
	assert.Equal(t, "Remote", c.View().State.Title)
	assert.Equal(t, Clean, c.State())

	_, ok, err := h.store.Load(h.docID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})
	c := h.open(t)

	setField(t, c, "title", "B")
	require.Eventually(t, func() bool {
		_, ok, _ := h.store.Load(h.docID)
		return ok
	}, time.Second, 5*time.Millisecond)

	ok, err := c.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", h.stored(t).Title)
	assert.Equal(t, "B", c.View().Reference.Title)
	assert.Equal(t, StatusSynced, c.SaveStatus().Remote)

	require.Eventually(t, func() bool { return c.State() == Clean }, time.Second, 5*time.Millisecond)
	_, found, err := h.store.Load(h.docID)
	require.NoError(t, err)
	assert.False(t, found)

	// nothing left to send
	ok, err = c.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	saves, _ := h.repo.counts()
	assert.Equal(t, 1, saves)
}

func TestSave_Content(t *testing.T) {
	h := newHarness(t, map[string]any{"slug": map[string]any{"current": "a"}})
	c := h.open(t)

	tree, err := nodetree.Doc(nodetree.Paragraph(nodetree.Text("Hello"))).Serialize()
	require.NoError(t, err)
	require.NoError(t, c.SetContent(tree))

	ok, err := c.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	content := h.stored(t).Content
	require.Len(t, content, 1)
	assert.Equal(t, "Hello", content[0].PlainText())
}

func TestSetContent_RejectsNonDocument(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)
	before := c.View().Tree

	for _, raw := range []string{`null`, ``, `{"type":"paragraph"}`, `[]`} {
		err := c.SetContent(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrInvalidContent, raw)
	}

	assert.JSONEq(t, string(before), string(c.View().Tree))
	assert.Equal(t, Clean, c.State())
}

func TestSave_RejectsInvalidSlug(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})
	c := h.open(t)

	require.NoError(t, c.Dispatch(session.UpdateSlug("taken", true)))
	ok, err := c.Save(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidSlug)
	assert.Contains(t, err.Error(), "already in use")

	saves, _ := h.repo.counts()
	assert.Zero(t, saves)

	status, _ := c.SlugStatus()
	assert.Equal(t, SlugInvalid, status)
}

func TestSave_FailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t, map[string]any{"slug": map[string]any{"current": "a"}})
	h.repo.saveErr = errors.New("connection reset")
	c := h.open(t)

	setField(t, c, "title", "Offline edit")
	require.Eventually(t, func() bool {
		return c.SaveStatus().Local == StatusSynced
	}, time.Second, 5*time.Millisecond)

	ok, err := c.Save(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, c.SaveStatus().Remote)
	assert.Equal(t, AwaitingRemoteSave, c.State())

	snap, found, err := h.store.Load(h.docID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Offline edit", snap.State.Title)
}

func TestAutosave(t *testing.T) {
	h := newHarness(t, map[string]any{"slug": map[string]any{"current": "a"}})
	h.opts.Autosave = true
	c := h.open(t)

	setField(t, c, "title", "Autosaved")
	require.Eventually(t, func() bool {
		return c.SaveStatus().Remote == StatusSynced && h.title() == "Autosaved"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		h.events.mu.Lock()
		defer h.events.mu.Unlock()
		return h.events.saved == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAutosave_OffByDefault(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})
	c := h.open(t)

	setField(t, c, "title", "B")
	time.Sleep(4 * h.opts.AutosaveDelay)

	saves, _ := h.repo.counts()
	assert.Zero(t, saves)
	assert.Equal(t, StatusPending, c.SaveStatus().Remote)

	c.SetAutosave(true)
	require.Eventually(t, func() bool {
		return h.title() == "B"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutosave_SkippedWhileSlugInvalid(t *testing.T) {
	h := newHarness(t, map[string]any{"slug": map[string]any{"current": "a"}})
	h.opts.Autosave = true
	c := h.open(t)

	require.NoError(t, c.Dispatch(session.UpdateSlug("taken", true)))
	time.Sleep(4 * h.opts.AutosaveDelay)

	saves, _ := h.repo.counts()
	assert.Zero(t, saves)
	assert.Equal(t, StatusPending, c.SaveStatus().Remote)
}

func TestPublish_WithoutChangesSkipsSave(t *testing.T) {
	h := newHarness(t, publishable)
	c := h.open(t)

	ok, err := c.PublishNow(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	saves, publishes := h.repo.counts()
	assert.Zero(t, saves)
	assert.Equal(t, 1, publishes)

	view := c.View()
	assert.True(t, view.Reference.Published)
	assert.NotNil(t, view.State.PublishedAt)
	assert.Equal(t, models.StatusPublished, h.stored(t).Status(time.Now()))
}

func TestPublish_SavesPendingChangesFirst(t *testing.T) {
	h := newHarness(t, publishable)
	c := h.open(t)
	setField(t, c, "title", "Final title")

	at := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	ok, err := c.PublishAt(context.Background(), at)
	require.NoError(t, err)
	assert.True(t, ok)

	saves, publishes := h.repo.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, publishes)

	stored := h.stored(t)
	assert.Equal(t, "Final title", stored.Title)
	assert.Equal(t, models.StatusScheduled, stored.Status(time.Now()))
}

func TestPublish_RequiresCompleteDocument(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "Hello", "slug": map[string]any{"current": "hello"}})
	c := h.open(t)

	ok, err := c.Publish(context.Background(), models.PublishRequest{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIncompleteDocument)
	_, publishes := h.repo.counts()
	assert.Zero(t, publishes)
}

func TestUnpublish_PreservesDraftContent(t *testing.T) {
	h := newHarness(t, publishable)
	c := h.open(t)

	_, err := c.Publish(context.Background(), models.PublishRequest{})
	require.NoError(t, err)

	ok, err := c.Unpublish(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	view := c.View()
	assert.False(t, view.Reference.Published)
	assert.Nil(t, view.State.PublishedAt)
	assert.Equal(t, "Hello", view.State.Title)

	stored := h.stored(t)
	assert.True(t, stored.IsDraft())
	assert.Equal(t, "Hello", stored.Title)
	assert.Equal(t, models.StatusDraft, stored.Status(time.Now()))

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	assert.Equal(t, 2, h.events.published)
}

func TestAdopt_DropsStaleCompletion(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A"})
	c := h.open(t)

	newer := h.stored(t).Clone()
	newer.Title = "newer"
	older := h.stored(t).Clone()
	older.Title = "older"

	c.mu.Lock()
	first, seq := c.beginRemoteLocked()
	second, _ := c.beginRemoteLocked()
	c.mu.Unlock()

	assert.True(t, c.adopt(second, seq, newer, nil))
	assert.False(t, c.adopt(first, seq, older, nil))
	assert.Equal(t, "newer", c.View().Reference.Title)
}

func TestAdoptRemote(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A"})
	c := h.open(t)

	remote := h.stored(t).Clone()
	remote.Title = "From another session"
	adopted, err := c.AdoptRemote(remote)
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, "From another session", c.View().State.Title)

	setField(t, c, "title", "Mine")
	remote.Title = "Ignored"
	adopted, err = c.AdoptRemote(remote)
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, "Mine", c.View().State.Title)
}

func TestClosed(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)
	c.Close()

	assert.ErrorIs(t, c.Dispatch(session.UpdateSlug("x", true)), ErrClosed)
}

func TestClose_WaitsForSaveInFlight(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})
	h.repo.entered = make(chan struct{}, 1)
	h.repo.release = make(chan struct{})
	c := h.open(t)
	setField(t, c, "title", "B")

	saved := make(chan error, 1)
	go func() {
		_, err := c.Save(context.Background())
		saved <- err
	}()
	<-h.repo.entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a save was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.repo.release)
	require.NoError(t, <-saved)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the save finished")
	}
	assert.Equal(t, "B", h.stored(t).Title)

	_, err := c.Save(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_ScopesSnapshotToClient(t *testing.T) {
	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})

	first, second := h.opts, h.opts
	first.ClientID, second.ClientID = "tab-1", "tab-2"
	a, err := Open(context.Background(), h.docID, h.deps, first)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b, err := Open(context.Background(), h.docID, h.deps, second)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	setField(t, a, "title", "from tab 1")
	setField(t, b, "title", "from tab 2")
	require.Eventually(t, func() bool {
		return a.SaveStatus().Local == StatusSynced && b.SaveStatus().Local == StatusSynced
	}, time.Second, 5*time.Millisecond)

	_, err = b.Save(context.Background())
	require.NoError(t, err)

	snap, ok, err := h.store.ForClient("tab-1").Load(h.docID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from tab 1", snap.State.Title)

	_, ok, err = h.store.ForClient("tab-2").Load(h.docID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_RecordsPatchEvent(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, map[string]any{"title": "A", "slug": map[string]any{"current": "a"}})
	c := h.open(t)
	setField(t, c, "title", "B")

	_, err := c.Save(context.Background())
	require.NoError(t, err)

	var events []sdktrace.Event
	for _, s := range spans.Ended() {
		if s.Name() == "Controller.Save" {
			events = append(events, s.Events()...)
		}
	}
	require.Len(t, events, 1)
	assert.Equal(t, "patch.computed", events[0].Name)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range events[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, []string{"title"}, attrs["fields"].AsStringSlice())
	assert.False(t, attrs["empty"].AsBool())
}
