// Package controller drives one open document: it applies editor actions,
// snapshots unsaved work locally on a short tick, debounces autosave and
// slug checks, and runs the save and publish protocol against the content
// repository.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"docsync/internal/converter"
	"docsync/internal/drafts"
	"docsync/internal/models"
	"docsync/internal/nodetree"
	"docsync/internal/patch"
	"docsync/internal/session"
	"docsync/internal/validation"

	"github.com/sirupsen/logrus"
)

/*
LEARNING: ONE CONTROLLER PER EDITING SESSION

The controller owns everything that used to be ambient editor state:

	state / tree   what the editor shows right now
	ref            the last document the repository confirmed
	timers         local tick, autosave debounce, slug debounce

mu guards the fields; gate (a one-slot channel) keeps at most one remote
save or publish in flight. Remote calls run without mu held, so edits are
never blocked by the network.
*/

type Options struct {
	LocalSyncInterval time.Duration
	AutosaveDelay     time.Duration
	SlugCheckDelay    time.Duration
	SaveTimeout       time.Duration
	Autosave          bool

	// ClientID scopes the local snapshot to one client of the document.
	ClientID string

	// BaseContext carries values into background saves and slug checks.
	BaseContext context.Context

	Logger logrus.FieldLogger
	Now    func() time.Time
}

func (o *Options) defaults() {
	if o.LocalSyncInterval <= 0 {
		o.LocalSyncInterval = 500 * time.Millisecond
	}
	if o.AutosaveDelay <= 0 {
		o.AutosaveDelay = 30 * time.Second
	}
	if o.SlugCheckDelay <= 0 {
		o.SlugCheckDelay = 500 * time.Millisecond
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
}

// Deps are the collaborators of a controller.
type Deps struct {
	Repo      ContentRepository
	Slugs     SlugValidator
	Drafts    *drafts.Store
	Converter *converter.Converter
	Validator *validation.Validator
	Notifier  Notifier
}

type slugState struct {
	value   string
	status  SlugStatus
	message string
}

type Controller struct {
	id     string
	deps   Deps
	differ *patch.Differ
	opts   Options
	log    logrus.FieldLogger

	mu       sync.Mutex
	ref      *models.Document
	state    session.State
	tree     json.RawMessage
	status   SaveStatus
	slug     slugState
	autosave bool
	closed   bool

	localDirty   bool
	remoteDirty  bool
	savingLocal  bool
	savingRemote bool

	// editSeq counts mutations; a save only settles the edits it saw.
	editSeq uint64
	// tokens order remote completions
	nextToken    uint64
	adoptedToken uint64

	gate   chan struct{}
	snapMu sync.Mutex

	autosaveTimer *time.Timer
	slugTimer     *time.Timer
	ticker        *time.Ticker
	done          chan struct{}
	wg            sync.WaitGroup
	// inflight counts saves, publishes and autosaves Close must wait for
	inflight sync.WaitGroup
}

// Open loads a document, resumes a newer local snapshot if one exists and
// starts the local tick.
func Open(ctx context.Context, id string, deps Deps, opts Options) (*Controller, error) {
	opts.defaults()
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}
	deps.Drafts = deps.Drafts.ForClient(opts.ClientID)

	doc, err := deps.Repo.LoadDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	c := &Controller{
		id:       doc.ID,
		deps:     deps,
		differ:   patch.NewDiffer(deps.Converter),
		opts:     opts,
		log:      opts.Logger.WithFields(logrus.Fields{"component": "controller", "document_id": doc.ID}),
		status:   SaveStatus{Local: StatusSynced, Remote: StatusSynced},
		autosave: opts.Autosave,
		gate:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := c.resetTo(doc); err != nil {
		return nil, err
	}

	snap, err := deps.Drafts.Hydrate(doc)
	if err != nil {
		c.log.WithError(err).Warn("⚠️  Could not read local draft, starting from stored document")
	}
	if snap != nil {
		c.state = snap.State
		c.state.ID, c.state.Type = doc.ID, doc.Type
		c.tree = snap.Tree
		c.editSeq++
		c.remoteDirty = true
		c.status.Remote = StatusPending
	}
	c.slug = slugState{value: c.state.Slug, status: SlugPending}

	c.ticker = time.NewTicker(opts.LocalSyncInterval)
	c.wg.Add(1)
	go c.localLoop()

	c.slugTimer = time.AfterFunc(opts.SlugCheckDelay, c.checkSlug)
	if c.autosave && c.remoteDirty {
		c.armAutosaveLocked()
	}

	c.log.WithField("resumed_local_draft", snap != nil).Info("✓ Editing session opened")
	return c, nil
}

// resetTo makes doc the reference and derives the editing state from it.
func (c *Controller) resetTo(doc *models.Document) error {
	tree, err := c.deps.Converter.TreeJSON(doc.Content)
	if err != nil {
		return fmt.Errorf("failed to build editor tree: %w", err)
	}
	c.ref = doc.Clone()
	c.state = session.FromDocument(doc)
	c.tree = tree
	return nil
}

func (c *Controller) ID() string { return c.id }

// Dispatch applies an editor action to the session state.
func (c *Controller) Dispatch(a session.Action) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	next, err := session.Reduce(c.state, a)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	slugChanged := next.Slug != c.state.Slug
	c.state = next
	c.state.ID, c.state.Type = c.ref.ID, c.ref.Type
	status := c.markDirtyLocked(slugChanged)
	c.mu.Unlock()

	c.deps.Notifier.StatusChanged(status)
	return nil
}

// SetContent replaces the serialized editor tree. Anything but a doc node
// is rejected and leaves the content as it was.
func (c *Controller) SetContent(tree json.RawMessage) error {
	if _, err := nodetree.Parse(tree); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.tree = append(json.RawMessage(nil), tree...)
	status := c.markDirtyLocked(false)
	c.mu.Unlock()

	c.deps.Notifier.StatusChanged(status)
	return nil
}

func (c *Controller) markDirtyLocked(slugChanged bool) SaveStatus {
	c.editSeq++
	c.localDirty = true
	c.remoteDirty = true
	c.status.Local = StatusPending
	if !c.savingRemote {
		c.status.Remote = StatusPending
	}
	if c.autosave {
		c.armAutosaveLocked()
	}
	if slugChanged {
		c.slug = slugState{value: c.state.Slug, status: SlugPending}
		c.slugTimer.Reset(c.opts.SlugCheckDelay)
	}
	return c.status
}

// SetAutosave toggles remote autosave.
func (c *Controller) SetAutosave(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autosave = on
	if !on {
		if c.autosaveTimer != nil {
			c.autosaveTimer.Stop()
		}
		return
	}
	if c.remoteDirty && !c.closed {
		c.armAutosaveLocked()
	}
}

func (c *Controller) armAutosaveLocked() {
	if c.autosaveTimer == nil {
		c.autosaveTimer = time.AfterFunc(c.opts.AutosaveDelay, c.runAutosave)
		return
	}
	c.autosaveTimer.Reset(c.opts.AutosaveDelay)
}

// State derives the current sync state.
func (c *Controller) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncStateLocked()
}

func (c *Controller) syncStateLocked() SyncState {
	switch {
	case c.savingRemote:
		return SavingRemote
	case c.savingLocal:
		return SavingLocal
	case c.localDirty:
		return DirtyUnsaved
	case c.remoteDirty:
		return AwaitingRemoteSave
	default:
		return Clean
	}
}

func (c *Controller) SaveStatus() SaveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// View is a consistent copy of what the session currently holds.
type View struct {
	State     session.State    `json:"state"`
	Tree      json.RawMessage  `json:"tree"`
	Reference *models.Document `json:"reference"`
	Status    SaveStatus       `json:"status"`
	Slug      SlugStatus       `json:"slugStatus"`
	SyncState string           `json:"syncState"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		State:     c.state,
		Tree:      append(json.RawMessage(nil), c.tree...),
		Reference: c.ref.Clone(),
		Status:    c.status,
		Slug:      c.slug.status,
		SyncState: c.syncStateLocked().String(),
	}
}

// Patch returns what a save would send right now.
func (c *Controller) Patch() (patch.Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.differ.Diff(c.state, c.ref, c.tree)
}

// AdoptRemote replaces the session with doc, saved elsewhere, unless the
// session holds changes of its own. It reports whether doc was adopted.
func (c *Controller) AdoptRemote(doc *models.Document) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.localDirty || c.remoteDirty || c.savingRemote {
		return false, nil
	}
	if err := c.resetTo(doc); err != nil {
		return false, err
	}
	c.slug = slugState{value: c.state.Slug, status: SlugPending}
	c.slugTimer.Reset(c.opts.SlugCheckDelay)
	return true, nil
}

// localLoop writes a snapshot on every tick while there are unsnapshotted edits.
func (c *Controller) localLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.flushLocal()
		}
	}
}

func (c *Controller) flushLocal() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.mu.Lock()
	if !c.localDirty {
		c.mu.Unlock()
		return
	}
	seq := c.editSeq
	snap := drafts.Snapshot{
		State:   c.state,
		Tree:    append(json.RawMessage(nil), c.tree...),
		SavedAt: c.opts.Now().UTC(),
	}
	c.savingLocal = true
	c.mu.Unlock()

	err := c.deps.Drafts.Save(c.id, snap)

	c.mu.Lock()
	c.savingLocal = false
	if err != nil {
		c.status.Local = StatusFailed
		c.log.WithError(err).Error("Failed to write local draft")
	} else if c.editSeq == seq {
		c.localDirty = false
		c.status.Local = StatusSynced
	}
	status := c.status
	c.mu.Unlock()

	c.deps.Notifier.StatusChanged(status)
}

func (c *Controller) checkSlug() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	slug := c.state.Slug
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.opts.BaseContext, c.opts.SaveTimeout)
	defer cancel()
	if _, err := c.validateSlug(ctx, slug); err != nil {
		c.log.WithError(err).Warn("Slug check failed")
	}
}

// validateSlug asks the validator about slug and records the verdict if the
// session still carries that slug.
func (c *Controller) validateSlug(ctx context.Context, slug string) (SlugCheck, error) {
	check, err := c.deps.Slugs.ValidateSlug(ctx, slug, c.id)
	if err != nil {
		return SlugCheck{}, fmt.Errorf("failed to validate slug: %w", err)
	}

	c.mu.Lock()
	if c.state.Slug == slug {
		c.slug = slugState{value: slug, status: SlugInvalid, message: check.Message}
		if check.Valid {
			c.slug.status = SlugValid
		}
	}
	c.mu.Unlock()

	c.deps.Notifier.SlugChecked(slug, check)
	return check, nil
}

// SlugStatus returns the last slug verdict.
func (c *Controller) SlugStatus() (SlugStatus, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slug.status, c.slug.message
}

// track registers a remote operation with Close. It fails once the
// controller is closed.
func (c *Controller) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight.Add(1)
	return true
}

// Close stops the timers, waits for saves and publishes in flight and writes
// a last local snapshot. Once it returns the controller no longer touches
// the repository or the draft store.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.ticker.Stop()
	c.slugTimer.Stop()
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
	}
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	c.inflight.Wait()
	c.flushLocal()
	c.log.Debug("Editing session closed")
}
