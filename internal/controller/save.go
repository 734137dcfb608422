package controller

import (
	"context"
	"fmt"
	"time"

	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// acquire takes the save gate, waiting until ctx is done.
func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAcquire takes the save gate only if it is free.
func (c *Controller) tryAcquire() bool {
	select {
	case c.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) release() { <-c.gate }

// Save sends pending changes to the repository. It reports true when the
// repository holds the session's state afterwards.
func (c *Controller) Save(ctx context.Context) (bool, error) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Save", attribute.String("document.id", c.id))
	defer span.End()

	if !c.track() {
		return false, ErrClosed
	}
	defer c.inflight.Done()

	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()

	if err := c.requireValidSlug(ctx); err != nil {
		return false, err
	}
	if err := c.save(ctx); err != nil {
		middleware.AddSpanError(ctx, err)
		return false, err
	}
	return true, nil
}

// Publish saves pending changes (if any) and then publishes, schedules or
// unpublishes the document according to req.
func (c *Controller) Publish(ctx context.Context, req models.PublishRequest) (bool, error) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Publish",
		attribute.String("document.id", c.id),
		attribute.Bool("unpublish", req.Unpublish),
	)
	defer span.End()

	if !c.track() {
		return false, ErrClosed
	}
	defer c.inflight.Done()

	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()

	if err := c.requireValidSlug(ctx); err != nil {
		return false, err
	}
	if !req.Unpublish {
		if err := c.readyToPublish(); err != nil {
			return false, err
		}
	}
	if err := c.save(ctx); err != nil {
		middleware.AddSpanError(ctx, err)
		return false, err
	}

	c.mu.Lock()
	token, editsAt := c.beginRemoteLocked()
	status := c.status
	c.mu.Unlock()
	c.deps.Notifier.StatusChanged(status)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SaveTimeout)
	defer cancel()
	doc, err := c.deps.Repo.Publish(callCtx, c.id, req)
	if err != nil {
		c.failRemote(err)
		middleware.AddSpanError(ctx, err)
		return false, fmt.Errorf("failed to publish: %w", err)
	}

	if c.adopt(token, editsAt, doc, func() {
		c.state.PublishedAt = nil
		if doc.PublishedAt != nil {
			t := *doc.PublishedAt
			c.state.PublishedAt = &t
		}
	}) {
		c.deps.Notifier.Published(doc)
	}
	c.log.WithFields(logrus.Fields{
		"unpublish":    req.Unpublish,
		"published_at": doc.PublishedAt,
	}).Info("✓ Publish state changed")
	return true, nil
}

// PublishNow publishes immediately, keeping an existing publishedAt.
func (c *Controller) PublishNow(ctx context.Context) (bool, error) {
	return c.Publish(ctx, models.PublishRequest{})
}

// PublishAt schedules the document for t.
func (c *Controller) PublishAt(ctx context.Context, t time.Time) (bool, error) {
	return c.Publish(ctx, models.PublishRequest{At: &t})
}

// Unpublish moves the document back to draft-only, keeping its content.
func (c *Controller) Unpublish(ctx context.Context) (bool, error) {
	return c.Publish(ctx, models.PublishRequest{Unpublish: true})
}

// runAutosave is the debounced autosave. It never waits for the gate: a busy
// gate re-arms the timer instead.
func (c *Controller) runAutosave() {
	c.mu.Lock()
	if c.closed || !c.autosave {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	if !c.tryAcquire() {
		c.mu.Lock()
		if !c.closed {
			c.armAutosaveLocked()
		}
		c.mu.Unlock()
		return
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(c.opts.BaseContext, c.opts.SaveTimeout)
	defer cancel()

	if err := c.requireValidSlug(ctx); err != nil {
		c.log.WithError(err).Debug("Autosave skipped")
		return
	}
	if err := c.save(ctx); err != nil {
		c.log.WithError(err).Warn("⚠️  Autosave failed")
	}
}

// requireValidSlug runs a pending slug check synchronously and rejects
// anything but a valid slug.
func (c *Controller) requireValidSlug(ctx context.Context) error {
	c.mu.Lock()
	cur := c.slug
	slug := c.state.Slug
	c.mu.Unlock()

	if cur.status == SlugPending || cur.value != slug {
		check, err := c.validateSlug(ctx, slug)
		if err != nil {
			return err
		}
		if !check.Valid {
			return fmt.Errorf("%w: %s", ErrInvalidSlug, check.Message)
		}
		return nil
	}
	if cur.status != SlugValid {
		return fmt.Errorf("%w: %s", ErrInvalidSlug, cur.message)
	}
	return nil
}

func (c *Controller) readyToPublish() error {
	c.mu.Lock()
	s := c.state
	typ := c.ref.Type
	c.mu.Unlock()

	f := validation.PublishFields{
		Type:        typ,
		Title:       s.Title,
		Slug:        s.Slug,
		MainImage:   s.MainImage.AssetID,
		Authors:     refIDs(s.Authors),
		Reporters:   refIDs(s.Reporters),
		Score:       s.Score,
		Verdict:     s.Verdict,
		ReleaseDate: s.ReleaseDate,
		Synopsis:    s.Synopsis,
		Platforms:   s.Platforms,
	}
	if s.Game != nil {
		f.Game = s.Game.ID
	}
	if err := c.deps.Validator.ReadyToPublish(f); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteDocument, err)
	}
	return nil
}

func refIDs(refs []models.Reference) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// save diffs the session against the reference and sends a non-empty patch.
// The caller holds the gate.
func (c *Controller) save(ctx context.Context) error {
	c.mu.Lock()
	p, err := c.differ.Diff(c.state, c.ref, c.tree)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	middleware.AddSpanEvent(ctx, "patch.computed",
		attribute.StringSlice("fields", p.Fields()),
		attribute.Bool("empty", p.Empty()),
	)

	if p.Empty() {
		c.remoteDirty = false
		c.localDirty = false
		c.status = SaveStatus{Local: StatusSynced, Remote: StatusSynced}
		status, seq := c.status, c.editSeq
		c.mu.Unlock()

		c.removeSnapshotIfUnchanged(seq)
		c.deps.Notifier.StatusChanged(status)
		return nil
	}

	token, editsAt := c.beginRemoteLocked()
	status := c.status
	c.mu.Unlock()
	c.deps.Notifier.StatusChanged(status)

	c.log.WithField("fields", p.Fields()).Debug("Saving draft patch")

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SaveTimeout)
	defer cancel()
	doc, err := c.deps.Repo.SaveDraftPatch(callCtx, c.id, p)
	if err != nil {
		c.failRemote(err)
		return fmt.Errorf("failed to save draft: %w", err)
	}

	if c.adopt(token, editsAt, doc, nil) {
		c.deps.Notifier.Saved(doc)
	} else {
		middleware.AddSpanEvent(ctx, "save.superseded")
	}
	return nil
}

func (c *Controller) beginRemoteLocked() (token, editsAt uint64) {
	c.nextToken++
	c.savingRemote = true
	c.status.Remote = StatusSaving
	return c.nextToken, c.editSeq
}

func (c *Controller) failRemote(err error) {
	c.mu.Lock()
	c.savingRemote = false
	c.status.Remote = StatusFailed
	status := c.status
	c.mu.Unlock()

	c.log.WithError(err).Error("Remote save failed, local draft kept")
	c.deps.Notifier.StatusChanged(status)
}

// adopt makes doc the new reference unless a later call already landed.
// The local snapshot is removed only when no edit happened since the call
// started.
func (c *Controller) adopt(token, editsAt uint64, doc *models.Document, also func()) bool {
	c.mu.Lock()
	c.savingRemote = false
	if token <= c.adoptedToken {
		status := c.status
		c.mu.Unlock()
		c.log.WithField("token", token).Warn("Dropping stale save result")
		c.deps.Notifier.StatusChanged(status)
		return false
	}
	c.adoptedToken = token
	c.ref = doc.Clone()
	if also != nil {
		also()
	}

	settled := c.editSeq == editsAt
	if settled {
		c.remoteDirty = false
		c.status.Remote = StatusSynced
	} else {
		c.status.Remote = StatusPending
		if c.autosave && !c.closed {
			c.armAutosaveLocked()
		}
	}
	status := c.status
	c.mu.Unlock()

	if settled {
		c.removeSnapshotIfUnchanged(editsAt)
	}
	c.deps.Notifier.StatusChanged(status)
	return true
}

// removeSnapshotIfUnchanged deletes the local snapshot unless edits newer
// than seq exist.
func (c *Controller) removeSnapshotIfUnchanged(seq uint64) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.mu.Lock()
	stale := c.editSeq != seq
	c.mu.Unlock()
	if stale {
		return
	}
	if err := c.deps.Drafts.Remove(c.id); err != nil {
		c.log.WithError(err).Warn("Failed to remove local draft")
	}
}
