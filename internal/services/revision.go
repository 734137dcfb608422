package services

import (
	"context"
	"fmt"
	"sync"

	"docsync/internal/models"
	"docsync/internal/patch"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

/*
LEARNING: REVISION WORKER POOL PATTERN

Diffing two document versions and writing the result is not needed to
answer the save request, so it runs on a fixed pool of workers:

1. **Goroutines**: Lightweight threads managed by Go runtime
2. **Channels**: Bounded job queue between the request path and workers
3. **Graceful Shutdown**: Using context and WaitGroup for cleanup

Backpressure: SubmitJob blocks while the queue is full.
*/

// RevisionJob is one stored change waiting to be diffed
type RevisionJob struct {
	DocumentID string
	Kind       models.RevisionKind
	Before     *models.Document
	After      *models.Document
}

// RevisionServiceImpl records document revisions with a worker pool
type RevisionServiceImpl struct {
	revRepo RevisionRepository
	keep    int
	log     logrus.FieldLogger

	// Worker pool components
	jobs    chan RevisionJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewRevisionService creates the pool but doesn't start it yet.
// keep bounds the revisions stored per document; 0 keeps everything.
func NewRevisionService(
	revRepo RevisionRepository,
	numWorkers int,
	queueSize int,
	keep int,
	log logrus.FieldLogger,
) *RevisionServiceImpl {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &RevisionServiceImpl{
		revRepo: revRepo,
		keep:    keep,
		log:     log.WithField("component", "revisions"),
		jobs:    make(chan RevisionJob, queueSize),
		workers: numWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the workers
func (s *RevisionServiceImpl) Start() {
	s.log.WithField("workers", s.workers).Info("🔧 Starting revision worker pool")

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.log.Info("✓ Revision worker pool started")
}

// worker drains the queue until it is closed
func (s *RevisionServiceImpl) worker(id int) {
	defer s.wg.Done()

	log := s.log.WithField("worker", id)
	for job := range s.jobs {
		if err := s.processRevision(job); err != nil {
			log.WithError(err).WithField("document_id", job.DocumentID).Error("Revision failed")
			continue
		}
		log.WithField("document_id", job.DocumentID).Debug("Revision stored")
	}
}

// SubmitJob adds a job to the queue
// Learning: This is non-blocking if queue has space, blocks if full (backpressure)
func (s *RevisionServiceImpl) SubmitJob(job RevisionJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("service is shutting down")
	}

	select {
	case s.jobs <- job:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("service is shutting down")
	}
}

// processRevision diffs the two versions and stores the JSON patch
func (s *RevisionServiceImpl) processRevision(job RevisionJob) error {
	ctx := context.Background()

	var before any = map[string]any{}
	if job.Before != nil {
		before = job.Before
	}
	ops, err := patch.Ops(before, job.After)
	if err != nil {
		return fmt.Errorf("failed to diff versions: %w", err)
	}

	raw := ops.Raw()
	if len(raw) == 0 {
		raw = []byte("[]")
	}
	rev := &models.Revision{
		DocumentID: models.PublicID(job.DocumentID),
		Kind:       job.Kind,
		Patch:      datatypes.JSON(raw),
		Ops:        ops.Len(),
	}
	if err := s.revRepo.StoreRevision(ctx, rev); err != nil {
		return err
	}

	if s.keep > 0 {
		if err := s.revRepo.PruneRevisions(ctx, rev.DocumentID, s.keep); err != nil {
			return err
		}
	}
	return nil
}

// History returns the newest revisions of a document
func (s *RevisionServiceImpl) History(ctx context.Context, documentID string, limit int) ([]*models.Revision, error) {
	return s.revRepo.ListRevisions(ctx, documentID, limit)
}

// Forget drops the history of a deleted document
func (s *RevisionServiceImpl) Forget(ctx context.Context, documentID string) error {
	return s.revRepo.DeleteRevisions(ctx, documentID)
}

// Shutdown stops accepting jobs and waits for the queue to drain
func (s *RevisionServiceImpl) Shutdown() {
	s.log.Info("🛑 Shutting down revision service...")

	// Unblock producers waiting on a full queue
	s.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	// Workers finish what is queued
	s.wg.Wait()

	s.log.Info("✓ Revision service shutdown complete")
}

// GetQueueLength returns current number of pending jobs
func (s *RevisionServiceImpl) GetQueueLength() int {
	return len(s.jobs)
}
