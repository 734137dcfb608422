// Package drafts buffers unsaved editing sessions in durable local storage
// and decides, when a document is opened, whether a buffered session is
// newer than the stored document.
package drafts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docsync/internal/models"
	"docsync/internal/session"

	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"
)

var ErrMalformedSnapshot = errors.New("malformed draft snapshot")

// Snapshot is one buffered editing session.
type Snapshot struct {
	State   session.State   `json:"sessionState"`
	Tree    json.RawMessage `json:"serializedNodeTree"`
	SavedAt time.Time       `json:"savedAt"`
}

// leading byte of a stored value
const (
	codecJSON byte = 'j'
	codecLZMA byte = 'z'
)

type Config struct {
	// Compress stores snapshots lzma-compressed.
	Compress bool
	Logger   logrus.FieldLogger
}

type Store struct {
	kv       KV
	compress bool
	log      logrus.FieldLogger
	// owner scopes keys to one client; empty means unscoped.
	owner string
}

func NewStore(kv KV, config Config) *Store {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Store{
		kv:       kv,
		compress: config.Compress,
		log:      config.Logger.WithField("component", "drafts"),
	}
}

// ForClient returns a store sharing s's storage whose snapshots belong to
// clientID alone, so two sessions on one document never overwrite each
// other's unsaved work.
func (s *Store) ForClient(clientID string) *Store {
	scoped := *s
	scoped.owner = clientID
	if clientID != "" {
		scoped.log = s.log.WithField("client_id", clientID)
	}
	return &scoped
}

// Key returns the storage key of a document's snapshot for owner.
func Key(documentID, owner string) string {
	if owner == "" {
		return "draft-" + documentID
	}
	return "draft-" + documentID + ":" + owner
}

func (s *Store) key(documentID string) string {
	return Key(documentID, s.owner)
}

func (s *Store) Save(documentID string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	value := append([]byte{codecJSON}, raw...)
	if s.compress {
		packed, err := compressWithLzma(raw)
		if err != nil {
			return fmt.Errorf("failed to compress snapshot: %w", err)
		}
		value = append([]byte{codecLZMA}, packed...)
	}

	if err := s.kv.Set(s.key(documentID), value); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot of a document. ok is false when none exists.
// Undecodable values yield ErrMalformedSnapshot.
func (s *Store) Load(documentID string) (snap Snapshot, ok bool, err error) {
	value, err := s.kv.Get(s.key(documentID))
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if len(value) == 0 {
		return Snapshot{}, false, ErrMalformedSnapshot
	}

	raw := value[1:]
	switch value[0] {
	case codecJSON:
	case codecLZMA:
		raw, err = decompressWithLzma(raw)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
	default:
		return Snapshot{}, false, fmt.Errorf("%w: unknown codec %q", ErrMalformedSnapshot, value[0])
	}

	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if snap.SavedAt.IsZero() {
		return Snapshot{}, false, fmt.Errorf("%w: missing savedAt", ErrMalformedSnapshot)
	}
	return snap, true, nil
}

func (s *Store) Remove(documentID string) error {
	if err := s.kv.Remove(s.key(documentID)); err != nil {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}

// Hydrate returns the snapshot to resume from when opening doc, or nil to
// start from the document itself. A snapshot is adopted only if it was saved
// strictly after the document's last update; stale and malformed snapshots
// are deleted.
func (s *Store) Hydrate(doc *models.Document) (*Snapshot, error) {
	log := s.log.WithField("document_id", doc.ID)

	snap, ok, err := s.Load(doc.ID)
	if errors.Is(err, ErrMalformedSnapshot) {
		log.WithError(err).Warn("⚠️  Discarding unreadable draft snapshot")
		return nil, s.Remove(doc.ID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if snap.SavedAt.After(doc.UpdatedAt) {
		log.WithFields(logrus.Fields{
			"saved_at":   snap.SavedAt,
			"updated_at": doc.UpdatedAt,
		}).Info("Resuming unsaved local draft")
		return &snap, nil
	}

	log.Debug("Dropping stale draft snapshot")
	return nil, s.Remove(doc.ID)
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
