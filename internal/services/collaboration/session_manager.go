package collaboration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"docsync/internal/controller"
	"docsync/internal/models"
	"docsync/internal/services"

	"github.com/sirupsen/logrus"
)

/*
LEARNING: WEBSOCKET SESSION MANAGER

Every connection edits one document through its own sync controller. The
manager only keeps track of who is in which document room:

1. **sync.RWMutex**: Read-write lock for concurrent safe map access
2. **Event loop**: register / unregister / broadcast go through channels
3. **Broadcast Pattern**: Send message to all connections in a room
4. **Remote updates**: a version saved by one session is offered to the
   others, which adopt it only when they hold no changes of their own
*/

// SessionManager manages all active WebSocket sessions
// Learning: Central hub for coordinating editing sessions
type SessionManager struct {
	// Session management
	documents  map[string]map[*Session]bool // documentID -> set of sessions
	register   chan *Session
	unregister chan *Session
	broadcast  chan *BroadcastMessage
	mu         sync.RWMutex

	// Controller wiring shared by all sessions
	deps controller.Deps
	opts controller.Options

	log         logrus.FieldLogger
	idleTimeout time.Duration

	// Control
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// BroadcastMessage represents a message to broadcast to a document room
type BroadcastMessage struct {
	DocumentID string
	Message    []byte
	Sender     *Session // Skip this session when broadcasting
}

// NewSessionManager creates a new session manager. deps.Notifier and
// opts.BaseContext are filled in per session.
func NewSessionManager(deps controller.Deps, opts controller.Options, log logrus.FieldLogger) *SessionManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionManager{
		documents:   make(map[string]map[*Session]bool),
		register:    make(chan *Session),
		unregister:  make(chan *Session),
		broadcast:   make(chan *BroadcastMessage, 256),
		deps:        deps,
		opts:        opts,
		log:         log.WithField("component", "sessions"),
		idleTimeout: 5 * time.Minute,
		done:        make(chan struct{}),
	}
}

// Start begins the session manager event loop
// Learning: This goroutine handles all session events concurrently
func (sm *SessionManager) Start() {
	sm.log.Info("🔄 Starting WebSocket session manager...")

	go func() {
		for {
			select {
			case <-sm.done:
				sm.log.Info("Session manager shutting down...")
				return

			case session := <-sm.register:
				sm.handleRegister(session)

			case session := <-sm.unregister:
				sm.handleUnregister(session)

			case msg := <-sm.broadcast:
				sm.handleBroadcast(msg)
			}
		}
	}()

	// Start cleanup goroutine
	go sm.cleanupLoop()

	sm.log.Info("✓ WebSocket session manager started")
}

// openController starts the sync controller of a new session
func (sm *SessionManager) openController(ctx context.Context, s *Session) error {
	deps := sm.deps
	deps.Notifier = s

	opts := sm.opts
	opts.BaseContext = s.ctx
	opts.ClientID = s.ClientID
	opts.Logger = sm.log.WithField("session_id", s.ID)

	ctrl, err := controller.Open(ctx, s.DocumentID, deps, opts)
	if err != nil {
		return err
	}
	s.ctrl = ctrl
	return nil
}

// handleRegister adds a session to a document room
func (sm *SessionManager) handleRegister(session *Session) {
	sm.mu.Lock()
	// Create document room if doesn't exist
	if sm.documents[session.DocumentID] == nil {
		sm.documents[session.DocumentID] = make(map[*Session]bool)
	}
	sm.documents[session.DocumentID][session] = true
	total := len(sm.documents[session.DocumentID])
	sm.mu.Unlock()

	sm.log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"document_id": session.DocumentID,
		"users":       total,
	}).Info("  Session joined document")

	// Send join notification to other users
	sm.handleBroadcast(&BroadcastMessage{
		DocumentID: session.DocumentID,
		Message:    presenceMessage(models.MessageJoin, session),
		Sender:     session, // Don't send to self
	})
}

// handleUnregister removes a session from a document room
func (sm *SessionManager) handleUnregister(session *Session) {
	sm.mu.Lock()
	sessions, ok := sm.documents[session.DocumentID]
	if !ok || !sessions[session] {
		sm.mu.Unlock()
		return
	}
	delete(sessions, session)
	remaining := len(sessions)
	// Remove empty document rooms
	if remaining == 0 {
		delete(sm.documents, session.DocumentID)
	}
	sm.mu.Unlock()

	sm.log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"document_id": session.DocumentID,
		"users":       remaining,
	}).Info("  Session left document")

	sm.handleBroadcast(&BroadcastMessage{
		DocumentID: session.DocumentID,
		Message:    presenceMessage(models.MessageLeave, session),
	})
}

// handleBroadcast sends a message to all sessions in a document
func (sm *SessionManager) handleBroadcast(msg *BroadcastMessage) {
	for _, session := range sm.GetSessions(msg.DocumentID) {
		// Skip sender if specified
		if msg.Sender != nil && session == msg.Sender {
			continue
		}
		session.enqueue(msg.Message)
	}
}

// Broadcast sends a message to all users in a document
func (sm *SessionManager) Broadcast(documentID string, message []byte, sender *Session) {
	select {
	case sm.broadcast <- &BroadcastMessage{DocumentID: documentID, Message: message, Sender: sender}:
	case <-sm.done:
	}
}

// DocumentChanged offers a stored version to every session editing the
// document except the one that wrote it. Register it with
// DocumentServiceImpl.OnChange.
func (sm *SessionManager) DocumentChanged(doc *models.Document, kind models.RevisionKind, origin string) {
	if doc == nil {
		return
	}
	for _, session := range sm.GetSessions(doc.ID) {
		if session.ID == origin || session.ctrl == nil {
			continue
		}

		adopted, err := session.ctrl.AdoptRemote(doc)
		if err != nil {
			sm.log.WithError(err).WithField("session_id", session.ID).Warn("Failed to adopt remote version")
		}

		msg := map[string]interface{}{
			"type":     models.MessageRemoteUpdate,
			"kind":     kind,
			"document": doc,
			"adopted":  adopted,
		}
		if adopted {
			msg["view"] = session.ctrl.View()
		}
		session.sendJSON(msg)
	}
}

// GetSessions returns all active sessions for a document
func (sm *SessionManager) GetSessions(documentID string) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := sm.documents[documentID]
	result := make([]*Session, 0, len(sessions))

	for session := range sessions {
		result = append(result, session)
	}

	return result
}

// cleanupLoop periodically removes inactive sessions
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.cleanup()
		}
	}
}

// cleanup closes idle connections; their read pumps unregister them
func (sm *SessionManager) cleanup() {
	sm.mu.RLock()
	var stale []*Session
	for _, sessions := range sm.documents {
		for session := range sessions {
			if session.idleFor() > sm.idleTimeout {
				stale = append(stale, session)
			}
		}
	}
	sm.mu.RUnlock()

	for _, session := range stale {
		sm.log.WithField("session_id", session.ID).Info("  Cleaning up inactive session")
		session.Conn.Close()
	}
}

// Shutdown closes all connections and waits until every session has written
// its last local snapshot.
func (sm *SessionManager) Shutdown() {
	sm.log.Info("🛑 Shutting down session manager...")

	sm.stopOnce.Do(func() { close(sm.done) })

	sm.mu.Lock()
	for _, sessions := range sm.documents {
		for session := range sessions {
			session.Conn.Close()
		}
	}
	sm.documents = make(map[string]map[*Session]bool)
	sm.mu.Unlock()

	sm.wg.Wait()
	sm.log.Info("✓ Session manager shutdown complete")
}

func presenceMessage(typ models.MessageType, s *Session) []byte {
	msg, _ := json.Marshal(map[string]interface{}{
		"type": typ,
		"user": map[string]string{
			"id":   s.UserID,
			"name": s.UserName,
		},
	})
	return msg
}

// newSession creates a session of the manager; Conn is set once upgraded
func (sm *SessionManager) newSession(info *models.Session) *Session {
	ctx, cancel := context.WithCancel(services.WithOrigin(context.Background(), info.ID))
	s := &Session{
		Session: info,
		Send:    make(chan []byte, 256),
		Manager: sm,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.touch()
	return s
}
