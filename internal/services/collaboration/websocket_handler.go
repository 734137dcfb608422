package collaboration

import (
	"errors"
	"net/http"

	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.

Key settings:
- ReadBufferSize/WriteBufferSize: Memory for I/O operations
- CheckOrigin: CORS validation for WebSocket connections
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles WebSocket connections for document editing
type WebSocketHandler struct {
	sessionManager *SessionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
	}
}

// HandleDocumentConnection opens an editing session on a document. The
// document is loaded before the upgrade so a missing one is a plain 404.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := mux.Vars(r)["id"]

	// Extract user info from query params (in production, use proper auth)
	userID := r.URL.Query().Get("user_id")
	userName := r.URL.Query().Get("user_name")
	if userID == "" {
		userID = "anonymous"
	}
	if userName == "" {
		userName = "Anonymous"
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	sm := h.sessionManager
	session := sm.newSession(models.NewSession(documentID, userID, userName))
	// a reconnecting editor passes its client_id back to resume its own draft
	session.ClientID = r.URL.Query().Get("client_id")
	if session.ClientID == "" {
		session.ClientID = session.ID
	}
	if err := sm.openController(ctx, session); err != nil {
		session.cancel()
		middleware.AddSpanError(ctx, err)
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		sm.log.WithError(err).WithField("document_id", documentID).Error("Failed to open editing session")
		http.Error(w, "failed to open document", http.StatusInternalServerError)
		return
	}
	// The controller has the canonical id; the path may carry a draft id.
	session.DocumentID = session.ctrl.ID()

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sm.log.WithError(err).Warn("Failed to upgrade WebSocket")
		middleware.AddSpanError(ctx, err)
		session.ctrl.Close()
		session.cancel()
		return
	}
	session.Conn = conn

	sm.wg.Add(1)
	select {
	case sm.register <- session:
	case <-sm.done:
		session.close()
		conn.Close()
		sm.wg.Done()
		return
	}

	// Send initial state to client
	session.sendJSON(map[string]interface{}{
		"type":      models.MessageInit,
		"sessionId": session.ID,
		"view":      session.ctrl.View(),
	})

	// Start read and write pumps in separate goroutines
	// Learning: Separate goroutines prevent deadlock between reading and writing
	go session.WritePump()
	go session.ReadPump()

	sm.log.WithFields(logrus.Fields{
		"document_id": session.DocumentID,
		"session_id":  session.ID,
		"user":        userName,
	}).Info("✓ WebSocket connection established")
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleDocumentConnection(w, r)
}
