package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/controller"
	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/session"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session represents an active WebSocket connection editing one document.
// It is the controller's Notifier: every state change becomes a message.
type Session struct {
	*models.Session
	Conn    *websocket.Conn
	Send    chan []byte // Buffered channel for outbound messages
	Manager *SessionManager

	ctrl   *controller.Controller
	ctx    context.Context
	cancel context.CancelFunc

	lastActive atomic.Int64

	sendMu    sync.Mutex
	sendDone  bool
	closeOnce sync.Once
}

// clientMessage is anything a client sends. Which fields matter depends on Type.
type clientMessage struct {
	Type      models.MessageType `json:"type"`
	RequestID string             `json:"requestId,omitempty"`

	Action    *session.Action `json:"action,omitempty"`    // dispatch
	Tree      json.RawMessage `json:"tree,omitempty"`      // content
	PublishAt json.RawMessage `json:"publishAt,omitempty"` // publish; absent is now, null unpublishes
	Unpublish bool            `json:"unpublish,omitempty"` // publish
	Enabled   bool            `json:"enabled,omitempty"`   // autosave
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// enqueue queues an outbound message. A client that cannot keep up is
// disconnected.
func (s *Session) enqueue(msg []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendDone {
		return
	}

	select {
	case s.Send <- msg:
		// Message queued successfully
	default:
		// Buffer full - connection is slow/dead
		s.Manager.log.WithField("session_id", s.ID).Warn("⚠️  Session buffer full, closing connection")
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
}

func (s *Session) sendJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		s.Manager.log.WithError(err).Error("Failed to encode message")
		return
	}
	s.enqueue(msg)
}

func (s *Session) sendError(requestID string, err error) {
	code := "internal"
	switch {
	case errors.Is(err, controller.ErrInvalidSlug):
		code = "invalid_slug"
	case errors.Is(err, controller.ErrIncompleteDocument):
		code = "incomplete_document"
	case errors.Is(err, controller.ErrClosed):
		code = "closed"
	case errors.Is(err, session.ErrUnknownAction), errors.Is(err, session.ErrUnknownField), errors.Is(err, errBadMessage),
		errors.Is(err, controller.ErrInvalidContent):
		code = "bad_request"
	}
	s.sendJSON(map[string]interface{}{
		"type":      models.MessageError,
		"requestId": requestID,
		"code":      code,
		"message":   err.Error(),
	})
}

// Notifier

func (s *Session) StatusChanged(status controller.SaveStatus) {
	s.sendJSON(map[string]interface{}{"type": models.MessageStatus, "status": status})
}

func (s *Session) SlugChecked(slug string, check controller.SlugCheck) {
	s.sendJSON(map[string]interface{}{
		"type":    models.MessageSlug,
		"slug":    slug,
		"valid":   check.Valid,
		"message": check.Message,
	})
}

func (s *Session) Saved(doc *models.Document) {
	s.sendJSON(map[string]interface{}{"type": models.MessageSaved, "document": doc})
}

func (s *Session) Published(doc *models.Document) {
	s.sendJSON(map[string]interface{}{"type": models.MessagePublished, "document": doc})
}

var errBadMessage = errors.New("malformed message")

// handle applies one client message. Saves and publishes run on their own
// goroutine so edits keep flowing while the repository works.
func (s *Session) handle(ctx context.Context, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError("", errBadMessage)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
		attribute.String("session.id", s.ID),
		attribute.String("document.id", s.DocumentID),
		attribute.String("message.type", string(msg.Type)),
		attribute.Int("message.size", len(raw)),
	)
	defer span.End()

	var err error
	switch msg.Type {
	case models.MessageDispatch:
		if msg.Action == nil {
			err = errBadMessage
			break
		}
		err = s.ctrl.Dispatch(*msg.Action)

	case models.MessageContent:
		err = s.ctrl.SetContent(msg.Tree)

	case models.MessageSave:
		go func() {
			if _, err := s.ctrl.Save(s.ctx); err != nil {
				s.sendError(msg.RequestID, err)
			}
		}()

	case models.MessagePublish:
		req, perr := models.ParsePublishAt(msg.PublishAt)
		if perr != nil {
			err = fmt.Errorf("%w: %v", errBadMessage, perr)
			break
		}
		if msg.Unpublish {
			req = models.PublishRequest{Unpublish: true}
		}
		go func() {
			if _, err := s.ctrl.Publish(s.ctx, req); err != nil {
				s.sendError(msg.RequestID, err)
			}
		}()

	case models.MessageAutosave:
		s.ctrl.SetAutosave(msg.Enabled)
		s.StatusChanged(s.ctrl.SaveStatus())

	case models.MessagePatch:
		p, perr := s.ctrl.Patch()
		if perr != nil {
			err = perr
			break
		}
		s.sendJSON(map[string]interface{}{
			"type":      models.MessagePatch,
			"requestId": msg.RequestID,
			"patch":     p,
		})

	default:
		err = errBadMessage
	}

	if err != nil {
		middleware.AddSpanError(ctx, err)
		s.sendError(msg.RequestID, err)
	}
}

// ReadPump reads messages from the WebSocket connection
// Learning: Each session has its own goroutine reading from the WebSocket
func (s *Session) ReadPump() {
	defer func() {
		select {
		case s.Manager.unregister <- s:
		case <-s.Manager.done:
		}
		s.close()
		s.Conn.Close()
		s.Manager.wg.Done()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Manager.log.WithError(err).WithField("session_id", s.ID).Warn("WebSocket error")
			}
			break
		}

		s.touch()
		s.handle(s.ctx, message)
	}
}

// WritePump writes messages to the WebSocket connection
// Learning: Separate goroutine for writing prevents blocking on slow clients
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close stops the controller (writing a last local snapshot) and then the
// outbound queue.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.ctrl != nil {
			s.ctrl.Close()
		}
		s.cancel()

		s.sendMu.Lock()
		s.sendDone = true
		close(s.Send)
		s.sendMu.Unlock()
	})
}
