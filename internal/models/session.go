package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents an active WebSocket connection editing a document
type Session struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	// ClientID identifies the editor instance; it owns the local snapshot.
	ClientID     string    `json:"client_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MessageType names a message in the editing protocol
// Learning: client messages drive the sync controller, server messages report its progress
type MessageType string

const (
	// client → server
	MessageDispatch MessageType = "dispatch" // session state action
	MessageContent  MessageType = "content"  // serialized editor tree
	MessageSave     MessageType = "save"
	MessagePublish  MessageType = "publish"
	MessageAutosave MessageType = "autosave" // toggle
	MessagePatch    MessageType = "patch"    // request the pending patch

	// server → client
	MessageInit         MessageType = "init"
	MessageStatus       MessageType = "status"
	MessageSlug         MessageType = "slug"
	MessageSaved        MessageType = "saved"
	MessagePublished    MessageType = "published"
	MessageRemoteUpdate MessageType = "remote-update" // another session saved this document
	MessageJoin         MessageType = "join"
	MessageLeave        MessageType = "leave"
	MessageError        MessageType = "error"
)

func NewSession(documentID, userID, userName string) *Session {
	return &Session{
		ID:           ksuid.New().String(),
		DocumentID:   documentID,
		UserID:       userID,
		UserName:     userName,
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}
