// Package protocol defines the wire contract shared by the realtime hub and
// the client sync core. Every message is a JSON text frame of the form
// {"event": <name>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"time"
)

// Event names. Direction noted as client->server (c2s) or server->client (s2c).
const (
	EventJoinDocument   = "join-document"   // c2s: subscribe to a document's update stream
	EventLeaveDocument  = "leave-document"  // c2s: unsubscribe
	EventDocumentChange = "document-change" // c2s: broadcast-only local edit, no ack
	EventDocumentUpdate = "document-update" // s2c: relayed peer edit
	EventActiveUsers    = "active-users"    // s2c: full roster snapshot, sent on join
	EventUserJoined     = "user-joined"     // s2c: incremental roster delta
	EventUserLeft       = "user-left"       // s2c: incremental roster delta
	EventSaveDocument   = "save-document"   // c2s: checkpoint notification after durable write
	EventDocumentSaved  = "document-saved"  // s2c: save acknowledgment
	EventError          = "error"           // s2c: non-fatal channel-level error
)

// Frame is the envelope for every channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame. Marshal failures cannot happen for
// the fixed payload types below; a nil Data frame is returned on error.
func NewFrame(event string, payload interface{}) *Frame {
	b, err := json.Marshal(payload)
	if err != nil {
		return &Frame{Event: event}
	}
	return &Frame{Event: event, Data: b}
}

// DocRef is the payload for join-document and leave-document.
type DocRef struct {
	DocumentID string `json:"documentId"`
}

// Change is a local edit broadcast to the server.
type Change struct {
	DocumentID     string `json:"documentId"`
	Content        string `json:"content"`
	CursorPosition int    `json:"cursorPosition"`
}

// Update is a relayed peer edit. UserID is the originating identity; clients
// drop updates carrying their own identity (echo suppression).
type Update struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Content    string `json:"content"`
}

// Roster is the full presence snapshot sent to a client on join. All events
// carry DocumentID because one connection multiplexes every open document.
type Roster struct {
	DocumentID string   `json:"documentId"`
	Users      []string `json:"users"`
}

// Presence is an incremental roster delta (user-joined / user-left).
type Presence struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// Save is the checkpoint notification a client sends after a durable write.
type Save struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// Saved acknowledges a checkpoint to every viewer of the document.
type Saved struct {
	DocumentID string    `json:"documentId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Error is a non-fatal channel-level error surfaced to the user.
type Error struct {
	Message string `json:"message"`
}
