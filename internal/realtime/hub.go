// Package realtime is the server side of the channel contract: it upgrades
// websocket connections, keys rooms by document ID and fans out edits,
// presence deltas and save acknowledgments to everyone viewing a document.
package realtime

import (
	"sync"
	"time"

	"github.com/copad/copad/internal/protocol"
	"github.com/copad/copad/pkg/metrics"
)

// Hub tracks which clients view which documents. One hub per process.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

// join adds c to the document's room and returns the roster snapshot after
// the add (the joiner included).
func (h *Hub) join(docID string, c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[docID] = room
	}
	room[c] = true
	users := make([]string, 0, len(room))
	for m := range room {
		users = append(users, m.userID)
	}
	return users
}

func (h *Hub) leave(docID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, docID)
	}
}

// broadcast sends a frame to every member of a room. A nil except delivers
// to all members, the originator included; echo suppression is the client's
// concern, not the hub's.
func (h *Hub) broadcast(docID string, f *protocol.Frame, except *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[docID]))
	for m := range h.rooms[docID] {
		if m != except {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()
	for _, m := range members {
		m.enqueue(f)
	}
}

// RoomSize reports the viewers of one document.
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

// handleJoin registers the client in the room, answers with the full roster
// and tells the peers.
func (h *Hub) handleJoin(c *Client, docID string) {
	users := h.join(docID, c)
	c.docs[docID] = true
	c.enqueue(protocol.NewFrame(protocol.EventActiveUsers, protocol.Roster{DocumentID: docID, Users: users}))
	h.broadcast(docID, protocol.NewFrame(protocol.EventUserJoined, protocol.Presence{DocumentID: docID, UserID: c.userID}), c)
}

func (h *Hub) handleLeave(c *Client, docID string) {
	if !c.docs[docID] {
		return
	}
	delete(c.docs, docID)
	h.leave(docID, c)
	h.broadcast(docID, protocol.NewFrame(protocol.EventUserLeft, protocol.Presence{DocumentID: docID, UserID: c.userID}), c)
}

// handleChange relays a local edit to the whole room. The sender receives
// its own update back; clients drop those by originating identity. Only
// joined members may publish into a room.
func (h *Hub) handleChange(c *Client, ch protocol.Change) {
	if !c.docs[ch.DocumentID] {
		return
	}
	metrics.UpdatesRelayed.Inc()
	h.broadcast(ch.DocumentID, protocol.NewFrame(protocol.EventDocumentUpdate, protocol.Update{
		DocumentID: ch.DocumentID,
		UserID:     c.userID,
		Content:    ch.Content,
	}), nil)
}

// handleSave acknowledges a checkpoint to every viewer.
func (h *Hub) handleSave(c *Client, s protocol.Save) {
	if !c.docs[s.DocumentID] {
		return
	}
	metrics.SavesBroadcast.Inc()
	h.broadcast(s.DocumentID, protocol.NewFrame(protocol.EventDocumentSaved, protocol.Saved{
		DocumentID: s.DocumentID,
		Timestamp:  time.Now().UTC(),
	}), nil)
}

// drop removes a disconnected client from every room it joined.
func (h *Hub) drop(c *Client) {
	for docID := range c.docs {
		h.handleLeave(c, docID)
	}
}
