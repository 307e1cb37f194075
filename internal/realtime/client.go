package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/copad/copad/internal/protocol"
	"github.com/copad/copad/pkg/logger"
	"github.com/copad/copad/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueue      = 64
)

// Client is one websocket connection owned by an authenticated user. Reads
// happen on readPump, writes are funneled through send so the socket never
// sees concurrent writers.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan *protocol.Frame
	docs   map[string]bool
	once   sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan *protocol.Frame, sendQueue),
		docs:   make(map[string]bool),
	}
}

func (c *Client) enqueue(f *protocol.Frame) {
	select {
	case c.send <- f:
	default:
		// slow consumer; drop the frame rather than stall the room
		logger.Warnf("ws: dropping %s frame for slow client %s", f.Event, c.userID)
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.close()
		c.conn.Close()
		metrics.WSConnections.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var f protocol.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("ws: read error for %s: %v", c.userID, err)
			}
			return
		}
		c.dispatch(&f)
	}
}

func (c *Client) dispatch(f *protocol.Frame) {
	switch f.Event {
	case protocol.EventJoinDocument:
		var ref protocol.DocRef
		if err := json.Unmarshal(f.Data, &ref); err != nil || ref.DocumentID == "" {
			c.fail("join-document requires a documentId")
			return
		}
		c.hub.handleJoin(c, ref.DocumentID)
	case protocol.EventLeaveDocument:
		var ref protocol.DocRef
		if err := json.Unmarshal(f.Data, &ref); err != nil || ref.DocumentID == "" {
			c.fail("leave-document requires a documentId")
			return
		}
		c.hub.handleLeave(c, ref.DocumentID)
	case protocol.EventDocumentChange:
		var ch protocol.Change
		if err := json.Unmarshal(f.Data, &ch); err != nil || ch.DocumentID == "" {
			c.fail("malformed document-change payload")
			return
		}
		c.hub.handleChange(c, ch)
	case protocol.EventSaveDocument:
		var s protocol.Save
		if err := json.Unmarshal(f.Data, &s); err != nil || s.DocumentID == "" {
			c.fail("malformed save-document payload")
			return
		}
		c.hub.handleSave(c, s)
	default:
		c.fail("unknown event: " + f.Event)
	}
}

func (c *Client) fail(msg string) {
	c.enqueue(protocol.NewFrame(protocol.EventError, protocol.Error{Message: msg}))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
