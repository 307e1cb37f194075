package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/copad/copad/internal/protocol"
	"github.com/copad/copad/pkg/logger"
)

// Conn is a single live channel connection. Frames are delivered in the
// order the server sent them.
type Conn interface {
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(f *protocol.Frame) error
	Close() error
}

// Dialer opens a new channel connection authenticated by token.
type Dialer func(ctx context.Context, token string) (Conn, error)

// Handler consumes the data payload of one incoming frame. Handlers run on
// the gateway's read goroutine and must not block.
type Handler func(data json.RawMessage)

// Gateway owns the single channel connection shared by every open session of
// one authenticated identity. Sessions acquire a reference on open and
// release it on close; closing the last session leaves the connection up,
// and only Disconnect (at logout) tears it down.
type Gateway struct {
	mu       sync.Mutex
	dial     Dialer
	conn     Conn
	refs     int
	nextID   int
	handlers map[string]map[int]Handler
}

func NewGateway(dial Dialer) *Gateway {
	return &Gateway{dial: dial, handlers: make(map[string]map[int]Handler)}
}

// Connect establishes the connection. Calling Connect while a connection is
// live returns without dialing a second one.
func (g *Gateway) Connect(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		return nil
	}
	c, err := g.dial(ctx, token)
	if err != nil {
		return fmt.Errorf("channel connect: %w", err)
	}
	g.conn = c
	go g.readLoop(c)
	return nil
}

// Connected reports whether a live connection exists.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// Disconnect tears down the connection regardless of references. Safe to
// call when already disconnected.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	c := g.conn
	g.conn = nil
	g.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Acquire records one session using the shared connection.
func (g *Gateway) Acquire() {
	g.mu.Lock()
	g.refs++
	g.mu.Unlock()
}

// Release drops one session reference. The connection itself stays up so a
// later open reuses it without a redial; teardown happens only at logout,
// via Disconnect, once every session has released its reference.
func (g *Gateway) Release() {
	g.mu.Lock()
	if g.refs > 0 {
		g.refs--
	}
	g.mu.Unlock()
}

// Send emits a named event. Without a live connection Send is a silent
// no-op; callers get no delivery guarantee outside an active connection.
func (g *Gateway) Send(event string, payload interface{}) {
	g.mu.Lock()
	c := g.conn
	g.mu.Unlock()
	if c == nil {
		logger.Debugf("channel send %q dropped: not connected", event)
		return
	}
	if err := c.WriteFrame(protocol.NewFrame(event, payload)); err != nil {
		logger.Warnf("channel send %q failed: %v", event, err)
	}
}

// On registers a handler for an event and returns its registration id.
func (g *Gateway) On(event string, h Handler) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	m, ok := g.handlers[event]
	if !ok {
		m = make(map[int]Handler)
		g.handlers[event] = m
	}
	m[id] = h
	return id
}

// Off removes a handler registration. Unknown ids are ignored.
func (g *Gateway) Off(event string, id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.handlers[event]; ok {
		delete(m, id)
	}
}

// HandlerCount reports the registrations for one event name.
func (g *Gateway) HandlerCount(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handlers[event])
}

func (g *Gateway) readLoop(c Conn) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			g.mu.Lock()
			active := g.conn == c
			if active {
				g.conn = nil
			}
			g.mu.Unlock()
			if active {
				logger.Warnf("channel read loop ended: %v", err)
			}
			return
		}
		g.dispatch(f)
	}
}

func (g *Gateway) dispatch(f *protocol.Frame) {
	g.mu.Lock()
	hs := make([]Handler, 0, len(g.handlers[f.Event]))
	for _, h := range g.handlers[f.Event] {
		hs = append(hs, h)
	}
	g.mu.Unlock()
	for _, h := range hs {
		h(f.Data)
	}
}

// wsConn adapts a gorilla websocket connection to Conn. Reads are confined
// to the gateway read loop; writes are serialized by wmu.
type wsConn struct {
	c   *websocket.Conn
	wmu sync.Mutex
}

func (w *wsConn) ReadFrame() (*protocol.Frame, error) {
	var f protocol.Frame
	if err := w.c.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (w *wsConn) WriteFrame(f *protocol.Frame) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.c.WriteJSON(f)
}

func (w *wsConn) Close() error { return w.c.Close() }

// WebSocketDialer returns a Dialer for the hub at base (http(s) URL) and
// path. The auth token travels as the ticket query parameter.
func WebSocketDialer(base, path string) Dialer {
	return wsDialer(base, path, "ticket")
}

// DevDialer identifies the client with the user query parameter instead of a
// ticket. Only accepted by a server running without a ticket store.
func DevDialer(base, path string) Dialer {
	return wsDialer(base, path, "user")
}

func wsDialer(base, path, param string) Dialer {
	return func(ctx context.Context, token string) (Conn, error) {
		u, err := url.Parse(base)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		u.Path = path
		q := u.Query()
		q.Set(param, token)
		u.RawQuery = q.Encode()
		c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c}, nil
	}
}
