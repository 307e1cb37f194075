package collab

import (
	"context"
	"sync"
	"time"

	"github.com/copad/copad/internal/protocol"
	"github.com/copad/copad/pkg/logger"
)

// DefaultAutosaveDelay is the quiet period after the last edit before a
// save is triggered.
const DefaultAutosaveDelay = 2 * time.Second

// Manager orchestrates sessions for one authenticated editor. At most one
// session per document is open at a time; the channel connection is shared
// by all of them.
type Manager struct {
	mu       sync.Mutex
	gw       *Gateway
	tr       Transport
	editor   string
	delay    time.Duration
	sessions map[string]*Session
}

func NewManager(gw *Gateway, tr Transport, editor string, delay time.Duration) *Manager {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Manager{
		gw:       gw,
		tr:       tr,
		editor:   editor,
		delay:    delay,
		sessions: make(map[string]*Session),
	}
}

// Open fetches the document, joins its realtime stream and returns a live
// session. Re-opening a document that is already open returns the existing
// session without a second join or duplicate handlers.
func (m *Manager) Open(ctx context.Context, docID string, notify Notifier) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[docID]; ok && !s.Closed() {
		return s, nil
	}

	doc, err := m.tr.Fetch(ctx, docID, m.editor)
	if err != nil {
		return nil, err
	}

	s := newSession(docID, m.editor, m.gw, m.tr, notify, m.delay, doc)
	go s.run()
	// handlers first, then join: the roster snapshot answers the join and
	// must not race the registration
	s.wire()
	m.gw.Acquire()
	m.gw.Send(protocol.EventJoinDocument, protocol.DocRef{DocumentID: docID})
	m.sessions[docID] = s
	logger.Infof("session open: doc=%s editor=%s", docID, m.editor)
	return s, nil
}

// Close releases a session. Closing nil, or a session already closed, is a
// no-op. The shared connection is released, never torn down; teardown
// happens only at logout via the gateway.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	cur, ok := m.sessions[s.docID]
	if ok && cur == s {
		delete(m.sessions, s.docID)
	}
	m.mu.Unlock()
	if !ok || cur != s || s.Closed() {
		return
	}
	s.close()
	m.gw.Release()
	logger.Infof("session closed: doc=%s editor=%s", s.docID, m.editor)
}

// CloseAll releases every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range open {
		if !s.Closed() {
			s.close()
			m.gw.Release()
		}
	}
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
