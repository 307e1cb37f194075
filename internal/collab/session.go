package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/copad/copad/internal/document"
	"github.com/copad/copad/internal/protocol"
	"github.com/copad/copad/pkg/logger"
)

const persistTimeout = 15 * time.Second

// Notifier receives user-visible session events. Callbacks run on the
// session loop and must return quickly.
type Notifier interface {
	BodyReplaced(body string)
	RosterChanged(users []string)
	SaveStateChanged(saving bool)
	Saved(at time.Time)
	SessionError(err error)
}

type nopNotifier struct{}

func (nopNotifier) BodyReplaced(string)    {}
func (nopNotifier) RosterChanged([]string) {}
func (nopNotifier) SaveStateChanged(bool)  {}
func (nopNotifier) Saved(time.Time)        {}
func (nopNotifier) SessionError(error)     {}

// Session is one open (document, editor) editing context. All mutable state
// is owned by a single goroutine draining acts; gateway handlers and timer
// fires post into it, so no two reactions for one session ever run at once.
type Session struct {
	docID  string
	editor string
	gw     *Gateway
	tr     Transport
	notify Notifier

	acts chan func()
	done chan struct{}
	once sync.Once

	// loop-confined state
	doc       *document.Document
	body      string
	cursor    int
	roster    *Tracker
	sched     *Autosave
	saving    bool
	lastSaved time.Time
	closed    bool

	regs []registration
}

type registration struct {
	event string
	id    int
}

func newSession(docID, editor string, gw *Gateway, tr Transport, notify Notifier, delay time.Duration, doc *document.Document) *Session {
	if notify == nil {
		notify = nopNotifier{}
	}
	s := &Session{
		docID:  docID,
		editor: editor,
		gw:     gw,
		tr:     tr,
		notify: notify,
		acts:   make(chan func(), 128),
		done:   make(chan struct{}),
		doc:    doc,
		body:   doc.Content,
		roster: NewTracker(),
	}
	s.sched = newAutosave(delay, s.post, s.persist)
	return s
}

func (s *Session) run() {
	for fn := range s.acts {
		fn()
		if s.closed {
			close(s.done)
			return
		}
	}
}

// post schedules fn onto the session loop; after close it is dropped.
func (s *Session) post(fn func()) {
	select {
	case <-s.done:
	case s.acts <- fn:
	}
}

// call runs fn on the loop and waits for it. Returns false when the session
// is already closed.
func (s *Session) call(fn func()) bool {
	ch := make(chan struct{})
	posted := false
	select {
	case <-s.done:
	case s.acts <- func() { fn(); close(ch) }:
		posted = true
	}
	if !posted {
		return false
	}
	select {
	case <-s.done:
		return false
	case <-ch:
		return true
	}
}

func (s *Session) DocumentID() string { return s.docID }
func (s *Session) Editor() string     { return s.editor }

// Closed reports whether the session has been released.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Body returns the current local body.
func (s *Session) Body() string {
	var out string
	if !s.call(func() { out = s.body }) {
		return ""
	}
	return out
}

// Roster returns the identities currently viewing the document.
func (s *Session) Roster() []string {
	var out []string
	s.call(func() { out = s.roster.Current() })
	return out
}

// PendingSave reports whether a persist is outstanding.
func (s *Session) PendingSave() bool {
	var out bool
	s.call(func() { out = s.saving })
	return out
}

// LastSaved returns the last acknowledged checkpoint time.
func (s *Session) LastSaved() time.Time {
	var out time.Time
	s.call(func() { out = s.lastSaved })
	return out
}

// OnLocalEdit applies a local keystroke: the body changes synchronously and
// optimistically, the edit is broadcast tagged with the local identity, and
// the autosave timer rearms. No acknowledgment is awaited.
func (s *Session) OnLocalEdit(body string, cursor int) {
	s.post(func() {
		if s.closed {
			return
		}
		s.body = body
		s.cursor = cursor
		s.gw.Send(protocol.EventDocumentChange, protocol.Change{
			DocumentID:     s.docID,
			Content:        body,
			CursorPosition: cursor,
		})
		s.sched.NotifyEdit(body)
	})
}

// Flush forces an immediate persist of unsaved edits, bypassing the quiet
// period.
func (s *Session) Flush() {
	s.call(func() {
		if s.closed {
			return
		}
		s.sched.Flush()
	})
}

// applyRemote reconciles one relayed peer edit. A remote update replaces the
// local body unconditionally unless the local editor originated it: applying
// our own echoed broadcast would clobber in-flight keystrokes. There is no
// merge; whichever update lands last wins.
func (s *Session) applyRemote(u protocol.Update) {
	if s.closed || u.UserID == s.editor {
		return
	}
	s.body = u.Content
	s.notify.BodyReplaced(s.body)
}

// persist runs the save sequence: durable write, then checkpoint broadcast,
// then a refetch for the updated version list. A write failure aborts the
// remaining steps; the local body is kept so nothing is lost, and the next
// keystroke rearms the timer.
func (s *Session) persist(body string) {
	if s.closed {
		return
	}
	s.saving = true
	s.notify.SaveStateChanged(true)
	defer func() {
		s.saving = false
		s.notify.SaveStateChanged(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.tr.Save(ctx, s.docID, body, s.editor); err != nil {
		logger.Warnf("save failed for %s: %v", s.docID, err)
		s.notify.SessionError(err)
		return
	}
	s.gw.Send(protocol.EventSaveDocument, protocol.Save{DocumentID: s.docID, Content: body})
	d, err := s.tr.Fetch(ctx, s.docID, s.editor)
	if err != nil {
		logger.Warnf("post-save refresh failed for %s: %v", s.docID, err)
		s.notify.SessionError(err)
		return
	}
	// only server-owned fields are refreshed; the body stays local
	d.Content = s.body
	s.doc = d
}

func (s *Session) wire() {
	s.handle(protocol.EventDocumentUpdate, func(data json.RawMessage) {
		var u protocol.Update
		if json.Unmarshal(data, &u) != nil || u.DocumentID != s.docID {
			return
		}
		s.post(func() { s.applyRemote(u) })
	})
	s.handle(protocol.EventActiveUsers, func(data json.RawMessage) {
		var r protocol.Roster
		if json.Unmarshal(data, &r) != nil || r.DocumentID != s.docID {
			return
		}
		s.post(func() {
			if s.closed {
				return
			}
			s.roster.ReplaceAll(r.Users)
			s.notify.RosterChanged(s.roster.Current())
		})
	})
	s.handle(protocol.EventUserJoined, func(data json.RawMessage) {
		var p protocol.Presence
		if json.Unmarshal(data, &p) != nil || p.DocumentID != s.docID {
			return
		}
		s.post(func() {
			if s.closed {
				return
			}
			if s.roster.Join(p.UserID) {
				s.notify.RosterChanged(s.roster.Current())
			}
		})
	})
	s.handle(protocol.EventUserLeft, func(data json.RawMessage) {
		var p protocol.Presence
		if json.Unmarshal(data, &p) != nil || p.DocumentID != s.docID {
			return
		}
		s.post(func() {
			if s.closed {
				return
			}
			if s.roster.Leave(p.UserID) {
				s.notify.RosterChanged(s.roster.Current())
			}
		})
	})
	s.handle(protocol.EventDocumentSaved, func(data json.RawMessage) {
		var ack protocol.Saved
		if json.Unmarshal(data, &ack) != nil || ack.DocumentID != s.docID {
			return
		}
		s.post(func() {
			if s.closed {
				return
			}
			s.lastSaved = ack.Timestamp
			s.notify.Saved(ack.Timestamp)
		})
	})
	s.handle(protocol.EventError, func(data json.RawMessage) {
		var e protocol.Error
		if json.Unmarshal(data, &e) != nil {
			return
		}
		// channel errors are surfaced, never fatal to the session
		logger.Warnf("channel error on %s: %s", s.docID, e.Message)
		s.post(func() {
			if s.closed {
				return
			}
			s.notify.SessionError(&ChannelError{Message: e.Message})
		})
	})
}

func (s *Session) handle(event string, h Handler) {
	s.regs = append(s.regs, registration{event: event, id: s.gw.On(event, h)})
}

// close releases the session: the debounce timer dies, every handler is
// unregistered, and a leave notification is emitted. The shared connection
// stays up; only logout tears it down. Blocks until the loop has run the
// teardown, so the leave frame is on the wire before close returns. Safe to
// call more than once.
func (s *Session) close() {
	s.once.Do(func() {
		s.call(func() {
			s.sched.Cancel()
			for _, r := range s.regs {
				s.gw.Off(r.event, r.id)
			}
			s.regs = nil
			s.gw.Send(protocol.EventLeaveDocument, protocol.DocRef{DocumentID: s.docID})
			s.closed = true
		})
	})
}

// ChannelError is a non-fatal server-pushed error event.
type ChannelError struct {
	Message string
}

func (e *ChannelError) Error() string { return "channel error: " + e.Message }
