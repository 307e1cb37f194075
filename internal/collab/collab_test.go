package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/copad/copad/internal/document"
	"github.com/copad/copad/internal/document/service"
	"github.com/copad/copad/internal/protocol"
)

const testDelay = 30 * time.Millisecond

// fakeConn is an in-memory channel connection. Tests feed server frames into
// in and observe client frames on out.
type fakeConn struct {
	in     chan *protocol.Frame
	out    chan *protocol.Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan *protocol.Frame, 64),
		out:    make(chan *protocol.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() (*protocol.Frame, error) {
	select {
	case fr := <-f.in:
		return fr, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteFrame(fr *protocol.Frame) error {
	select {
	case f.out <- fr:
		return nil
	case <-f.closed:
		return errors.New("connection closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// svcTransport adapts the in-memory document service to the Transport
// contract so session tests run against real persistence semantics.
type svcTransport struct {
	svc     service.Service
	mu      sync.Mutex
	saves   []string
	saveErr error
}

func (t *svcTransport) Fetch(ctx context.Context, docID, requester string) (*document.Document, error) {
	d, err := t.svc.Get(docID, requester)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, service.ErrForbidden) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return d, nil
}

func (t *svcTransport) Save(ctx context.Context, docID, content, editorID string) error {
	t.mu.Lock()
	err := t.saveErr
	if err == nil {
		t.saves = append(t.saves, content)
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.svc.Update(docID, content, editorID, nil)
}

func (t *svcTransport) Revert(ctx context.Context, docID string, index int, requester string) (*document.Document, error) {
	return t.svc.Revert(docID, index, requester)
}

func (t *svcTransport) savedBodies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.saves))
	copy(out, t.saves)
	return out
}

func (t *svcTransport) failSaves(err error) {
	t.mu.Lock()
	t.saveErr = err
	t.mu.Unlock()
}

// recorder captures notifier callbacks.
type recorder struct {
	mu     sync.Mutex
	bodies []string
	roster [][]string
	errs   []error
	saved  []time.Time
}

func (r *recorder) BodyReplaced(b string) {
	r.mu.Lock()
	r.bodies = append(r.bodies, b)
	r.mu.Unlock()
}
func (r *recorder) RosterChanged(u []string) {
	r.mu.Lock()
	r.roster = append(r.roster, u)
	r.mu.Unlock()
}
func (r *recorder) SaveStateChanged(bool) {}
func (r *recorder) Saved(at time.Time) {
	r.mu.Lock()
	r.saved = append(r.saved, at)
	r.mu.Unlock()
}
func (r *recorder) SessionError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) firstErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

type fixture struct {
	conn *fakeConn
	gw   *Gateway
	tr   *svcTransport
	mgr  *Manager
	doc  string
}

func newFixture(t *testing.T, editor, body string) *fixture {
	t.Helper()
	conn := newFakeConn()
	gw := NewGateway(func(ctx context.Context, token string) (Conn, error) { return conn, nil })
	require.NoError(t, gw.Connect(context.Background(), "tok"))

	svc := service.NewMemoryService()
	id, err := svc.Create(&document.Document{Title: "t", Content: body, OwnerID: editor})
	require.NoError(t, err)
	tr := &svcTransport{svc: svc}
	return &fixture{conn: conn, gw: gw, tr: tr, mgr: NewManager(gw, tr, editor, testDelay), doc: id}
}

// expectFrame drains client frames until one with the given event arrives.
func expectFrame(t *testing.T, c *fakeConn, event string) *protocol.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.out:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("no %q frame emitted", event)
			return nil
		}
	}
}

func TestOpenJoinsAndWiresHandlers(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)
	require.Equal(t, "Hello", s.Body())

	expectFrame(t, fx.conn, protocol.EventJoinDocument)
	for _, ev := range []string{
		protocol.EventDocumentUpdate, protocol.EventActiveUsers,
		protocol.EventUserJoined, protocol.EventUserLeft,
		protocol.EventDocumentSaved, protocol.EventError,
	} {
		require.Equal(t, 1, fx.gw.HandlerCount(ev), "one handler per event, got more for %s", ev)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	ctx := context.Background()
	s1, err := fx.mgr.Open(ctx, fx.doc, nil)
	require.NoError(t, err)
	expectFrame(t, fx.conn, protocol.EventJoinDocument)

	s2, err := fx.mgr.Open(ctx, fx.doc, nil)
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, fx.mgr.SessionCount())
	require.Equal(t, 1, fx.gw.HandlerCount(protocol.EventDocumentUpdate))

	// no second join notification
	select {
	case f := <-fx.conn.out:
		require.NotEqual(t, protocol.EventJoinDocument, f.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpenNotFoundAndForbidden(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	_, err := fx.mgr.Open(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrNotFound)

	svc := fx.tr.svc
	id, err := svc.Create(&document.Document{Title: "p", Content: "x", OwnerID: "42", Private: true})
	require.NoError(t, err)
	_, err = fx.mgr.Open(context.Background(), id, nil)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestLocalEditBroadcastsAndDebounces(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)

	s.OnLocalEdit("Hello world", 11)
	f := expectFrame(t, fx.conn, protocol.EventDocumentChange)
	var ch protocol.Change
	require.NoError(t, decode(f, &ch))
	require.Equal(t, "Hello world", ch.Content)
	require.Equal(t, 11, ch.CursorPosition)
	require.Equal(t, "Hello world", s.Body())

	// quiet period elapses: exactly one persist with the latest body
	require.Eventually(t, func() bool { return len(fx.tr.savedBodies()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Hello world"}, fx.tr.savedBodies())
	expectFrame(t, fx.conn, protocol.EventSaveDocument)

	time.Sleep(3 * testDelay)
	require.Len(t, fx.tr.savedBodies(), 1, "no second persist without further edits")
}

func TestRapidEditsCoalesceIntoOnePersist(t *testing.T) {
	fx := newFixture(t, "7", "")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)

	s.OnLocalEdit("Hi", 2)
	s.OnLocalEdit("Hi there", 8)
	require.Eventually(t, func() bool { return len(fx.tr.savedBodies()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Hi there"}, fx.tr.savedBodies())
}

func TestRemoteUpdateEchoSuppression(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	rec := &recorder{}
	s, err := fx.mgr.Open(context.Background(), fx.doc, rec)
	require.NoError(t, err)

	fx.conn.in <- protocol.NewFrame(protocol.EventDocumentUpdate,
		protocol.Update{DocumentID: fx.doc, UserID: "42", Content: "peer text"})
	require.Eventually(t, func() bool { return s.Body() == "peer text" }, 2*time.Second, 5*time.Millisecond)

	// our own echoed broadcast must not clobber local state
	fx.conn.in <- protocol.NewFrame(protocol.EventDocumentUpdate,
		protocol.Update{DocumentID: fx.doc, UserID: "7", Content: "stale echo"})
	// updates for other documents are not applied either
	fx.conn.in <- protocol.NewFrame(protocol.EventDocumentUpdate,
		protocol.Update{DocumentID: "other-doc", UserID: "42", Content: "other"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, "peer text", s.Body())
}

func TestRosterSnapshotAndDeltas(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)

	fx.conn.in <- protocol.NewFrame(protocol.EventActiveUsers,
		protocol.Roster{DocumentID: fx.doc, Users: []string{"A", "B"}})
	fx.conn.in <- protocol.NewFrame(protocol.EventUserJoined,
		protocol.Presence{DocumentID: fx.doc, UserID: "C"})
	fx.conn.in <- protocol.NewFrame(protocol.EventUserLeft,
		protocol.Presence{DocumentID: fx.doc, UserID: "B"})

	require.Eventually(t, func() bool {
		r := s.Roster()
		return len(r) == 2 && r[0] == "A" && r[1] == "C"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSaveAckUpdatesTimestamp(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	rec := &recorder{}
	s, err := fx.mgr.Open(context.Background(), fx.doc, rec)
	require.NoError(t, err)
	require.True(t, s.LastSaved().IsZero())

	at := time.Now().Round(time.Millisecond)
	fx.conn.in <- protocol.NewFrame(protocol.EventDocumentSaved,
		protocol.Saved{DocumentID: fx.doc, Timestamp: at})
	require.Eventually(t, func() bool { return s.LastSaved().Equal(at) }, 2*time.Second, 5*time.Millisecond)
	require.False(t, s.PendingSave())
}

func TestFailedPersistKeepsLocalBody(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	rec := &recorder{}
	s, err := fx.mgr.Open(context.Background(), fx.doc, rec)
	require.NoError(t, err)

	fx.tr.failSaves(errors.New("boom"))
	s.OnLocalEdit("Hello world", 11)
	expectFrame(t, fx.conn, protocol.EventDocumentChange)

	require.Eventually(t, func() bool { return rec.errCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	// optimistic local edit retained, no checkpoint broadcast
	require.Equal(t, "Hello world", s.Body())
	select {
	case f := <-fx.conn.out:
		require.NotEqual(t, protocol.EventSaveDocument, f.Event)
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, fx.tr.savedBodies())
}

func TestFlushPersistsImmediately(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)

	s.OnLocalEdit("Hello!", 6)
	s.Flush()
	require.Equal(t, []string{"Hello!"}, fx.tr.savedBodies())

	// nothing unsaved: flush is a no-op
	s.Flush()
	require.Len(t, fx.tr.savedBodies(), 1)
}

func TestChannelErrorDoesNotCloseSession(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	rec := &recorder{}
	s, err := fx.mgr.Open(context.Background(), fx.doc, rec)
	require.NoError(t, err)

	fx.conn.in <- protocol.NewFrame(protocol.EventError, protocol.Error{Message: "server hiccup"})
	require.Eventually(t, func() bool { return rec.errCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, s.Closed())
	var che *ChannelError
	require.ErrorAs(t, rec.firstErr(), &che)
}

func TestCloseEmitsLeaveAndUnregisters(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)
	expectFrame(t, fx.conn, protocol.EventJoinDocument)

	fx.mgr.Close(s)
	expectFrame(t, fx.conn, protocol.EventLeaveDocument)
	require.Eventually(t, func() bool { return s.Closed() }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, fx.gw.HandlerCount(protocol.EventDocumentUpdate))
	require.Equal(t, 0, fx.mgr.SessionCount())

	// close is safe to repeat
	fx.mgr.Close(s)
	fx.mgr.Close(nil)
}

func TestCloseKeepsConnectionForNextOpen(t *testing.T) {
	fx := newFixture(t, "7", "Hello")
	ctx := context.Background()
	s, err := fx.mgr.Open(ctx, fx.doc, nil)
	require.NoError(t, err)
	expectFrame(t, fx.conn, protocol.EventJoinDocument)

	// closing the last session must deliver the leave and leave the shared
	// connection usable for the next document
	fx.mgr.Close(s)
	f := expectFrame(t, fx.conn, protocol.EventLeaveDocument)
	var ref protocol.DocRef
	require.NoError(t, decode(f, &ref))
	require.Equal(t, fx.doc, ref.DocumentID)
	require.True(t, fx.gw.Connected())

	other, err := fx.tr.svc.Create(&document.Document{Title: "t2", Content: "Other", OwnerID: "7"})
	require.NoError(t, err)
	s2, err := fx.mgr.Open(ctx, other, nil)
	require.NoError(t, err)
	f = expectFrame(t, fx.conn, protocol.EventJoinDocument)
	require.NoError(t, decode(f, &ref))
	require.Equal(t, other, ref.DocumentID)

	// the reopened session still receives events over the same connection
	fx.conn.in <- protocol.NewFrame(protocol.EventDocumentUpdate, protocol.Update{
		DocumentID: other, UserID: "42", Content: "peer edit",
	})
	require.Eventually(t, func() bool { return s2.Body() == "peer edit" }, 2*time.Second, 5*time.Millisecond)
}

func TestRevertReplacesStateWholesale(t *testing.T) {
	fx := newFixture(t, "7", "v0")
	s, err := fx.mgr.Open(context.Background(), fx.doc, nil)
	require.NoError(t, err)

	require.NoError(t, fx.tr.svc.Update(fx.doc, "v1", "7", nil))
	require.NoError(t, fx.tr.svc.Update(fx.doc, "v2", "7", nil))
	ctx := context.Background()
	require.NoError(t, s.RefreshVersions(ctx))
	require.Len(t, s.Versions(), 2)

	require.NoError(t, s.Revert(ctx, 0))
	require.Equal(t, "v1", s.Body())
	vers := s.Versions()
	require.Len(t, vers, 3, "revert appends, never truncates")
	require.Equal(t, "v1", vers[len(vers)-1].Content)

	require.Error(t, s.Revert(ctx, 99))
}

func decode(f *protocol.Frame, v interface{}) error {
	return json.Unmarshal(f.Data, v)
}
