package collab

import (
	"context"

	"github.com/copad/copad/internal/document"
)

// Versions returns the cached snapshot history, oldest first. The list
// reflects the server state as of the last fetch; call RefreshVersions first
// when staleness matters (a peer may have saved since).
func (s *Session) Versions() []document.Version {
	var out []document.Version
	s.call(func() {
		out = make([]document.Version, len(s.doc.Versions))
		copy(out, s.doc.Versions)
	})
	return out
}

// RefreshVersions refetches the document so the version list is current.
// The local body is not touched.
func (s *Session) RefreshVersions(ctx context.Context) error {
	var err error
	s.call(func() {
		if s.closed {
			return
		}
		var d *document.Document
		d, err = s.tr.Fetch(ctx, s.docID, s.editor)
		if err != nil {
			return
		}
		d.Content = s.body
		s.doc = d
	})
	return err
}

// Revert restores the snapshot at the given zero-based position in the known
// version list and replaces local state wholesale with the server's result.
// Reverting by position is inherently racy against concurrent peer saves;
// that hazard is part of the documented contract.
func (s *Session) Revert(ctx context.Context, index int) error {
	var err error
	s.call(func() {
		if s.closed {
			return
		}
		var d *document.Document
		d, err = s.tr.Revert(ctx, s.docID, index, s.editor)
		if err != nil {
			return
		}
		s.doc = d
		s.body = d.Content
		s.sched.Cancel()
		s.notify.BodyReplaced(s.body)
	})
	return err
}
