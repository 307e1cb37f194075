package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copad/copad/internal/document"
)

var (
	// ErrNotFound means the document does not exist; terminal for the session.
	ErrNotFound = errors.New("document not found")
	// ErrForbidden means the editor lacks access; terminal for the session.
	ErrForbidden = errors.New("access denied")
)

// Transport is the document-transport collaborator: the REST-like contract
// the sync core persists through. Implementations must be safe for use from
// a single session loop at a time.
type Transport interface {
	Fetch(ctx context.Context, docID, requester string) (*document.Document, error)
	Save(ctx context.Context, docID, content, editorID string) error
	Revert(ctx context.Context, docID string, index int, requester string) (*document.Document, error)
}

// RESTTransport talks to the copad document API.
type RESTTransport struct {
	base string
	hc   *http.Client
}

func NewRESTTransport(base string) *RESTTransport {
	return &RESTTransport{base: base, hc: &http.Client{Timeout: 15 * time.Second}}
}

func (t *RESTTransport) Fetch(ctx context.Context, docID, requester string) (*document.Document, error) {
	var d document.Document
	if err := t.doJSON(ctx, http.MethodGet, "/api/documents/"+docID, requester, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *RESTTransport) Save(ctx context.Context, docID, content, editorID string) error {
	body := map[string]string{"content": content}
	return t.doJSON(ctx, http.MethodPatch, "/api/documents/"+docID, editorID, body, nil)
}

func (t *RESTTransport) Revert(ctx context.Context, docID string, index int, requester string) (*document.Document, error) {
	var d document.Document
	body := map[string]int{"index": index}
	if err := t.doJSON(ctx, http.MethodPost, "/api/documents/"+docID+"/revert", requester, body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *RESTTransport) doJSON(ctx context.Context, method, path, requester string, in, out interface{}) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requester != "" {
		req.Header.Set("X-User-ID", requester)
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("document transport: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("document transport: %s %s: status %d: %s", method, path, resp.StatusCode, b)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
