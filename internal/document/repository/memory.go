package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copad/copad/internal/document"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrForbidden = errors.New("forbidden")
	ErrBadIndex  = errors.New("version index out of range")
)

// MemoryRepo is a simple in-memory repository used for development and unit
// tests. The Mongo-backed repository implements the same operations.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*document.Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*document.Document)}
}

func (m *MemoryRepo) Create(doc *document.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	if doc.Versions == nil {
		doc.Versions = []document.Version{}
	}
	m.store[doc.ID] = doc
	return doc.ID, nil
}

func (m *MemoryRepo) Get(id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneDoc(d)
	return cp, nil
}

func (m *MemoryRepo) List() ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0, len(m.store))
	for _, d := range m.store {
		out = append(out, cloneDoc(d))
	}
	return out, nil
}

// Update performs the durable write for a save: it replaces the body, bumps
// UpdatedAt and appends a Version capturing the new content.
func (m *MemoryRepo) Update(id string, content string, editorID string, title *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	if title != nil {
		d.Title = *title
	}
	d.Content = content
	d.UpdatedAt = time.Now()
	d.Versions = append(d.Versions, document.Version{
		ID:        uuid.NewString(),
		Content:   content,
		EditorID:  editorID,
		CreatedAt: d.UpdatedAt,
	})
	return nil
}

// Revert restores the body captured by the version at the given zero-based
// index. History is additive: the restored content is appended as a new
// Version, existing versions are never removed.
func (m *MemoryRepo) Revert(id string, index int, editorID string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if index < 0 || index >= len(d.Versions) {
		return nil, ErrBadIndex
	}
	restored := d.Versions[index].Content
	d.Content = restored
	d.UpdatedAt = time.Now()
	d.Versions = append(d.Versions, document.Version{
		ID:        uuid.NewString(),
		Content:   restored,
		EditorID:  editorID,
		CreatedAt: d.UpdatedAt,
	})
	return cloneDoc(d), nil
}

func (m *MemoryRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func cloneDoc(d *document.Document) *document.Document {
	cp := *d
	cp.Versions = make([]document.Version, len(d.Versions))
	copy(cp.Versions, d.Versions)
	return &cp
}
