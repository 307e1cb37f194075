package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/copad/copad/internal/document"
	"github.com/copad/copad/internal/document/repository"
	"github.com/copad/copad/pkg/logger"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrBadIndex  = errors.New("version index out of range")
)

// Service defines the document business operations used by the handler layer
// and the realtime hub. The requester argument is the authenticated subject;
// access rules live here, not in the repositories.
type Service interface {
	Create(d *document.Document) (string, error)
	Get(id, requester string) (*document.Document, error)
	List() ([]*document.Document, error)
	Update(id string, content string, editorID string, title *string) error
	Revert(id string, index int, editorID string) (*document.Document, error)
	Delete(id, requester string) error
	SetArchiver(a Archiver)
}

type repo interface {
	Create(doc *document.Document) (string, error)
	Get(id string) (*document.Document, error)
	List() ([]*document.Document, error)
	Update(id string, content string, editorID string, title *string) error
	Revert(id string, index int, editorID string) (*document.Document, error)
	Delete(id string) error
}

// NewMemoryService returns a Service backed by the in-memory repository.
func NewMemoryService() Service {
	return &svc{repo: repository.NewMemoryRepo()}
}

// NewMongoService returns a Service backed by a MongoDB collection.
// Caller is responsible for creating the collection (and client) and passing it in.
func NewMongoService(col *mongo.Collection) Service {
	return &svc{repo: repository.NewMongoRepo(col)}
}

// Archiver offloads version snapshots to object storage after a durable
// write. Archiving is best-effort; failures are logged, never surfaced.
type Archiver interface {
	ArchiveVersion(ctx context.Context, docID string, v document.Version) error
}

type svc struct {
	repo    repo
	archive Archiver
}

// SetArchiver enables snapshot archiving. Pass nil to disable.
func (s *svc) SetArchiver(a Archiver) { s.archive = a }

func (s *svc) Create(d *document.Document) (string, error) {
	return s.repo.Create(d)
}

func (s *svc) Get(id, requester string) (*document.Document, error) {
	d, err := s.repo.Get(id)
	if err != nil {
		return nil, mapErr(err)
	}
	if d.Private && d.OwnerID != requester {
		return nil, ErrForbidden
	}
	return d, nil
}

func (s *svc) List() ([]*document.Document, error) {
	return s.repo.List()
}

func (s *svc) Update(id string, content string, editorID string, title *string) error {
	if err := s.authorizeWrite(id, editorID); err != nil {
		return err
	}
	if err := s.repo.Update(id, content, editorID, title); err != nil {
		return mapErr(err)
	}
	s.archiveLatest(id)
	return nil
}

// authorizeWrite enforces the same visibility rule as Get on the mutating
// paths: a private document accepts writes from its owner only.
func (s *svc) authorizeWrite(id, editorID string) error {
	d, err := s.repo.Get(id)
	if err != nil {
		return mapErr(err)
	}
	if d.Private && d.OwnerID != editorID {
		return ErrForbidden
	}
	return nil
}

func (s *svc) archiveLatest(id string) {
	if s.archive == nil {
		return
	}
	d, err := s.repo.Get(id)
	if err != nil || d.Latest() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.archive.ArchiveVersion(ctx, id, *d.Latest()); err != nil {
		logger.Warnf("snapshot archive failed for %s: %v", id, err)
	}
}

func (s *svc) Revert(id string, index int, editorID string) (*document.Document, error) {
	if err := s.authorizeWrite(id, editorID); err != nil {
		return nil, err
	}
	d, err := s.repo.Revert(id, index, editorID)
	if err != nil {
		return nil, mapErr(err)
	}
	s.archiveLatest(id)
	return d, nil
}

func (s *svc) Delete(id, requester string) error {
	d, err := s.repo.Get(id)
	if err != nil {
		return mapErr(err)
	}
	if d.OwnerID != "" && d.OwnerID != requester {
		return ErrForbidden
	}
	return mapErr(s.repo.Delete(id))
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrBadIndex):
		return ErrBadIndex
	default:
		return err
	}
}
