package sessions

import (
	"context"
	"testing"
	"time"
)

// fake repo for testing
type fakeRepo struct {
	store map[string]*Ticket
}

func (f *fakeRepo) Create(ctx context.Context, t *Ticket) error {
	if f.store == nil {
		f.store = map[string]*Ticket{}
	}
	f.store[t.Token] = t
	return nil
}
func (f *fakeRepo) GetByToken(ctx context.Context, token string) (*Ticket, error) {
	if f.store == nil {
		return nil, nil
	}
	t, ok := f.store[token]
	if !ok {
		return nil, nil
	}
	return t, nil
}
func (f *fakeRepo) DeleteByToken(ctx context.Context, token string) error {
	if f.store == nil {
		return nil
	}
	delete(f.store, token)
	return nil
}

func TestIssueAndValidateTicket(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	tok, err := svc.Issue(ctx, "sub-1", time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected ticket token")
	}
	sub, err := svc.Validate(ctx, tok)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if sub != "sub-1" {
		t.Fatalf("expected sub-1, got %q", sub)
	}
}

func TestValidateRejectsUnknownAndExpired(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Validate(ctx, "nope"); err != ErrInvalidTicket {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
	if _, err := svc.Validate(ctx, ""); err != ErrInvalidTicket {
		t.Fatalf("expected ErrInvalidTicket for empty token, got %v", err)
	}

	tok, err := svc.Issue(ctx, "sub-2", -time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := svc.Validate(ctx, tok); err != ErrInvalidTicket {
		t.Fatalf("expected expired ticket rejection, got %v", err)
	}
	// expired ticket was cleaned up
	if got, _ := repo.GetByToken(ctx, tok); got != nil {
		t.Fatalf("expected expired ticket to be deleted")
	}
}

func TestRevokeTicket(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	tok, _ := svc.Issue(ctx, "sub-3", time.Minute)
	if err := svc.Revoke(ctx, tok); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := svc.Validate(ctx, tok); err != ErrInvalidTicket {
		t.Fatalf("expected revoked ticket rejection, got %v", err)
	}
}
