package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidTicket is returned when a ticket is unknown or expired.
var ErrInvalidTicket = errors.New("invalid or expired ticket")

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
}

func NewService(r Repository) *Service { return &Service{repo: r} }

// Issue stores a new connect ticket for sub and returns its token
func (s *Service) Issue(ctx context.Context, sub string, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(b)
	t := &Ticket{
		Token:     tok,
		Sub:       sub,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", err
	}
	return tok, nil
}

// Validate resolves a token to its subject. Expired tickets are cleaned up
// and rejected. Tickets stay valid until expiry so a reconnect within the
// TTL does not need a fresh one.
func (s *Service) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidTicket
	}
	t, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrInvalidTicket
	}
	if time.Now().UTC().After(t.ExpiresAt) {
		_ = s.repo.DeleteByToken(ctx, token)
		return "", ErrInvalidTicket
	}
	return t.Sub, nil
}

// Revoke deletes a ticket before its natural expiry.
func (s *Service) Revoke(ctx context.Context, token string) error {
	return s.repo.DeleteByToken(ctx, token)
}
