package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionTTL = 12 * time.Hour

// Sessions holds server-issued admin bearer tokens. Tokens are minted for a
// configured admin through the bot (/admin) and validated here; the admin
// identity is never taken from a client-supplied header.
type Sessions struct {
	mu     sync.Mutex
	tokens map[string]session
	ttl    time.Duration
	now    func() time.Time
}

type session struct {
	adminID int64
	expiry  time.Time
}

func NewSessions() *Sessions {
	return &Sessions{
		tokens: make(map[string]session),
		ttl:    sessionTTL,
		now:    time.Now,
	}
}

// Issue mints a fresh token for the admin.
func (s *Sessions) Issue(adminID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	s.tokens[token] = session{adminID: adminID, expiry: s.now().Add(s.ttl)}
	return token
}

// Validate resolves a token to the admin it was issued for. Expired tokens
// are dropped on the way.
func (s *Sessions) Validate(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.tokens[token]
	if !ok {
		return 0, false
	}
	if !s.now().Before(sess.expiry) {
		delete(s.tokens, token)
		return 0, false
	}
	return sess.adminID, true
}
