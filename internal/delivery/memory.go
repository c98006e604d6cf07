package delivery

import (
	"context"
	"sync"
	"time"

	"account-auth/backend/internal/account/domain"
)

// DefaultMemoryTTL is how long MemorySink keeps a delivered code.
const DefaultMemoryTTL = 15 * time.Minute

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// MemorySink keeps the latest plaintext code per email so the dev-only
// GET /dev/reset-code endpoint can return it. Never wire it in production.
type MemorySink struct {
	mu   sync.RWMutex
	m    map[string]memoryEntry
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemorySink returns a MemorySink that keeps codes for ttl; zero means
// DefaultMemoryTTL.
func NewMemorySink(ttl time.Duration) *MemorySink {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	return &MemorySink{
		m:    make(map[string]memoryEntry),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Deliver records d.Code for d.Email, replacing any earlier code.
func (s *MemorySink) Deliver(_ context.Context, d domain.ResetDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[d.Email] = memoryEntry{code: d.Code, expiresAt: s.nowF().Add(s.ttl)}
	return nil
}

// Get returns the latest code delivered for email if it has not expired.
func (s *MemorySink) Get(_ context.Context, email string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[email]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, email)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

func (s *MemorySink) Close() error { return nil }
