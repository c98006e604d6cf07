package repository

import (
	"context"
	"sync"
	"time"

	"account-auth/backend/internal/account/domain"
)

// MemoryStore is an in-process Store for development and tests. WithinTx
// holds a per-email lock; writes made before fn fails are not rolled back.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Account
	byEmail map[string]string
	byPhone map[string]string
	locks   sync.Map // email -> *sync.Mutex
	nowF    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*domain.Account),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of a, enforcing unique email and phone number.
func (s *MemoryStore) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byPhone[a.PhoneNumber]; ok {
		return ErrDuplicate
	}
	c := *a
	s.byID[c.ID] = &c
	s.byEmail[c.Email] = c.ID
	s.byPhone[c.PhoneNumber] = c.ID
	return nil
}

// GetByEmail returns a copy of the account for email, or nil if not found.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	c := *s.byID[id]
	return &c, nil
}

// GetByEmailForUpdate is GetByEmail; WithinTx provides the locking.
func (s *MemoryStore) GetByEmailForUpdate(ctx context.Context, email string) (*domain.Account, error) {
	return s.GetByEmail(ctx, email)
}

// SetResetCode stores codeHash as the pending reset code for id.
func (s *MemoryStore) SetResetCode(ctx context.Context, id, codeHash string) error {
	return s.update(ctx, id, func(a *domain.Account) { a.ResetCodeHash = codeHash })
}

// CompleteReset sets the password hash for id and clears its pending reset code.
func (s *MemoryStore) CompleteReset(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, id, func(a *domain.Account) {
		a.PasswordHash = passwordHash
		a.ResetCodeHash = ""
	})
}

// UpgradePasswordHash replaces oldHash with newHash when it is still current.
func (s *MemoryStore) UpgradePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.PasswordHash != oldHash {
		return false, nil
	}
	a.PasswordHash = newHash
	a.UpdatedAt = s.nowF()
	return true, nil
}

func (s *MemoryStore) update(ctx context.Context, id string, mutate func(a *domain.Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(a)
	a.UpdatedAt = s.nowF()
	return nil
}

// WithinTx runs fn while holding the lock for email.
func (s *MemoryStore) WithinTx(ctx context.Context, email string, fn func(ctx context.Context, repo Repository) error) error {
	l, _ := s.locks.LoadOrStore(email, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}
