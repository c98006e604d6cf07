// Package repository persists accounts in Postgres or, for development and
// tests, in memory.
package repository

import (
	"context"
	"errors"

	"account-auth/backend/internal/account/domain"
)

var (
	// ErrDuplicate is returned by Create when the email or phone number is taken.
	ErrDuplicate = errors.New("account: email or phone number already exists")
	// ErrNotFound is returned by updates that match no account.
	ErrNotFound = errors.New("account: not found")
)

// Repository defines persistence for accounts. Lookups return (nil, nil) when
// no account matches; emails must already be normalized.
type Repository interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// GetByEmailForUpdate is GetByEmail that also locks the row until the
	// enclosing transaction ends. Outside WithinTx it behaves like GetByEmail.
	GetByEmailForUpdate(ctx context.Context, email string) (*domain.Account, error)
	// SetResetCode stores codeHash as the pending reset code, replacing any earlier one.
	SetResetCode(ctx context.Context, id, codeHash string) error
	// CompleteReset stores a new password hash and clears the pending reset code.
	CompleteReset(ctx context.Context, id, passwordHash string) error
	// UpgradePasswordHash swaps oldHash for newHash and reports whether the
	// stored hash still equalled oldHash.
	UpgradePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
}

// Store is a Repository that can run a unit of work atomically. Work for the
// same email is serialized; work for different emails is independent.
type Store interface {
	Repository
	WithinTx(ctx context.Context, email string, fn func(ctx context.Context, repo Repository) error) error
}
