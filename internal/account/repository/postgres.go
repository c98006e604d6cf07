package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"account-auth/backend/internal/account/domain"
	"account-auth/backend/internal/db"
)

const accountColumns = `id, email, phone_number, username, password_hash, reset_code_hash, created_at, updated_at`

const (
	insertAccountSQL = `INSERT INTO accounts (id, email, phone_number, username, password_hash, reset_code_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)`
	selectByEmailSQL          = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	selectByEmailForUpdateSQL = selectByEmailSQL + ` FOR UPDATE`
	setResetCodeSQL           = `UPDATE accounts SET reset_code_hash = $2, updated_at = now() WHERE id = $1`
	completeResetSQL          = `UPDATE accounts SET password_hash = $2, reset_code_hash = NULL, updated_at = now() WHERE id = $1`
	upgradeHashSQL            = `UPDATE accounts SET password_hash = $3, updated_at = now() WHERE id = $1 AND password_hash = $2`
)

// PostgresRepository runs account queries against a pool or a transaction.
type PostgresRepository struct {
	db      db.DBTX
	timeout time.Duration
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a repository over conn. Each call is bounded
// by timeout when it is positive.
func NewPostgresRepository(conn db.DBTX, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

func (r *PostgresRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Create inserts a. The account must have ID set; it is not assigned here.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return oops.Code("ACCOUNT_INVALID").In("repository").Wrap(err)
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	_, err := r.db.ExecContext(ctx, insertAccountSQL,
		a.ID, a.Email, a.PhoneNumber, a.Username, a.PasswordHash, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_DUPLICATE").In("repository").
				With("constraint", pgErr.ConstraintName).
				Wrap(ErrDuplicate)
		}
		return storeErr("create", err)
	}
	return nil
}

// GetByEmail returns the account for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, "get_by_email", selectByEmailSQL, email)
}

// GetByEmailForUpdate returns the account for email with its row locked for
// the rest of the transaction, or nil if not found.
func (r *PostgresRepository) GetByEmailForUpdate(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, "get_by_email_for_update", selectByEmailForUpdateSQL, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, op, query string, args ...any) (*domain.Account, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	var (
		a     domain.Account
		reset sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.Email, &a.PhoneNumber, &a.Username, &a.PasswordHash, &reset, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(op, err)
	}
	a.ResetCodeHash = reset.String
	return &a, nil
}

// SetResetCode stores codeHash as the pending reset code for id.
func (r *PostgresRepository) SetResetCode(ctx context.Context, id, codeHash string) error {
	return r.execOne(ctx, "set_reset_code", setResetCodeSQL, id, codeHash)
}

// CompleteReset sets the password hash for id and clears its pending reset code.
func (r *PostgresRepository) CompleteReset(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "complete_reset", completeResetSQL, id, passwordHash)
}

// UpgradePasswordHash replaces oldHash with newHash when it is still current.
func (r *PostgresRepository) UpgradePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	n, err := r.exec(ctx, "upgrade_password_hash", upgradeHashSQL, id, oldHash, newHash)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	n, err := r.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").In("repository").With("operation", op).Wrap(ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// PostgresStore is the production Store. Transactions lock account rows with
// SELECT ... FOR UPDATE, so they serialize per account only.
type PostgresStore struct {
	*PostgresRepository
	pool    *sql.DB
	timeout time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a Store over pool. timeout bounds each standalone
// query and each transaction as a whole.
func NewPostgresStore(pool *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{
		PostgresRepository: NewPostgresRepository(pool, timeout),
		pool:               pool,
		timeout:            timeout,
	}
}

// WithinTx runs fn in one transaction. Errors returned by fn are passed
// through unchanged; begin and commit failures are wrapped as store errors.
func (s *PostgresStore) WithinTx(ctx context.Context, _ string, fn func(ctx context.Context, repo Repository) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	var fnErr error
	err := db.WithTx(ctx, s.pool, nil, func(ctx context.Context, tx db.DBTX) error {
		fnErr = fn(ctx, NewPostgresRepository(tx, 0))
		return fnErr
	})
	if err != nil && fnErr == nil {
		return storeErr("transaction", err)
	}
	return err
}

func storeErr(op string, err error) error {
	return oops.Code("ACCOUNT_STORE").In("repository").With("operation", op).Wrap(err)
}
