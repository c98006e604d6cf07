package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"account-auth/backend/internal/account/domain"
	"account-auth/backend/internal/account/repository"
	"account-auth/backend/internal/resetcode"
	"account-auth/backend/internal/security"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("email or phone number already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("email not found")
	ErrInvalidReset       = errors.New("invalid otp")
	ErrUnauthenticated    = errors.New("unauthenticated")
	// ErrTransient marks credential store failures. Callers may retry.
	ErrTransient = errors.New("credential store unavailable")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var tracer = otel.Tracer("account-auth/internal/account/service")

// PasswordHasher is the hashing behaviour the auth service depends on.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) bool
	NeedsRehash(hash string) bool
	DummyHash() string
}

// TokenIssuer issues and verifies bearer tokens that assert an email.
type TokenIssuer interface {
	Issue(identity string) (token string, expiresAt time.Time, err error)
	Verify(token string) (identity string, err error)
}

// CodeGenerator produces six-digit reset codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RegisterResult is the identity created by Register.
type RegisterResult struct {
	ID       string
	Email    string
	Username string
}

// LoginResult holds a fresh access token and the client-safe account projection.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Profile   domain.Profile
}

// AuthService implements register, login, forgot-password and reset-password
// over a credential store.
type AuthService struct {
	store  repository.Store
	hasher PasswordHasher
	tokens TokenIssuer
	codes  CodeGenerator
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. A nil
// logger discards log output.
func NewAuthService(store repository.Store, hasher PasswordHasher, tokens TokenIssuer, codes CodeGenerator, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		codes:  codes,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account. The email is normalized to lowercase and must
// not already be registered; neither may the phone number.
func (s *AuthService) Register(ctx context.Context, email, phone, username, password string) (res *RegisterResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Register")
	defer func() { endSpan(span, err) }()

	email = domain.NormalizeEmail(email)
	phone = domain.NormalizePhone(phone)
	username = strings.TrimSpace(username)
	if email == "" || phone == "" || username == "" || password == "" {
		return nil, invalid("email, phone_number, username and password are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("invalid email format")
	}
	hashed, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	acct := &domain.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PhoneNumber:  phone,
		Username:     username,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, transient("create account", err)
	}
	span.SetAttributes(attribute.String("account.id", acct.ID))
	s.logger.InfoContext(ctx, "account registered", "account_id", acct.ID)
	return &RegisterResult{ID: acct.ID, Email: acct.Email, Username: acct.Username}, nil
}

// Login verifies the password for email and issues an access token. An
// unknown email and a wrong password produce the same ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Login")
	defer func() { endSpan(span, err) }()

	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}
	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, transient("load account", err)
	}
	if acct == nil {
		// Equalize timing with the wrong-password path.
		s.hasher.Verify(s.hasher.DummyHash(), password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	token, expiresAt, err := s.tokens.Issue(acct.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if s.hasher.NeedsRehash(acct.PasswordHash) {
		s.rehash(ctx, acct, password)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Profile: acct.Profile()}, nil
}

// rehash upgrades a stored hash to the current algorithm and work factor.
// Failures are logged; the login that triggered it still succeeds.
func (s *AuthService) rehash(ctx context.Context, acct *domain.Account, password string) {
	upgraded, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "account_id", acct.ID, "error", err)
		return
	}
	ok, err := s.store.UpgradePasswordHash(ctx, acct.ID, acct.PasswordHash, upgraded)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash not stored", "account_id", acct.ID, "error", err)
		return
	}
	if ok {
		s.logger.InfoContext(ctx, "password hash upgraded", "account_id", acct.ID)
	}
}

// ForgotPassword issues a new reset code for email, replacing any pending one,
// and returns the delivery obligation carrying it. Returns ErrNotFound when
// no account has that email.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (res *domain.ResetDelivery, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ForgotPassword")
	defer func() { endSpan(span, err) }()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, invalid("email is required")
	}
	code, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}

	var delivery *domain.ResetDelivery
	err = s.store.WithinTx(ctx, email, func(ctx context.Context, repo repository.Repository) error {
		acct, err := repo.GetByEmailForUpdate(ctx, email)
		if err != nil {
			return err
		}
		if acct == nil {
			return ErrNotFound
		}
		if err := repo.SetResetCode(ctx, acct.ID, resetcode.Hash(code)); err != nil {
			return err
		}
		delivery = &domain.ResetDelivery{
			AccountID: acct.ID,
			Email:     acct.Email,
			Username:  acct.Username,
			Channel:   domain.ChannelEmail,
			Code:      code,
			IssuedAt:  s.now(),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("store reset code", err)
	}
	return delivery, nil
}

// ResetPassword sets a new password when code matches the pending reset code
// for email, and consumes the code. A missing account, a missing code and a
// wrong code all yield ErrInvalidReset.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ResetPassword")
	defer func() { endSpan(span, err) }()

	email = domain.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" || newPassword == "" {
		return invalid("email, otp and new_password are required")
	}
	// Hash outside the transaction so the row lock is held briefly.
	hashed, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.store.WithinTx(ctx, email, func(ctx context.Context, repo repository.Repository) error {
		acct, err := repo.GetByEmailForUpdate(ctx, email)
		if err != nil {
			return err
		}
		if acct == nil || !resetcode.Equal(code, acct.ResetCodeHash) {
			return ErrInvalidReset
		}
		return repo.CompleteReset(ctx, acct.ID, hashed)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidReset) {
			return ErrInvalidReset
		}
		return transient("complete reset", err)
	}
	s.logger.InfoContext(ctx, "password reset completed")
	return nil
}

// Authenticate verifies a bearer token and returns the email it asserts.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	_, span := tracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	identity, err := s.tokens.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return identity, nil
}

// Profile returns the client-safe projection of the account for email.
func (s *AuthService) Profile(ctx context.Context, email string) (res *domain.Profile, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Profile")
	defer func() { endSpan(span, err) }()

	acct, err := s.store.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, transient("load account", err)
	}
	if acct == nil {
		return nil, ErrNotFound
	}
	p := acct.Profile()
	return &p, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	if len(password) > security.MaxPasswordBytes {
		return "", invalid("password must be at most 72 bytes")
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return "", invalid("password must be at most 72 bytes")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hashed, nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// endSpan marks the span failed only for unexpected errors; expected
// outcomes such as bad credentials are not span errors.
func endSpan(span trace.Span, err error) {
	if err != nil && !isExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isExpected(err error) bool {
	for _, target := range []error{ErrValidation, ErrConflict, ErrInvalidCredentials, ErrNotFound, ErrInvalidReset, ErrUnauthenticated} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
