package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"account-auth/backend/internal/account/domain"
	"account-auth/backend/internal/account/repository"
	"account-auth/backend/internal/resetcode"
	"account-auth/backend/internal/security"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fastArgon2 = security.Argon2Params{Time: 1, Memory: 1024, Threads: 1}

func newHasher(t *testing.T, alg string) *security.Hasher {
	t.Helper()
	h, err := security.NewHasher(alg, 4, fastArgon2)
	require.NoError(t, err)
	return h
}

// seqCodes hands out codes in order, then falls back to random ones.
type seqCodes struct {
	mu    sync.Mutex
	codes []string
}

func (g *seqCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) == 0 {
		return resetcode.NewGenerator().Generate()
	}
	c := g.codes[0]
	g.codes = g.codes[1:]
	return c, nil
}

type fixture struct {
	svc   *AuthService
	store *repository.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := NewAuthService(store, newHasher(t, security.AlgorithmBcrypt), security.NewTestHMACTokenProvider(), resetcode.NewGenerator(), nil)
	return &fixture{svc: svc, store: store}
}

func (f *fixture) register(t *testing.T, email, phone, username, password string) {
	t.Helper()
	_, err := f.svc.Register(context.Background(), email, phone, username, password)
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, email string) *domain.Account {
	t.Helper()
	a, err := f.store.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Register(context.Background(), "  Alice@X.com ", " 555-0100 ", " alice ", "Secr3t!")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "alice@x.com", res.Email)
	assert.Equal(t, "alice", res.Username)

	a := f.account(t, "alice@x.com")
	assert.Equal(t, "555-0100", a.PhoneNumber)
	assert.NotEmpty(t, a.PasswordHash)
	assert.NotEqual(t, "Secr3t!", a.PasswordHash)
	assert.False(t, a.ResetPending())
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name                             string
		email, phone, username, password string
	}{
		{"missing email", "", "555", "u", "pw"},
		{"blank email", "   ", "555", "u", "pw"},
		{"missing phone", "a@x.com", "", "u", "pw"},
		{"missing username", "a@x.com", "555", " ", "pw"},
		{"missing password", "a@x.com", "555", "u", ""},
		{"malformed email", "not-an-email", "555", "u", "pw"},
		{"password too long", "a@x.com", "555", "u", strings.Repeat("p", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.email, tt.phone, tt.username, tt.password)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegister_DuplicateEmailKeepsFirst(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	first := f.account(t, "a@x.com")

	_, err := f.svc.Register(context.Background(), "A@X.COM", "555-0199", "mallory", "other")
	require.ErrorIs(t, err, ErrConflict)

	after := f.account(t, "a@x.com")
	assert.Equal(t, first.ID, after.ID)
	assert.Equal(t, "alice", after.Username)
	assert.Equal(t, first.PasswordHash, after.PasswordHash)
}

func TestRegister_DuplicatePhone(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	_, err := f.svc.Register(context.Background(), "b@x.com", "555-0100", "bob", "pw")
	require.ErrorIs(t, err, ErrConflict)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")

	res, err := f.svc.Login(context.Background(), "A@x.com", "Secr3t!")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "a@x.com", res.Profile.Email)
	assert.Equal(t, "alice", res.Profile.Username)

	identity, err := f.svc.Authenticate(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", identity)
}

func TestLogin_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")

	_, errWrong := f.svc.Login(context.Background(), "a@x.com", "wrong")
	_, errUnknown := f.svc.Login(context.Background(), "nobody@x.com", "Secr3t!")
	require.Equal(t, ErrInvalidCredentials, errWrong)
	require.Equal(t, ErrInvalidCredentials, errUnknown)
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)
	for _, tc := range [][2]string{{"", "pw"}, {"a@x.com", ""}, {" ", " "}} {
		_, err := f.svc.Login(context.Background(), tc[0], tc[1])
		require.ErrorIs(t, err, ErrValidation, "email=%q password=%q", tc[0], tc[1])
	}
}

func TestLogin_RehashesToConfiguredAlgorithm(t *testing.T) {
	store := repository.NewMemoryStore()
	tokens := security.NewTestHMACTokenProvider()
	legacy := NewAuthService(store, newHasher(t, security.AlgorithmBcrypt), tokens, resetcode.NewGenerator(), nil)
	_, err := legacy.Register(context.Background(), "a@x.com", "555-0100", "alice", "Secr3t!")
	require.NoError(t, err)

	current := NewAuthService(store, newHasher(t, security.AlgorithmArgon2id), tokens, resetcode.NewGenerator(), nil)
	_, err = current.Login(context.Background(), "a@x.com", "Secr3t!")
	require.NoError(t, err)

	a, _ := store.GetByEmail(context.Background(), "a@x.com")
	assert.True(t, strings.HasPrefix(a.PasswordHash, "$argon2id$"), "hash = %q", a.PasswordHash)

	_, err = current.Login(context.Background(), "a@x.com", "Secr3t!")
	require.NoError(t, err, "upgraded hash must still verify")
}

func TestForgotPassword_StoresHashedCode(t *testing.T) {
	f := newFixture(t)
	f.svc.codes = &seqCodes{codes: []string{"042917"}}
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")

	d, err := f.svc.ForgotPassword(context.Background(), " A@x.com")
	require.NoError(t, err)
	assert.Equal(t, "042917", d.Code)
	assert.Equal(t, "a@x.com", d.Email)
	assert.Equal(t, domain.ChannelEmail, d.Channel)
	assert.False(t, d.IssuedAt.IsZero())

	a := f.account(t, "a@x.com")
	assert.Equal(t, resetcode.Hash("042917"), a.ResetCodeHash)
	assert.NotContains(t, a.ResetCodeHash, "042917")
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ForgotPassword(context.Background(), "nobody@x.com")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ForgotPassword(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestForgotPassword_ReplacesEarlierCode(t *testing.T) {
	f := newFixture(t)
	f.svc.codes = &seqCodes{codes: []string{"111111", "222222"}}
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")

	_, err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	_, err = f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.ResetPassword(context.Background(), "a@x.com", "111111", "NewPass1"), ErrInvalidReset)
	require.NoError(t, f.svc.ResetPassword(context.Background(), "a@x.com", "222222", "NewPass1"))
}

func TestResetPassword_NeverIssuedCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	before := f.account(t, "a@x.com").PasswordHash

	err := f.svc.ResetPassword(context.Background(), "a@x.com", "123456", "NewPass1")
	require.ErrorIs(t, err, ErrInvalidReset)
	assert.Equal(t, before, f.account(t, "a@x.com").PasswordHash)
}

func TestResetPassword_CodeForDifferentEmail(t *testing.T) {
	f := newFixture(t)
	f.svc.codes = &seqCodes{codes: []string{"333333"}}
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	f.register(t, "b@x.com", "555-0101", "bob", "Hunter2!")
	bobHash := f.account(t, "b@x.com").PasswordHash

	_, err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)

	err = f.svc.ResetPassword(context.Background(), "b@x.com", "333333", "NewPass1")
	require.ErrorIs(t, err, ErrInvalidReset)
	assert.Equal(t, bobHash, f.account(t, "b@x.com").PasswordHash)
	assert.True(t, f.account(t, "a@x.com").ResetPending(), "alice's code must survive")
}

func TestResetPassword_UnknownEmailSameAsBadCode(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ResetPassword(context.Background(), "nobody@x.com", "123456", "NewPass1")
	require.Equal(t, ErrInvalidReset, err)
}

func TestResetPassword_Validation(t *testing.T) {
	f := newFixture(t)
	for _, tc := range [][3]string{
		{"", "123456", "pw"},
		{"a@x.com", "", "pw"},
		{"a@x.com", "123456", ""},
		{"a@x.com", "123456", strings.Repeat("p", 100)},
	} {
		err := f.svc.ResetPassword(context.Background(), tc[0], tc[1], tc[2])
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestResetPassword_CodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	d, err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(context.Background(), "a@x.com", d.Code, "NewPass1"))
	assert.False(t, f.account(t, "a@x.com").ResetPending())
	require.ErrorIs(t, f.svc.ResetPassword(context.Background(), "a@x.com", d.Code, "Another1"), ErrInvalidReset)

	_, err = f.svc.Login(context.Background(), "a@x.com", "NewPass1")
	require.NoError(t, err)
}

func TestResetPassword_ConcurrentResetsOneWins(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")
	d, err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.ResetPassword(context.Background(), "a@x.com", d.Code, "NewPass1")
		}()
	}
	wg.Wait()
	close(errs)

	ok, invalid := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidReset):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, invalid)
}

// Register, login, forgot and reset for alice, end to end.
func TestScenario_AliceResetsPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "555-0100", "alice", "Secr3t!")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "a@x.com", "Secr3t!")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	d, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, "a@x.com", d.Code, "NewPass1"))

	_, err = f.svc.Login(ctx, "a@x.com", "Secr3t!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "a@x.com", "NewPass1")
	require.NoError(t, err)
}

func TestAuthenticate_Invalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Authenticate(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "555-0100", "alice", "Secr3t!")

	p, err := f.svc.Profile(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = f.svc.Profile(context.Background(), "gone@x.com")
	require.ErrorIs(t, err, ErrNotFound)
}

// brokenStore fails every operation the way an unreachable database would.
type brokenStore struct {
	*repository.MemoryStore
	err error
}

func (s *brokenStore) Create(context.Context, *domain.Account) error { return s.err }
func (s *brokenStore) GetByEmail(context.Context, string) (*domain.Account, error) {
	return nil, s.err
}
func (s *brokenStore) WithinTx(context.Context, string, func(context.Context, repository.Repository) error) error {
	return s.err
}

func TestStoreFailuresAreTransient(t *testing.T) {
	driverErr := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	store := &brokenStore{MemoryStore: repository.NewMemoryStore(), err: driverErr}
	svc := NewAuthService(store, newHasher(t, security.AlgorithmBcrypt), security.NewTestHMACTokenProvider(), resetcode.NewGenerator(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "555", "alice", "pw")
	require.ErrorIs(t, err, ErrTransient)
	_, err = svc.Login(ctx, "a@x.com", "pw")
	require.ErrorIs(t, err, ErrTransient)
	_, err = svc.ForgotPassword(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrTransient)
	err = svc.ResetPassword(ctx, "a@x.com", "123456", "pw")
	require.ErrorIs(t, err, ErrTransient)
	_, err = svc.Profile(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrTransient)
}
