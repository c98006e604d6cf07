package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad
	// signature, or was issued for another issuer or audience.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a well-formed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token. Subject is the account email.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies access JWTs. It signs with HS256 when
// built from a shared secret, or RS256/ES256 when built from a key pair.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey (RSA
// gives RS256, ECDSA gives ES256) and verifies with publicKey.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrInvalidKey
	}
	return newProvider(method, privateKey, publicKey, issuer, audience, accessTTL), nil
}

// NewHMACTokenProvider returns a TokenProvider that signs and verifies with HS256.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	return newProvider(jwt.SigningMethodHS256, secret, secret, issuer, audience, accessTTL), nil
}

func newProvider(method jwt.SigningMethod, signKey, verifyKey any, issuer, audience string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		audience:  audience,
		accessTTL: ttl,
		now:       time.Now,
	}
}

// Issue issues a time-bounded access JWT asserting identity. Returns the
// token string and its expiration time.
func (p *TokenProvider) Issue(identity string) (token string, expiresAt time.Time, err error) {
	if identity == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identity,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses and validates an access token (signature, method, exp, iss,
// aud) and returns the identity it asserts.
func (p *TokenProvider) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != p.method.Alg() {
			return nil, ErrInvalidToken
		}
		return p.verifyKey, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if !slices.Contains(claims.Audience, p.audience) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
