package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// MaxPasswordBytes is the longest plaintext accepted by Hash. bcrypt ignores
// everything past 72 bytes, so the limit applies to every algorithm.
const MaxPasswordBytes = 72

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
	argon2Prefix  = "$argon2id$"
)

var (
	// ErrPasswordTooLong is returned by Hash when the plaintext exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	// ErrUnknownAlgorithm is returned by NewHasher for an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown password hashing algorithm")
)

// Argon2Params are the argon2id work factors.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2Params follows the OWASP baseline for argon2id.
var DefaultArgon2Params = Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4}

// Hasher hashes and verifies passwords. New hashes use the configured
// algorithm; Verify accepts any supported algorithm so stored hashes keep
// working after the algorithm changes. Callers must not log or persist
// plaintext passwords.
type Hasher struct {
	Algorithm string
	Cost      int
	Argon2    Argon2Params

	dummy string
}

// NewHasher returns a Hasher for algorithm ("bcrypt" or "argon2id"; empty
// means bcrypt). The bcrypt cost is clamped to 4–31, with 0 meaning the
// bcrypt default. Zero argon2 fields fall back to DefaultArgon2Params.
func NewHasher(algorithm string, cost int, argon Argon2Params) (*Hasher, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}
	if algorithm != AlgorithmBcrypt && algorithm != AlgorithmArgon2id {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if argon.Time == 0 {
		argon.Time = DefaultArgon2Params.Time
	}
	if argon.Memory == 0 {
		argon.Memory = DefaultArgon2Params.Memory
	}
	if argon.Threads == 0 {
		argon.Threads = DefaultArgon2Params.Threads
	}
	h := &Hasher{Algorithm: algorithm, Cost: cost, Argon2: argon}

	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	dummy, err := h.Hash(hex.EncodeToString(secret))
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash produces a salted hash of plaintext using the configured algorithm.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	if h.Algorithm == AlgorithmArgon2id {
		return h.hashArgon2(plaintext)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plaintext matches hash. Malformed or unsupported
// hashes yield false.
func (h *Hasher) Verify(hash, plaintext string) bool {
	if strings.HasPrefix(hash, argon2Prefix) {
		return verifyArgon2(hash, plaintext)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// NeedsRehash reports whether hash was produced by another algorithm or with
// different work factors than the configured ones.
func (h *Hasher) NeedsRehash(hash string) bool {
	if h.Algorithm == AlgorithmArgon2id {
		p, _, _, err := decodeArgon2(hash)
		if err != nil {
			return true
		}
		return p != h.Argon2
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.Cost
}

// DummyHash returns a valid hash of a random secret, for verifying against
// when no stored hash exists.
func (h *Hasher) DummyHash() string {
	return h.dummy
}

func (h *Hasher) hashArgon2(plaintext string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := h.Argon2
	key := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(hash, plaintext string) bool {
	p, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

// decodeArgon2 parses $argon2id$v=19$m=..,t=..,p=..$salt$key.
func decodeArgon2(hash string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return p, nil, nil, errors.New("invalid argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errors.New("unsupported argon2 version")
	}
	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return p, nil, nil, err
	}
	if threads == 0 || threads > 255 || iterations == 0 || memory == 0 {
		return p, nil, nil, errors.New("invalid argon2 parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, err
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, err
	}
	if len(key) == 0 || len(key) > 1024 {
		return p, nil, nil, errors.New("invalid argon2 key length")
	}
	p = Argon2Params{Time: iterations, Memory: memory, Threads: uint8(threads)}
	return p, salt, key, nil
}
