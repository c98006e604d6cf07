// Package resetcode generates and hashes the six-digit one-time codes used to
// authorize a password reset.
package resetcode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

// Digits is the length of a reset code.
const Digits = 6

var codeSpace = big.NewInt(1_000_000)

// Generator produces reset codes uniformly distributed over 000000–999999.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// Generate returns a fresh six-digit code such as "042917".
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.rand, codeSpace)
	if err != nil {
		return "", fmt.Errorf("resetcode: generate: %w", err)
	}
	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}

// Hash returns the hex SHA-256 digest of code, the form in which codes are stored.
func Hash(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// Equal reports in constant time whether code hashes to storedHash.
// An empty storedHash never matches.
func Equal(code, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(code)), []byte(storedHash)) == 1
}
