package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"
)

const (
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
	testTTL      = 15 * time.Minute
	testSecret   = "account-auth-test-secret-0123456789"
)

var (
	testKeysOnce            sync.Once
	testPrivPEM, testPubPEM string
	testKeysErr             error
)

// testRSAKeyPEMs returns a PKCS#8/PKIX RSA key pair generated once per process.
func testRSAKeyPEMs() (string, string, error) {
	testKeysOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			testKeysErr = err
			return
		}
		privDER, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			testKeysErr = err
			return
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			testKeysErr = err
			return
		}
		testPrivPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
		testPubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	})
	return testPrivPEM, testPubPEM, testKeysErr
}

// NewTestTokenProvider returns an RS256 TokenProvider over a throwaway key.
// Tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	privPEM, pubPEM, err := testRSAKeyPEMs()
	if err != nil {
		return nil, err
	}
	signer, pub, err := LoadKeyPair(privPEM, pubPEM)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, pub, testIssuer, testAudience, testTTL)
}

// NewTestHMACTokenProvider returns an HS256 TokenProvider with a fixed secret.
// Tests only.
func NewTestHMACTokenProvider() *TokenProvider {
	p, err := NewHMACTokenProvider([]byte(testSecret), testIssuer, testAudience, testTTL)
	if err != nil {
		panic(err)
	}
	return p
}
