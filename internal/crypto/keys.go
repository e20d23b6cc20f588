package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest accepted session secret, in bytes.
const MinSecretLength = 32

// ErrInvalidKeyLength is returned when a secret is shorter than MinSecretLength.
var ErrInvalidKeyLength = errors.New("invalid key length")

// CookieKeys holds the keys handed to the cookie store.
// HashKey authenticates the cookie, BlockKey encrypts it (AES-256).
type CookieKeys struct {
	HashKey  []byte
	BlockKey []byte
}

// DeriveCookieKeys derives the cookie hash and block keys from the session secret using HKDF-SHA256.
func DeriveCookieKeys(secret []byte) (CookieKeys, error) {
	if len(secret) < MinSecretLength {
		return CookieKeys{}, ErrInvalidKeyLength
	}
	hashKey, err := derive(secret, "cookie-hash", 64)
	if err != nil {
		return CookieKeys{}, fmt.Errorf("derive hash key: %w", err)
	}
	blockKey, err := derive(secret, "cookie-block", 32)
	if err != nil {
		return CookieKeys{}, fmt.Errorf("derive block key: %w", err)
	}
	return CookieKeys{HashKey: hashKey, BlockKey: blockKey}, nil
}

func derive(secret []byte, info string, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseSecret decodes a hex secret as written by genkey.
func ParseSecret(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("secret hex decode error: %w", err)
	}
	if len(b) < MinSecretLength {
		return nil, ErrInvalidKeyLength
	}
	return b, nil
}

// GenerateSecret returns a new random session secret encoded as hex.
func GenerateSecret() string {
	return hex.EncodeToString(MustRandom(MinSecretLength))
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
