package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

const stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string of 32 random bytes.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateState returns n characters drawn uniformly from [A-Za-z0-9].
func GenerateState(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("state length must be positive, got %d", n)
	}

	limit := big.NewInt(int64(len(stateAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random state: %w", err)
		}
		out[i] = stateAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// Fingerprint returns a hex sha256 of s, used where a token must key a map or a
// lock without the token itself being stored.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
