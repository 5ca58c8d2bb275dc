// Package otp generates and compares the numeric one-time passcodes sent to pending identities.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"math/big"
)

// Digits is the fixed length of every generated code.
const Digits = 6

var modulus = big.NewInt(1_000_000) // 10^Digits

// Generate returns a 6-digit numeric code (e.g. "042917") drawn uniformly from crypto/rand.
func Generate() (string, error) {
	return generateFrom(rand.Reader)
}

func generateFrom(r io.Reader) (string, error) {
	n, err := rand.Int(r, modulus)
	if err != nil {
		return "", err
	}
	s := []byte(n.String())
	out := make([]byte, Digits)
	pad := Digits - len(s)
	for i := 0; i < pad; i++ {
		out[i] = '0'
	}
	copy(out[pad:], s)
	return string(out), nil
}

// Hash returns a SHA-256 hash of the code, hex-encoded. Only the hash is persisted.
func Hash(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// Equal performs constant-time comparison of the provided code's hash with the stored hash.
// An empty code never matches.
func Equal(providedCode, storedHash string) bool {
	if providedCode == "" {
		return false
	}
	providedHash := Hash(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
