// Package address validates and decodes Solana account addresses.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address length bounds for the base58 text form of a 32-byte public key.
const (
	MinLength = 32
	MaxLength = 44

	// PublicKeySize is the decoded size of an account address.
	PublicKeySize = 32
)

var (
	// ErrInvalidFormat is returned when the text is not a base58 address shape.
	ErrInvalidFormat = errors.New("invalid address format")

	// ErrInvalidLength is returned when the decoded key is not 32 bytes.
	ErrInvalidLength = errors.New("invalid public key length")
)

// IsValid reports whether candidate has the textual shape of an address:
// 32..44 characters from the base58 alphabet. No checksum or curve check is done.
func IsValid(candidate string) bool {
	if len(candidate) < MinLength || len(candidate) > MaxLength {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if !inAlphabet(candidate[i]) {
			return false
		}
	}
	return true
}

// inAlphabet matches [1-9A-HJ-NP-Za-km-z].
func inAlphabet(c byte) bool {
	switch {
	case c >= '1' && c <= '9':
		return true
	case c >= 'A' && c <= 'H', c >= 'J' && c <= 'N', c >= 'P' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'k', c >= 'm' && c <= 'z':
		return true
	}
	return false
}

// Decode returns the 32-byte public key behind addr.
func Decode(addr string) ([]byte, error) {
	if !IsValid(addr) {
		return nil, ErrInvalidFormat
	}
	key, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(key) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(key))
	}
	return key, nil
}

// IsOnCurve reports whether addr decodes to a point on the ed25519 curve.
// Wallet keys are on the curve, program-derived addresses are not.
func IsOnCurve(addr string) bool {
	key, err := Decode(addr)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(key)
	return err == nil
}
