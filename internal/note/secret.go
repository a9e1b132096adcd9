package note

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretSize is the byte length of a note secret (256 bits).
const SecretSize = 32

// Secret is the private value backing a note. It exists only client-side
// and is never transmitted.
type Secret [SecretSize]byte

// GenerateSecret returns a fresh cryptographically random secret. It fails
// only if the system entropy source is unavailable, which callers must
// treat as fatal.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("entropy source unavailable: %w", err)
	}
	return s, nil
}

// IsZero reports whether the secret is the all-zero value, which is never
// produced by GenerateSecret and marks an uninitialized or corrupt note.
func (s Secret) IsZero() bool {
	for _, b := range s {
		if b != 0 {
			return false
		}
	}
	return true
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the secret as lowercase hex for the backup format.
func (s Secret) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(out, s[:])
	return out, nil
}

// UnmarshalText decodes a hex secret, rejecting any input that is not
// exactly SecretSize bytes once decoded.
func (s *Secret) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}
	if len(raw) != SecretSize {
		return fmt.Errorf("invalid secret length: got %d bytes, want %d", len(raw), SecretSize)
	}
	copy(s[:], raw)
	return nil
}
