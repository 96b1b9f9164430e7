package artifactfetcher

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 hash in bytes (256 bits).
const HashSize = 32

// Hash is the BLAKE3 digest of a retrieved artifact. It identifies the bytes
// that were actually received, independent of the store's own addressing.
type Hash [HashSize]byte

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for display.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// IsZero returns true if the hash is all zeros (uninitialized).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex digest as printed by String. An optional "blake3:"
// prefix is accepted.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "blake3:")
	var h Hash
	if hex.DecodedLen(len(s)) != HashSize {
		return h, fmt.Errorf("invalid digest %q: want %d hex characters", s, HashSize*2)
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return h, nil
}

// HashBytes computes the BLAKE3 hash of the given bytes.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}
