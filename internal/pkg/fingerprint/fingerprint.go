// Package fingerprint turns a raw network origin into an opaque, salted digest
// so that verification attempts can be correlated without storing addresses.
package fingerprint

import (
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes keyed BLAKE2b-256 digests of network origins.
// Changing the salt invalidates every fingerprint computed before.
type Hasher struct {
	key []byte
}

// New returns a Hasher keyed by salt. Salts longer than the 64-byte BLAKE2b
// key limit are compressed with BLAKE2b-512 first.
func New(salt string) (*Hasher, error) {
	if salt == "" {
		return nil, errors.New("fingerprint salt must not be empty")
	}
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Hasher{key: key}, nil
}

// Hash returns the hex-encoded fingerprint of origin.
func (h *Hasher) Hash(origin string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is bounded in New
		panic("fingerprint: " + err.Error())
	}
	mac.Write([]byte(origin))
	return hex.EncodeToString(mac.Sum(nil))
}
