// Package chain defines the core data model shared by every component of a
// Witnet full node: hashes, beacons, outputs, transactions and blocks.
package chain

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashSize is the length in bytes of a Hash.
const HashSize = chainhash.HashSize

// Hash is a 32-byte content digest identifying blocks, transactions and
// output pointers. It is a thin wrapper around chainhash.Hash so that
// witnet-go gets the same constant-time comparisons, hex (de)serialization
// and zero-value semantics btcd-lineage code relies on for its own
// transaction/block identities.
type Hash chainhash.Hash

// ZeroHash is the all-zero Hash, used as the bootstrap "previous hash".
var ZeroHash Hash

// HashFromBytes computes the SHA-256 digest of b and returns it as a Hash.
func HashFromBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// NewHashFromString parses a hex-encoded hash, as produced by String().
func NewHashFromString(s string) (Hash, error) {
	ch, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, fmt.Errorf("chain: invalid hash %q: %w", s, err)
	}
	return Hash(*ch), nil
}

// String returns the big-endian hex encoding of the hash, matching the
// convention used by CheckpointBeacon.hash_prev_block across the wire
// protocol and the on-disk key-value store keys.
func (h Hash) String() string {
	return chainhash.Hash(h).String()
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns the raw 32 bytes backing h.
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalFlag implements flags.Marshaler so Hash can be a go-flags config
// field (bootstrap and genesis hashes).
func (h Hash) MarshalFlag() (string, error) {
	return h.String(), nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (h *Hash) UnmarshalFlag(value string) error {
	return h.UnmarshalText([]byte(value))
}

// MarshalText implements encoding.TextMarshaler so Hash can be used directly
// as a map key or struct field in JSON config/RPC payloads.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := NewHashFromString(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
