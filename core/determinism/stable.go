// Package determinism provides primitives for guaranteeing deterministic execution.
// Catalog snapshots and breakdowns use these instead of ranging over Go maps directly.
package determinism

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"slices"

	"github.com/shopspring/decimal"
)

// ContentHash is a SHA-256 hash for content integrity
type ContentHash [32]byte

// ComputeHash computes a content hash from bytes
func ComputeHash(data []byte) ContentHash {
	return sha256.Sum256(data)
}

// Hex returns the hash as a hex string
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements Stringer
func (h ContentHash) String() string {
	return h.Hex()[:16] + "..."
}

// Hasher accumulates separator-delimited fields into a ContentHash.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a hash over the given namespace
func NewHasher(namespace string) *Hasher {
	hs := &Hasher{h: sha256.New()}
	return hs.String(namespace)
}

// String adds a string field
func (hs *Hasher) String(s string) *Hasher {
	hs.h.Write([]byte(s))
	hs.h.Write([]byte{0})
	return hs
}

// Decimal adds a decimal field in canonical form
func (hs *Hasher) Decimal(d decimal.Decimal) *Hasher {
	return hs.String(d.String())
}

// Bool adds a boolean field
func (hs *Hasher) Bool(b bool) *Hasher {
	if b {
		return hs.String("1")
	}
	return hs.String("0")
}

// Sum returns the accumulated hash
func (hs *Hasher) Sum() ContentHash {
	var out ContentHash
	copy(out[:], hs.h.Sum(nil))
	return out
}

// SortedKeys returns the keys of m in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// RangeMapSorted iterates over a map in sorted key order
func RangeMapSorted[K cmp.Ordered, V any](m map[K]V, fn func(K, V) bool) {
	for _, k := range SortedKeys(m) {
		if !fn(k, m[k]) {
			break
		}
	}
}
