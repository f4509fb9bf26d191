// Package types holds the core on-disk data model shared by every layer of
// silo: content hashes, tree nodes, commits, refs, and staging records.
package types

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the width of a content hash in bytes (128 bits).
const HashSize = 16

// Hash is a content hash: the first 16 bytes of a BLAKE3-256 digest,
// hex-encoded to a 32-character string wherever it needs to be a key or
// a path component. Two identical byte sequences always hash identically.
type Hash [HashSize]byte

// ZeroHash is the hash with no meaning attached to it: the parent of a
// root commit, or an absent HEAD.
var ZeroHash = Hash{}

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Prefix returns the first n hex characters of the hash, used to bucket
// entries into VNodes (see pkg/merkle) and to shard the version store
// (see pkg/objects).
func (h Hash) Prefix(n int) string {
	s := h.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// HashBytes computes the content hash of an arbitrary byte sequence.
func HashBytes(data []byte) Hash {
	full := blake3.Sum256(data)
	var h Hash
	copy(h[:], full[:HashSize])
	return h
}

// HashFields computes the content hash of a fixed concatenation of field
// strings, used for commit ids and schema hashes where the hashed value is
// a struct's canonical serialization rather than raw file bytes.
func HashFields(fields ...string) Hash {
	var buf []byte
	for _, f := range fields {
		buf = append(buf, []byte(f)...)
		buf = append(buf, 0) // separator, so "ab","c" != "a","bc"
	}
	return HashBytes(buf)
}

// ParseHash decodes a hex string into a Hash, returning false if the string
// is not a valid 32-character hex-encoded 128-bit hash.
func ParseHash(s string) (Hash, bool) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return h, false
	}
	copy(h[:], b)
	return h, true
}
