// Package hash provides the fixed-width, map-key-friendly hash used
// wherever the store needs to key by an entity path without retaining
// the path itself.
package hash

import (
	"encoding/base32"
	"encoding/binary"
	"strings"

	"github.com/zeebo/xxh3"
)

// ByteLen is the width of an EntityPathHash.
const ByteLen = 8

var encoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// EntityPathHash is a non-cryptographic digest of an entity path's
// string form, used as a map key in the store's per-entity tables.
type EntityPathHash [ByteLen]byte

var empty EntityPathHash

// Of hashes the given entity path string into an EntityPathHash.
func Of(path string) EntityPathHash {
	var h EntityPathHash
	binary.BigEndian.PutUint64(h[:], xxh3.HashString(path))
	return h
}

// IsEmpty reports whether h is the zero hash.
func (h EntityPathHash) IsEmpty() bool {
	return h == empty
}

// String renders h as lowercase base32.
func (h EntityPathHash) String() string {
	return strings.ToLower(encoding.EncodeToString(h[:]))
}
