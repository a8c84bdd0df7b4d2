package note

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash is a sha256 digest over note contents.
type Hash [32]byte

// HashOf returns the sha256 of parts, each prefixed with its 4 byte
// big-endian length.
func HashOf(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		l := [4]byte{}
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		h.Write(l[:])
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
