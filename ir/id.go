package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// IDSize is the width of a ContentID in bytes.
const IDSize = 16

// ContentID is the structural identity of a fragment: a 128-bit BLAKE2b
// digest of the fragment kind followed by its canonical encoding.
//
// The zero ContentID never identifies a fragment and is used for absent
// optional references.
type ContentID [IDSize]byte

// Hash computes the ContentID of a payload of the given kind.
func Hash(kind Kind, payload []byte) ContentID {
	h, err := blake2b.New(IDSize, nil)
	if err != nil {
		// Only reachable with an invalid size or an oversized key.
		panic("ir: blake2b: " + err.Error())
	}
	h.Write([]byte{byte(kind)})
	h.Write(payload)

	var id ContentID
	h.Sum(id[:0])
	return id
}

// ParseContentID parses the hex form produced by ContentID.String.
func ParseContentID(s string) (ContentID, error) {
	var id ContentID
	if len(s) != 2*IDSize {
		return id, fmt.Errorf("ir: content id %q: want %d hex digits", s, 2*IDSize)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("ir: content id %q: %w", s, err)
	}
	return id, nil
}

// IsZero reports whether id is the zero (absent) ContentID.
func (id ContentID) IsZero() bool {
	return id == ContentID{}
}

// String returns the lowercase hex form of id.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex digits of id, for logs.
func (id ContentID) Short() string {
	return id.String()[:12]
}

// Compare orders ContentIDs bytewise.
func (id ContentID) Compare(other ContentID) int {
	return bytes.Compare(id[:], other[:])
}
