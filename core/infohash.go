package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// InfoHashLen is the fixed length of a torrent's info hash.
const InfoHashLen = 20

// InfoHash is the SHA-1 hash of the bencoded info dictionary of a metafile —
// the authoritative identity of a torrent, per spec.md section 4.3.
type InfoHash [InfoHashLen]byte

// NewInfoHash computes the InfoHash of raw info-dictionary bytes.
func NewInfoHash(infoBytes []byte) InfoHash {
	var h InfoHash
	sum := sha1.Sum(infoBytes)
	copy(h[:], sum[:])
	return h
}

// NewInfoHashFromHex parses a 40-character hex string into an InfoHash.
func NewInfoHashFromHex(s string) (InfoHash, error) {
	var h InfoHash
	if len(s) != InfoHashLen*2 {
		return h, fmt.Errorf("invalid info hash: expected %d hex chars, got %d", InfoHashLen*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hex: %s", err)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the raw 20 bytes of h.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex encodes h as a hexadecimal string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// Equal reports whether h and o are the same info hash.
func (h InfoHash) Equal(o InfoHash) bool {
	return h == o
}
