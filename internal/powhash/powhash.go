// Package powhash implements the Vite proof-of-work keyed hash used by both
// the CPU and GPU search workers. It is the lowest layer of the engine
// (spec §4.1): everything else in internal/engine calls through Meets and
// Digest and never touches blake2b directly, the same way probeash's
// sealer.go keeps hashimotoFull as the sole hashing entry point for mine().
package powhash

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the length in bytes of the Vite block hash input.
const HashSize = 32

// Digest computes the 8-byte keyed Blake2b digest of nonce_le(nonce) ‖ hash
// and returns it interpreted as a little-endian u64, per spec §3 and §6.
//
// Digest never panics in practice: blake2b.New with a nil key and output
// length 8 cannot fail for any input of this shape. The error return is
// still checked rather than ignored, and panics with a descriptive message,
// so a future change to the hash parameters fails loudly instead of
// hashing with a nil hasher.
func Digest(hash [HashSize]byte, nonce uint64) uint64 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// Unreachable for output size 8 with a nil key; blake2b.New only
		// errors when the key exceeds 64 bytes or the size is out of range.
		panic("powhash: blake2b.New(8, nil) failed: " + err.Error())
	}
	var nonceBuf [8]byte
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)
	h.Write(nonceBuf[:])
	h.Write(hash[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// Meets reports whether nonce satisfies threshold against hash, and returns
// the achieved difficulty (the raw digest) so callers can report it back to
// the client on both work_generate and work_validate responses.
func Meets(hash [HashSize]byte, nonce uint64, threshold uint64) (ok bool, achieved uint64) {
	d := Digest(hash, nonce)
	return d >= threshold, d
}
