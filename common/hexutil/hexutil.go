// Package hexutil implements the lowercase, unpadded hex encoding used on
// the wire protocol (spec §6): hashes are 64 hex chars, thresholds/
// difficulties/work are 16 hex chars, all big-endian on the wire. This
// mirrors the role played by github.com/probeum/go-probeum/common/hexutil
// in the teacher (referenced throughout internal/probeapi but not itself
// part of the retrieved slice), rebuilt to this server's narrower needs.
package hexutil

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrOddLength is returned when a hex string has an odd number of digits.
	ErrOddLength = errors.New("hexutil: hex string has odd length")
	// ErrSyntax is returned for a hex string containing non-hex characters.
	ErrSyntax = errors.New("hexutil: invalid hex string")
)

// DecodeFixed decodes a lowercase (or uppercase) hex string, without a "0x"
// prefix, into exactly n bytes. Wire fields are unpadded to their natural
// width, so a string shorter or longer than 2*n is a BadRequest per spec §7.
func DecodeFixed(s string, n int) ([]byte, error) {
	if len(s) != n*2 {
		return nil, errors.New("hexutil: wrong length, want " + strconv.Itoa(n*2) + " hex chars")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		if strings.Contains(err.Error(), "odd length") {
			return nil, ErrOddLength
		}
		return nil, ErrSyntax
	}
	return b, nil
}

// EncodeLower renders b as lowercase hex with no prefix, matching every
// response field in spec §6's wire table.
func EncodeLower(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeUint64BE decodes a 16-hex-char, big-endian u64 field (threshold,
// difficulty, work/nonce on the wire).
func DecodeUint64BE(s string) (uint64, error) {
	b, err := DecodeFixed(s, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// EncodeUint64BE renders v as a 16-hex-char, big-endian string.
func EncodeUint64BE(v uint64) string {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return EncodeLower(b)
}
