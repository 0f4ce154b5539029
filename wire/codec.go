// Package wire implements the chatroom's length-prefixed wire codec: fixed
// 4-byte little-endian integers and length-prefixed byte strings, with lazy
// offset-returning decode so the reactor can feed it partial reads.
package wire

import (
	"encoding/binary"

	"github.com/aegistudio/chatroom/chaterr"
)

// IntSize is the fixed width of every integer on the wire.
const IntSize = 4

// DefaultMaxPacketSize bounds the length field of a steady-state packet so
// a malicious peer cannot coerce unbounded memory growth.
const DefaultMaxPacketSize = 1 << 20 // 1 MiB

// MaxNameLength is the exclusive upper bound on a display name's length.
const MaxNameLength = 64

// PutUint32 appends n to buf as a 4-byte little-endian integer and returns
// the extended slice.
func PutUint32(buf []byte, n uint32) []byte {
	var tmp [IntSize]byte
	binary.LittleEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

// PutString appends a 4-byte length prefix followed by s's raw bytes.
func PutString(buf []byte, s string) []byte {
	buf = PutUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Uint32 decodes a 4-byte little-endian integer at region[off:]. It returns
// chaterr.CodeShortRead if region does not contain a full integer starting
// at off.
func Uint32(region []byte, off int) (uint32, int, error) {
	if off < 0 || off+IntSize > len(region) {
		return 0, off, chaterr.New(chaterr.CodeShortRead, "insufficient bytes for integer")
	}
	return binary.LittleEndian.Uint32(region[off : off+IntSize]), off + IntSize, nil
}

// String decodes a length-prefixed string at region[off:]. maxLen, if
// non-zero, bounds the accepted length prefix and yields
// chaterr.CodeProtocolViolation when exceeded.
func String(region []byte, off int, maxLen int) (string, int, error) {
	n, next, err := Uint32(region, off)
	if err != nil {
		return "", off, err
	}
	if maxLen > 0 && int(n) > maxLen {
		return "", off, chaterr.New(chaterr.CodeProtocolViolation, "string length exceeds limit")
	}
	end := next + int(n)
	if end < next || end > len(region) {
		return "", off, chaterr.New(chaterr.CodeShortRead, "insufficient bytes for string body")
	}
	return string(region[next:end]), end, nil
}
