// Package proto implements the wire protocol spoken with the preloader
// daemon: 32-bit big-endian integers and the NUL-delimited run request frame.
//
// The byte order and framing are a compatibility contract with the existing
// daemon and must stay bit-exact.
package proto

// EncodeInt32 encodes v as 4 big-endian bytes, regardless of host byte order.
func EncodeInt32(v int32) []byte {
	return []byte{
		byte(v >> 24),
		byte(v >> 16),
		byte(v >> 8),
		byte(v),
	}
}

// DecodeInt32 decodes 4 big-endian bytes into an int32. b must hold at
// least 4 bytes.
func DecodeInt32(b []byte) int32 {
	return int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8 | int32(b[3])
}
