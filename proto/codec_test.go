package proto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInt32BigEndian(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x10}, EncodeInt32(16))
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, EncodeInt32(0x12345678))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, EncodeInt32(-1))
	assert.Equal(t, []byte{0x80, 0x00, 0x00, 0x00}, EncodeInt32(math.MinInt32))
	assert.Equal(t, []byte{0x7f, 0xff, 0xff, 0xff}, EncodeInt32(math.MaxInt32))
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 42, 256, -256, math.MinInt32, math.MaxInt32, math.MinInt32 + 1, math.MaxInt32 - 1} {
		require.Equal(t, v, DecodeInt32(EncodeInt32(v)))
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	assert.Equal(t, int32(7), DecodeInt32([]byte{0, 0, 0, 7, 0xaa, 0xbb}))
}
