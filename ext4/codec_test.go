package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndianHelpersRoundTrip(t *testing.T) {
	buf := make([]byte, 8)

	writeU16LE(buf, 0xABCD)
	assert.Equal(t, uint16(0xABCD), readU16LE(buf))

	writeU32LE(buf, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), readU32LE(buf))

	writeU64LE(buf, 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), readU64LE(buf))

	writeU16BE(buf, 0xABCD)
	assert.Equal(t, uint16(0xABCD), readU16BE(buf))

	writeU32BE(buf, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), readU32BE(buf))

	writeU64BE(buf, 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), readU64BE(buf))
}

func TestLittleAndBigEndianDisagreeOnByteOrder(t *testing.T) {
	buf := make([]byte, 4)
	writeU32LE(buf, 0x01020304)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf)

	writeU32BE(buf, 0x01020304)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf)
}

func TestLo32Hi16RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0xFFFFFFFF, 0x1FFFFFFFF, 0xFFFFFFFFFFFF}
	for _, v := range cases {
		lo, hi := splitLo32Hi16(v)
		assert.Equal(t, v, lo32hi16(lo, hi), "round trip for %#x", v)
	}
}
