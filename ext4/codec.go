// Package ext4 implements an ext4-compatible on-disk data model, extent
// tree, directory engine, allocators, caches, and a JBD2-style journal:
// a full read/write engine with crash replay via journal commit/replay.
package ext4

import "encoding/binary"

// DiskFormat is implemented by every on-disk struct in this package:
// fixed-width, byte-exact encode/decode to and from a disk buffer.
// Filesystem-proper structs are little-endian; journal structs are
// big-endian.
type DiskFormat interface {
	// FromDiskBytes populates the receiver from b, which must be at
	// least DiskSize() bytes.
	FromDiskBytes(b []byte) error
	// ToDiskBytes encodes the receiver into b, which must be at least
	// DiskSize() bytes.
	ToDiskBytes(b []byte)
	// DiskSize returns the fixed on-disk size in bytes of this struct.
	DiskSize() int
}

// Little-endian read helpers.
func readU16LE(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func readU32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func readU64LE(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// Little-endian write helpers.
func writeU16LE(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func writeU32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func writeU64LE(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// Big-endian read helpers (journal fields).
func readU16BE(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func readU32BE(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func readU64BE(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// Big-endian write helpers (journal fields).
func writeU16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func writeU32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func writeU64BE(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// lo32hi16 combines a low 32-bit word and a high 16-bit word into a
// 48-bit value, the shape ext4 uses for block counts and extent
// physical-start fields.
func lo32hi16(lo uint32, hi uint16) uint64 {
	return uint64(lo) | uint64(hi)<<32
}

func splitLo32Hi16(v uint64) (lo uint32, hi uint16) {
	return uint32(v & 0xFFFFFFFF), uint16(v >> 32)
}
