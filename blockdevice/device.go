// Package blockdevice implements the synchronous, sector-addressable
// block-device contract described in: read/write/flush over
// a backend.Storage, plus a single-block staging buffer used by the
// engine for read-modify-write sequences (inode patches, bitmap flips,
// directory-entry edits).
//
// The backend.Storage this package wraps is the out-of-scope external
// collaborator (the OS file or raw device); Device is the in-scope
// adapter that gives the ext4 engine a block-numbered view of it.
package blockdevice

import (
	"errors"
	"fmt"
	"io"

	"github.com/ext4fs/ext4fs/backend"
	"github.com/sirupsen/logrus"
)

// Error kinds returned by Device operations.
var (
	ErrBlockOutOfRange = errors.New("blockdevice: block out of range")
	ErrBufferTooSmall  = errors.New("blockdevice: buffer too small")
	ErrDeviceNotOpen   = errors.New("blockdevice: device not open")
	ErrReadError       = errors.New("blockdevice: read error")
	ErrWriteError      = errors.New("blockdevice: write error")
	ErrCorrupted       = errors.New("blockdevice: corrupted")
	ErrUnsupported     = errors.New("blockdevice: unsupported")
	ErrInvalidInput    = errors.New("blockdevice: invalid input")
	ErrNoSpace         = errors.New("blockdevice: no space")
)

// MetadataSink receives metadata block writes when journaling is active.
// The ext4 lifecycle object implements this over its journal transaction
// queue; Device.WriteBlock routes is_metadata=true writes here instead of
// straight to the backing storage.
type MetadataSink interface {
	StageMetadataWrite(blockID uint64, data []byte) error
}

// Device is a block-numbered view over a backend.Storage, plus an owned
// single-block staging buffer for read-modify-write access patterns.
type Device struct {
	storage   backend.Storage
	start     int64 // byte offset of block 0 within storage
	blockSize uint32
	total     uint64

	buf []byte // staging buffer, len == blockSize

	sink MetadataSink
	log  logrus.FieldLogger
}

// New wraps storage as a Device of the given block size, with `total`
// blocks available starting `start` bytes into storage.
func New(storage backend.Storage, start int64, blockSize uint32, total uint64) (*Device, error) {
	if storage == nil {
		return nil, ErrDeviceNotOpen
	}
	if blockSize == 0 {
		return nil, fmt.Errorf("%w: zero block size", ErrInvalidInput)
	}
	return &Device{
		storage:   storage,
		start:     start,
		blockSize: blockSize,
		total:     total,
		buf:       make([]byte, blockSize),
		log:       logrus.StandardLogger(),
	}, nil
}

// SetLogger overrides the default logger.
func (d *Device) SetLogger(l logrus.FieldLogger) { d.log = l }

// SetMetadataSink installs (or clears, with nil) the journal transaction
// queue that metadata writes should route through.
func (d *Device) SetMetadataSink(sink MetadataSink) { d.sink = sink }

// BlockSize returns the device's fixed block size in bytes.
func (d *Device) BlockSize() uint32 { return d.blockSize }

// TotalBlocks returns how many blocks are addressable on this device.
func (d *Device) TotalBlocks() uint64 { return d.total }

func (d *Device) checkRange(blockID uint64, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: zero block count", ErrInvalidInput)
	}
	if blockID+uint64(count) > d.total {
		return fmt.Errorf("%w: block %d count %d exceeds %d total blocks", ErrBlockOutOfRange, blockID, count, d.total)
	}
	return nil
}

func (d *Device) offset(blockID uint64) int64 {
	return d.start + int64(blockID)*int64(d.blockSize)
}

// Read fills buf (which must be at least count*blockSize bytes) with
// count blocks starting at blockID.
func (d *Device) Read(buf []byte, blockID uint64, count uint32) error {
	if err := d.checkRange(blockID, count); err != nil {
		return err
	}
	want := int(count) * int(d.blockSize)
	if len(buf) < want {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, want, len(buf))
	}
	n, err := d.storage.ReadAt(buf[:want], d.offset(blockID))
	if err != nil && !(errors.Is(err, io.EOF) && n == want) {
		return fmt.Errorf("%w: %v", ErrReadError, err)
	}
	return nil
}

// Write writes count blocks of buf starting at blockID, direct to the
// backing storage. Callers that need journal routing should use
// WriteBlock with isMetadata=true instead.
func (d *Device) Write(buf []byte, blockID uint64, count uint32) error {
	if err := d.checkRange(blockID, count); err != nil {
		return err
	}
	want := int(count) * int(d.blockSize)
	if len(buf) < want {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, want, len(buf))
	}
	writable, err := d.storage.Writable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	if _, err := writable.WriteAt(buf[:want], d.offset(blockID)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	return nil
}

// Flush has no local buffering to flush through to the OS beyond what
// the backend.Storage itself guarantees; it exists to satisfy the
// contract and as the hook tests use to assert ordering.
func (d *Device) Flush() error {
	return nil
}

// ReadBlock loads a single block into the owned staging buffer.
func (d *Device) ReadBlock(id uint64) error {
	return d.Read(d.buf, id, 1)
}

// Buffer returns the current staging buffer contents (read-only use).
func (d *Device) Buffer() []byte { return d.buf }

// BufferMut returns the staging buffer for in-place mutation ahead of
// WriteBlock.
func (d *Device) BufferMut() []byte { return d.buf }

// WriteBlock writes the staging buffer back to block id. When isMetadata
// is true and a MetadataSink is installed, the write is staged into the
// journal transaction queue instead of going straight to the device;
// bulk file-data writes (isMetadata=false) always bypass the journal.
func (d *Device) WriteBlock(id uint64, isMetadata bool) error {
	if isMetadata && d.sink != nil {
		cp := make([]byte, d.blockSize)
		copy(cp, d.buf)
		return d.sink.StageMetadataWrite(id, cp)
	}
	return d.Write(d.buf, id, 1)
}

// WriteBlockData is a convenience that stages the given block of bytes
// (rather than the current staging buffer) to id, honoring the same
// metadata-routing rule as WriteBlock.
func (d *Device) WriteBlockData(id uint64, data []byte, isMetadata bool) error {
	if len(data) < int(d.blockSize) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, d.blockSize, len(data))
	}
	if isMetadata && d.sink != nil {
		cp := make([]byte, d.blockSize)
		copy(cp, data)
		return d.sink.StageMetadataWrite(id, cp)
	}
	return d.Write(data, id, 1)
}
