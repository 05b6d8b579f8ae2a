package testhelper

import (
	"io/fs"
	"os"
	"time"

	"github.com/ext4fs/ext4fs/backend"
)

// MemStorage is an in-memory backend.Storage, so engine tests never
// need a real file or block device. It is adapted from FileImpl's
// reader/writer stubbing idea, but backs a growable byte slice instead
// of delegating to closures, since the engine needs real persistence
// across Mkfs/Sync/Mount within a single test.
type MemStorage struct {
	data []byte
	pos  int64
}

// NewMemStorage returns a MemStorage pre-sized to size bytes, zeroed.
func NewMemStorage(size int64) *MemStorage {
	return &MemStorage{data: make([]byte, size)}
}

var _ backend.Storage = (*MemStorage)(nil)

func (m *MemStorage) Stat() (fs.FileInfo, error) { return memFileInfo{size: int64(len(m.data))}, nil }

func (m *MemStorage) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *MemStorage) ReadAt(b []byte, offset int64) (int, error) {
	if offset >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(b, m.data[offset:])
	return n, nil
}

func (m *MemStorage) WriteAt(b []byte, offset int64) (int, error) {
	end := offset + int64(len(b))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[offset:end], b), nil
}

func (m *MemStorage) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

func (m *MemStorage) Close() error { return nil }

// Sys has no real os.File backing an in-memory image.
func (m *MemStorage) Sys() (*os.File, error) { return nil, backend.ErrNotSuitable }

func (m *MemStorage) Writable() (backend.WritableFile, error) { return m, nil }

type memFileInfo struct{ size int64 }

func (i memFileInfo) Name() string       { return "memstorage" }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }
