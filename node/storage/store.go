/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storage

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// BackingStore is a seekable byte store with positioned reads and writes.
// A BufferedChannel owns its store exclusively until the channel is closed.
type BackingStore interface {
	io.ReaderAt
	io.WriterAt
	// Size is the number of bytes currently held by the store.
	Size() (int64, error)
	// Sync makes previously written bytes durable.
	Sync() error
	Close() error
}

// FileStore is a BackingStore over a regular file.
type FileStore struct {
	file *os.File
}

// OpenFileStore opens path for reading and writing, creating it if needed.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening backing file %s", path)
	}
	return &FileStore{file: f}, nil
}

// NewFileStore wraps an already open file.
func NewFileStore(f *os.File) *FileStore {
	return &FileStore{file: f}
}

func (fs *FileStore) Name() string {
	return fs.file.Name()
}

func (fs *FileStore) ReadAt(p []byte, off int64) (int, error) {
	return readAt(fs.file, p, off)
}

func (fs *FileStore) WriteAt(p []byte, off int64) (int, error) {
	return writeAt(fs.file, p, off)
}

func (fs *FileStore) Size() (int64, error) {
	info, err := fs.file.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %s", fs.file.Name())
	}
	return info.Size(), nil
}

func (fs *FileStore) Sync() error {
	return dataSync(fs.file)
}

// Truncate cuts the file to size bytes, dropping a torn tail.
func (fs *FileStore) Truncate(size int64) error {
	if err := fs.file.Truncate(size); err != nil {
		return errors.Wrapf(err, "failed truncating %s to %d bytes", fs.file.Name(), size)
	}
	return dataSync(fs.file)
}

func (fs *FileStore) Close() error {
	return fs.file.Close()
}

// MemStore is an in-memory BackingStore. It counts syncs so tests can observe durability requests.
type MemStore struct {
	lock   sync.Mutex
	data   []byte
	syncs  int
	closed bool
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) ReadAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStore) WriteAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemStore) Size() (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return int64(len(m.data)), nil
}

func (m *MemStore) Sync() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return os.ErrClosed
	}
	m.syncs++
	return nil
}

func (m *MemStore) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return os.ErrClosed
	}
	m.closed = true
	return nil
}

// Bytes returns a copy of the stored bytes.
func (m *MemStore) Bytes() []byte {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]byte(nil), m.data...)
}

// Syncs is the number of Sync calls served so far.
func (m *MemStore) Syncs() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.syncs
}

func (m *MemStore) Closed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}
