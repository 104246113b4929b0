/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storage

import (
	"io"
	"sync"

	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/pkg/errors"
)

// BufferedChannel batches appends to a BackingStore in a write buffer and serves
// positioned reads from the write buffer, a read-ahead window or the store itself.
//
// The channel has a single writer. Reads may run concurrently with writes; a
// mutex shared by both keeps the write buffer the source of truth for bytes
// that have not been flushed yet.
type BufferedChannel struct {
	lock sync.Mutex

	store  BackingStore
	logger types.Logger

	// writeBuffer holds bytes [writeBufferStartPosition, position).
	writeBuffer              []byte
	writeBufferStartPosition int64
	position                 int64

	// readBuffer caches flushed bytes [readBufferStartPosition, readBufferStartPosition+len(readBuffer)).
	readBuffer              []byte
	readCapacity            int
	readBufferStartPosition int64

	unpersistedBytes      int64
	unpersistedBytesBound int64

	metrics *ChannelMetrics
	closed  bool
}

// NewBufferedChannel creates a channel appending at the current end of store.
//
// A zero readCapacity disables the read-ahead window. A non positive
// unpersistedBytesBound flushes the write buffer after every write without syncing;
// otherwise the store is synced whenever that many bytes were written since the last sync.
func NewBufferedChannel(store BackingStore, writeCapacity, readCapacity int, unpersistedBytesBound int64, logger types.Logger, metrics *ChannelMetrics) (*BufferedChannel, error) {
	if store == nil {
		return nil, errors.Wrap(utils.ErrInvalidArgument, "nil backing store")
	}
	if writeCapacity <= 0 {
		return nil, errors.Wrapf(utils.ErrInvalidArgument, "write capacity must be positive, got %d", writeCapacity)
	}
	if readCapacity < 0 {
		return nil, errors.Wrapf(utils.ErrInvalidArgument, "read capacity must not be negative, got %d", readCapacity)
	}
	if logger == nil {
		return nil, errors.Wrap(utils.ErrInvalidArgument, "nil logger")
	}
	if metrics == nil {
		metrics = NewChannelMetrics(nil)
	}

	size, err := store.Size()
	if err != nil {
		return nil, errors.WithMessage(err, "failed reading backing store size")
	}

	bc := &BufferedChannel{
		store:                    store,
		logger:                   logger,
		writeBuffer:              make([]byte, 0, writeCapacity),
		writeBufferStartPosition: size,
		position:                 size,
		readCapacity:             readCapacity,
		unpersistedBytesBound:    unpersistedBytesBound,
		metrics:                  metrics,
	}
	if readCapacity > 0 {
		bc.readBuffer = make([]byte, 0, readCapacity)
	}

	logger.Debugf("Opened buffered channel at position %d; write capacity: %d, read capacity: %d, unpersisted bytes bound: %d",
		size, writeCapacity, readCapacity, unpersistedBytesBound)

	return bc, nil
}

// Write appends b at the current position and returns len(b).
func (bc *BufferedChannel) Write(b []byte) (int, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if bc.closed {
		return 0, ErrClosedChannel
	}

	switch {
	case len(b) > cap(bc.writeBuffer):
		if err := bc.flushLocked(); err != nil {
			return 0, err
		}
		if err := bc.writeToStore(b); err != nil {
			return 0, err
		}
	case len(bc.writeBuffer)+len(b) > cap(bc.writeBuffer):
		if err := bc.flushLocked(); err != nil {
			return 0, err
		}
		bc.writeBuffer = append(bc.writeBuffer, b...)
	default:
		bc.writeBuffer = append(bc.writeBuffer, b...)
	}

	bc.position += int64(len(b))
	bc.unpersistedBytes += int64(len(b))
	bc.metrics.UnpersistedBytes.Set(float64(bc.unpersistedBytes))

	if bc.unpersistedBytesBound <= 0 {
		if err := bc.flushLocked(); err != nil {
			return len(b), err
		}
	} else if bc.unpersistedBytes >= bc.unpersistedBytesBound {
		if _, err := bc.forceWriteLocked(true); err != nil {
			return len(b), err
		}
	}

	return len(b), nil
}

// Read copies length bytes starting at pos into dst and returns length.
//
// A pos at or beyond the end of the written data yields (0, io.EOF). A range that
// starts inside the data but ends past it yields ErrIndexOutOfBounds.
func (bc *BufferedChannel) Read(dst []byte, pos int64, length int) (int, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if bc.closed {
		return 0, ErrClosedChannel
	}
	if pos < 0 || length < 0 {
		return 0, errors.Wrapf(utils.ErrInvalidArgument, "read at position %d with length %d", pos, length)
	}
	if len(dst) < length {
		return 0, errors.Wrapf(utils.ErrInvalidArgument, "destination holds %d bytes, %d requested", len(dst), length)
	}
	if pos >= bc.position {
		return 0, io.EOF
	}
	if pos+int64(length) > bc.position {
		return 0, errors.Wrapf(ErrIndexOutOfBounds, "read of %d bytes at position %d, data ends at %d", length, pos, bc.position)
	}

	read := 0
	for read < length {
		cur := pos + int64(read)
		out := dst[read:length]

		switch {
		case cur >= bc.writeBufferStartPosition:
			read += copy(out, bc.writeBuffer[cur-bc.writeBufferStartPosition:])
		case bc.inReadBuffer(cur):
			read += copy(out, bc.readBuffer[cur-bc.readBufferStartPosition:])
		case bc.readCapacity > 0:
			if err := bc.fillReadBuffer(cur); err != nil {
				return read, err
			}
		default:
			// no read-ahead window, read the flushed part directly
			if flushed := bc.writeBufferStartPosition - cur; int64(len(out)) > flushed {
				out = out[:flushed]
			}
			n, err := bc.store.ReadAt(out, cur)
			if n == 0 {
				return read, errors.Wrapf(shortRead(err), "direct read at position %d", cur)
			}
			read += n
		}
	}

	return read, nil
}

func (bc *BufferedChannel) inReadBuffer(pos int64) bool {
	return len(bc.readBuffer) > 0 && pos >= bc.readBufferStartPosition && pos < bc.readBufferStartPosition+int64(len(bc.readBuffer))
}

// fillReadBuffer loads the read-ahead window from pos, never past the flushed end of the store.
func (bc *BufferedChannel) fillReadBuffer(pos int64) error {
	want := int64(bc.readCapacity)
	if flushed := bc.writeBufferStartPosition - pos; want > flushed {
		want = flushed
	}

	bc.readBufferStartPosition = pos
	n, err := bc.store.ReadAt(bc.readBuffer[:want], pos)
	bc.readBuffer = bc.readBuffer[:n]
	if n == 0 {
		return errors.Wrapf(shortRead(err), "read-ahead at position %d", pos)
	}
	return nil
}

func shortRead(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Flush writes the buffered bytes to the store without syncing it.
func (bc *BufferedChannel) Flush() error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if bc.closed {
		return ErrClosedChannel
	}
	return bc.flushLocked()
}

// ForceWrite flushes the buffered bytes and, if durable, syncs the store.
// It returns the position up to which data has reached the store.
func (bc *BufferedChannel) ForceWrite(durable bool) (int64, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if bc.closed {
		return 0, ErrClosedChannel
	}
	return bc.forceWriteLocked(durable)
}

func (bc *BufferedChannel) forceWriteLocked(durable bool) (int64, error) {
	if err := bc.flushLocked(); err != nil {
		return 0, err
	}
	if durable {
		if err := bc.store.Sync(); err != nil {
			return 0, errors.WithMessage(err, "failed syncing backing store")
		}
		bc.metrics.ForceWriteCount.Add(1)
	}
	bc.unpersistedBytes = 0
	bc.metrics.UnpersistedBytes.Set(0)
	return bc.writeBufferStartPosition, nil
}

func (bc *BufferedChannel) flushLocked() error {
	if len(bc.writeBuffer) == 0 {
		return nil
	}
	if err := bc.writeToStore(bc.writeBuffer); err != nil {
		return err
	}
	bc.writeBuffer = bc.writeBuffer[:0]
	bc.metrics.FlushCount.Add(1)
	return nil
}

// writeToStore writes b at the flushed end of the store and advances it.
// A failed write leaves the flushed end unchanged, so a retry rewrites the same range.
func (bc *BufferedChannel) writeToStore(b []byte) error {
	n, err := bc.store.WriteAt(b, bc.writeBufferStartPosition)
	if err != nil {
		bc.logger.Errorf("Failed writing %d bytes at position %d, wrote %d: %v", len(b), bc.writeBufferStartPosition, n, err)
		return errors.WithMessagef(err, "failed writing %d bytes to backing store", len(b))
	}
	bc.writeBufferStartPosition += int64(n)
	bc.metrics.BytesFlushed.Add(float64(n))
	return nil
}

// Position is the logical end of the channel: flushed plus buffered bytes.
// Like the other getters it keeps answering after Close, with the values the channel closed at.
func (bc *BufferedChannel) Position() int64 {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	return bc.position
}

// FileChannelPosition is the end of the bytes that have reached the store.
func (bc *BufferedChannel) FileChannelPosition() int64 {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	return bc.writeBufferStartPosition
}

// UnpersistedBytes is the number of bytes written since the last force write.
func (bc *BufferedChannel) UnpersistedBytes() int64 {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	return bc.unpersistedBytes
}

// Close flushes the buffered bytes and closes the store. The channel cannot be used afterwards.
func (bc *BufferedChannel) Close() error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if bc.closed {
		return ErrClosedChannel
	}
	bc.closed = true

	flushErr := bc.flushLocked()
	closeErr := bc.store.Close()
	bc.writeBuffer = nil
	bc.readBuffer = nil

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return errors.WithMessage(closeErr, "failed closing backing store")
	}
	bc.logger.Debugf("Closed buffered channel at position %d", bc.position)
	return nil
}
