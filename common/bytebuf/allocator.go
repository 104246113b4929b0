/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bytebuf

import (
	"math/bits"
	"sync"
)

// Allocator hands out byte buffers for envelope headers and coalesced envelopes.
type Allocator interface {
	// Buffer returns a zero length slice with a capacity of at least size bytes.
	Buffer(size int) []byte
	// Release returns a buffer obtained from Buffer. The caller must not use it afterwards.
	Release(b []byte)
}

// HeapAllocator allocates every buffer from the Go heap and ignores releases.
type HeapAllocator struct{}

func (HeapAllocator) Buffer(size int) []byte {
	return make([]byte, 0, size)
}

func (HeapAllocator) Release([]byte) {}

const (
	minClassShift = 6  // 64 bytes
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// PooledAllocator recycles buffers in power of two size classes between 64 bytes and 1 MiB.
// Larger requests fall through to the heap and are not pooled.
type PooledAllocator struct {
	pools [numClasses]sync.Pool
}

// NewPooledAllocator creates an empty PooledAllocator.
func NewPooledAllocator() *PooledAllocator {
	return &PooledAllocator{}
}

func (p *PooledAllocator) Buffer(size int) []byte {
	class, ok := sizeClass(size)
	if !ok {
		return make([]byte, 0, size)
	}
	if b, ok := p.pools[class].Get().(*[]byte); ok {
		return (*b)[:0]
	}
	return make([]byte, 0, 1<<(class+minClassShift))
}

func (p *PooledAllocator) Release(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	class, ok := sizeClass(c)
	if !ok || 1<<(class+minClassShift) != c {
		return
	}
	b = b[:0]
	p.pools[class].Put(&b)
}

func sizeClass(size int) (int, bool) {
	if size > 1<<maxClassShift {
		return 0, false
	}
	if size <= 1<<minClassShift {
		return 0, true
	}
	shift := bits.Len(uint(size - 1))
	return shift - minClassShift, true
}
