/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bytebuf

import "io"

// List is an ordered sequence of byte segments that together form one logical buffer.
// Segments that were obtained from an Allocator are returned to it by Release;
// referenced segments (e.g. a caller owned payload) are never released.
type List struct {
	segments  [][]byte
	owned     []bool
	allocator Allocator
}

// NewList creates an empty list whose owned segments belong to allocator.
func NewList(allocator Allocator) *List {
	return &List{allocator: allocator}
}

// AddOwned appends a segment that was obtained from the list's allocator.
func (l *List) AddOwned(b []byte) *List {
	l.segments = append(l.segments, b)
	l.owned = append(l.owned, true)
	return l
}

// AddRef appends a segment the list must not release.
func (l *List) AddRef(b []byte) *List {
	l.segments = append(l.segments, b)
	l.owned = append(l.owned, false)
	return l
}

// Segments returns the segments in order. The returned slices alias the list.
func (l *List) Segments() [][]byte {
	return l.segments
}

// Len is the total number of bytes across all segments.
func (l *List) Len() int {
	n := 0
	for _, s := range l.segments {
		n += len(s)
	}
	return n
}

// Coalesce copies all segments into a single freshly allocated slice.
// A single segment list returns a copy as well, so the result never aliases the list.
func (l *List) Coalesce() []byte {
	out := make([]byte, 0, l.Len())
	for _, s := range l.segments {
		out = append(out, s...)
	}
	return out
}

// WriteTo writes every segment to w in order.
func (l *List) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, s := range l.segments {
		n, err := w.Write(s)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Release hands owned segments back to the allocator and empties the list.
func (l *List) Release() {
	for i, s := range l.segments {
		if l.owned[i] && l.allocator != nil {
			l.allocator.Release(s)
		}
	}
	l.segments = nil
	l.owned = nil
}
