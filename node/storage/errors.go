/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storage

import "errors"

var (
	// ErrClosedChannel is returned by every operation on a closed BufferedChannel.
	ErrClosedChannel = errors.New("buffered channel is closed")

	// ErrIndexOutOfBounds is returned when a read asks for more bytes than exist past its position.
	ErrIndexOutOfBounds = errors.New("read range exceeds available data")
)
