/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entrylog

import "errors"

var (
	ErrNoSuchEntry     = errors.New("no such entry")
	ErrCorruptRecord   = errors.New("corrupt entry log record")
	ErrTruncatedRecord = errors.New("truncated entry log record")
	ErrClosedEntryLog  = errors.New("entry log is closed")
)
