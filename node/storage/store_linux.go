/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

//go:build linux

package storage

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func readAt(f *os.File, p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pread(int(f.Fd()), p[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pread at offset %d of %s", off+int64(total), f.Name())
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

func writeAt(f *os.File, p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pwrite(int(f.Fd()), p[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pwrite at offset %d of %s", off+int64(total), f.Name())
		}
		total += n
	}
	return total, nil
}

// dataSync flushes file data without forcing a metadata update.
func dataSync(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return errors.Wrapf(err, "fdatasync of %s", f.Name())
	}
	return nil
}
