/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

//go:build !linux

package storage

import "os"

func readAt(f *os.File, p []byte, off int64) (int, error) {
	return f.ReadAt(p, off)
}

func writeAt(f *os.File, p []byte, off int64) (int, error) {
	return f.WriteAt(p, off)
}

func dataSync(f *os.File) error {
	return f.Sync()
}
