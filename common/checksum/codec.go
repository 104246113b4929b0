/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package checksum

import (
	"encoding/binary"

	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/pkg/errors"
)

const (
	// EntryHeaderLength is ledgerId + entryId + lastAddConfirmed + length, 8 bytes each.
	EntryHeaderLength = 8 + 8 + 8 + 8
	// LacHeaderLength is ledgerId + lastAddConfirmed, 8 bytes each.
	LacHeaderLength = 8 + 8
)

// EntryHeader is the fixed prefix of a data envelope.
type EntryHeader struct {
	LedgerID         types.LedgerID
	EntryID          types.EntryID
	LastAddConfirmed types.EntryID
	Length           int64
}

// LacHeader is the fixed prefix of a LAC envelope.
type LacHeader struct {
	LedgerID         types.LedgerID
	LastAddConfirmed types.EntryID
}

func EncodeEntryHeader(dst []byte, h EntryHeader) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(h.LedgerID))
	dst = binary.BigEndian.AppendUint64(dst, uint64(h.EntryID))
	dst = binary.BigEndian.AppendUint64(dst, uint64(h.LastAddConfirmed))
	return binary.BigEndian.AppendUint64(dst, uint64(h.Length))
}

func DecodeEntryHeader(b []byte) (EntryHeader, error) {
	if len(b) < EntryHeaderLength {
		return EntryHeader{}, errors.Wrapf(ErrMalformedEnvelope, "entry header needs %d bytes, got %d", EntryHeaderLength, len(b))
	}
	return EntryHeader{
		LedgerID:         types.LedgerID(binary.BigEndian.Uint64(b[0:8])),
		EntryID:          types.EntryID(binary.BigEndian.Uint64(b[8:16])),
		LastAddConfirmed: types.EntryID(binary.BigEndian.Uint64(b[16:24])),
		Length:           int64(binary.BigEndian.Uint64(b[24:32])),
	}, nil
}

func EncodeLacHeader(dst []byte, h LacHeader) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(h.LedgerID))
	return binary.BigEndian.AppendUint64(dst, uint64(h.LastAddConfirmed))
}

func DecodeLacHeader(b []byte) (LacHeader, error) {
	if len(b) < LacHeaderLength {
		return LacHeader{}, errors.Wrapf(ErrMalformedEnvelope, "LAC header needs %d bytes, got %d", LacHeaderLength, len(b))
	}
	return LacHeader{
		LedgerID:         types.LedgerID(binary.BigEndian.Uint64(b[0:8])),
		LastAddConfirmed: types.EntryID(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}

// PayloadView returns the payload region of a data envelope without copying.
// The view is capacity capped so appending to it never writes into the envelope.
func PayloadView(envelope []byte, macLength int) []byte {
	start := EntryHeaderLength + macLength
	if start > len(envelope) {
		return nil
	}
	return envelope[start:len(envelope):len(envelope)]
}
