/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package checksum

import (
	"github.com/hyperledger/fabric-x-bookie/common/bytebuf"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/pkg/errors"
)

// RecoveryData is what a reader learns from an entry whose id it did not know in advance.
type RecoveryData struct {
	LastAddConfirmed types.EntryID
	Length           int64
}

// DigestManager packages entries and LAC values of one ledger into envelopes
// and verifies envelopes read back from storage. It is safe for concurrent use.
type DigestManager struct {
	ledgerID      types.LedgerID
	algorithm     Algorithm
	allocator     bytebuf.Allocator
	useV2Protocol bool
}

// NewDigestManager creates the digest manager of ledgerID.
// The secret is only consulted by keyed digest types.
func NewDigestManager(ledgerID types.LedgerID, secret []byte, digestType DigestType, allocator bytebuf.Allocator, useV2Protocol bool) (*DigestManager, error) {
	algorithm, err := NewAlgorithm(digestType, secret)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed creating digest manager for ledger %d", ledgerID)
	}
	if allocator == nil {
		return nil, errors.Wrapf(utils.ErrInvalidArgument, "nil allocator for ledger %d", ledgerID)
	}

	return &DigestManager{
		ledgerID:      ledgerID,
		algorithm:     algorithm,
		allocator:     allocator,
		useV2Protocol: useV2Protocol,
	}, nil
}

func (dm *DigestManager) LedgerID() types.LedgerID {
	return dm.ledgerID
}

func (dm *DigestManager) DigestType() DigestType {
	return dm.algorithm.Type()
}

func (dm *DigestManager) MacLength() int {
	return dm.algorithm.MacLength()
}

// PackageEntry lays out header‖MAC‖payload for an entry. The MAC covers the header and the payload.
//
// With the v2 protocol the payload is referenced rather than copied, and the returned list
// holds two segments; the caller must keep the payload unchanged until the list is written.
func (dm *DigestManager) PackageEntry(entryID, lastAddConfirmed types.EntryID, length int64, payload []byte) (*bytebuf.List, error) {
	if length != int64(len(payload)) {
		return nil, errors.Wrapf(utils.ErrInvalidArgument, "entry %d of ledger %d declares length %d but carries %d bytes",
			entryID, dm.ledgerID, length, len(payload))
	}

	headerLen := EntryHeaderLength + dm.algorithm.MacLength()
	header := EncodeEntryHeader(nil, EntryHeader{
		LedgerID:         dm.ledgerID,
		EntryID:          entryID,
		LastAddConfirmed: lastAddConfirmed,
		Length:           length,
	})

	list := bytebuf.NewList(dm.allocator)
	if dm.useV2Protocol {
		buff := dm.allocator.Buffer(headerLen)
		buff = append(buff, header...)
		buff = dm.algorithm.Compute(buff, header, payload)
		return list.AddOwned(buff).AddRef(payload), nil
	}

	buff := dm.allocator.Buffer(headerLen + len(payload))
	buff = append(buff, header...)
	buff = dm.algorithm.Compute(buff, header, payload)
	buff = append(buff, payload...)
	return list.AddOwned(buff), nil
}

// PackageLac lays out header‖MAC for a LAC heartbeat.
func (dm *DigestManager) PackageLac(lastAddConfirmed types.EntryID) *bytebuf.List {
	buff := dm.allocator.Buffer(LacHeaderLength + dm.algorithm.MacLength())
	buff = EncodeLacHeader(buff, LacHeader{LedgerID: dm.ledgerID, LastAddConfirmed: lastAddConfirmed})
	buff = dm.algorithm.Compute(buff, buff[:LacHeaderLength])
	return bytebuf.NewList(dm.allocator).AddOwned(buff)
}

// VerifyAndExtractLac checks a LAC envelope and returns the LAC it carries.
func (dm *DigestManager) VerifyAndExtractLac(envelope []byte) (types.EntryID, error) {
	macLength := dm.algorithm.MacLength()
	if len(envelope) < LacHeaderLength+macLength {
		return types.InvalidEntryID, errors.Wrapf(ErrDigestMismatch, "LAC envelope of ledger %d too short: %d bytes", dm.ledgerID, len(envelope))
	}

	header := envelope[:LacHeaderLength]
	mac := envelope[LacHeaderLength : LacHeaderLength+macLength]
	if !dm.algorithm.Verify(mac, header) {
		return types.InvalidEntryID, errors.Wrapf(ErrDigestMismatch, "%s mac mismatch on LAC envelope of ledger %d", dm.algorithm.Type(), dm.ledgerID)
	}

	lac, err := DecodeLacHeader(header)
	if err != nil {
		return types.InvalidEntryID, errors.Wrap(ErrDigestMismatch, err.Error())
	}
	if lac.LedgerID != dm.ledgerID {
		return types.InvalidEntryID, errors.Wrapf(ErrDigestMismatch, "LAC envelope belongs to ledger %d, expected %d", lac.LedgerID, dm.ledgerID)
	}

	return lac.LastAddConfirmed, nil
}

// VerifyAndExtractData checks a data envelope for entryID and returns a view of its payload.
// The view aliases envelope.
func (dm *DigestManager) VerifyAndExtractData(entryID types.EntryID, envelope []byte) ([]byte, error) {
	header, err := dm.verifyEntry(envelope)
	if err != nil {
		return nil, err
	}
	if header.EntryID != entryID {
		return nil, errors.Wrapf(ErrDigestMismatch, "envelope carries entry %d of ledger %d, expected entry %d", header.EntryID, dm.ledgerID, entryID)
	}
	return PayloadView(envelope, dm.algorithm.MacLength()), nil
}

// VerifyAndExtractRecoveryData checks a data envelope whose entry id is not known to the
// caller, as when scanning the tail of a ledger during recovery.
func (dm *DigestManager) VerifyAndExtractRecoveryData(envelope []byte) (RecoveryData, error) {
	header, err := dm.verifyEntry(envelope)
	if err != nil {
		return RecoveryData{}, err
	}
	return RecoveryData{LastAddConfirmed: header.LastAddConfirmed, Length: header.Length}, nil
}

// verifyEntry bounds checks the envelope before looking at any field, then checks the MAC,
// the ledger id and finally that the length field agrees with the bytes actually present.
func (dm *DigestManager) verifyEntry(envelope []byte) (EntryHeader, error) {
	macLength := dm.algorithm.MacLength()
	if len(envelope) < EntryHeaderLength+macLength {
		return EntryHeader{}, errors.Wrapf(ErrDigestMismatch, "data envelope of ledger %d too short: %d bytes", dm.ledgerID, len(envelope))
	}

	rawHeader := envelope[:EntryHeaderLength]
	mac := envelope[EntryHeaderLength : EntryHeaderLength+macLength]
	payload := envelope[EntryHeaderLength+macLength:]
	if !dm.algorithm.Verify(mac, rawHeader, payload) {
		return EntryHeader{}, errors.Wrapf(ErrDigestMismatch, "%s mac mismatch on data envelope of ledger %d", dm.algorithm.Type(), dm.ledgerID)
	}

	header, err := DecodeEntryHeader(rawHeader)
	if err != nil {
		return EntryHeader{}, errors.Wrap(ErrDigestMismatch, err.Error())
	}
	if header.LedgerID != dm.ledgerID {
		return EntryHeader{}, errors.Wrapf(ErrDigestMismatch, "data envelope belongs to ledger %d, expected %d", header.LedgerID, dm.ledgerID)
	}
	if header.Length != int64(len(payload)) {
		return EntryHeader{}, errors.Wrapf(ErrDigestMismatch, "entry %d of ledger %d declares length %d but carries %d bytes",
			header.EntryID, dm.ledgerID, header.Length, len(payload))
	}

	return header, nil
}
