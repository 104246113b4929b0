/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entrylog

import (
	"encoding/binary"

	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	entryKeyPrefix byte = iota
	lacKeyPrefix
	endKeyPrefix
)

const locationLength = 8 + 4

// Location addresses an envelope in the entry log.
type Location struct {
	// Offset is the position of the first envelope byte, after the size prefix.
	Offset int64
	Size   int32
}

// Index maps entries to their location in the entry log and keeps the explicit LAC envelope of every ledger.
type Index struct {
	db     *leveldb.DB
	logger types.Logger
}

func OpenIndex(path string, logger types.Logger) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening index at %s", path)
	}
	return &Index{db: db, logger: logger}, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// Append records the location of a newly appended entry and advances the indexed end of the log past it.
func (idx *Index) Append(ledgerID types.LedgerID, entryID types.EntryID, loc Location) error {
	batch := new(leveldb.Batch)
	batch.Put(makeEntryKey(ledgerID, entryID), encodeLocation(loc))
	batch.Put([]byte{endKeyPrefix}, binary.BigEndian.AppendUint64(nil, uint64(loc.Offset+int64(loc.Size))))
	if err := idx.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "failed indexing entry %d of ledger %d", entryID, ledgerID)
	}
	return nil
}

// Put records the location of an entry without touching the indexed end.
func (idx *Index) Put(ledgerID types.LedgerID, entryID types.EntryID, loc Location) error {
	if err := idx.db.Put(makeEntryKey(ledgerID, entryID), encodeLocation(loc), nil); err != nil {
		return errors.Wrapf(err, "failed indexing entry %d of ledger %d", entryID, ledgerID)
	}
	return nil
}

// Get returns the location of an entry; found is false when the entry was never indexed.
func (idx *Index) Get(ledgerID types.LedgerID, entryID types.EntryID) (loc Location, found bool, err error) {
	value, err := idx.db.Get(makeEntryKey(ledgerID, entryID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, errors.Wrapf(err, "failed looking up entry %d of ledger %d", entryID, ledgerID)
	}
	loc, err = decodeLocation(value)
	return loc, err == nil, err
}

// Last returns the highest indexed entry of a ledger.
func (idx *Index) Last(ledgerID types.LedgerID) (entryID types.EntryID, loc Location, found bool, err error) {
	iter := idx.db.NewIterator(util.BytesPrefix(makeLedgerPrefix(ledgerID)), nil)
	defer iter.Release()

	if !iter.Last() {
		return types.InvalidEntryID, Location{}, false, errors.Wrapf(iter.Error(), "failed iterating entries of ledger %d", ledgerID)
	}

	entryID = types.EntryID(binary.BigEndian.Uint64(iter.Key()[9:]))
	loc, err = decodeLocation(iter.Value())
	return entryID, loc, err == nil, err
}

// End is the log offset up to which every record is indexed.
func (idx *Index) End() (int64, error) {
	value, err := idx.db.Get([]byte{endKeyPrefix}, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed reading indexed end")
	}
	if len(value) != 8 {
		return 0, errors.Errorf("indexed end holds %d bytes", len(value))
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// Rewind drops every entry whose record ends past end and moves the indexed end back to end.
// It returns the number of dropped entries.
func (idx *Index) Rewind(end int64) (int, error) {
	iter := idx.db.NewIterator(util.BytesPrefix([]byte{entryKeyPrefix}), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	dropped := 0
	for iter.Next() {
		loc, err := decodeLocation(iter.Value())
		if err != nil {
			return 0, errors.WithMessagef(err, "index key %x", iter.Key())
		}
		if loc.Offset+int64(loc.Size) > end {
			batch.Delete(append([]byte(nil), iter.Key()...))
			dropped++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "failed iterating index entries")
	}

	batch.Put([]byte{endKeyPrefix}, binary.BigEndian.AppendUint64(nil, uint64(end)))
	if err := idx.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, errors.Wrapf(err, "failed rewinding index to offset %d", end)
	}
	return dropped, nil
}

// PutLac stores the packaged explicit LAC envelope of a ledger, replacing the previous one.
func (idx *Index) PutLac(ledgerID types.LedgerID, envelope []byte) error {
	if err := idx.db.Put(makeLacKey(ledgerID), envelope, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrapf(err, "failed storing explicit LAC of ledger %d", ledgerID)
	}
	return nil
}

func (idx *Index) GetLac(ledgerID types.LedgerID) (envelope []byte, found bool, err error) {
	envelope, err = idx.db.Get(makeLacKey(ledgerID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed reading explicit LAC of ledger %d", ledgerID)
	}
	return envelope, true, nil
}

func makeLedgerPrefix(ledgerID types.LedgerID) []byte {
	buff := make([]byte, 1, 1+8+8)
	buff[0] = entryKeyPrefix
	return binary.BigEndian.AppendUint64(buff, uint64(ledgerID))
}

func makeEntryKey(ledgerID types.LedgerID, entryID types.EntryID) []byte {
	return binary.BigEndian.AppendUint64(makeLedgerPrefix(ledgerID), uint64(entryID))
}

func makeLacKey(ledgerID types.LedgerID) []byte {
	return binary.BigEndian.AppendUint64([]byte{lacKeyPrefix}, uint64(ledgerID))
}

func encodeLocation(loc Location) []byte {
	buff := make([]byte, 0, locationLength)
	buff = binary.BigEndian.AppendUint64(buff, uint64(loc.Offset))
	return binary.BigEndian.AppendUint32(buff, uint32(loc.Size))
}

func decodeLocation(b []byte) (Location, error) {
	if len(b) != locationLength {
		return Location{}, errors.Errorf("index location holds %d bytes, expected %d", len(b), locationLength)
	}
	return Location{
		Offset: int64(binary.BigEndian.Uint64(b[:8])),
		Size:   int32(binary.BigEndian.Uint32(b[8:])),
	}, nil
}
