/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entrylog

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-x-bookie/common/bytebuf"
	"github.com/hyperledger/fabric-x-bookie/common/checksum"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/hyperledger/fabric-x-bookie/node/config"
	"github.com/hyperledger/fabric-x-bookie/node/storage"
	"github.com/pkg/errors"
)

// sizePrefixLength is the length of the big-endian size that precedes every envelope in the log.
const sizePrefixLength = 4

// EntryLog appends the envelopes of all ledgers to a single buffered file and
// indexes them by ledger and entry id. Appends are serialized; reads may run concurrently.
type EntryLog struct {
	conf      *config.BookieConfig
	logger    types.Logger
	channel   *storage.BufferedChannel
	index     *Index
	allocator bytebuf.Allocator
	metrics   *EntryLogMetrics

	writeLock sync.Mutex

	managersLock sync.Mutex
	managers     map[types.LedgerID]*checksum.DigestManager
}

// Open opens the entry log described by conf, creating its directory if needed.
// Records appended after the last indexed one are indexed again, and a torn
// record at the end of the file is cut off.
func Open(conf *config.BookieConfig, logger types.Logger, provider metrics.Provider) (*EntryLog, error) {
	if logger == nil {
		return nil, errors.Wrap(utils.ErrInvalidArgument, "nil logger")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(conf.Directory, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed creating directory %s", conf.Directory)
	}

	el := &EntryLog{
		conf:      conf,
		logger:    logger,
		allocator: bytebuf.NewPooledAllocator(),
		metrics:   NewEntryLogMetrics(provider),
		managers:  make(map[types.LedgerID]*checksum.DigestManager),
	}

	index, err := OpenIndex(conf.IndexPath(), logger)
	if err != nil {
		return nil, err
	}
	el.index = index

	store, err := storage.OpenFileStore(conf.EntryLogPath())
	if err != nil {
		index.Close()
		return nil, err
	}
	if err = el.recover(store); err != nil {
		store.Close()
		index.Close()
		return nil, err
	}

	el.channel, err = storage.NewBufferedChannel(store, conf.WriteBufferBytes, conf.ReadBufferBytes, conf.UnpersistedBytesBound, logger, storage.NewChannelMetrics(provider))
	if err != nil {
		store.Close()
		index.Close()
		return nil, err
	}

	logger.Infof("Opened entry log %s at position %d with %s digests", conf.EntryLogPath(), el.channel.Position(), conf.DigestType)
	return el, nil
}

// recover brings the index and the file back in line after a crash. Records past the
// indexed end are indexed again and a torn tail is truncated. An index that runs ahead
// of the file is rewound to the last complete record.
func (el *EntryLog) recover(store *storage.FileStore) error {
	size, err := store.Size()
	if err != nil {
		return err
	}
	indexedEnd, err := el.index.End()
	if err != nil {
		return err
	}
	read := func(dst []byte, pos int64) error {
		_, err := store.ReadAt(dst, pos)
		return err
	}

	switch {
	case indexedEnd == size:
		return nil
	case indexedEnd > size:
		return el.rewind(store, indexedEnd, size, read)
	}

	el.logger.Infof("Indexing records of %s from offset %d to %d", store.Name(), indexedEnd, size)
	end, count, err := el.walk(indexedEnd, size, read, el.reindex)
	if err = el.cutTornTail(store, size, end, err); err != nil {
		return err
	}
	el.logger.Infof("Indexed %d records of %s", count, store.Name())
	return nil
}

// rewind handles a file that lost records the index already points to, which happens
// when the process dies before the write buffer reaches the file.
func (el *EntryLog) rewind(store *storage.FileStore, indexedEnd, size int64, read func(dst []byte, pos int64) error) error {
	el.logger.Warnf("Index covers %d bytes but %s holds only %d; rewinding to the last complete record", indexedEnd, store.Name(), size)

	end, count, err := el.walk(0, size, read, el.reindexer(size))
	if err = el.cutTornTail(store, size, end, err); err != nil {
		return err
	}
	dropped, err := el.index.Rewind(end)
	if err != nil {
		return err
	}
	el.logger.Warnf("Rewound %s to offset %d: kept %d records, dropped %d index entries", store.Name(), end, count, dropped)
	return nil
}

// cutTornTail truncates the file to end when walkErr reports a torn record and passes any other error through.
func (el *EntryLog) cutTornTail(store *storage.FileStore, size, end int64, walkErr error) error {
	if walkErr == nil {
		return nil
	}
	if !errors.Is(walkErr, ErrTruncatedRecord) {
		return walkErr
	}
	el.logger.Warnf("Truncating %s from %d to %d bytes: %v", store.Name(), size, end, walkErr)
	return store.Truncate(end)
}

func (el *EntryLog) reindex(loc Location, header checksum.EntryHeader) error {
	return el.index.Append(header.LedgerID, header.EntryID, loc)
}

// reindexer points the index at loc unless it already holds a later record of the
// same entry that ends within limit.
func (el *EntryLog) reindexer(limit int64) func(Location, checksum.EntryHeader) error {
	return func(loc Location, header checksum.EntryHeader) error {
		indexed, found, err := el.index.Get(header.LedgerID, header.EntryID)
		if err != nil {
			return err
		}
		// an entry appended more than once resolves to its last append still in the file
		if found && indexed.Offset >= loc.Offset && indexed.Offset+int64(indexed.Size) <= limit {
			return nil
		}
		return el.index.Put(header.LedgerID, header.EntryID, loc)
	}
}

// walk decodes the records in [from, end), verifies each with its ledger's digest
// manager and hands them to fn. It returns the offset after the last complete record
// and the number of records visited.
func (el *EntryLog) walk(from, end int64, read func(dst []byte, pos int64) error, fn func(Location, checksum.EntryHeader) error) (int64, int, error) {
	var sizeBuff [sizePrefixLength]byte
	offset, count := from, 0

	for offset < end {
		if end-offset < sizePrefixLength {
			return offset, count, errors.Wrapf(ErrTruncatedRecord, "%d trailing bytes at offset %d", end-offset, offset)
		}
		if err := read(sizeBuff[:], offset); err != nil {
			return offset, count, errors.WithMessagef(err, "failed reading record size at offset %d", offset)
		}
		size := int64(binary.BigEndian.Uint32(sizeBuff[:]))
		if size < checksum.EntryHeaderLength || size > math.MaxInt32 {
			return offset, count, errors.Wrapf(ErrCorruptRecord, "record at offset %d declares %d bytes", offset, size)
		}
		if end-offset-sizePrefixLength < size {
			return offset, count, errors.Wrapf(ErrTruncatedRecord, "record at offset %d declares %d bytes, %d present", offset, size, end-offset-sizePrefixLength)
		}

		loc := Location{Offset: offset + sizePrefixLength, Size: int32(size)}
		envelope := make([]byte, size)
		if err := read(envelope, loc.Offset); err != nil {
			return offset, count, errors.WithMessagef(err, "failed reading record at offset %d", offset)
		}
		header, err := checksum.DecodeEntryHeader(envelope)
		if err != nil {
			return offset, count, errors.Wrapf(ErrCorruptRecord, "record at offset %d: %v", offset, err)
		}
		dm, err := el.manager(header.LedgerID)
		if err != nil {
			return offset, count, err
		}
		if _, err = dm.VerifyAndExtractRecoveryData(envelope); err != nil {
			el.metrics.DigestMismatches.Add(1)
			return offset, count, errors.WithMessagef(err, "record at offset %d", offset)
		}
		if fn != nil {
			if err = fn(loc, header); err != nil {
				return offset, count, err
			}
		}

		offset = loc.Offset + size
		count++
	}
	return offset, count, nil
}

// manager returns the cached digest manager of a ledger, creating it on first use.
func (el *EntryLog) manager(ledgerID types.LedgerID) (*checksum.DigestManager, error) {
	el.managersLock.Lock()
	defer el.managersLock.Unlock()

	if dm, exists := el.managers[ledgerID]; exists {
		return dm, nil
	}
	dm, err := checksum.NewDigestManager(ledgerID, el.conf.Password, el.conf.DigestType, el.allocator, el.conf.UseV2Protocol)
	if err != nil {
		return nil, err
	}
	el.managers[ledgerID] = dm
	return dm, nil
}

// AddEntry packages the payload of an entry and appends it to the log.
func (el *EntryLog) AddEntry(ledgerID types.LedgerID, entryID, lac types.EntryID, payload []byte) (Location, error) {
	if ledgerID < 0 || entryID < 0 {
		return Location{}, errors.Wrapf(utils.ErrInvalidArgument, "entry %d of ledger %d", entryID, ledgerID)
	}
	dm, err := el.manager(ledgerID)
	if err != nil {
		return Location{}, err
	}

	envelope, err := dm.PackageEntry(entryID, lac, int64(len(payload)), payload)
	if err != nil {
		return Location{}, err
	}
	defer envelope.Release()

	size := envelope.Len()
	if size > math.MaxInt32 {
		return Location{}, errors.Wrapf(utils.ErrInvalidArgument, "entry %d of ledger %d packages into %d bytes", entryID, ledgerID, size)
	}

	el.writeLock.Lock()
	defer el.writeLock.Unlock()

	var sizeBuff [sizePrefixLength]byte
	binary.BigEndian.PutUint32(sizeBuff[:], uint32(size))

	offset := el.channel.Position()
	if _, err = el.channel.Write(sizeBuff[:]); err != nil {
		return Location{}, errors.WithMessagef(err, "failed appending entry %d of ledger %d", entryID, ledgerID)
	}
	if _, err = envelope.WriteTo(el.channel); err != nil {
		return Location{}, errors.WithMessagef(err, "failed appending entry %d of ledger %d", entryID, ledgerID)
	}

	loc := Location{Offset: offset + sizePrefixLength, Size: int32(size)}
	if err = el.index.Append(ledgerID, entryID, loc); err != nil {
		return Location{}, err
	}

	el.metrics.EntriesAdded.Add(1)
	el.metrics.BytesWritten.Add(float64(sizePrefixLength + size))
	el.logger.Debugf("Appended entry %d of ledger %d at offset %d, %d bytes", entryID, ledgerID, loc.Offset, size)
	return loc, nil
}

// ReadEntry returns the verified payload of an entry.
func (el *EntryLog) ReadEntry(ledgerID types.LedgerID, entryID types.EntryID) ([]byte, error) {
	loc, found, err := el.index.Get(ledgerID, entryID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrNoSuchEntry, "entry %d of ledger %d", entryID, ledgerID)
	}

	envelope, dm, err := el.readEnvelope(ledgerID, loc)
	if err != nil {
		return nil, err
	}
	payload, err := dm.VerifyAndExtractData(entryID, envelope)
	if err != nil {
		el.metrics.DigestMismatches.Add(1)
		el.logger.Warnf("Entry %d of ledger %d at offset %d failed verification: %v", entryID, ledgerID, loc.Offset, err)
		return nil, err
	}

	el.metrics.EntriesRead.Add(1)
	return payload, nil
}

func (el *EntryLog) readEnvelope(ledgerID types.LedgerID, loc Location) ([]byte, *checksum.DigestManager, error) {
	dm, err := el.manager(ledgerID)
	if err != nil {
		return nil, nil, err
	}
	envelope := make([]byte, loc.Size)
	if _, err = el.channel.Read(envelope, loc.Offset, int(loc.Size)); err != nil {
		return nil, nil, errors.WithMessagef(err, "failed reading %d bytes at offset %d", loc.Size, loc.Offset)
	}
	return envelope, dm, nil
}

// SetExplicitLac stores a LAC envelope for the ledger.
func (el *EntryLog) SetExplicitLac(ledgerID types.LedgerID, lac types.EntryID) error {
	dm, err := el.manager(ledgerID)
	if err != nil {
		return err
	}
	envelope := dm.PackageLac(lac)
	defer envelope.Release()
	return el.index.PutLac(ledgerID, envelope.Coalesce())
}

// GetExplicitLac returns the verified LAC last stored for the ledger.
func (el *EntryLog) GetExplicitLac(ledgerID types.LedgerID) (types.EntryID, error) {
	envelope, found, err := el.index.GetLac(ledgerID)
	if err != nil {
		return types.InvalidEntryID, err
	}
	if !found {
		return types.InvalidEntryID, errors.Wrapf(ErrNoSuchEntry, "explicit LAC of ledger %d", ledgerID)
	}
	dm, err := el.manager(ledgerID)
	if err != nil {
		return types.InvalidEntryID, err
	}
	lac, err := dm.VerifyAndExtractLac(envelope)
	if err != nil {
		el.metrics.DigestMismatches.Add(1)
		return types.InvalidEntryID, err
	}
	return lac, nil
}

// LastEntry returns the id of the highest entry of a ledger together with the LAC and
// length recorded in its verified envelope.
func (el *EntryLog) LastEntry(ledgerID types.LedgerID) (types.EntryID, checksum.RecoveryData, error) {
	entryID, loc, found, err := el.index.Last(ledgerID)
	if err != nil {
		return types.InvalidEntryID, checksum.RecoveryData{}, err
	}
	if !found {
		return types.InvalidEntryID, checksum.RecoveryData{}, errors.Wrapf(ErrNoSuchEntry, "no entries in ledger %d", ledgerID)
	}

	envelope, dm, err := el.readEnvelope(ledgerID, loc)
	if err != nil {
		return types.InvalidEntryID, checksum.RecoveryData{}, err
	}
	rd, err := dm.VerifyAndExtractRecoveryData(envelope)
	if err != nil {
		el.metrics.DigestMismatches.Add(1)
		return types.InvalidEntryID, checksum.RecoveryData{}, err
	}
	return entryID, rd, nil
}

// Scan verifies every record in the log in append order and hands its location and header to fn.
// Records missing from the index are indexed again. A nil fn only verifies.
func (el *EntryLog) Scan(fn func(Location, checksum.EntryHeader) error) error {
	end := el.channel.Position()
	read := func(dst []byte, pos int64) error {
		_, err := el.channel.Read(dst, pos, len(dst))
		return err
	}

	reindex := el.reindexer(end)
	_, count, err := el.walk(0, end, read, func(loc Location, header checksum.EntryHeader) error {
		if err := reindex(loc, header); err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(loc, header)
	})
	if err != nil {
		return err
	}
	el.logger.Debugf("Scanned %d records up to offset %d", count, end)
	return nil
}

// Flush writes the buffered records to the file and, if durable, syncs it.
func (el *EntryLog) Flush(durable bool) error {
	if !durable {
		return el.channel.Flush()
	}
	_, err := el.channel.ForceWrite(true)
	return err
}

// Metrics returns the counters of the entry log.
func (el *EntryLog) Metrics() *EntryLogMetrics {
	return el.metrics
}

// Position is the logical end of the log.
func (el *EntryLog) Position() int64 {
	return el.channel.Position()
}

func (el *EntryLog) Close() error {
	el.writeLock.Lock()
	defer el.writeLock.Unlock()

	if err := el.channel.Close(); err != nil {
		if errors.Is(err, storage.ErrClosedChannel) {
			return ErrClosedEntryLog
		}
		el.index.Close()
		return err
	}
	if err := el.index.Close(); err != nil {
		return errors.Wrap(err, "failed closing index")
	}
	el.logger.Infof("Closed entry log %s", el.conf.EntryLogPath())
	return nil
}
