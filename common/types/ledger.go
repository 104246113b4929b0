/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

// LedgerID identifies a ledger, an append-only sequence of entries.
type LedgerID int64

// EntryID is the position of an entry within its ledger.
// A last-add-confirmed value is also expressed as an EntryID.
type EntryID int64

// InvalidEntryID marks the absence of a confirmed entry, e.g. the LAC of an empty ledger.
const InvalidEntryID EntryID = -1

// Logger is the logging surface the storage packages depend on.
// *flogging.FabricLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Panicf(template string, args ...interface{})
}
