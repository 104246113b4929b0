/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package checksum

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"sync"

	"github.com/pkg/errors"
)

const (
	crc32MacLength  = 8
	crc32cMacLength = 4
	hmacMacLength   = sha1.Size
)

// hmacKeyPrefix is mixed into the password before deriving the HMAC key.
var hmacKeyPrefix = []byte("ledger")

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Algorithm computes and verifies the MAC of an envelope.
// Implementations are safe for concurrent use.
type Algorithm interface {
	Type() DigestType
	// MacLength is the fixed width of the encoded MAC in bytes.
	MacLength() int
	// Compute appends the MAC over the concatenation of parts to dst.
	Compute(dst []byte, parts ...[]byte) []byte
	// Verify reports whether mac is the MAC over the concatenation of parts.
	Verify(mac []byte, parts ...[]byte) bool
}

// NewAlgorithm builds the algorithm for t. The secret is only used by HMAC.
func NewAlgorithm(t DigestType, secret []byte) (Algorithm, error) {
	switch t {
	case DUMMY:
		return noneAlgorithm{}, nil
	case CRC32:
		return newHashAlgorithm(CRC32, crc32MacLength, func() hash.Hash { return crc32.NewIEEE() }, encodeCRC32), nil
	case CRC32C:
		return newHashAlgorithm(CRC32C, crc32cMacLength, func() hash.Hash { return crc32.New(castagnoliTable) }, encodeCRC32C), nil
	case HMAC:
		key, err := deriveHMACKey(secret)
		if err != nil {
			return nil, err
		}
		return newHashAlgorithm(HMAC, hmacMacLength, func() hash.Hash { return hmac.New(sha1.New, key) }, appendSum), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDigestType, "digest type %d", int32(t))
	}
}

func deriveHMACKey(secret []byte) ([]byte, error) {
	if secret == nil {
		return nil, errors.Wrap(ErrKeyConfiguration, "HMAC digest requires a password")
	}
	h := sha1.New()
	h.Write(hmacKeyPrefix)
	h.Write(secret)
	return h.Sum(nil), nil
}

type noneAlgorithm struct{}

func (noneAlgorithm) Type() DigestType { return DUMMY }

func (noneAlgorithm) MacLength() int { return 0 }

func (noneAlgorithm) Compute(dst []byte, _ ...[]byte) []byte { return dst }

func (noneAlgorithm) Verify([]byte, ...[]byte) bool { return true }

// hashAlgorithm adapts a hash.Hash to Algorithm. Hash states are pooled
// since a digest manager is shared by all writers and readers of a ledger.
type hashAlgorithm struct {
	digestType DigestType
	macLength  int
	encode     func(dst []byte, h hash.Hash) []byte
	pool       sync.Pool
}

func newHashAlgorithm(t DigestType, macLength int, newHash func() hash.Hash, encode func([]byte, hash.Hash) []byte) *hashAlgorithm {
	return &hashAlgorithm{
		digestType: t,
		macLength:  macLength,
		encode:     encode,
		pool:       sync.Pool{New: func() any { return newHash() }},
	}
}

func (a *hashAlgorithm) Type() DigestType { return a.digestType }

func (a *hashAlgorithm) MacLength() int { return a.macLength }

func (a *hashAlgorithm) Compute(dst []byte, parts ...[]byte) []byte {
	h := a.pool.Get().(hash.Hash)
	defer a.pool.Put(h)

	h.Reset()
	for _, p := range parts {
		h.Write(p)
	}
	return a.encode(dst, h)
}

func (a *hashAlgorithm) Verify(mac []byte, parts ...[]byte) bool {
	if len(mac) != a.macLength {
		return false
	}
	var scratch [hmacMacLength]byte
	expected := a.Compute(scratch[:0], parts...)
	return subtle.ConstantTimeCompare(expected, mac) == 1
}

// encodeCRC32 widens the checksum to 64 bits, the layout older bookies expect.
func encodeCRC32(dst []byte, h hash.Hash) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(h.(hash.Hash32).Sum32()))
}

func encodeCRC32C(dst []byte, h hash.Hash) []byte {
	return binary.BigEndian.AppendUint32(dst, h.(hash.Hash32).Sum32())
}

func appendSum(dst []byte, h hash.Hash) []byte {
	return h.Sum(dst)
}
