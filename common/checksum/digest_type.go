/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package checksum

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DigestType selects the algorithm that protects entries of a ledger.
// The numeric values match the ledger metadata format and must not change.
type DigestType int32

const (
	DigestTypeUnset DigestType = 0
	CRC32           DigestType = 1
	HMAC            DigestType = 2
	CRC32C          DigestType = 3
	DUMMY           DigestType = 4
)

var digestTypeNames = map[DigestType]string{
	CRC32:  "CRC32",
	HMAC:   "HMAC",
	CRC32C: "CRC32C",
	DUMMY:  "DUMMY",
}

func (d DigestType) String() string {
	if name, ok := digestTypeNames[d]; ok {
		return name
	}
	return "UNSET"
}

// ParseDigestType accepts the canonical names case insensitively; NONE is an alias of DUMMY.
func ParseDigestType(s string) (DigestType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "NONE" {
		return DUMMY, nil
	}
	for t, n := range digestTypeNames {
		if n == name {
			return t, nil
		}
	}
	return DigestTypeUnset, errors.Wrapf(ErrUnsupportedDigestType, "unknown digest type %q", s)
}

func (d DigestType) MarshalYAML() (interface{}, error) {
	if _, ok := digestTypeNames[d]; !ok {
		return nil, errors.Wrapf(ErrUnsupportedDigestType, "cannot marshal digest type %d", int32(d))
	}
	return d.String(), nil
}

func (d *DigestType) UnmarshalYAML(node *yaml.Node) error {
	t, err := ParseDigestType(node.Value)
	if err != nil {
		return err
	}
	*d = t
	return nil
}
