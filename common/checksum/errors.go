/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package checksum

import "errors"

var (
	// ErrUnsupportedDigestType is returned when a digest manager is requested for an unknown or unset digest type.
	ErrUnsupportedDigestType = errors.New("unsupported digest type")

	// ErrKeyConfiguration is returned when a keyed digest cannot be set up from the supplied secret.
	ErrKeyConfiguration = errors.New("invalid digest key configuration")

	// ErrMalformedEnvelope is returned when a buffer is too short to hold an envelope header.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDigestMismatch signals an envelope that does not verify: wrong ledger, wrong entry,
	// truncated data or a MAC that does not match. The entry must not be trusted.
	ErrDigestMismatch = errors.New("entry digest does not match")
)
