/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package utils

import "errors"

// ErrInvalidArgument is returned when a caller supplies a parameter outside its valid range.
var ErrInvalidArgument = errors.New("invalid argument")
