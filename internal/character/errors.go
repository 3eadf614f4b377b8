// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package character

import "errors"

// ErrNotFound is returned when a character id does not resolve.
var ErrNotFound = errors.New("character not found")
