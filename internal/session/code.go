// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// DefaultCodePrefix is the fixed textual prefix of generated room codes.
const DefaultCodePrefix = "TABLE"

const codeSuffixLen = 4

// codeAlphabet is base36 uppercase. At 4 characters that is ~1.7M codes;
// collisions are rare but possible, so creation retries on conflict.
const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var codePattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]{4}$`)

// GenerateCode produces a fresh room code: prefix, dash, four base36
// uppercase characters, e.g. "TABLE-A1B2".
func GenerateCode(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	suffix := make([]byte, codeSuffixLen)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", oops.Code("CODE_GENERATION_FAILED").Wrap(err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), suffix), nil
}

// NormalizeCode canonicalizes user-typed codes for lookup. Codes match
// case-insensitively and ignore surrounding whitespace.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code has the expected shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
