// Package contenthash computes the canonical content hash used for
// write-pipeline dedup (spec §4.3). Grounded on the teacher's
// preprocess.go hashing helper, adapted to the spec's exact
// canonicalization: UTF-8 input, trim trailing whitespace of the whole
// blob, preserve internal whitespace verbatim, never truncate.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Canonicalize applies the exact normalization the hash is computed over.
// It trims trailing whitespace from the entire input and leaves every
// other byte, including internal whitespace runs, untouched.
func Canonicalize(content string) string {
	return strings.TrimRight(content, " \t\r\n\v\f")
}

// Compute returns the lowercase-hex SHA-256 digest of the canonicalized
// content. Two memories with identical canonicalized content within the
// same project hash identically and collide on the dedup constraint.
func Compute(content string) string {
	canon := Canonicalize(content)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}
