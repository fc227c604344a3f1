package crypto

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// multibasePrefix marks the encoding used for the remainder of the string,
// following the multibase convention (here: 'u' for unpadded base64url).
// Every content hash this package hands back is prefixed this way so a
// reader can tell it apart from a plain hex-encoded key or signature.
const multibasePrefix = "u"

var errInvalidMultibase = errors.New("crypto: invalid multibase string")

// Hash returns the blake2b-256 hash of data as a multibase-encoded string.
func Hash(data []byte) string {
	return EncodeMultibase(HashBytes(data))
}

// HashBytes returns the raw blake2b-256 digest of data.
func HashBytes(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// EncodeMultibase wraps raw bytes in the multibase string form used for
// hashes throughout this module.
func EncodeMultibase(b []byte) string {
	return multibasePrefix + base64.RawURLEncoding.EncodeToString(b)
}

// DecodeMultibase reverses EncodeMultibase.
func DecodeMultibase(s string) ([]byte, error) {
	if len(s) == 0 || s[:len(multibasePrefix)] != multibasePrefix {
		return nil, errInvalidMultibase
	}
	return base64.RawURLEncoding.DecodeString(s[len(multibasePrefix):])
}
