package crypto

import (
	"encoding/base32"
	"strings"
)

// crockfordAlphabet is the payment network's wire encoding for public keys,
// hashes, and signatures: Crockford base32 without padding.
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordEncoding = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// EncodeBinary renders raw bytes (a public key, hash, or signature) in the
// wire's Crockford base32 form.
func EncodeBinary(b []byte) string {
	return crockfordEncoding.EncodeToString(b)
}

// DecodeBinary parses a Crockford base32 string back into raw bytes.
func DecodeBinary(s string) ([]byte, error) {
	return crockfordEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}
