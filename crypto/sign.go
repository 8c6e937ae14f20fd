package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// Purpose is the distinguished integer tag prefixed to every signed message,
// per the payment network's wire protocol (spec §6). Tag stability across
// releases is required for interop, so these values must never change.
type Purpose uint32

const (
	PurposeContract      Purpose = 1101
	PurposeDepositConfirm Purpose = 1102
	PurposeRefundOK      Purpose = 1103
	PurposeMeltConfirm   Purpose = 1104
	PurposeKeySet        Purpose = 1105
)

// PrivateKey is an Ed25519 signing key, used for an instance's contract
// signatures and for exchange/auditor master keys in tests/fixtures.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey is an Ed25519 verification key.
type PublicKey struct {
	key ed25519.PublicKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair.
func GenerateKeyPair() (*PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, PublicKey{}, err
	}
	return &PrivateKey{key: priv}, PublicKey{key: pub}, nil
}

// PrivateKeyFromBytes parses a 64-byte Ed25519 private key.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	cloned := append([]byte(nil), b...)
	return &PrivateKey{key: ed25519.PrivateKey(cloned)}, nil
}

// Bytes returns the raw 64-byte private key material.
func (k *PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// Public returns the associated public key.
func (k *PrivateKey) Public() PublicKey {
	return PublicKey{key: k.key.Public().(ed25519.PublicKey)}
}

// PublicKeyFromBytes parses a 32-byte Ed25519 public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PublicKey{key: ed25519.PublicKey(append([]byte(nil), b...))}, nil
}

// Bytes returns the raw 32-byte public key material.
func (k PublicKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// String renders the public key in the wire's base32 form.
func (k PublicKey) String() string {
	return EncodeBinary(k.key)
}

// IsZero reports whether the public key is unset.
func (k PublicKey) IsZero() bool {
	return len(k.key) == 0
}

// signedEnvelope returns purpose||payload, the exact byte layout that gets
// Ed25519-signed and verified: a 4-byte big-endian purpose tag followed by
// the payload bytes. This mirrors the purpose-tagged "eddsa_sign" idiom the
// wire protocol documents in spec §6.
func signedEnvelope(purpose Purpose, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(purpose))
	copy(buf[4:], payload)
	return buf
}

// Sign produces an Ed25519 signature over a purpose-tagged message.
func (k *PrivateKey) Sign(purpose Purpose, payload []byte) []byte {
	return ed25519.Sign(k.key, signedEnvelope(purpose, payload))
}

// Verify checks an Ed25519 signature over a purpose-tagged message.
func (k PublicKey) Verify(purpose Purpose, payload, signature []byte) bool {
	if len(k.key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(k.key, signedEnvelope(purpose, payload), signature)
}

// Hash256 returns the hash used for h_wire (hash of a payto URI + salt) and
// similar opaque byte-identity checks.
func Hash256(data []byte) []byte {
	sum := sha512.Sum512_256(data)
	return sum[:]
}

// HashBankAccount computes the wire-hash of a bank account: hash(payto || salt),
// exactly as spec §3 defines it.
func HashBankAccount(payto string, salt []byte) []byte {
	buf := append([]byte(payto), salt...)
	return Hash256(buf)
}

// CanonicalJSON renders v as deterministic JSON: object keys sorted, no
// insignificant whitespace. This is the stable canonical form that
// HashContractTerms signs over, so that re-serializing the same logical
// terms always yields the same hash and signature.
func CanonicalJSON(v interface{}) ([]byte, error) {
	generic, err := toCanonical(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// toCanonical round-trips v through JSON to normalize it into
// map[string]interface{}/[]interface{}/scalars. No further wrapping is
// done: sorted key order comes from encoding/json, which already sorts
// map[string]interface{} keys on Marshal, so this function exists mainly
// to fail fast on non-JSON-able input.
func toCanonical(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// HashStruct hashes the canonical JSON form of v (used for h_contract_terms
// and the idempotency-proposal byte-equality check).
func HashStruct(v interface{}) ([]byte, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	return Hash256(canon), nil
}

// sortedKeys returns m's keys in sorted order. Nothing in the package
// calls it at present.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
