// Package commitment derives the idempotency keys that bind a specific visit
// attempt to a unique, non-reversible identifier.
//
// A key is the SHA-256 digest of a fixed-order, length-unambiguous encoding of
// (salt, provider, patient token, code, year, visit sequence). Determinism gives
// idempotency; SHA-256 one-wayness keeps the patient token unrecoverable from any
// emitted key; the deployment salt keeps independently deployed engines in
// disjoint key spaces.
package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// SaltSize is the byte length of a deployment salt.
const SaltSize = 32

// Key is a 32-byte commitment key.
type Key [32]byte

// String returns the lowercase hex form.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

// MarshalText renders the key as hex for JSON/YAML embedding.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKey decodes a hex-encoded key.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("commitment: parse key: %w", err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("commitment: parse key: want %d bytes, got %d", len(k), len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// VisitGroup is the salted one-way digest of a (patient, year, code) triple.
// Counters are keyed by it so that no persisted structure carries the raw token.
type VisitGroup [32]byte

// String returns the lowercase hex form.
func (g VisitGroup) String() string {
	return hex.EncodeToString(g[:])
}

// Digest is a salted one-way digest of a patient token. Stores key per-patient
// records by it so the raw token never reaches persistence.
type Digest [32]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Domain separation labels for the derivations.
const (
	labelKey        = "veris/commitment-key/v1"
	labelVisitGroup = "veris/visit-group/v1"
	labelPatient    = "veris/patient-digest/v1"
)

// Deriver computes commitment keys and visit-group digests under one
// deployment salt.
type Deriver struct {
	salt [SaltSize]byte
}

// NewDeriver builds a Deriver from a raw deployment salt.
func NewDeriver(salt [SaltSize]byte) *Deriver {
	return &Deriver{salt: salt}
}

// DeriveSalt expands an operator master secret into a deployment salt using
// HKDF-SHA256, with the deployment name as the info string. Two deployments
// sharing a master secret but carrying different names obtain distinct salts.
func DeriveSalt(masterSecret []byte, deployment string) ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if len(masterSecret) == 0 {
		return salt, errors.New("commitment: empty master secret")
	}
	r := hkdf.New(sha256.New, masterSecret, []byte("veris-salt-kdf"), []byte(deployment))
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return salt, fmt.Errorf("commitment: salt derivation failed: %w", err)
	}
	return salt, nil
}

// Key derives the commitment key for one visit attempt. The visit argument is
// the sequence number the key commits to: the incremented count for a
// settlement, the current count for a rejection.
func (d *Deriver) Key(provider identity.Principal, patient identity.PatientToken, code, year uint16, visit uint64) Key {
	h := sha256.New()
	writeLabeled(h, labelKey)
	h.Write(d.salt[:])
	writeLenPrefixed(h, []byte(provider))
	h.Write(patient.Bytes())
	writeUint16(h, code)
	writeUint16(h, year)
	writeUint64(h, visit)

	var k Key
	h.Sum(k[:0])
	return k
}

// VisitGroup derives the counter key for a (patient, year, code) triple.
func (d *Deriver) VisitGroup(patient identity.PatientToken, code, year uint16) VisitGroup {
	h := sha256.New()
	writeLabeled(h, labelVisitGroup)
	h.Write(d.salt[:])
	h.Write(patient.Bytes())
	writeUint16(h, code)
	writeUint16(h, year)

	var g VisitGroup
	h.Sum(g[:0])
	return g
}

// PatientDigest derives the keying digest for per-patient records.
func (d *Deriver) PatientDigest(patient identity.PatientToken) Digest {
	h := sha256.New()
	writeLabeled(h, labelPatient)
	h.Write(d.salt[:])
	h.Write(patient.Bytes())

	var out Digest
	h.Sum(out[:0])
	return out
}

func writeLabeled(w io.Writer, label string) {
	writeLenPrefixed(w, []byte(label))
}

// writeLenPrefixed keeps variable-length fields unambiguous in the digest input.
func writeLenPrefixed(w io.Writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

func writeUint16(w io.Writer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeUint64(w io.Writer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}
