// Package identity defines the principal and patient token types shared by the
// adjudication pipeline. Patient tokens are opaque pseudonymous values: nothing in
// this package (or anywhere downstream) renders their raw bytes into logs, records,
// or API responses.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Principal identifies a calling party (a provider or the engine owner).
// It is an opaque stable identifier, e.g. the subject of an access token.
type Principal string

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool {
	return strings.TrimSpace(string(p)) == ""
}

func (p Principal) String() string {
	return string(p)
}

// PatientTokenSize is the fixed byte length of a pseudonymous patient token.
const PatientTokenSize = 32

// PatientToken is an opaque fixed-size pseudonymous patient identifier.
// Its raw bytes feed the commitment key derivation and nothing else; the
// String and Format implementations are deliberately redacting.
type PatientToken [PatientTokenSize]byte

// ErrBadPatientToken indicates a token that is malformed or the zero sentinel.
var ErrBadPatientToken = errors.New("identity: malformed patient token")

// ParsePatientToken decodes a hex-encoded token. The zero token is accepted
// here; callers that treat zero as a sentinel check IsZero themselves.
func ParsePatientToken(s string) (PatientToken, error) {
	var t PatientToken
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrBadPatientToken, err)
	}
	if len(raw) != PatientTokenSize {
		return t, fmt.Errorf("%w: want %d bytes, got %d", ErrBadPatientToken, PatientTokenSize, len(raw))
	}
	copy(t[:], raw)
	return t, nil
}

// IsZero reports whether the token is the all-zero sentinel.
func (t PatientToken) IsZero() bool {
	return t == PatientToken{}
}

// Bytes returns the raw token bytes. Only the commitment derivation should
// consume these.
func (t PatientToken) Bytes() []byte {
	out := make([]byte, PatientTokenSize)
	copy(out, t[:])
	return out
}

// String returns a redacted placeholder, never the token bytes.
func (t PatientToken) String() string {
	return "ptk:[redacted]"
}

// Format redacts under all fmt verbs, including %x and %v on the array.
func (t PatientToken) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, t.String())
}

// MarshalText redacts; a PatientToken never round-trips through serialization.
func (t PatientToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
