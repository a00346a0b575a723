// Package protect holds secret field values in memory without exposing them
// to casual inspection, logging or generic serialization.
package protect

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
)

const redacted = "[protected]"

// ErrNotSerializable is returned when a Value is handed to a generic encoder.
var ErrNotSerializable = errors.New("protected value cannot be serialized")

// Value is an immutable secret. The plaintext lives in a memguard enclave and
// is only available through RevealText and RevealBytes. A nil *Value is the
// empty secret.
type Value struct {
	enclave *memguard.Enclave
	size    int
}

// FromString protects s. The caller still owns s; Go strings cannot be wiped.
func FromString(s string) *Value {
	return FromBytes([]byte(s))
}

// FromBytes protects a copy of b. b is left untouched.
func FromBytes(b []byte) *Value {
	if len(b) == 0 {
		return &Value{}
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	// NewEnclave wipes buf once sealed.
	return &Value{enclave: memguard.NewEnclave(buf), size: len(b)}
}

// Wrap protects b and wipes it afterwards.
func Wrap(b []byte) *Value {
	v := FromBytes(b)
	memguard.WipeBytes(b)
	return v
}

// Len returns the length of the plaintext in bytes.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	return v.size
}

// IsEmpty reports whether the value holds no bytes.
func (v *Value) IsEmpty() bool {
	return v.Len() == 0
}

// RevealBytes returns a fresh copy of the plaintext. The caller is responsible
// for wiping it.
func (v *Value) RevealBytes() []byte {
	if v.IsEmpty() || v.enclave == nil {
		return []byte{}
	}
	buf, err := v.enclave.Open()
	if err != nil {
		// Only fails when the memguard session was purged.
		memguard.SafePanic(fmt.Errorf("protect: open enclave: %w", err))
	}
	defer buf.Destroy()

	out := make([]byte, buf.Size())
	copy(out, buf.Bytes())
	return out
}

// RevealText returns the plaintext decoded as UTF-8.
func (v *Value) RevealText() string {
	b := v.RevealBytes()
	s := string(b)
	memguard.WipeBytes(b)
	return s
}

// Use calls fn with the plaintext and wipes it when fn returns.
func (v *Value) Use(fn func([]byte) error) error {
	b := v.RevealBytes()
	defer memguard.WipeBytes(b)
	return fn(b)
}

// Equal compares two values in constant time with respect to their content.
func (v *Value) Equal(other *Value) bool {
	a := v.RevealBytes()
	defer memguard.WipeBytes(a)
	b := other.RevealBytes()
	defer memguard.WipeBytes(b)
	return subtle.ConstantTimeCompare(a, b) == 1
}

func (v *Value) String() string   { return redacted }
func (v *Value) GoString() string { return redacted }

// Format keeps every fmt verb, including %x and %q, away from the plaintext.
func (v *Value) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

// LogValue implements slog.LogValuer.
func (v *Value) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

func (v *Value) MarshalJSON() ([]byte, error) { return nil, ErrNotSerializable }
func (v *Value) MarshalText() ([]byte, error) { return nil, ErrNotSerializable }
