// Package keys turns user credentials into the symmetric key that protects a
// container.
package keys

import (
	"errors"

	"github.com/vault-cli/lockbox/internal/protect"
)

var (
	// ErrNotImplemented is returned for hardware keys; no hardware protocol
	// is supported yet.
	ErrNotImplemented = errors.New("hardware key support not implemented")
	// ErrInvalidKeyFile is returned when a supplied key file has no usable content.
	ErrInvalidKeyFile = errors.New("invalid key file")
	// ErrInvalidParams is returned when KDF or cipher parameters are out of bounds.
	ErrInvalidParams = errors.New("invalid key derivation parameters")
	// ErrKeyDestroyed is returned when a destroyed VaultKey is used.
	ErrKeyDestroyed = errors.New("vault key destroyed")
)

// HardwareKey is an opaque handle to a hardware token (e.g. a challenge
// response slot). It is accepted so callers can express the intent, but
// derivation refuses it.
type HardwareKey interface {
	Slot() string
}

// Credentials is the immutable input to Derive.
type Credentials struct {
	password    *protect.Value
	keyFile     *protect.Value
	hardwareKey HardwareKey
}

// Option configures optional credential parts.
type Option func(*Credentials)

// WithKeyFile mixes the given key file contents into the derivation. The
// bytes are copied.
func WithKeyFile(contents []byte) Option {
	return func(c *Credentials) {
		c.keyFile = protect.FromBytes(contents)
	}
}

// WithHardwareKey attaches a hardware key handle.
func WithHardwareKey(h HardwareKey) Option {
	return func(c *Credentials) {
		c.hardwareKey = h
	}
}

// NewCredentials builds credentials from a master password.
func NewCredentials(password *protect.Value, opts ...Option) *Credentials {
	c := &Credentials{password: password}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromPassword is a shortcut for NewCredentials(protect.FromString(password), opts...).
func FromPassword(password string, opts ...Option) *Credentials {
	return NewCredentials(protect.FromString(password), opts...)
}

// HasKeyFile reports whether a key file was supplied.
func (c *Credentials) HasKeyFile() bool {
	return c.keyFile != nil
}

// HasHardwareKey reports whether a hardware key was supplied.
func (c *Credentials) HasHardwareKey() bool {
	return c.hardwareKey != nil
}
