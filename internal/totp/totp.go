// Package totp implements time-based one-time passwords (RFC 6238) on top of
// HOTP (RFC 4226), plus the otpauth:// URI exchange format.
//
// The package is stateless; every function takes the configuration and the
// clock reading it needs.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30
	// DefaultWindow accepts the previous and next time step.
	DefaultWindow = 1

	secretSize = 20 // 160-bit secret
)

var (
	ErrMissingSecret        = errors.New("missing totp secret")
	ErrInvalidSecret        = errors.New("totp secret is not valid base32")
	ErrInvalidDigits        = errors.New("totp digits must be 6 or 8")
	ErrInvalidPeriod        = errors.New("totp period must be positive")
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
	ErrUnsupportedScheme    = errors.New("unsupported otp uri scheme")
	ErrMalformedURI         = errors.New("malformed otpauth uri")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Algorithm is the HMAC hash used for code generation.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

// ParseAlgorithm accepts SHA1, SHA256 and SHA512 in any case, with or
// without a dash. An empty string means SHA1.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func (a Algorithm) hash() (func() hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Config is the TOTP configuration attached to an entry.
type Config struct {
	Secret    string    `json:"secret"`
	Algorithm Algorithm `json:"algorithm,omitempty"`
	Digits    int       `json:"digits,omitempty"`
	Period    int       `json:"period,omitempty"`
}

// Normalize fills in defaults and canonicalizes the secret (upper case, no
// spaces, no padding).
func (c Config) Normalize() Config {
	c.Secret = strings.TrimRight(strings.ToUpper(strings.Join(strings.Fields(c.Secret), "")), "=")
	if alg, err := ParseAlgorithm(string(c.Algorithm)); err == nil {
		c.Algorithm = alg
	}
	if c.Digits == 0 {
		c.Digits = DefaultDigits
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	return c
}

// Validate checks a normalized configuration.
func (c Config) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if _, err := c.key(); err != nil {
		return err
	}
	if _, err := c.Algorithm.hash(); err != nil {
		return err
	}
	if c.Digits != 6 && c.Digits != 8 {
		return fmt.Errorf("%w: got %d", ErrInvalidDigits, c.Digits)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPeriod, c.Period)
	}
	return nil
}

func (c Config) key() ([]byte, error) {
	key, err := secretEncoding.DecodeString(c.Secret)
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// GenerateSecret returns a random 160-bit secret encoded as unpadded base32.
func GenerateSecret() (string, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	defer zero(secret)
	return secretEncoding.EncodeToString(secret), nil
}

// Counter returns the time step containing now.
func Counter(cfg Config, now time.Time) uint64 {
	cfg = cfg.Normalize()
	if cfg.Period <= 0 {
		return 0
	}
	unix := now.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(cfg.Period)
}

// Remaining returns how long the code generated at now stays current.
func Remaining(cfg Config, now time.Time) time.Duration {
	cfg = cfg.Normalize()
	if cfg.Period <= 0 {
		return 0
	}
	period := time.Duration(cfg.Period) * time.Second
	next := time.Unix(int64(Counter(cfg, now)+1)*int64(cfg.Period), 0)
	if d := next.Sub(now); d > 0 && d <= period {
		return d
	}
	return period
}

// Code returns the code for the time step containing now.
func Code(cfg Config, now time.Time) (string, error) {
	return CodeAt(cfg, Counter(cfg, now))
}

// CodeAt returns the HOTP value for counter, zero-padded to cfg.Digits.
func CodeAt(cfg Config, counter uint64) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	key, err := cfg.key()
	if err != nil {
		return "", err
	}
	defer zero(key)
	newHash, err := cfg.Algorithm.hash()
	if err != nil {
		return "", err
	}
	return hotp(newHash, key, counter, cfg.Digits), nil
}

// Verify reports whether candidate matches any time step within window steps
// of now. Every step in the window is compared in constant time; there is no
// early exit on a match.
func Verify(cfg Config, candidate string, now time.Time, window int) bool {
	cfg = cfg.Normalize()
	if cfg.Validate() != nil {
		return false
	}
	key, err := cfg.key()
	if err != nil {
		return false
	}
	defer zero(key)
	newHash, err := cfg.Algorithm.hash()
	if err != nil {
		return false
	}
	if window < 0 {
		window = 0
	}

	candidate = strings.TrimSpace(candidate)
	counter := int64(Counter(cfg, now))
	match := 0
	for i := -int64(window); i <= int64(window); i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		code := hotp(newHash, key, uint64(cur), cfg.Digits)
		match |= subtle.ConstantTimeCompare([]byte(code), []byte(candidate))
	}
	return match == 1
}

var pow10 = map[int]uint32{6: 1000000, 8: 100000000}

func hotp(newHash func() hash.Hash, key []byte, counter uint64, digits int) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(newHash, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", digits, trunc%pow10[digits])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
