package keys

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// KeySize is the size of every derived cipher key (AES-256, ChaCha20).
	KeySize = 32
	// SaltSize is the size of the KDF salt stored in the container header.
	SaltSize = 32

	// Default Argon2id parameters (tuned for ~300ms on modern hardware)
	DefaultArgon2Memory      = 64 * 1024 // 64 MB
	DefaultArgon2Iterations  = 3
	DefaultArgon2Parallelism = 4

	DefaultPBKDF2Iterations = 600000
	MinPBKDF2Iterations     = 1000
	MaxPBKDF2Iterations     = 10_000_000
)

// CipherID identifies the payload cipher. The numeric values are part of the
// container format.
type CipherID uint8

const (
	CipherAES256GCM        CipherID = 1
	CipherChaCha20Poly1305 CipherID = 2
)

func (c CipherID) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

// Valid reports whether c is a cipher this build implements.
func (c CipherID) Valid() bool {
	return c == CipherAES256GCM || c == CipherChaCha20Poly1305
}

// ParseCipher accepts the names used in config files and CLI flags.
func ParseCipher(s string) (CipherID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "aes", "aes256", "aes-256", "aes256-gcm", "aes-256-gcm":
		return CipherAES256GCM, nil
	case "chacha20", "chacha20-poly1305", "chacha":
		return CipherChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: unknown cipher %q", ErrInvalidParams, s)
	}
}

// KDFAlgorithm identifies the password hashing function. The numeric values
// are part of the container format.
type KDFAlgorithm uint8

const (
	KDFArgon2id KDFAlgorithm = 1
	KDFPBKDF2   KDFAlgorithm = 2
)

func (a KDFAlgorithm) String() string {
	switch a {
	case KDFArgon2id:
		return "argon2id"
	case KDFPBKDF2:
		return "pbkdf2-sha256"
	default:
		return fmt.Sprintf("kdf(%d)", uint8(a))
	}
}

// Valid reports whether a is a KDF this build implements.
func (a KDFAlgorithm) Valid() bool {
	return a == KDFArgon2id || a == KDFPBKDF2
}

// ParseKDF accepts the names used in config files and CLI flags.
func ParseKDF(s string) (KDFAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "argon2", "argon2id":
		return KDFArgon2id, nil
	case "pbkdf2", "pbkdf2-sha256":
		return KDFPBKDF2, nil
	default:
		return 0, fmt.Errorf("%w: unknown kdf %q", ErrInvalidParams, s)
	}
}

// KDFParams holds the key derivation parameters. They are stored in
// plaintext in the container header so the key can be re-derived on open.
type KDFParams struct {
	Algorithm   KDFAlgorithm `json:"algorithm"`
	Iterations  uint32       `json:"iterations"`
	MemoryKB    uint32       `json:"memory_kb"`
	Parallelism uint8        `json:"parallelism"`
	Salt        []byte       `json:"-"`
}

// Scheme versions the way password and key file are combined before the KDF.
type Scheme uint8

// SchemeCompositeV1 is SHA-256(SHA-256(password) || keyFileMaterial).
const SchemeCompositeV1 Scheme = 1

// Params is everything needed, besides credentials, to derive a VaultKey.
type Params struct {
	Cipher CipherID  `json:"cipher"`
	KDF    KDFParams `json:"kdf"`
	Scheme Scheme    `json:"scheme"`
}

// DefaultArgon2Params returns the default Argon2id parameters without a salt.
func DefaultArgon2Params() KDFParams {
	return KDFParams{
		Algorithm:   KDFArgon2id,
		Iterations:  DefaultArgon2Iterations,
		MemoryKB:    DefaultArgon2Memory,
		Parallelism: DefaultArgon2Parallelism,
	}
}

// DefaultPBKDF2Params returns the default PBKDF2-SHA256 parameters without a salt.
func DefaultPBKDF2Params() KDFParams {
	return KDFParams{
		Algorithm:  KDFPBKDF2,
		Iterations: DefaultPBKDF2Iterations,
	}
}

// DefaultParams returns AES-256-GCM with Argon2id and a fresh salt.
func DefaultParams() (Params, error) {
	salt, err := NewSalt()
	if err != nil {
		return Params{}, err
	}
	kdf := DefaultArgon2Params()
	kdf.Salt = salt
	return Params{Cipher: CipherAES256GCM, KDF: kdf, Scheme: SchemeCompositeV1}, nil
}

// NewSalt creates a cryptographically secure random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// WithFreshSalt returns a copy of p carrying a newly generated salt.
func (p Params) WithFreshSalt() (Params, error) {
	salt, err := NewSalt()
	if err != nil {
		return Params{}, err
	}
	p.KDF.Salt = salt
	return p, nil
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := p
	out.KDF.Salt = append([]byte(nil), p.KDF.Salt...)
	return out
}

// ValidateParams checks cipher, scheme and KDF bounds.
func ValidateParams(p Params) error {
	if !p.Cipher.Valid() {
		return fmt.Errorf("%w: unsupported cipher %s", ErrInvalidParams, p.Cipher)
	}
	if p.Scheme != SchemeCompositeV1 {
		return fmt.Errorf("%w: unsupported key scheme %d", ErrInvalidParams, p.Scheme)
	}
	if len(p.KDF.Salt) < 16 {
		return fmt.Errorf("%w: salt too short (minimum 16 bytes)", ErrInvalidParams)
	}
	return ValidateKDFParams(p.KDF)
}

// ValidateKDFParams checks the KDF parameter bounds.
func ValidateKDFParams(k KDFParams) error {
	switch k.Algorithm {
	case KDFArgon2id:
		if k.MemoryKB < 1024 {
			return fmt.Errorf("%w: memory parameter too low (minimum 1024 KB)", ErrInvalidParams)
		}
		if k.MemoryKB > 1024*1024 {
			return fmt.Errorf("%w: memory parameter too high (maximum 1 GB)", ErrInvalidParams)
		}
		if k.Iterations < 1 {
			return fmt.Errorf("%w: iterations parameter too low (minimum 1)", ErrInvalidParams)
		}
		if k.Iterations > 100 {
			return fmt.Errorf("%w: iterations parameter too high (maximum 100)", ErrInvalidParams)
		}
		if k.Parallelism < 1 {
			return fmt.Errorf("%w: parallelism parameter too low (minimum 1)", ErrInvalidParams)
		}
		if k.Parallelism >= 255 {
			return fmt.Errorf("%w: parallelism parameter too high (maximum 254)", ErrInvalidParams)
		}
	case KDFPBKDF2:
		if k.Iterations < MinPBKDF2Iterations {
			return fmt.Errorf("%w: iterations parameter too low (minimum %d)", ErrInvalidParams, MinPBKDF2Iterations)
		}
		if k.Iterations > MaxPBKDF2Iterations {
			return fmt.Errorf("%w: iterations parameter too high (maximum %d)", ErrInvalidParams, MaxPBKDF2Iterations)
		}
	default:
		return fmt.Errorf("%w: unsupported kdf %s", ErrInvalidParams, k.Algorithm)
	}
	return nil
}
