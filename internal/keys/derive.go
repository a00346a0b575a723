package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// containerInfo binds derived keys to this container format version.
const containerInfo = "lockbox/container/v1"

// Derive runs the composite key scheme and the configured KDF, returning the
// cipher key for the container described by params.
func Derive(creds *Credentials, params Params) (*VaultKey, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: missing credentials", ErrInvalidParams)
	}
	if creds.hardwareKey != nil {
		return nil, ErrNotImplemented
	}
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	composite, err := compositeKey(creds)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(composite)

	master := stretch(composite, params.KDF)
	defer memguard.WipeBytes(master)

	cipherKey := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, params.KDF.Salt, []byte(containerInfo))
	if _, err := io.ReadFull(r, cipherKey); err != nil {
		memguard.WipeBytes(cipherKey)
		return nil, fmt.Errorf("failed to expand key: %w", err)
	}

	return newVaultKey(cipherKey, params), nil
}

// compositeKey implements SchemeCompositeV1:
// SHA-256(SHA-256(utf8(password)) || keyFileMaterial).
func compositeKey(creds *Credentials) ([]byte, error) {
	var pwHash [sha256.Size]byte
	err := creds.password.Use(func(pw []byte) error {
		pwHash = sha256.Sum256(pw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(pwHash[:])

	h := sha256.New()
	h.Write(pwHash[:])

	if creds.keyFile != nil {
		err := creds.keyFile.Use(func(contents []byte) error {
			material, err := keyFileMaterial(contents)
			if err != nil {
				return err
			}
			defer memguard.WipeBytes(material)
			h.Write(material)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return h.Sum(nil), nil
}

// keyFileMaterial normalizes key file contents: 32 raw bytes are used as is,
// 64 hex characters are decoded, anything else is hashed with SHA-256.
func keyFileMaterial(contents []byte) ([]byte, error) {
	if len(contents) == 0 {
		return nil, ErrInvalidKeyFile
	}
	if len(contents) == KeySize {
		return append([]byte(nil), contents...), nil
	}

	trimmed := bytes.TrimSpace(contents)
	if len(trimmed) == 2*KeySize {
		decoded := make([]byte, KeySize)
		if _, err := hex.Decode(decoded, trimmed); err == nil {
			return decoded, nil
		}
		memguard.WipeBytes(decoded)
	}

	sum := sha256.Sum256(contents)
	return sum[:], nil
}

func stretch(composite []byte, k KDFParams) []byte {
	switch k.Algorithm {
	case KDFPBKDF2:
		return pbkdf2.Key(composite, k.Salt, int(k.Iterations), KeySize, sha256.New)
	default:
		return argon2.IDKey(composite, k.Salt, k.Iterations, k.MemoryKB, k.Parallelism, KeySize)
	}
}
