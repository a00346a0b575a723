package container

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vault-cli/lockbox/internal/keys"
)

func newAEAD(id keys.CipherID, key []byte) (cipher.AEAD, error) {
	if len(key) != keys.KeySize {
		return nil, fmt.Errorf("%w: key size %d", ErrInvalidFormat, len(key))
	}
	switch id {
	case keys.CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case keys.CipherChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create chacha20-poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: unknown cipher %s", ErrInvalidFormat, id)
	}
}

// seal encrypts plaintext and returns ciphertext and tag separately.
func seal(id keys.CipherID, key, nonce, plaintext, aad []byte) ([]byte, []byte, error) {
	aead, err := newAEAD(id, key)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	return sealed[:split], sealed[split:], nil
}

// open authenticates and decrypts. Any failure, including a wrong key, is
// reported as ErrAuthenticationFailed.
func open(id keys.CipherID, key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newAEAD(id, key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
