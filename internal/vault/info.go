package vault

import (
	"time"

	"github.com/vault-cli/lockbox/internal/container"
	"github.com/vault-cli/lockbox/internal/keys"
)

// Info describes the open vault. It carries no secrets.
type Info struct {
	Name       string         `json:"name"`
	Source     string         `json:"source"`
	CreatedAt  time.Time      `json:"created_at"`
	Cipher     string         `json:"cipher"`
	KDF        keys.KDFParams `json:"kdf"`
	SaltLength int            `json:"salt_length"`
	Entries    int            `json:"entries"`
	Compressed bool           `json:"compressed"`
}

// Info returns a description of the open vault.
func (m *Manager) Info() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.current()
	if err != nil {
		return Info{}, err
	}
	params := v.key.Params()
	info := Info{
		Name:       v.name,
		Source:     v.source,
		CreatedAt:  v.createdAt,
		Cipher:     params.Cipher.String(),
		KDF:        params.KDF,
		SaltLength: len(params.KDF.Salt),
		Entries:    v.repo.Len(),
		Compressed: v.opts.Compress,
	}
	info.KDF.Salt = nil
	return info, nil
}

// HeaderInfo is the plaintext part of a container, readable without
// credentials.
type HeaderInfo struct {
	Version    uint16         `json:"version"`
	Cipher     string         `json:"cipher"`
	KDF        keys.KDFParams `json:"kdf"`
	Scheme     keys.Scheme    `json:"scheme"`
	SaltLength int            `json:"salt_length"`
	Compressed bool           `json:"compressed"`
}

// Inspect reads the container header of data.
func Inspect(data []byte) (HeaderInfo, error) {
	h, err := container.ReadHeader(data)
	if err != nil {
		return HeaderInfo{}, err
	}
	info := HeaderInfo{
		Version:    h.Version,
		Cipher:     h.Cipher.String(),
		KDF:        h.KDF,
		Scheme:     h.Scheme,
		SaltLength: len(h.KDF.Salt),
		Compressed: h.Compressed,
	}
	info.KDF.Salt = nil
	return info, nil
}
