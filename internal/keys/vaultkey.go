package keys

import (
	"sync"

	"github.com/awnumar/memguard"
)

// VaultKey is a derived cipher key plus the parameters it was derived with.
// The key bytes live in a locked, guarded memguard buffer until Destroy.
type VaultKey struct {
	mu     sync.RWMutex
	buf    *memguard.LockedBuffer
	params Params
}

// newVaultKey takes ownership of key and wipes it.
func newVaultKey(key []byte, params Params) *VaultKey {
	buf := memguard.NewBufferFromBytes(key)
	buf.Freeze()
	return &VaultKey{buf: buf, params: params.Clone()}
}

// Params returns a copy of the derivation parameters.
func (k *VaultKey) Params() Params {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.params.Clone()
}

// Use calls fn with the raw key. fn must not retain the slice.
func (k *VaultKey) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.buf == nil || !k.buf.IsAlive() {
		return ErrKeyDestroyed
	}
	return fn(k.buf.Bytes())
}

// Alive reports whether the key can still be used.
func (k *VaultKey) Alive() bool {
	if k == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.buf != nil && k.buf.IsAlive()
}

// Destroy wipes the key. Safe to call more than once.
func (k *VaultKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
	memguard.WipeBytes(k.params.KDF.Salt)
}
