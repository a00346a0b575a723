package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

func testParams(t *testing.T) Params {
	t.Helper()
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}
	return Params{
		Cipher: CipherAES256GCM,
		KDF: KDFParams{
			Algorithm:   KDFArgon2id,
			Iterations:  1,
			MemoryKB:    1024,
			Parallelism: 1,
			Salt:        salt,
		},
		Scheme: SchemeCompositeV1,
	}
}

func keyBytes(t *testing.T, k *VaultKey) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, k.Use(func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	}))
	return out
}

func derive(t *testing.T, creds *Credentials, params Params) []byte {
	t.Helper()
	k, err := Derive(creds, params)
	require.NoError(t, err)
	defer k.Destroy()
	return keyBytes(t, k)
}

func TestDeriveMatchesCompositeScheme(t *testing.T) {
	params := testParams(t)

	p := sha256.Sum256([]byte("p@ss"))
	composite := sha256.Sum256(p[:])
	master := argon2.IDKey(composite[:], params.KDF.Salt, 1, 1024, 1, KeySize)
	want := make([]byte, KeySize)
	_, err := io.ReadFull(hkdf.New(sha256.New, master, params.KDF.Salt, []byte("lockbox/container/v1")), want)
	require.NoError(t, err)

	got := derive(t, FromPassword("p@ss"), params)
	assert.Equal(t, want, got)
}

func TestDeriveDeterministic(t *testing.T) {
	params := testParams(t)

	key1 := derive(t, FromPassword("test-passphrase-123"), params)
	key2 := derive(t, FromPassword("test-passphrase-123"), params)
	if !bytes.Equal(key1, key2) {
		t.Error("Same inputs should produce same key")
	}

	key3 := derive(t, FromPassword("different-passphrase"), params)
	if bytes.Equal(key1, key3) {
		t.Error("Different passphrase should produce different key")
	}

	other := params.Clone()
	other.KDF.Salt[0] ^= 0xff
	key4 := derive(t, FromPassword("test-passphrase-123"), other)
	if bytes.Equal(key1, key4) {
		t.Error("Different salt should produce different key")
	}
}

func TestDerivePBKDF2(t *testing.T) {
	argonParams := testParams(t)
	pbkdfParams := argonParams.Clone()
	pbkdfParams.KDF = KDFParams{Algorithm: KDFPBKDF2, Iterations: MinPBKDF2Iterations, Salt: argonParams.KDF.Salt}

	a := derive(t, FromPassword("pw"), argonParams)
	b := derive(t, FromPassword("pw"), pbkdfParams)
	assert.Len(t, b, KeySize)
	assert.NotEqual(t, a, b)
}

func TestDeriveKeyFileMaterial(t *testing.T) {
	params := testParams(t)

	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(0xa0 + i)
	}
	hexed := []byte(hex.EncodeToString(raw) + "\n")
	arbitrary := []byte("<KeyFile><Key>some xml</Key></KeyFile>")
	hashed := sha256.Sum256(arbitrary)

	noFile := derive(t, FromPassword("pw"), params)
	withRaw := derive(t, FromPassword("pw", WithKeyFile(raw)), params)
	withHex := derive(t, FromPassword("pw", WithKeyFile(hexed)), params)
	withArbitrary := derive(t, FromPassword("pw", WithKeyFile(arbitrary)), params)
	withHashed := derive(t, FromPassword("pw", WithKeyFile(hashed[:])), params)

	assert.NotEqual(t, noFile, withRaw, "key file must change the key")
	assert.Equal(t, withRaw, withHex, "64 hex chars decode to the same material as 32 raw bytes")
	assert.Equal(t, withArbitrary, withHashed, "other contents are hashed with SHA-256")
}

func TestDeriveErrors(t *testing.T) {
	tests := []struct {
		name    string
		creds   *Credentials
		mutate  func(*Params)
		wantErr error
	}{
		{"nil credentials", nil, nil, ErrInvalidParams},
		{"empty key file", FromPassword("pw", WithKeyFile(nil)), nil, ErrInvalidKeyFile},
		{"hardware key", FromPassword("pw", WithHardwareKey(testHardwareKey{})), nil, ErrNotImplemented},
		{"unknown cipher", FromPassword("pw"), func(p *Params) { p.Cipher = 9 }, ErrInvalidParams},
		{"unknown scheme", FromPassword("pw"), func(p *Params) { p.Scheme = 2 }, ErrInvalidParams},
		{"short salt", FromPassword("pw"), func(p *Params) { p.KDF.Salt = p.KDF.Salt[:8] }, ErrInvalidParams},
		{"argon2 memory", FromPassword("pw"), func(p *Params) { p.KDF.MemoryKB = 512 }, ErrInvalidParams},
		{"pbkdf2 iterations", FromPassword("pw"), func(p *Params) {
			p.KDF = KDFParams{Algorithm: KDFPBKDF2, Iterations: 10, Salt: p.KDF.Salt}
		}, ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(t)
			if tt.mutate != nil {
				tt.mutate(&params)
			}
			k, err := Derive(tt.creds, params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if k != nil {
				t.Error("expected no key on error")
			}
		})
	}
}

type testHardwareKey struct{}

func (testHardwareKey) Slot() string { return "2" }

func TestVaultKeyDestroy(t *testing.T) {
	k, err := Derive(FromPassword("pw"), testParams(t))
	require.NoError(t, err)
	require.True(t, k.Alive())

	k.Destroy()
	k.Destroy()

	assert.False(t, k.Alive())
	err = k.Use(func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestVaultKeyParamsAreCopied(t *testing.T) {
	params := testParams(t)
	k, err := Derive(FromPassword("pw"), params)
	require.NoError(t, err)
	defer k.Destroy()

	got := k.Params()
	got.KDF.Salt[0] ^= 0xff
	assert.Equal(t, params.KDF.Salt, k.Params().KDF.Salt)
}

func TestValidateKDFParams(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{"argon2 defaults", DefaultArgon2Params(), false},
		{"pbkdf2 defaults", DefaultPBKDF2Params(), false},
		{"argon2 memory too high", KDFParams{Algorithm: KDFArgon2id, MemoryKB: 2 * 1024 * 1024, Iterations: 1, Parallelism: 1}, true},
		{"argon2 no iterations", KDFParams{Algorithm: KDFArgon2id, MemoryKB: 1024, Parallelism: 1}, true},
		{"argon2 too many iterations", KDFParams{Algorithm: KDFArgon2id, MemoryKB: 1024, Iterations: 101, Parallelism: 1}, true},
		{"argon2 no parallelism", KDFParams{Algorithm: KDFArgon2id, MemoryKB: 1024, Iterations: 1}, true},
		{"argon2 parallelism 255", KDFParams{Algorithm: KDFArgon2id, MemoryKB: 1024, Iterations: 1, Parallelism: 255}, true},
		{"pbkdf2 too few iterations", KDFParams{Algorithm: KDFPBKDF2, Iterations: MinPBKDF2Iterations - 1}, true},
		{"pbkdf2 at maximum", KDFParams{Algorithm: KDFPBKDF2, Iterations: MaxPBKDF2Iterations}, false},
		{"pbkdf2 above maximum", KDFParams{Algorithm: KDFPBKDF2, Iterations: MaxPBKDF2Iterations + 1}, true},
		{"pbkdf2 max uint32", KDFParams{Algorithm: KDFPBKDF2, Iterations: 0xFFFFFFFF}, true},
		{"unknown algorithm", KDFParams{Algorithm: 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKDFParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKDFParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseNames(t *testing.T) {
	c, err := ParseCipher("ChaCha20-Poly1305")
	require.NoError(t, err)
	assert.Equal(t, CipherChaCha20Poly1305, c)

	c, err = ParseCipher("")
	require.NoError(t, err)
	assert.Equal(t, CipherAES256GCM, c)

	_, err = ParseCipher("des")
	assert.ErrorIs(t, err, ErrInvalidParams)

	a, err := ParseKDF("pbkdf2")
	require.NoError(t, err)
	assert.Equal(t, KDFPBKDF2, a)

	_, err = ParseKDF("scrypt")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDefaultParamsFreshSalt(t *testing.T) {
	p1, err := DefaultParams()
	require.NoError(t, err)
	p2, err := p1.WithFreshSalt()
	require.NoError(t, err)

	assert.Len(t, p1.KDF.Salt, SaltSize)
	assert.NotEqual(t, p1.KDF.Salt, p2.KDF.Salt)
	assert.NoError(t, ValidateParams(p1))
}

func TestBenchmarkKDF(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	d := BenchmarkKDF(KDFParams{Algorithm: KDFArgon2id, Iterations: 1, MemoryKB: 1024, Parallelism: 1}, salt)
	if d <= 0 {
		t.Errorf("expected positive duration, got %v", d)
	}
}
