package container

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/entries"
	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
)

func lightParams(t *testing.T, cipher keys.CipherID) keys.Params {
	t.Helper()
	salt, err := keys.NewSalt()
	require.NoError(t, err)
	return keys.Params{
		Cipher: cipher,
		KDF: keys.KDFParams{
			Algorithm:   keys.KDFArgon2id,
			Iterations:  1,
			MemoryKB:    1024,
			Parallelism: 1,
			Salt:        salt,
		},
		Scheme: keys.SchemeCompositeV1,
	}
}

func sampleDocument() *Document {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	return &Document{
		Name:      "Test",
		CreatedAt: created,
		Entries: []domain.Entry{
			{
				ID:        id,
				NativeID:  id,
				Title:     "GitHub",
				Username:  "alice",
				Password:  protect.FromString("p@ss"),
				URL:       "https://github.com",
				Notes:     "line one\nline two",
				Icon:      "key",
				CreatedAt: created,
				UpdatedAt: created.Add(time.Hour),
				CustomFields: []domain.CustomField{
					{Key: "recovery", Value: domain.Protected("abcd-efgh")},
					{Key: "team", Value: domain.PlainValue("platform")},
				},
				Attachments: []domain.Attachment{
					{Name: "id_ed25519", MimeType: "application/octet-stream", Data: []byte{0, 1, 2, 0xff, 0xfe}},
					{Name: "empty.txt", MimeType: "text/plain", Data: []byte{}},
				},
				TOTP: &totp.Config{Secret: "JBSWY3DPEHPK3PXP", Algorithm: totp.SHA256, Digits: 8, Period: 60},
			},
			{
				ID:        uuid.New(),
				NativeID:  uuid.New(),
				Title:     "Imported",
				Password:  protect.FromString(""),
				CreatedAt: created,
				UpdatedAt: created,
			},
		},
	}
}

func assertEntriesEqual(t *testing.T, want, got domain.Entry) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.NativeID, got.NativeID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Username, got.Username)
	assert.Equal(t, want.Password.RevealText(), got.Password.RevealText())
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, want.Notes, got.Notes)
	assert.Equal(t, want.Icon, got.Icon)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	require.Len(t, got.CustomFields, len(want.CustomFields))
	for i, f := range want.CustomFields {
		assert.Equal(t, f.Key, got.CustomFields[i].Key)
		assert.Equal(t, f.Value.IsProtected(), got.CustomFields[i].Value.IsProtected())
		assert.Equal(t, f.Value.Reveal(), got.CustomFields[i].Value.Reveal())
	}

	require.Len(t, got.Attachments, len(want.Attachments))
	for i, a := range want.Attachments {
		assert.Equal(t, a.Name, got.Attachments[i].Name)
		assert.Equal(t, a.MimeType, got.Attachments[i].MimeType)
		assert.True(t, bytes.Equal(a.Data, got.Attachments[i].Data), "attachment %s differs", a.Name)
	}

	if want.TOTP == nil {
		assert.Nil(t, got.TOTP)
	} else {
		require.NotNil(t, got.TOTP)
		assert.Equal(t, want.TOTP.Normalize(), *got.TOTP)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, cipher := range []keys.CipherID{keys.CipherAES256GCM, keys.CipherChaCha20Poly1305} {
		for _, compress := range []bool{false, true} {
			name := cipher.String()
			if compress {
				name += "/gzip"
			}
			t.Run(name, func(t *testing.T) {
				codec := New()
				doc := sampleDocument()
				creds := keys.FromPassword("p@ss")

				data, err := codec.EncodeWithCredentials(doc, creds, lightParams(t, cipher), Options{Compress: compress})
				require.NoError(t, err)

				got, key, err := codec.Decode(data, creds)
				require.NoError(t, err)
				defer key.Destroy()

				assert.Equal(t, "Test", got.Name)
				assert.Equal(t, Generator, got.Generator)
				assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
				assert.Equal(t, compress, got.Options.Compress)
				assert.Equal(t, cipher, key.Params().Cipher)

				require.Len(t, got.Entries, len(doc.Entries))
				for i := range doc.Entries {
					assertEntriesEqual(t, doc.Entries[i], got.Entries[i])
				}
			})
		}
	}
}

func TestEncodeWithDerivedKey(t *testing.T) {
	codec := New()
	creds := keys.FromPassword("p@ss")
	key, err := keys.Derive(creds, lightParams(t, keys.CipherAES256GCM))
	require.NoError(t, err)
	defer key.Destroy()

	data, err := codec.Encode(sampleDocument(), key, Options{})
	require.NoError(t, err)

	doc, err := codec.DecodeWithKey(data, key)
	require.NoError(t, err)
	assert.Len(t, doc.Entries, 2)

	// Fresh nonce on every save.
	again, err := codec.Encode(sampleDocument(), key, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, data, again)
}

func TestWrongCredentials(t *testing.T) {
	codec := New()
	params := lightParams(t, keys.CipherAES256GCM)
	data, err := codec.EncodeWithCredentials(sampleDocument(), keys.FromPassword("p@ss"), params, Options{})
	require.NoError(t, err)

	_, key, err := codec.Decode(data, keys.FromPassword("wrong"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Nil(t, key)

	_, _, err = codec.Decode(data, keys.FromPassword("p@ss", keys.WithKeyFile([]byte("extra"))))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestKeyFileRequired(t *testing.T) {
	codec := New()
	creds := keys.FromPassword("p@ss", keys.WithKeyFile([]byte("my key file")))
	data, err := codec.EncodeWithCredentials(sampleDocument(), creds, lightParams(t, keys.CipherAES256GCM), Options{})
	require.NoError(t, err)

	_, _, err = codec.Decode(data, keys.FromPassword("p@ss"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, key, err := codec.Decode(data, keys.FromPassword("p@ss", keys.WithKeyFile([]byte("my key file"))))
	require.NoError(t, err)
	key.Destroy()
}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	data, err := New().EncodeWithCredentials(sampleDocument(), keys.FromPassword("p@ss"), lightParams(t, keys.CipherAES256GCM), Options{})
	require.NoError(t, err)
	return data
}

func TestDecodeCorruption(t *testing.T) {
	creds := keys.FromPassword("p@ss")

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrInvalidFormat},
		{"future version", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:], 2); return b }, ErrUnsupportedVersion},
		{"unknown cipher", func(b []byte) []byte { b[6] = 9; return b }, ErrInvalidFormat},
		{"unknown kdf", func(b []byte) []byte { b[7] = 9; return b }, ErrInvalidFormat},
		{"unknown flag", func(b []byte) []byte { b[9] |= 0x80; return b }, ErrInvalidFormat},
		{"header tampered", func(b []byte) []byte { b[9] ^= flagCompressed; return b }, ErrAuthenticationFailed},
		{"iterations tampered", func(b []byte) []byte { b[10]++; return b }, ErrAuthenticationFailed},
		{"truncated", func(b []byte) []byte { return b[:len(b)-5] }, ErrTruncated},
		{"header only", func(b []byte) []byte { return b[:12] }, ErrTruncated},
		{"empty", func(b []byte) []byte { return nil }, ErrTruncated},
		{"trailing garbage", func(b []byte) []byte { return append(b, 0) }, ErrInvalidFormat},
		{"ciphertext flipped", func(b []byte) []byte { b[len(b)-30] ^= 1; return b }, ErrAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(encodeSample(t))
			_, key, err := New().Decode(data, creds)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			assert.Nil(t, key)
		})
	}
}

func TestDecodeRejectsExcessiveKDFCost(t *testing.T) {
	data := encodeSample(t)
	data[7] = byte(keys.KDFPBKDF2)
	binary.LittleEndian.PutUint32(data[10:14], 0xFFFFFFFF)

	start := time.Now()
	_, key, err := New().Decode(data, keys.FromPassword("p@ss"))
	assert.ErrorIs(t, err, keys.ErrInvalidParams)
	assert.Nil(t, key)
	assert.Less(t, time.Since(start), 5*time.Second, "key derivation must not run")
}

func TestDecodeBadCompression(t *testing.T) {
	creds := keys.FromPassword("p@ss")
	key, err := keys.Derive(creds, lightParams(t, keys.CipherAES256GCM))
	require.NoError(t, err)
	defer key.Destroy()

	// Claim compression but store a raw JSON tree.
	nonce := make([]byte, NonceSize)
	header := newHeader(key.Params(), Options{Compress: true}, nonce)
	aad := header.marshal()
	var ciphertext, tag []byte
	require.NoError(t, key.Use(func(k []byte) error {
		ciphertext, tag, err = seal(header.Cipher, k, nonce, []byte(`{"entries":[]}`), aad)
		return err
	}))
	data := appendBlock(appendBlock(aad, ciphertext), tag)

	_, _, err = New().Decode(data, creds)
	assert.ErrorIs(t, err, ErrCompression)
}

func TestReadHeader(t *testing.T) {
	params := lightParams(t, keys.CipherChaCha20Poly1305)
	data, err := New().EncodeWithCredentials(sampleDocument(), keys.FromPassword("p@ss"), params, Options{Compress: true})
	require.NoError(t, err)

	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, h.Version)
	assert.Equal(t, keys.CipherChaCha20Poly1305, h.Cipher)
	assert.Equal(t, keys.KDFArgon2id, h.KDF.Algorithm)
	assert.Equal(t, uint32(1024), h.KDF.MemoryKB)
	assert.Equal(t, params.KDF.Salt, h.KDF.Salt)
	assert.True(t, h.Compressed)
	assert.Len(t, h.Nonce, NonceSize)
	assert.Equal(t, params.Scheme, h.Params().Scheme)
}

func TestProtectedValuesMaskedInTree(t *testing.T) {
	innerKey := bytes.Repeat([]byte{7}, innerKeySize)
	tree, err := encodeTree(sampleDocument(), innerKey)
	require.NoError(t, err)

	for _, secret := range []string{"p@ss", "abcd-efgh", "JBSWY3DPEHPK3PXP"} {
		assert.False(t, bytes.Contains(tree, []byte(secret)), "tree contains %q", secret)
	}
	assert.True(t, bytes.Contains(tree, []byte("platform")), "plain values stay readable")

	doc, err := decodeTree(tree, New().logger)
	require.NoError(t, err)
	assert.Equal(t, "p@ss", doc.Entries[0].Password.RevealText())
}

func TestIdentityResolution(t *testing.T) {
	native := uuid.New()
	appID := uuid.New()
	other := uuid.New()
	innerKey := bytes.Repeat([]byte{1}, innerKeySize)

	doc := &Document{Entries: []domain.Entry{
		{ID: appID, NativeID: native, Title: "aliased"},
		{ID: appID, NativeID: other, Title: "claims taken id"},
		{ID: other, NativeID: other, Title: "native taken"},
	}}

	tree, err := encodeTree(doc, innerKey)
	require.NoError(t, err)
	got, err := decodeTree(tree, New().logger)
	require.NoError(t, err)

	require.Len(t, got.Entries, 3)
	assert.Equal(t, appID, got.Entries[0].ID, "EntryId alias wins")
	assert.Equal(t, native, got.Entries[0].NativeID)
	assert.Equal(t, other, got.Entries[1].ID, "falls back to native when EntryId is taken")
	assert.NotEqual(t, other, got.Entries[2].ID, "fresh id when native is taken")
	assert.NotEqual(t, uuid.Nil, got.Entries[2].ID)
}

func TestCreatedEntryKeepsIDWhenNativeRewritten(t *testing.T) {
	repo := entries.New()
	e, err := repo.Create(domain.EntryDraft{Title: "Mail", Password: protect.FromString("p@ss")})
	require.NoError(t, err)

	tree, err := encodeTree(&Document{Entries: repo.List()}, bytes.Repeat([]byte{3}, innerKeySize))
	require.NoError(t, err)

	var raw treeDocument
	require.NoError(t, json.Unmarshal(tree, &raw))
	require.Len(t, raw.Entries, 1)
	var alias string
	for _, f := range raw.Entries[0].Fields {
		if f.Name == domain.FieldEntryID {
			alias = f.Value
		}
	}
	assert.Equal(t, e.ID.String(), alias)

	rewritten := uuid.New()
	raw.Entries[0].UUID = rewritten[:]
	tree, err = json.Marshal(raw)
	require.NoError(t, err)

	doc, err := decodeTree(tree, New().logger)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, e.ID, doc.Entries[0].ID)
	assert.Equal(t, rewritten, doc.Entries[0].NativeID)
}

func TestDecodeToleratesForeignFields(t *testing.T) {
	native := uuid.New()
	innerKey := base64.StdEncoding.EncodeToString(make([]byte, innerKeySize))
	tree := []byte(`{"name":"x","inner_key":"` + innerKey + `","entries":[{"uuid":"` +
		base64.StdEncoding.EncodeToString(native[:]) + `","fields":[` +
		`{"name":"Title","value":"t"},` +
		`{"name":"Password","value":"plain-stored"},` +
		`{"name":"EntryId","value":"not-a-uuid"},` +
		`{"name":"otp","value":"garbage"},` +
		`{"name":"dup","value":"1"},{"name":"dup","value":"2"},` +
		`{"name":"","value":"nameless"}` +
		`],"times":{}}]}`)

	doc, err := decodeTree(tree, New().logger)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)

	e := doc.Entries[0]
	assert.Equal(t, native, e.ID)
	assert.Equal(t, "plain-stored", e.Password.RevealText())
	assert.Nil(t, e.TOTP)
	assert.Equal(t, []domain.CustomField{{Key: "dup", Value: domain.PlainValue("1")}}, e.CustomFields)
}
