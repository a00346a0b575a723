// Package container reads and writes the encrypted vault file format.
//
// A container is a plaintext header (format version, cipher, KDF parameters,
// nonce) followed by an AEAD-sealed payload. The payload is the JSON entry
// tree, optionally gzip compressed. Protected field values inside the tree
// are additionally masked with a ChaCha20 stream keyed per document.
package container

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/keys"
)

var (
	ErrUnsupportedVersion   = errors.New("unsupported container version")
	ErrAuthenticationFailed = errors.New("container authentication failed")
	ErrTruncated            = errors.New("container truncated")
	ErrCompression          = errors.New("container payload decompression failed")
	ErrInvalidFormat        = errors.New("invalid container format")
)

// Generator is written into new documents.
const Generator = "lockbox"

// Document is the decrypted content of a container.
type Document struct {
	Name      string
	Generator string
	CreatedAt time.Time
	Entries   []domain.Entry
	// Options records how the container was stored, so a save can keep it.
	Options Options
}

// Options controls how a document is written.
type Options struct {
	Compress bool
}

// Codec encodes and decodes containers. The zero value is not usable; call New.
type Codec struct {
	rand   io.Reader
	logger *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used for recoverable decode anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRandom replaces the source of nonces and inner keys. Tests only.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.rand = r
	}
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		rand:   rand.Reader,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode derives the key from creds and the header parameters, then
// authenticates and decodes the container. The returned key belongs to the
// caller, who must Destroy it.
func (c *Codec) Decode(data []byte, creds *keys.Credentials) (*Document, *keys.VaultKey, error) {
	f, err := parse(data)
	if err != nil {
		return nil, nil, err
	}

	key, err := keys.Derive(creds, f.header.Params())
	if err != nil {
		return nil, nil, err
	}

	doc, err := c.decodeFrame(f, key)
	if err != nil {
		key.Destroy()
		return nil, nil, err
	}
	return doc, key, nil
}

// DecodeWithKey decodes a container with an already derived key. The header
// parameters must match the key's.
func (c *Codec) DecodeWithKey(data []byte, key *keys.VaultKey) (*Document, error) {
	f, err := parse(data)
	if err != nil {
		return nil, err
	}
	return c.decodeFrame(f, key)
}

func (c *Codec) decodeFrame(f *frame, key *keys.VaultKey) (*Document, error) {
	var plaintext []byte
	err := key.Use(func(k []byte) error {
		var err error
		plaintext, err = open(f.header.Cipher, k, f.header.Nonce, f.ciphertext, f.tag, f.aad)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)

	if f.header.Compressed {
		inflated, err := gunzip(plaintext)
		if err != nil {
			return nil, err
		}
		defer memguard.WipeBytes(inflated)
		plaintext = inflated
	}

	doc, err := decodeTree(plaintext, c.logger)
	if err != nil {
		return nil, err
	}
	doc.Options = Options{Compress: f.header.Compressed}
	c.logger.Debug("container decoded",
		slog.Int("entries", len(doc.Entries)),
		slog.String("cipher", f.header.Cipher.String()),
		slog.String("kdf", f.header.KDF.Algorithm.String()))
	return doc, nil
}

// Encode writes doc with an already derived key. No key derivation happens
// here, which keeps saves fast.
func (c *Codec) Encode(doc *Document, key *keys.VaultKey, opts Options) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidFormat)
	}

	innerKey := make([]byte, innerKeySize)
	if _, err := io.ReadFull(c.rand, innerKey); err != nil {
		return nil, fmt.Errorf("failed to generate inner key: %w", err)
	}
	defer memguard.WipeBytes(innerKey)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext, err := encodeTree(doc, innerKey)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)

	if opts.Compress {
		deflated, err := gzipBytes(plaintext)
		if err != nil {
			return nil, err
		}
		defer memguard.WipeBytes(deflated)
		plaintext = deflated
	}

	header := newHeader(key.Params(), opts, nonce)
	aad := header.marshal()

	var ciphertext, tag []byte
	err = key.Use(func(k []byte) error {
		var err error
		ciphertext, tag, err = seal(header.Cipher, k, nonce, plaintext, aad)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(aad)+8+len(ciphertext)+len(tag))
	out = append(out, aad...)
	out = appendBlock(out, ciphertext)
	out = appendBlock(out, tag)
	return out, nil
}

// EncodeWithCredentials derives a fresh key from creds and params and
// encodes doc with it.
func (c *Codec) EncodeWithCredentials(doc *Document, creds *keys.Credentials, params keys.Params, opts Options) ([]byte, error) {
	key, err := keys.Derive(creds, params)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	return c.Encode(doc, key, opts)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	return out, nil
}
