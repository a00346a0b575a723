package container

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vault-cli/lockbox/internal/keys"
)

const (
	// Magic identifies a lockbox container.
	Magic = "LKBX"
	// FormatVersion is the only container version this build reads and writes.
	FormatVersion uint16 = 1

	NonceSize = 12 // both GCM and ChaCha20-Poly1305
	TagSize   = 16

	flagCompressed uint8 = 1 << 0

	// magic(4) version(2) cipher(1) kdf(1) scheme(1) flags(1)
	// iterations(4) memory(4) parallelism(1)
	fixedHeaderSize = 4 + 2 + 1 + 1 + 1 + 1 + 4 + 4 + 1
)

// Header is the plaintext part of a container. Its serialized bytes, up to and
// including the nonce, are authenticated as additional data.
type Header struct {
	Version    uint16
	Cipher     keys.CipherID
	KDF        keys.KDFParams
	Scheme     keys.Scheme
	Compressed bool
	Nonce      []byte
}

// Params returns the key derivation parameters recorded in the header.
func (h *Header) Params() keys.Params {
	return keys.Params{Cipher: h.Cipher, KDF: h.KDF, Scheme: h.Scheme}.Clone()
}

func newHeader(params keys.Params, opts Options, nonce []byte) *Header {
	p := params.Clone()
	return &Header{
		Version:    FormatVersion,
		Cipher:     p.Cipher,
		KDF:        p.KDF,
		Scheme:     p.Scheme,
		Compressed: opts.Compress,
		Nonce:      nonce,
	}
}

// marshal serializes the header (magic through nonce).
func (h *Header) marshal() []byte {
	buf := make([]byte, 0, fixedHeaderSize+4+len(h.KDF.Salt)+4+len(h.Nonce))

	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = append(buf, byte(h.Cipher), byte(h.KDF.Algorithm), byte(h.Scheme))

	var flags uint8
	if h.Compressed {
		flags |= flagCompressed
	}
	buf = append(buf, flags)

	buf = binary.LittleEndian.AppendUint32(buf, h.KDF.Iterations)
	buf = binary.LittleEndian.AppendUint32(buf, h.KDF.MemoryKB)
	buf = append(buf, h.KDF.Parallelism)

	buf = appendBlock(buf, h.KDF.Salt)
	buf = appendBlock(buf, h.Nonce)
	return buf
}

func appendBlock(buf, block []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(block)))
	return append(buf, block...)
}

// ReadHeader parses the plaintext header without credentials.
func ReadHeader(data []byte) (*Header, error) {
	f, err := parse(data)
	if err != nil {
		return nil, err
	}
	return f.header, nil
}

// frame is a parsed container.
type frame struct {
	header     *Header
	aad        []byte
	ciphertext []byte
	tag        []byte
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) block() ([]byte, error) {
	lenBytes, err := r.next(4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if uint64(n) > uint64(len(r.data)-r.off) {
		return nil, ErrTruncated
	}
	b, err := r.next(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func parse(data []byte) (*frame, error) {
	if len(data) < len(Magic) {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	if len(data) < len(Magic)+2 {
		return nil, ErrTruncated
	}
	version := binary.LittleEndian.Uint16(data[len(Magic):])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	r := &reader{data: data}
	fixed, err := r.next(fixedHeaderSize)
	if err != nil {
		return nil, err
	}

	h := &Header{
		Version:    version,
		Cipher:     keys.CipherID(fixed[6]),
		Scheme:     keys.Scheme(fixed[8]),
		Compressed: fixed[9]&flagCompressed != 0,
		KDF: keys.KDFParams{
			Algorithm:   keys.KDFAlgorithm(fixed[7]),
			Iterations:  binary.LittleEndian.Uint32(fixed[10:14]),
			MemoryKB:    binary.LittleEndian.Uint32(fixed[14:18]),
			Parallelism: fixed[18],
		},
	}
	if !h.Cipher.Valid() {
		return nil, fmt.Errorf("%w: unknown cipher id %d", ErrInvalidFormat, uint8(h.Cipher))
	}
	if !h.KDF.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: unknown kdf id %d", ErrInvalidFormat, uint8(h.KDF.Algorithm))
	}
	if fixed[9]&^flagCompressed != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrInvalidFormat, fixed[9])
	}

	if h.KDF.Salt, err = r.block(); err != nil {
		return nil, err
	}
	if h.Nonce, err = r.block(); err != nil {
		return nil, err
	}
	if len(h.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrInvalidFormat, len(h.Nonce))
	}
	aad := append([]byte(nil), data[:r.off]...)

	ciphertext, err := r.block()
	if err != nil {
		return nil, err
	}
	tag, err := r.block()
	if err != nil {
		return nil, err
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag length %d", ErrInvalidFormat, len(tag))
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidFormat, len(data)-r.off)
	}

	return &frame{header: h, aad: aad, ciphertext: ciphertext, tag: tag}, nil
}
