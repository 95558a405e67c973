// Package header encodes and decodes the fixed-size file header that
// precedes every encrypted stream.
//
// Layout (little-endian, 128 bytes):
//
//	[0:8]     magic "BLNCRYPT"
//	[8:10]    format version
//	[10:12]   cipher id
//	[12]      hashing id
//	[13]      parameter version
//	[14:30]   salt
//	[30:54]   base stream nonce
//	[54:78]   wrap nonce
//	[78:80]   wrapped key length (48)
//	[80:112]  wrapped master key
//	[112:128] wrap tag
package header

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

const (
	Magic = "BLNCRYPT"
	// FormatVersion is the only layout this build reads and writes.
	FormatVersion uint16 = 1

	// WrappedKeySize is the sealed master key plus its tag.
	WrappedKeySize = kdf.KeySize + chacha20poly1305.Overhead

	// Size is the encoded header length.
	Size = prefixSize + bodySize

	prefixSize  = len(Magic) + 2 + 2 + 1 + 1
	bodySize    = secure.SaltSize + 2*secure.NonceSize + 2 + WrappedKeySize
	wrapAADSize = Size - WrappedKeySize
	aadSize     = Size - chacha20poly1305.Overhead
)

var (
	// ErrFormat covers anything that is not a header this build understands:
	// bad magic, unknown version or identifiers, short input, bad lengths.
	ErrFormat = errors.New("invalid or unrecognized file header")
	// ErrUnsupportedLegacyAlgorithm marks a header written with a cipher or
	// password hash that was deliberately retired.
	ErrUnsupportedLegacyAlgorithm = errors.New("file uses an unsupported legacy algorithm")
)

// Header is the authenticated metadata at the front of every file. Once
// written it is never modified.
type Header struct {
	Version      uint16
	Cipher       CipherID
	Hashing      HashingID
	ParamVersion kdf.Version
	Salt         secure.Salt
	Nonce        secure.Nonce
	WrapNonce    secure.Nonce
	WrappedKey   [WrappedKeySize]byte
}

// Metadata is the password-free view returned by Inspect.
type Metadata struct {
	Version      uint16
	Cipher       CipherID
	Hashing      HashingID
	ParamVersion kdf.Version
}

type rawPrefix struct {
	Magic        [len(Magic)]byte
	Version      uint16
	Cipher       CipherID
	Hashing      HashingID
	ParamVersion kdf.Version
}

type rawBody struct {
	Salt       secure.Salt
	Nonce      secure.Nonce
	WrapNonce  secure.Nonce
	WrappedLen uint16
	WrappedKey [WrappedKeySize]byte
}

// New returns a header for the current format with an empty wrapped key.
func New(v kdf.Version, salt secure.Salt, nonce, wrapNonce secure.Nonce) *Header {
	return &Header{
		Version:      FormatVersion,
		Cipher:       CipherXChaCha20Poly1305,
		Hashing:      HashingBlake3Balloon,
		ParamVersion: v,
		Salt:         salt,
		Nonce:        nonce,
		WrapNonce:    wrapNonce,
	}
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(Size)
	p := rawPrefix{
		Version:      h.Version,
		Cipher:       h.Cipher,
		Hashing:      h.Hashing,
		ParamVersion: h.ParamVersion,
	}
	copy(p.Magic[:], Magic)
	if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
		return nil, errors.Wrap(err, "header serialization failed")
	}
	b := rawBody{
		Salt:       h.Salt,
		Nonce:      h.Nonce,
		WrapNonce:  h.WrapNonce,
		WrappedLen: WrappedKeySize,
		WrappedKey: h.WrappedKey,
	}
	if err := binary.Write(&buf, binary.LittleEndian, b); err != nil {
		return nil, errors.Wrap(err, "header serialization failed")
	}
	return buf.Bytes(), nil
}

// AAD returns the associated data bound to the first body chunk: every
// header byte except the wrap tag.
func (h *Header) AAD() ([]byte, error) {
	raw, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return raw[:aadSize], nil
}

// WrapAAD returns the associated data for sealing the master key: every
// header byte before the wrapped key blob.
func (h *Header) WrapAAD() ([]byte, error) {
	raw, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return raw[:wrapAADSize], nil
}

// WriteTo writes the encoded header to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	raw, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(raw)
	if err != nil {
		return int64(n), errors.Wrap(err, "header write failed")
	}
	return int64(n), nil
}

// Decode reads exactly Size bytes from r and validates them. Identifiers
// are checked in wire order, so a retired algorithm is reported as such
// even when the remainder of the header is missing.
func Decode(r io.Reader) (*Header, error) {
	p, err := decodePrefix(r)
	if err != nil {
		return nil, err
	}
	var b rawBody
	if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
		return nil, errors.Wrap(ErrFormat, "truncated header")
	}
	if b.WrappedLen != WrappedKeySize {
		return nil, errors.Wrapf(ErrFormat, "wrapped key length %d", b.WrappedLen)
	}
	return &Header{
		Version:      p.Version,
		Cipher:       p.Cipher,
		Hashing:      p.Hashing,
		ParamVersion: p.ParamVersion,
		Salt:         b.Salt,
		Nonce:        b.Nonce,
		WrapNonce:    b.WrapNonce,
		WrappedKey:   b.WrappedKey,
	}, nil
}

// Unmarshal decodes a header from raw bytes.
func Unmarshal(raw []byte) (*Header, error) {
	return Decode(bytes.NewReader(raw))
}

// Inspect reads a header from r and reports which algorithms produced it.
// No password is needed; retired algorithms fail with
// ErrUnsupportedLegacyAlgorithm.
func Inspect(r io.Reader) (*Metadata, error) {
	h, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return h.Metadata(), nil
}

// Metadata returns the identifying fields of h.
func (h *Header) Metadata() *Metadata {
	return &Metadata{
		Version:      h.Version,
		Cipher:       h.Cipher,
		Hashing:      h.Hashing,
		ParamVersion: h.ParamVersion,
	}
}

func decodePrefix(r io.Reader) (rawPrefix, error) {
	var p rawPrefix
	if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
		return p, errors.Wrap(ErrFormat, "truncated header")
	}
	if string(p.Magic[:]) != Magic {
		return p, errors.Wrap(ErrFormat, "bad magic")
	}
	if p.Version != FormatVersion {
		return p, errors.Wrapf(ErrFormat, "format version %d", p.Version)
	}
	switch {
	case p.Cipher == CipherXChaCha20Poly1305:
	case p.Cipher.Legacy():
		return p, errors.Wrap(ErrUnsupportedLegacyAlgorithm, p.Cipher.String())
	default:
		return p, errors.Wrap(ErrFormat, p.Cipher.String())
	}
	switch {
	case p.Hashing == HashingBlake3Balloon:
	case p.Hashing.Legacy():
		return p, errors.Wrap(ErrUnsupportedLegacyAlgorithm, p.Hashing.String())
	default:
		return p, errors.Wrap(ErrFormat, p.Hashing.String())
	}
	return p, nil
}
