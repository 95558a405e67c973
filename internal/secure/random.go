package secure

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

const (
	// SaltSize is the length of a key-derivation salt.
	SaltSize = 16
	// NonceSize is the length of an XChaCha20 nonce.
	NonceSize = 24
)

// ErrEntropy is returned when the random source fails. It is never retried.
var ErrEntropy = errors.New("random source failure")

// Salt is a per-file key-derivation salt.
type Salt [SaltSize]byte

// Nonce is a 24-byte XChaCha20 nonce.
type Nonce [NonceSize]byte

// Fill reads len(p) random bytes from r, or from crypto/rand when r is nil.
func Fill(r io.Reader, p []byte) error {
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, p); err != nil {
		Wipe(p)
		return errors.Wrapf(ErrEntropy, "read %d bytes: %v", len(p), err)
	}
	return nil
}

// RandomBuffer returns a Buffer of size random bytes.
func RandomBuffer(r io.Reader, size int) (*Buffer, error) {
	b := NewBuffer(size)
	if err := Fill(r, b.Bytes()); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// NewSalt generates a fresh salt.
func NewSalt(r io.Reader) (Salt, error) {
	var s Salt
	err := Fill(r, s[:])
	return s, err
}

// NewNonce generates a fresh nonce.
func NewNonce(r io.Reader) (Nonce, error) {
	var n Nonce
	err := Fill(r, n[:])
	return n, err
}

func (s Salt) Hex() string  { return hex.EncodeToString(s[:]) }
func (n Nonce) Hex() string { return hex.EncodeToString(n[:]) }

// SaltFromHex parses a salt previously produced by Salt.Hex.
func SaltFromHex(s string) (Salt, error) {
	var out Salt
	if err := decodeHex(out[:], s); err != nil {
		return Salt{}, errors.Wrap(err, "decode salt")
	}
	return out, nil
}

// NonceFromHex parses a nonce previously produced by Nonce.Hex.
func NonceFromHex(s string) (Nonce, error) {
	var out Nonce
	if err := decodeHex(out[:], s); err != nil {
		return Nonce{}, errors.Wrap(err, "decode nonce")
	}
	return out, nil
}

func decodeHex(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return errors.Errorf("expected %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}
