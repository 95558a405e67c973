// Package masterkey generates per-file master keys and wraps them under a
// password-derived key-encryption key (KEK). The wrapped key and everything
// needed to unwrap it travel in the file header.
package masterkey

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/header"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

// ErrKeyUnwrapFailed is returned when the master key cannot be recovered:
// a wrong password and a tampered header look the same.
var ErrKeyUnwrapFailed = errors.New("master key unwrap failed: wrong password or corrupted header")

// Manager seals and opens master keys.
type Manager struct {
	hasher *kdf.Hasher
	rand   io.Reader
}

// NewManager returns a Manager deriving KEKs with hasher and drawing salts,
// nonces and keys from rand. A nil hasher means kdf.Default, a nil rand
// means crypto/rand.
func NewManager(hasher *kdf.Hasher, rand io.Reader) *Manager {
	if hasher == nil {
		hasher = kdf.Default()
	}
	return &Manager{hasher: hasher, rand: rand}
}

// Generate returns a fresh random master key.
func (m *Manager) Generate() (*secure.Buffer, error) {
	return secure.RandomBuffer(m.rand, kdf.KeySize)
}

// Seal wraps masterKey under a KEK derived from password with parameter
// version v. The returned header has fresh salt, stream nonce and wrap
// nonce, and is complete.
func (m *Manager) Seal(password, masterKey *secure.Buffer, v kdf.Version) (*header.Header, error) {
	if masterKey.Len() != kdf.KeySize {
		return nil, errors.Errorf("master key must be %d bytes", kdf.KeySize)
	}
	salt, err := secure.NewSalt(m.rand)
	if err != nil {
		return nil, err
	}
	nonce, err := secure.NewNonce(m.rand)
	if err != nil {
		return nil, err
	}
	wrapNonce, err := secure.NewNonce(m.rand)
	if err != nil {
		return nil, err
	}
	hdr := header.New(v, salt, nonce, wrapNonce)

	kek, err := m.hasher.Derive(password.Bytes(), salt, v)
	if err != nil {
		return nil, errors.Wrap(err, "key derivation failed")
	}
	defer kek.Destroy()

	aead, err := chacha20poly1305.NewX(kek.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "AEAD initialization failed")
	}
	aad, err := hdr.WrapAAD()
	if err != nil {
		return nil, err
	}
	aead.Seal(hdr.WrappedKey[:0], wrapNonce[:], masterKey.Bytes(), aad)
	return hdr, nil
}

// Open recovers the master key from hdr. Any authentication failure is
// reported as ErrKeyUnwrapFailed. The caller owns the returned Buffer.
func (m *Manager) Open(password *secure.Buffer, hdr *header.Header) (*secure.Buffer, error) {
	if _, err := m.hasher.Params(hdr.ParamVersion); err != nil {
		return nil, err
	}
	kek, err := m.hasher.Derive(password.Bytes(), hdr.Salt, hdr.ParamVersion)
	if err != nil {
		return nil, errors.Wrap(err, "key derivation failed")
	}
	defer kek.Destroy()

	aead, err := chacha20poly1305.NewX(kek.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "AEAD initialization failed")
	}
	aad, err := hdr.WrapAAD()
	if err != nil {
		return nil, err
	}

	key := secure.NewBuffer(kdf.KeySize)
	if _, err := aead.Open(key.Bytes()[:0], hdr.WrapNonce[:], hdr.WrappedKey[:], aad); err != nil {
		key.Destroy()
		return nil, ErrKeyUnwrapFailed
	}
	return key, nil
}
