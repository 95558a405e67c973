package header

import "fmt"

// CipherID identifies the AEAD used for the body and the key wrap. Only one
// value is accepted today; the field keeps the layout stable.
type CipherID uint16

const (
	CipherXChaCha20Poly1305 CipherID = 0x0E01
	// CipherAES256GCMSIV was supported by earlier builds and is rejected.
	CipherAES256GCMSIV CipherID = 0x0E02
)

func (c CipherID) String() string {
	switch c {
	case CipherXChaCha20Poly1305:
		return "XChaCha20-Poly1305"
	case CipherAES256GCMSIV:
		return "AES-256-GCM-SIV"
	default:
		return fmt.Sprintf("unknown cipher 0x%04x", uint16(c))
	}
}

// Legacy reports whether c is a recognized but retired cipher.
func (c CipherID) Legacy() bool {
	return c == CipherAES256GCMSIV
}

// HashingID identifies the password hash that produced the key-encryption
// key.
type HashingID uint8

const (
	HashingBlake3Balloon HashingID = 0xB3
	// Retired hashing schemes. Headers naming them are recognized and
	// rejected, never reinterpreted.
	HashingArgon2id       HashingID = 0xA2
	HashingBlake2bBalloon HashingID = 0xB2
)

func (h HashingID) String() string {
	switch h {
	case HashingBlake3Balloon:
		return "BLAKE3-Balloon"
	case HashingArgon2id:
		return "Argon2id"
	case HashingBlake2bBalloon:
		return "BLAKE2b-Balloon"
	default:
		return fmt.Sprintf("unknown hashing algorithm 0x%02x", uint8(h))
	}
}

// Legacy reports whether h is a recognized but retired hashing scheme.
func (h HashingID) Legacy() bool {
	return h == HashingArgon2id || h == HashingBlake2bBalloon
}
