// Package kdf derives key-encryption keys from passwords with
// BLAKE3-Balloon, a memory-hard hash built from the Balloon construction and
// the BLAKE3 compression function.
//
// Costs are never chosen by callers directly: a file records a Version tag
// and the Hasher maps that tag to a fixed set of Params.
package kdf

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

var (
	// ErrEmptyPassword is returned for a zero-length password.
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrUnsupportedParameterVersion is returned for a Version the Hasher
	// does not know.
	ErrUnsupportedParameterVersion = errors.New("unsupported parameter version")
)

// Hasher derives keys under a fixed table of parameter versions. A Hasher is
// immutable after construction and safe for concurrent use.
type Hasher struct {
	versions map[Version]Params
}

// Option customizes a Hasher.
type Option func(*Hasher) error

// WithVersion registers an additional parameter version. It fails if v is
// already defined: an existing version's costs can never change.
func WithVersion(v Version, p Params) Option {
	return func(h *Hasher) error {
		if _, ok := h.versions[v]; ok {
			return errors.Errorf("parameter version %d is already defined", v)
		}
		if err := p.validate(); err != nil {
			return errors.Wrapf(err, "parameter version %d", v)
		}
		h.versions[v] = p
		return nil
	}
}

// NewHasher returns a Hasher that knows the built-in versions plus any
// registered through opts.
func NewHasher(opts ...Option) (*Hasher, error) {
	h := &Hasher{versions: make(map[Version]Params, len(builtin))}
	for v, p := range builtin {
		h.versions[v] = p
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

var defaultHasher = &Hasher{versions: builtin}

// Default returns a Hasher with only the built-in versions.
func Default() *Hasher {
	return defaultHasher
}

// Params looks up the costs for v.
func (h *Hasher) Params(v Version) (Params, error) {
	p, ok := h.versions[v]
	if !ok {
		return Params{}, errors.Wrapf(ErrUnsupportedParameterVersion, "version %d", uint8(v))
	}
	return p, nil
}

// Versions lists the known versions in ascending order.
func (h *Hasher) Versions() []Version {
	out := make([]Version, 0, len(h.versions))
	for v := range h.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Derive turns password and salt into a 32-byte key under version v. The
// result is deterministic for identical inputs. The caller owns the
// returned Buffer.
func (h *Hasher) Derive(password []byte, salt secure.Salt, v Version) (*secure.Buffer, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	p, err := h.Params(v)
	if err != nil {
		return nil, err
	}
	key := secure.NewBuffer(KeySize)
	balloon(password, salt[:], p, key.Bytes())
	return key, nil
}
