// Package engine is the entry point for encrypting and decrypting whole
// streams: a 128-byte header followed by the authenticated chunk stream.
package engine

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/header"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/masterkey"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/stream"
)

// Errors callers can match with errors.Is.
var (
	ErrFormat                      = header.ErrFormat
	ErrUnsupportedLegacyAlgorithm  = header.ErrUnsupportedLegacyAlgorithm
	ErrEmptyPassword               = kdf.ErrEmptyPassword
	ErrUnsupportedParameterVersion = kdf.ErrUnsupportedParameterVersion
	ErrKeyUnwrapFailed             = masterkey.ErrKeyUnwrapFailed
	ErrChunkAuthenticationFailed   = stream.ErrChunkAuthenticationFailed
	ErrCounterExhausted            = stream.ErrCounterExhausted
	ErrEntropy                     = secure.ErrEntropy
)

// Engine encrypts and decrypts streams. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	hasher  *kdf.Hasher
	keys    *masterkey.Manager
	version kdf.Version
	workers int
	rand    io.Reader
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHasher sets the key derivation table. Decryption accepts every
// version the hasher knows.
func WithHasher(h *kdf.Hasher) Option {
	return func(e *Engine) { e.hasher = h }
}

// WithParamVersion selects the parameter version for new files.
func WithParamVersion(v kdf.Version) Option {
	return func(e *Engine) { e.version = v }
}

// WithWorkers sets how many chunks are processed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger. Nothing secret is ever logged.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRandom replaces the entropy source, which defaults to crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

// New builds an Engine. It fails if the selected parameter version is not
// known to the hasher.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		hasher:  kdf.Default(),
		version: kdf.Latest,
		workers: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hasher == nil {
		e.hasher = kdf.Default()
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if _, err := e.hasher.Params(e.version); err != nil {
		return nil, err
	}
	e.keys = masterkey.NewManager(e.hasher, e.rand)
	return e, nil
}

// Encrypt writes the header and the encrypted body of src to dst.
func (e *Engine) Encrypt(ctx context.Context, password []byte, dst io.Writer, src io.Reader) error {
	return e.encrypt(ctx, password, dst, dst, src)
}

// EncryptDetached writes the header to hdrDst and the encrypted body to
// bodyDst. Both are required to decrypt.
func (e *Engine) EncryptDetached(ctx context.Context, password []byte, hdrDst, bodyDst io.Writer, src io.Reader) error {
	return e.encrypt(ctx, password, hdrDst, bodyDst, src)
}

// Decrypt reads a header and body from src and writes the plaintext to dst.
// Plaintext is written chunk by chunk as it verifies; if Decrypt fails, the
// caller must discard whatever reached dst.
func (e *Engine) Decrypt(ctx context.Context, password []byte, dst io.Writer, src io.Reader) error {
	return e.decrypt(ctx, password, dst, src, src)
}

// DecryptDetached reads the header from hdrSrc and the body from bodySrc.
func (e *Engine) DecryptDetached(ctx context.Context, password []byte, dst io.Writer, hdrSrc, bodySrc io.Reader) error {
	return e.decrypt(ctx, password, dst, hdrSrc, bodySrc)
}

func (e *Engine) encrypt(ctx context.Context, password []byte, hdrDst, bodyDst io.Writer, src io.Reader) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	pw := secure.CopyBuffer(password)
	defer pw.Destroy()

	mk, err := e.keys.Generate()
	if err != nil {
		return errors.Wrap(err, "master key generation failed")
	}
	defer mk.Destroy()

	e.log.DebugContext(ctx, "deriving key", "param_version", uint8(e.version))
	hdr, err := e.keys.Seal(pw, mk, e.version)
	if err != nil {
		return err
	}
	if _, err := hdr.WriteTo(hdrDst); err != nil {
		return err
	}
	aad, err := hdr.AAD()
	if err != nil {
		return err
	}

	chunks, err := stream.Encrypt(ctx, mk, hdr.Nonce, aad, bodyDst, src, stream.WithWorkers(e.workers))
	if err != nil {
		e.log.DebugContext(ctx, "encryption aborted", "chunks", chunks, "error", err)
		return errors.Wrap(err, "encryption failed")
	}
	e.log.InfoContext(ctx, "encrypted",
		"param_version", uint8(e.version),
		"chunks", chunks,
		"workers", e.workers,
	)
	return nil
}

func (e *Engine) decrypt(ctx context.Context, password []byte, dst io.Writer, hdrSrc, bodySrc io.Reader) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	hdr, err := header.Decode(hdrSrc)
	if err != nil {
		return err
	}
	pw := secure.CopyBuffer(password)
	defer pw.Destroy()

	e.log.DebugContext(ctx, "deriving key", "param_version", uint8(hdr.ParamVersion))
	mk, err := e.keys.Open(pw, hdr)
	if err != nil {
		return err
	}
	defer mk.Destroy()

	aad, err := hdr.AAD()
	if err != nil {
		return err
	}
	chunks, err := stream.Decrypt(ctx, mk, hdr.Nonce, aad, dst, bodySrc, stream.WithWorkers(e.workers))
	if err != nil {
		e.log.DebugContext(ctx, "decryption aborted", "chunks", chunks, "error", err)
		return errors.Wrap(err, "decryption failed")
	}
	e.log.InfoContext(ctx, "decrypted",
		"param_version", uint8(hdr.ParamVersion),
		"chunks", chunks,
		"workers", e.workers,
	)
	return nil
}

// InspectHeader reads a header from r and reports its format and
// algorithms without a password.
func InspectHeader(r io.Reader) (*header.Metadata, error) {
	return header.Inspect(r)
}

// Encrypt encrypts src to dst with the latest parameter version.
func Encrypt(ctx context.Context, password []byte, dst io.Writer, src io.Reader) error {
	e, err := New()
	if err != nil {
		return err
	}
	return e.Encrypt(ctx, password, dst, src)
}

// Decrypt decrypts src to dst with the built-in parameter versions.
func Decrypt(ctx context.Context, password []byte, dst io.Writer, src io.Reader) error {
	e, err := New()
	if err != nil {
		return err
	}
	return e.Decrypt(ctx, password, dst, src)
}
