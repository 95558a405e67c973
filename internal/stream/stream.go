// Package stream encrypts and decrypts file bodies as a sequence of
// XChaCha20-Poly1305 chunks.
//
// Every chunk holds up to ChunkSize bytes of plaintext followed by a 16-byte
// tag. Chunk i is sealed under ChunkNonce(base, i, last); the first chunk
// also authenticates the file header as associated data. Only the final
// chunk carries the last flag, which makes truncation and appended chunks
// fail authentication.
package stream

import (
	"context"
	"crypto/cipher"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

const (
	// ChunkSize is the plaintext size of every chunk but the last.
	ChunkSize = 64 * 1024
	// TagSize is the per-chunk authentication overhead.
	TagSize = chacha20poly1305.Overhead
	// FrameSize is the on-wire size of every chunk but the last.
	FrameSize = ChunkSize + TagSize

	maxWorkers = 256
)

// ErrChunkAuthenticationFailed means a chunk did not verify: corrupted or
// tampered ciphertext, a wrong key, truncation, or appended data. It does
// not say which chunk.
var ErrChunkAuthenticationFailed = errors.New("chunk authentication failed")

type options struct {
	workers int
}

// Option configures Encrypt and Decrypt.
type Option func(*options)

// WithWorkers processes up to n chunks of the same file concurrently.
// Output order is unchanged.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		if n > maxWorkers {
			n = maxWorkers
		}
		o.workers = n
	}
}

func buildOptions(opts []Option) options {
	o := options{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Encrypt reads plaintext from src and writes chunks to dst. It returns the
// number of chunks written, which is at least one.
func Encrypt(ctx context.Context, key *secure.Buffer, base secure.Nonce, aad []byte, dst io.Writer, src io.Reader, opts ...Option) (uint64, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return 0, errors.Wrap(err, "AEAD initialization failed")
	}
	s := &processor{
		aead:  aead,
		base:  base,
		aad:   aad,
		opts:  buildOptions(opts),
		frame: ChunkSize,
		out:   FrameSize,
	}
	return s.run(ctx, dst, src, s.seal)
}

// Decrypt reads chunks from src and writes verified plaintext to dst. Each
// chunk is written only after it authenticates; on error, anything already
// written must be discarded by the caller.
func Decrypt(ctx context.Context, key *secure.Buffer, base secure.Nonce, aad []byte, dst io.Writer, src io.Reader, opts ...Option) (uint64, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return 0, errors.Wrap(err, "AEAD initialization failed")
	}
	s := &processor{
		aead:  aead,
		base:  base,
		aad:   aad,
		opts:  buildOptions(opts),
		frame: FrameSize,
		out:   ChunkSize,
	}
	return s.run(ctx, dst, src, s.open)
}

type job struct {
	index uint64
	last  bool
	in    []byte
	out   []byte
}

type processor struct {
	aead  cipher.AEAD
	base  secure.Nonce
	aad   []byte
	opts  options
	frame int
	out   int
}

func (p *processor) associatedData(index uint64) []byte {
	if index == 0 {
		return p.aad
	}
	return nil
}

func (p *processor) seal(j *job) error {
	nonce, err := ChunkNonce(p.base, j.index, j.last)
	if err != nil {
		return err
	}
	j.out = p.aead.Seal(j.out[:0], nonce[:], j.in, p.associatedData(j.index))
	return nil
}

func (p *processor) open(j *job) error {
	if len(j.in) < TagSize {
		return ErrChunkAuthenticationFailed
	}
	nonce, err := ChunkNonce(p.base, j.index, j.last)
	if err != nil {
		return ErrChunkAuthenticationFailed
	}
	out, err := p.aead.Open(j.out[:0], nonce[:], j.in, p.associatedData(j.index))
	if err != nil {
		return ErrChunkAuthenticationFailed
	}
	j.out = out
	return nil
}

// run reads frames in batches of up to opts.workers, transforms each batch
// (concurrently when more than one worker is configured) and writes the
// results in index order.
func (p *processor) run(ctx context.Context, dst io.Writer, src io.Reader, fn func(*job) error) (uint64, error) {
	fr := newFrameReader(src, p.frame)
	defer fr.wipe()

	jobs := make([]job, p.opts.workers)
	for i := range jobs {
		jobs[i].in = make([]byte, 0, p.frame)
		jobs[i].out = make([]byte, 0, p.out)
	}
	defer func() {
		for i := range jobs {
			secure.Wipe(jobs[i].in[:cap(jobs[i].in)])
			secure.Wipe(jobs[i].out[:cap(jobs[i].out)])
		}
	}()

	var index uint64
	for done := false; !done; {
		if err := ctx.Err(); err != nil {
			return index, err
		}

		batch := jobs[:0]
		for !done && len(batch) < len(jobs) {
			frame, last, err := fr.next()
			if err != nil {
				return index, err
			}
			batch = batch[:len(batch)+1]
			j := &batch[len(batch)-1]
			j.index = index + uint64(len(batch)-1)
			j.last = last
			j.in = append(j.in[:0], frame...)
			done = last
		}

		if err := p.process(ctx, batch, fn); err != nil {
			return index, err
		}
		for i := range batch {
			if _, err := dst.Write(batch[i].out); err != nil {
				return index, errors.Wrap(err, "write failed")
			}
			index++
		}
	}
	return index, nil
}

func (p *processor) process(ctx context.Context, batch []job, fn func(*job) error) error {
	if len(batch) == 1 {
		return fn(&batch[0])
	}
	g, _ := errgroup.WithContext(ctx)
	for i := range batch {
		j := &batch[i]
		g.Go(func() error { return fn(j) })
	}
	return g.Wait()
}
