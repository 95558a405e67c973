// Package secure holds sensitive byte material (passwords, derived keys,
// master keys) and the random salts and nonces that accompany them.
package secure

import (
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// Buffer is a guarded byte container. Its contents live in locked memory,
// are wiped on Destroy, and never appear in fmt or slog output.
//
// A Buffer is owned by whoever created it; callers must Destroy (or Close)
// it on every exit path, normally with defer.
type Buffer struct {
	mu sync.Mutex
	lb *memguard.LockedBuffer
}

// NewBuffer returns a zero-filled buffer of size bytes.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		return &Buffer{}
	}
	return &Buffer{lb: memguard.NewBuffer(size)}
}

// NewBufferFromBytes moves src into a new buffer. src is wiped.
func NewBufferFromBytes(src []byte) *Buffer {
	if len(src) == 0 {
		return &Buffer{}
	}
	return &Buffer{lb: memguard.NewBufferFromBytes(src)}
}

// CopyBuffer copies src into a new buffer and leaves src untouched.
func CopyBuffer(src []byte) *Buffer {
	b := NewBuffer(len(src))
	copy(b.Bytes(), src)
	return b
}

// Bytes exposes the underlying memory. The slice is only valid until
// Destroy is called.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lb == nil || !b.lb.IsAlive() {
		return nil
	}
	return b.lb.Bytes()
}

// Len returns the number of bytes held, or zero once destroyed.
func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// IsAlive reports whether the buffer still holds data.
func (b *Buffer) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lb != nil && b.lb.IsAlive()
}

// Destroy wipes and releases the buffer. It is safe to call more than once.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lb == nil {
		return
	}
	b.lb.Destroy()
	b.lb = nil
}

// Close implements io.Closer by destroying the buffer.
func (b *Buffer) Close() error {
	b.Destroy()
	return nil
}

func (b *Buffer) String() string   { return redacted }
func (b *Buffer) GoString() string { return redacted }

// LogValue keeps buffers out of structured logs.
func (b *Buffer) LogValue() slog.Value { return slog.StringValue(redacted) }

// Wipe zeroes p in place. Use it for transient copies of key material that
// never made it into a Buffer.
func Wipe(p []byte) {
	memguard.WipeBytes(p)
}
