package stream

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

const (
	counterOffset = secure.NonceSize - 5
	flagOffset    = secure.NonceSize - 1
	lastFlag      = 0x01

	// MaxChunks is the size of the per-file counter space. At ChunkSize per
	// chunk this caps a file at 256 TiB of plaintext.
	MaxChunks = 1 << 32
)

// ErrCounterExhausted is returned when a stream would need more than
// MaxChunks chunks.
var ErrCounterExhausted = errors.New("chunk counter exhausted")

// ChunkNonce derives the nonce for chunk index. The base nonce's bytes
// [19,23) are XORed with the big-endian index and byte 23 with the final
// flag, so each (index, last) pair maps to a distinct nonce. It depends
// only on its arguments.
func ChunkNonce(base secure.Nonce, index uint64, last bool) (secure.Nonce, error) {
	if index >= MaxChunks {
		return secure.Nonce{}, errors.Wrapf(ErrCounterExhausted, "chunk %d", index)
	}
	n := base
	var ctr [4]byte
	binary.BigEndian.PutUint32(ctr[:], uint32(index))
	for i, b := range ctr {
		n[counterOffset+i] ^= b
	}
	if last {
		n[flagOffset] ^= lastFlag
	}
	return n, nil
}
