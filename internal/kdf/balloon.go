package kdf

import (
	"encoding/binary"

	"github.com/awnumar/memguard"
	"github.com/zeebo/blake3"
)

// delta is the number of pseudorandom dependencies mixed into each block
// per round.
const delta = 3

// balloonState is the working memory of one derivation.
type balloonState struct {
	n   int
	buf []byte
	h   *blake3.Hasher
	cnt uint64

	scratch [8]byte
	idx     [BlockSize]byte
	other   [BlockSize]byte
}

func newBalloonState(p Params) *balloonState {
	n := p.Blocks()
	return &balloonState{
		n:   n,
		buf: make([]byte, n*BlockSize),
		h:   blake3.New(),
	}
}

// wipe zeroes every buffer the derivation touched. The hasher is reset, but
// zeebo/blake3 exposes no way to clear its internal chunk buffer.
func (s *balloonState) wipe() {
	memguard.WipeBytes(s.buf)
	memguard.WipeBytes(s.scratch[:])
	memguard.WipeBytes(s.idx[:])
	memguard.WipeBytes(s.other[:])
	s.h.Reset()
	s.cnt = 0
}

func (s *balloonState) block(i int) []byte {
	return s.buf[i*BlockSize : (i+1)*BlockSize]
}

func (s *balloonState) writeU64(v uint64) {
	binary.LittleEndian.PutUint64(s.scratch[:], v)
	s.h.Write(s.scratch[:])
}

// counter writes the next value of the running hash counter.
func (s *balloonState) counter() {
	s.writeU64(s.cnt)
	s.cnt++
}

func (s *balloonState) sumInto(dst []byte) {
	s.h.Sum(dst[:0])
	s.h.Reset()
}

// run executes the Balloon construction and writes the final block to out.
// Every block of the working buffer is materialized and randomly revisited.
func (s *balloonState) run(password, salt []byte, timeCost uint32, out []byte) {
	n := s.n

	// Expand.
	s.counter()
	s.h.Write(password)
	s.h.Write(salt)
	s.sumInto(s.block(0))
	for m := 1; m < n; m++ {
		s.counter()
		s.h.Write(s.block(m - 1))
		s.sumInto(s.block(m))
	}

	// Mix.
	for t := uint64(0); t < uint64(timeCost); t++ {
		for m := 0; m < n; m++ {
			s.counter()
			s.h.Write(s.block((m - 1 + n) % n))
			s.h.Write(s.block(m))
			s.sumInto(s.block(m))

			for i := uint64(0); i < delta; i++ {
				s.writeU64(t)
				s.writeU64(uint64(m))
				s.writeU64(i)
				s.sumInto(s.idx[:])

				s.counter()
				s.h.Write(salt)
				s.h.Write(s.idx[:])
				s.sumInto(s.other[:])
				j := binary.LittleEndian.Uint64(s.other[:8]) % uint64(n)

				s.counter()
				s.h.Write(s.block(m))
				s.h.Write(s.block(int(j)))
				s.sumInto(s.block(m))
			}
		}
	}

	copy(out, s.block(n-1))
}

// balloon derives into out and wipes its working memory before returning.
func balloon(password, salt []byte, p Params, out []byte) {
	s := newBalloonState(p)
	defer s.wipe()
	s.run(password, salt, p.TimeCost, out)
}
