package stream

import (
	"io"

	"github.com/pkg/errors"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

// frameReader splits r into frames of a fixed size and reads one frame
// ahead, so it can tell whether the frame it returns is the last one. A
// stream of zero bytes yields a single empty final frame.
type frameReader struct {
	r    io.Reader
	cur  []byte
	peek []byte

	n      int
	eof    bool
	primed bool
	done   bool
}

func newFrameReader(r io.Reader, size int) *frameReader {
	return &frameReader{
		r:    r,
		cur:  make([]byte, size),
		peek: make([]byte, size),
	}
}

func (fr *frameReader) fill(buf []byte) (int, bool, error) {
	n, err := io.ReadFull(fr.r, buf)
	switch err {
	case nil:
		return n, false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return n, true, nil
	default:
		return n, false, errors.Wrap(err, "read failed")
	}
}

// next returns the next frame and whether it is final. The slice is only
// valid until the following call. After the final frame it returns io.EOF.
func (fr *frameReader) next() ([]byte, bool, error) {
	if fr.done {
		return nil, false, io.EOF
	}
	if !fr.primed {
		fr.primed = true
		n, eof, err := fr.fill(fr.cur)
		if err != nil {
			return nil, false, err
		}
		fr.n, fr.eof = n, eof
	}
	if fr.eof {
		fr.done = true
		return fr.cur[:fr.n], true, nil
	}

	n, eof, err := fr.fill(fr.peek)
	if err != nil {
		return nil, false, err
	}
	if eof && n == 0 {
		fr.done = true
		return fr.cur[:fr.n], true, nil
	}
	frame := fr.cur[:fr.n]
	fr.cur, fr.peek = fr.peek, fr.cur
	fr.n, fr.eof = n, eof
	return frame, false, nil
}

func (fr *frameReader) wipe() {
	secure.Wipe(fr.cur)
	secure.Wipe(fr.peek)
}
