package fix

import (
	"bytes"
	"errors"
	"io"
)

const readChunk = 4096

// Framer splits a byte stream into messages. It is not safe for concurrent use;
// a session owns exactly one and reads it from its read loop.
type Framer struct {
	r   io.Reader
	buf []byte
}

func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r, buf: make([]byte, 0, readChunk)}
}

// Next returns the next message. Malformed and checksum errors are returned
// after the offending bytes have been skipped up to the next "8=", so the
// caller may log them and keep reading. Read errors from the underlying
// reader (including io.EOF) are returned as-is.
func (f *Framer) Next() (*Message, error) {
	for {
		if len(f.buf) > 0 {
			m, n, err := Decode(f.buf)
			switch {
			case err == nil:
				f.consume(n)
				return m, nil
			case errors.Is(err, ErrIncomplete):
			default:
				f.resync()
				return nil, err
			}
		}
		if err := f.fill(); err != nil {
			return nil, err
		}
	}
}

// Buffered reports how many unread bytes are held.
func (f *Framer) Buffered() int { return len(f.buf) }

func (f *Framer) fill() error {
	if cap(f.buf)-len(f.buf) < readChunk/4 {
		grown := make([]byte, len(f.buf), 2*cap(f.buf))
		copy(grown, f.buf)
		f.buf = grown
	}
	n, err := f.r.Read(f.buf[len(f.buf):cap(f.buf)])
	f.buf = f.buf[:len(f.buf)+n]
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}

// resync drops the current frame start and everything up to the next
// candidate BeginString. A false match inside a field value only costs
// another decode fault.
func (f *Framer) resync() {
	next := bytes.Index(f.buf[1:], []byte("8=FIX"))
	if next < 0 {
		// keep a trailing partial "8=FI" that may complete on the next read
		keep := 0
		for k := 4; k > 0; k-- {
			if len(f.buf) > k && bytes.HasSuffix(f.buf, []byte("8=FIX")[:k]) {
				keep = k
				break
			}
		}
		f.consume(len(f.buf) - keep)
		return
	}
	f.consume(next + 1)
}
