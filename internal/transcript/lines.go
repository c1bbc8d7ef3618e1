package transcript

import (
	"bufio"
	"errors"
	"io"
)

// lineReader splits a transcript into lines without the hard failure
// bufio.Scanner has on a line past its buffer: such a line is consumed
// and reported so the caller can skip it.
type lineReader struct {
	r   *bufio.Reader
	max int
	buf []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// next returns the next line including its terminator. oversized is set
// when the line exceeded max and its content was dropped. err is io.EOF
// once r is drained. line is only valid until the next call.
func (l *lineReader) next() (line []byte, oversized bool, err error) {
	l.buf = l.buf[:0]
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !oversized {
			n := len(chunk)
			if n > 0 && chunk[n-1] == '\n' {
				n--
			}
			if len(l.buf)+n > l.max {
				oversized = true
				l.buf = l.buf[:0]
			} else {
				l.buf = append(l.buf, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(l.buf) == 0 && !oversized {
				return nil, false, io.EOF
			}
			return l.buf, oversized, nil
		case err != nil:
			return nil, false, err
		}
		return l.buf, oversized, nil
	}
}
