package tcp

import "bytes"

// lineFramer recovers newline-delimited messages from a byte stream.
// Each connection owns exactly one framer; it is never shared.
type lineFramer struct {
	buf        []byte
	max        int  // largest accepted line, 0 = unlimited
	discarding bool // dropping the rest of an oversized line
}

func newLineFramer(max int) *lineFramer {
	return &lineFramer{max: max}
}

// Feed appends chunk to the pending data and returns every complete line in
// arrival order, without the separator. The trailing partial line is kept for
// the next call. overflow reports that an oversized line was dropped.
func (f *lineFramer) Feed(chunk []byte) (lines [][]byte, overflow bool) {
	if f.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, false
		}
		f.discarding = false
		chunk = chunk[i+1:]
	}
	f.buf = append(f.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := f.buf[start : start+i]
		if f.max > 0 && len(line) > f.max {
			overflow = true
		} else {
			lines = append(lines, bytes.Clone(line))
		}
		start += i + 1
	}

	n := copy(f.buf, f.buf[start:])
	f.buf = f.buf[:n]

	if f.max > 0 && len(f.buf) > f.max {
		// no separator within the limit: drop what we have and skip to the next one
		f.buf = f.buf[:0]
		f.discarding = true
		overflow = true
	}
	return lines, overflow
}

// Pending returns the number of buffered bytes of the incomplete line.
func (f *lineFramer) Pending() int {
	return len(f.buf)
}
