package smb2core

import (
	"io"
	"net"
)

// ReleaseFunc gives a segment's buffer back to whoever owns it.
type ReleaseFunc func(buf []byte)

// IOVec is one contiguous segment of a message. Buf's length is the
// segment length; fixed fields are addressed by offset inside a single
// segment and never span two.
type IOVec struct {
	Buf     []byte
	release ReleaseFunc
}

// Len returns the segment length.
func (v *IOVec) Len() int {
	return len(v.Buf)
}

// Owned reports whether releasing the chain hands this buffer back.
func (v *IOVec) Owned() bool {
	return v.release != nil
}

// zeroFiller backs the one-byte buffer that SMB2 requires when a request has
// no variable-length payload. zeroPad backs alignment padding. Both are
// process-static and never released.
var (
	zeroFiller [1]byte
	zeroPad    [8]byte
)

// IOVecChain is an ordered list of segments. Segments are only ever
// appended; the chain releases each owned segment exactly once.
type IOVecChain struct {
	iov      []*IOVec
	total    int
	released bool
}

// Append adds a segment and returns it. A nil release marks a borrowed or
// static buffer.
func (c *IOVecChain) Append(buf []byte, release ReleaseFunc) *IOVec {
	v := &IOVec{Buf: buf, release: release}
	c.iov = append(c.iov, v)
	c.total += len(buf)
	return v
}

// AppendFiller appends the static single zero byte.
func (c *IOVecChain) AppendFiller() *IOVec {
	return c.Append(zeroFiller[:], nil)
}

// PadTo appends a static zero segment so the chain length becomes a
// multiple of alignment (at most 8). It is a no-op when already aligned.
func (c *IOVecChain) PadTo(alignment int) {
	if alignment <= 1 || alignment > len(zeroPad) {
		return
	}
	if n := padLen(c.total, alignment); n != 0 {
		c.Append(zeroPad[:n], nil)
	}
}

// Len returns the total number of bytes across all segments.
func (c *IOVecChain) Len() int {
	return c.total
}

// Count returns the number of segments.
func (c *IOVecChain) Count() int {
	return len(c.iov)
}

// At returns segment i, or nil when out of range.
func (c *IOVecChain) At(i int) *IOVec {
	if i < 0 || i >= len(c.iov) {
		return nil
	}
	return c.iov[i]
}

// Bytes returns the chain flattened into one new slice.
func (c *IOVecChain) Bytes() []byte {
	out := make([]byte, 0, c.total)
	for _, v := range c.iov {
		out = append(out, v.Buf...)
	}
	return out
}

// WriteTo writes every segment to w, using writev where the writer supports
// it.
func (c *IOVecChain) WriteTo(w io.Writer) (int64, error) {
	bufs := make(net.Buffers, 0, len(c.iov))
	for _, v := range c.iov {
		bufs = append(bufs, v.Buf)
	}
	return bufs.WriteTo(w)
}

// Scatter copies data across the segments in order and returns the number
// of bytes placed. Bytes beyond the chain's capacity are not consumed.
func (c *IOVecChain) Scatter(data []byte) int {
	n := 0
	for _, v := range c.iov {
		if n == len(data) {
			break
		}
		n += copy(v.Buf, data[n:])
	}
	return n
}

// Release runs every release action once. Later calls do nothing.
func (c *IOVecChain) Release() {
	if c.released {
		return
	}
	c.released = true
	for _, v := range c.iov {
		if v.release != nil {
			v.release(v.Buf)
			v.release = nil
		}
	}
}
