package smb2core

import (
	"bytes"
	"testing"
)

func TestIOVecChain_AppendAndLen(t *testing.T) {
	var c IOVecChain
	c.Append(make([]byte, 48), nil)
	c.AppendFiller()

	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
	if c.Len() != 49 {
		t.Errorf("Len() = %d, want 49", c.Len())
	}
	if c.At(1).Len() != 1 || c.At(1).Buf[0] != 0 {
		t.Errorf("filler = %v, want one zero byte", c.At(1).Buf)
	}
	if c.At(2) != nil || c.At(-1) != nil {
		t.Error("At() out of range should return nil")
	}
}

func TestIOVecChain_PadTo(t *testing.T) {
	tests := []struct {
		name      string
		lengths   []int
		wantLen   int
		wantCount int
	}{
		{"already aligned", []int{56}, 56, 1},
		{"read request", []int{48, 1}, 56, 3},
		{"one short", []int{7}, 8, 2},
		{"one over", []int{9}, 16, 2},
		{"empty", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c IOVecChain
			for _, n := range tt.lengths {
				c.Append(make([]byte, n), nil)
			}
			c.PadTo(8)

			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
			if c.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", c.Count(), tt.wantCount)
			}
			if c.Len()%8 != 0 {
				t.Errorf("Len() = %d is not a multiple of 8", c.Len())
			}
		})
	}
}

func TestIOVecChain_ReleaseOnce(t *testing.T) {
	var released [][]byte
	release := func(buf []byte) { released = append(released, buf) }

	var c IOVecChain
	owned := c.Append(make([]byte, 16), release)
	borrowed := c.Append(make([]byte, 4), nil)
	c.AppendFiller()

	if !owned.Owned() || borrowed.Owned() {
		t.Fatalf("Owned() = %v/%v, want true/false", owned.Owned(), borrowed.Owned())
	}

	c.Release()
	c.Release()

	if len(released) != 1 {
		t.Fatalf("release ran %d times, want 1", len(released))
	}
	if len(released[0]) != 16 {
		t.Errorf("released %d bytes, want 16", len(released[0]))
	}
}

func TestIOVecChain_Scatter(t *testing.T) {
	var c IOVecChain
	hdr := c.Append(make([]byte, 4), nil)
	data := c.Append(make([]byte, 8), nil)

	t.Run("partial fill", func(t *testing.T) {
		n := c.Scatter([]byte{1, 2, 3, 4, 5, 6})
		if n != 6 {
			t.Errorf("Scatter() = %d, want 6", n)
		}
		if !bytes.Equal(hdr.Buf, []byte{1, 2, 3, 4}) {
			t.Errorf("segment 0 = %v", hdr.Buf)
		}
		if !bytes.Equal(data.Buf[:2], []byte{5, 6}) {
			t.Errorf("segment 1 = %v", data.Buf)
		}
	})

	t.Run("overflow is not consumed", func(t *testing.T) {
		n := c.Scatter(make([]byte, 20))
		if n != 12 {
			t.Errorf("Scatter() = %d, want 12", n)
		}
	})
}

func TestIOVecChain_WriteTo(t *testing.T) {
	var c IOVecChain
	c.Append([]byte("abc"), nil)
	c.Append([]byte("defg"), nil)
	c.PadTo(8)

	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if n != 8 {
		t.Errorf("WriteTo() = %d, want 8", n)
	}
	if !bytes.Equal(buf.Bytes(), c.Bytes()) {
		t.Errorf("WriteTo() wrote %q, Bytes() = %q", buf.Bytes(), c.Bytes())
	}
	if !bytes.Equal(buf.Bytes(), []byte("abcdefg\x00")) {
		t.Errorf("wrote %q", buf.Bytes())
	}
}
