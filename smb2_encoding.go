package smb2core

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"
)

// SMB2 uses little-endian byte order for all multi-byte values
var le = binary.LittleEndian

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// UTF8ToUTF16LE converts a Go string to UTF-16LE bytes (SMB wire format).
// It returns the encoded bytes and the number of UTF-16 code units.
func UTF8ToUTF16LE(s string) ([]byte, int, error) {
	if !utf8.ValidString(s) {
		return nil, 0, errors.Wrapf(ErrEncoding, "name %q is not valid UTF-8", s)
	}
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, 0, errors.Wrap(ErrEncoding, err.Error())
	}
	return b, len(b) / 2, nil
}

// UTF16LEToUTF8 decodes UTF-16LE bytes to a Go string.
func UTF16LEToUTF8(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.Wrapf(ErrEncoding, "odd UTF-16 length %d", len(b))
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(ErrEncoding, err.Error())
	}
	return string(out), nil
}

// padLen returns the number of padding bytes needed to align offset to a
// multiple of alignment.
func padLen(offset, alignment int) int {
	remainder := offset % alignment
	if remainder == 0 {
		return 0
	}
	return alignment - remainder
}

// Offset-addressed field access on a single segment. Every accessor checks
// the field against the segment length.

func (v *IOVec) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(v.Buf) {
		return errors.Wrapf(ErrOutOfBounds, "%d bytes at offset %d, segment length %d", n, off, len(v.Buf))
	}
	return nil
}

// SetUint8 stores a byte at off.
func (v *IOVec) SetUint8(off int, val uint8) error {
	if err := v.check(off, 1); err != nil {
		return err
	}
	v.Buf[off] = val
	return nil
}

// SetUint16 stores a little-endian uint16 at off.
func (v *IOVec) SetUint16(off int, val uint16) error {
	if err := v.check(off, 2); err != nil {
		return err
	}
	le.PutUint16(v.Buf[off:], val)
	return nil
}

// SetUint32 stores a little-endian uint32 at off.
func (v *IOVec) SetUint32(off int, val uint32) error {
	if err := v.check(off, 4); err != nil {
		return err
	}
	le.PutUint32(v.Buf[off:], val)
	return nil
}

// SetUint64 stores a little-endian uint64 at off.
func (v *IOVec) SetUint64(off int, val uint64) error {
	if err := v.check(off, 8); err != nil {
		return err
	}
	le.PutUint64(v.Buf[off:], val)
	return nil
}

// SetBytes copies b into the segment at off.
func (v *IOVec) SetBytes(off int, b []byte) error {
	if err := v.check(off, len(b)); err != nil {
		return err
	}
	copy(v.Buf[off:], b)
	return nil
}

// GetUint8 loads a byte from off.
func (v *IOVec) GetUint8(off int) (uint8, error) {
	if err := v.check(off, 1); err != nil {
		return 0, err
	}
	return v.Buf[off], nil
}

// GetUint16 loads a little-endian uint16 from off.
func (v *IOVec) GetUint16(off int) (uint16, error) {
	if err := v.check(off, 2); err != nil {
		return 0, err
	}
	return le.Uint16(v.Buf[off:]), nil
}

// GetUint32 loads a little-endian uint32 from off.
func (v *IOVec) GetUint32(off int) (uint32, error) {
	if err := v.check(off, 4); err != nil {
		return 0, err
	}
	return le.Uint32(v.Buf[off:]), nil
}

// GetUint64 loads a little-endian uint64 from off.
func (v *IOVec) GetUint64(off int) (uint64, error) {
	if err := v.check(off, 8); err != nil {
		return 0, err
	}
	return le.Uint64(v.Buf[off:]), nil
}

// GetBytes fills dst from the bytes starting at off.
func (v *IOVec) GetBytes(off int, dst []byte) error {
	if err := v.check(off, len(dst)); err != nil {
		return err
	}
	copy(dst, v.Buf[off:off+len(dst)])
	return nil
}

// fieldWriter sets fields on one segment and keeps the first error. Once an
// error occurs all later calls are no-ops.
type fieldWriter struct {
	v   *IOVec
	err error
}

func newFieldWriter(v *IOVec) *fieldWriter {
	return &fieldWriter{v: v}
}

func (w *fieldWriter) u8(off int, val uint8) {
	if w.err == nil {
		w.err = w.v.SetUint8(off, val)
	}
}

func (w *fieldWriter) u16(off int, val uint16) {
	if w.err == nil {
		w.err = w.v.SetUint16(off, val)
	}
}

func (w *fieldWriter) u32(off int, val uint32) {
	if w.err == nil {
		w.err = w.v.SetUint32(off, val)
	}
}

func (w *fieldWriter) u64(off int, val uint64) {
	if w.err == nil {
		w.err = w.v.SetUint64(off, val)
	}
}

func (w *fieldWriter) bytes(off int, b []byte) {
	if w.err == nil {
		w.err = w.v.SetBytes(off, b)
	}
}

func (w *fieldWriter) Err() error {
	return w.err
}

// fieldReader is the decoding counterpart of fieldWriter.
type fieldReader struct {
	v   *IOVec
	err error
}

func newFieldReader(v *IOVec) *fieldReader {
	return &fieldReader{v: v}
}

func (r *fieldReader) u8(off int) uint8 {
	if r.err != nil {
		return 0
	}
	val, err := r.v.GetUint8(off)
	r.err = err
	return val
}

func (r *fieldReader) u16(off int) uint16 {
	if r.err != nil {
		return 0
	}
	val, err := r.v.GetUint16(off)
	r.err = err
	return val
}

func (r *fieldReader) u32(off int) uint32 {
	if r.err != nil {
		return 0
	}
	val, err := r.v.GetUint32(off)
	r.err = err
	return val
}

func (r *fieldReader) u64(off int) uint64 {
	if r.err != nil {
		return 0
	}
	val, err := r.v.GetUint64(off)
	r.err = err
	return val
}

func (r *fieldReader) fileID(off int) FileID {
	var id FileID
	if r.err == nil {
		r.err = r.v.GetBytes(off, id[:])
	}
	return id
}

func (r *fieldReader) Err() error {
	return r.err
}

// ByteReader provides sequential reads over a byte slice. The first short
// read is recorded; after that every read returns a zero value.
type ByteReader struct {
	data []byte
	pos  int
	err  error
}

// NewByteReader creates a new ByteReader
func NewByteReader(data []byte) *ByteReader {
	return &ByteReader{data: data}
}

func (r *ByteReader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = errors.Wrapf(ErrOutOfBounds, "need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// Err returns the first error encountered, or nil.
func (r *ByteReader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes
func (r *ByteReader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

// Skip advances the position by n bytes
func (r *ByteReader) Skip(n int) {
	if r.require(n) {
		r.pos += n
	}
}

// ReadBytes reads n bytes and advances position. The result aliases the
// underlying data.
func (r *ByteReader) ReadBytes(n int) []byte {
	if !r.require(n) {
		return nil
	}
	result := r.data[r.pos : r.pos+n]
	r.pos += n
	return result
}

// ReadOneByte reads a single byte (named to avoid conflict with io.ByteReader)
func (r *ByteReader) ReadOneByte() byte {
	if !r.require(1) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a little-endian uint16
func (r *ByteReader) ReadUint16() uint16 {
	if !r.require(2) {
		return 0
	}
	v := le.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a little-endian uint32
func (r *ByteReader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := le.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadUint64 reads a little-endian uint64
func (r *ByteReader) ReadUint64() uint64 {
	if !r.require(8) {
		return 0
	}
	v := le.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// ReadFileID reads a 16-byte FileID
func (r *ByteReader) ReadFileID() FileID {
	var id FileID
	copy(id[:], r.ReadBytes(FileIDSize))
	return id
}

// ByteWriter provides convenient methods for writing binary data
type ByteWriter struct {
	data []byte
}

// NewByteWriter creates a new ByteWriter with initial capacity
func NewByteWriter(capacity int) *ByteWriter {
	return &ByteWriter{data: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes
func (w *ByteWriter) Bytes() []byte {
	return w.data
}

// Len returns the number of written bytes
func (w *ByteWriter) Len() int {
	return len(w.data)
}

// WriteBytes appends raw bytes
func (w *ByteWriter) WriteBytes(b []byte) {
	w.data = append(w.data, b...)
}

// WriteOneByte appends a single byte (named to avoid conflict with io.ByteWriter)
func (w *ByteWriter) WriteOneByte(b byte) {
	w.data = append(w.data, b)
}

// WriteUint16 appends a little-endian uint16
func (w *ByteWriter) WriteUint16(v uint16) {
	w.data = le.AppendUint16(w.data, v)
}

// WriteUint32 appends a little-endian uint32
func (w *ByteWriter) WriteUint32(v uint32) {
	w.data = le.AppendUint32(w.data, v)
}

// WriteUint64 appends a little-endian uint64
func (w *ByteWriter) WriteUint64(v uint64) {
	w.data = le.AppendUint64(w.data, v)
}

// WriteFileID appends a 16-byte FileID
func (w *ByteWriter) WriteFileID(f FileID) {
	w.data = append(w.data, f[:]...)
}

// WriteZeros appends n zero bytes
func (w *ByteWriter) WriteZeros(n int) {
	w.data = append(w.data, make([]byte, n)...)
}

