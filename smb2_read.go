package smb2core

import (
	"context"

	"github.com/cockroachdb/errors"
)

// READ request layout:
//
//	0  StructureSize (2) = 49
//	2  Padding (1)
//	3  Flags (1)
//	4  Length (4)
//	8  Offset (8)
//	16 FileId (16)
//	32 MinimumCount (4)
//	36 Channel (4)
//	40 RemainingBytes (4)
//	44 ReadChannelInfoOffset (2)
//	46 ReadChannelInfoLength (2)
//	48 Buffer (variable)
//
// READ response layout:
//
//	0  StructureSize (2) = 17
//	2  DataOffset (1)
//	3  Reserved (1)
//	4  DataLength (4)
//	8  DataRemaining (4)
//	12 Reserved2 (4)
//	16 Buffer (variable)
const (
	readRequestFixedLen = SMB2_READ_REQUEST_SIZE &^ 1
	readReplyFixedLen   = SMB2_READ_REPLY_SIZE &^ 1

	// readDataOffset is where the data starts, counted from the beginning
	// of the SMB2 header. Replies that place it anywhere else are rejected
	// because the caller's buffer is registered right after the fixed part.
	readDataOffset = SMB2HeaderSize + readReplyFixedLen
)

// ReadRequest reads Length bytes at Offset from an open file. The data
// lands directly in Buf, which must stay valid and untouched until the
// callback fires or the PDU is freed.
type ReadRequest struct {
	Flags          uint8
	Length         uint32
	Offset         uint64
	FileID         FileID
	MinimumCount   uint32
	Channel        uint32
	RemainingBytes uint32

	// Channel info is not supported. Both must stay zero/nil or the
	// request fails with ErrNotImplemented.
	ReadChannelInfoLength uint16
	ReadChannelInfo       []byte

	Buf []byte
}

// ReadReply is the decoded READ response. Data aliases the request's Buf.
type ReadReply struct {
	DataLength    uint32
	DataRemaining uint32
	Data          []byte
}

func (c *Context) validateReadRequest(req *ReadRequest) error {
	if req.Length > c.config.MaxReadSize {
		return errors.Wrapf(ErrInvalidRequest, "read length %d exceeds maximum %d", req.Length, c.config.MaxReadSize)
	}
	if uint64(req.Length) > uint64(len(req.Buf)) {
		return errors.Wrapf(ErrInvalidRequest, "read length %d exceeds buffer of %d bytes", req.Length, len(req.Buf))
	}
	return nil
}

func (c *Context) encodeReadRequest(pdu *PDU, req *ReadRequest) error {
	hdr, err := c.alloc.appendOwned(&pdu.out, readRequestFixedLen)
	if err != nil {
		return errors.Wrap(err, "read header")
	}

	w := newFieldWriter(hdr)
	w.u16(0, SMB2_READ_REQUEST_SIZE)
	w.u8(3, req.Flags)
	w.u32(4, req.Length)
	w.u64(8, req.Offset)
	w.bytes(16, req.FileID[:])
	w.u32(32, req.MinimumCount)
	w.u32(36, req.Channel)
	w.u32(40, req.RemainingBytes)
	w.u16(46, req.ReadChannelInfoLength)
	if err := w.Err(); err != nil {
		return err
	}

	if req.ReadChannelInfoLength > 0 || req.ReadChannelInfo != nil {
		return notImplementedf("read channel info")
	}

	pdu.out.AppendFiller()
	pdu.out.PadTo(8)
	return nil
}

// registerReadBuffers prepares the inbound chain: an owned segment for the
// fixed reply followed by the caller's buffer.
func (c *Context) registerReadBuffers(pdu *PDU, req *ReadRequest) error {
	if _, err := c.alloc.appendOwned(&pdu.in, readReplyFixedLen); err != nil {
		return errors.Wrap(err, "read reply header")
	}
	pdu.in.Append(req.Buf[:req.Length], nil)
	return nil
}

func decodeReadReply(pdu *PDU) (*ReadReply, error) {
	seg := pdu.in.At(0)
	if seg == nil {
		return nil, mismatchf("empty read reply")
	}

	// The fixed segment is pre-registered, so its length says nothing about
	// how much the server actually sent.
	if pdu.received < readReplyFixedLen {
		return nil, mismatchf("read reply of %d bytes is shorter than its fixed part (%d)",
			pdu.received, readReplyFixedLen)
	}

	r := newFieldReader(seg)
	size := r.u16(0)
	if err := r.Err(); err != nil {
		return nil, mismatchf("read reply: %v", err)
	}
	if size != SMB2_READ_REPLY_SIZE {
		return nil, mismatchf("unexpected size of read reply: expected %d, got %d",
			SMB2_READ_REPLY_SIZE, size)
	}

	dataOffset := r.u8(2)
	rep := &ReadReply{
		DataLength:    r.u32(4),
		DataRemaining: r.u32(8),
	}
	if err := r.Err(); err != nil {
		return nil, mismatchf("read reply: %v", err)
	}
	if dataOffset != readDataOffset {
		return nil, mismatchf("unexpected data offset in read reply: expected %d, got %d",
			readDataOffset, dataOffset)
	}

	data := pdu.in.At(1)
	if data == nil {
		return nil, mismatchf("read reply has no data buffer registered")
	}
	if int64(rep.DataLength) > int64(data.Len()) {
		return nil, mismatchf("read reply carries %d bytes for a %d byte buffer",
			rep.DataLength, data.Len())
	}
	if int(rep.DataLength) > pdu.received-readReplyFixedLen {
		return nil, mismatchf("read reply announces %d bytes but carries %d",
			rep.DataLength, pdu.received-readReplyFixedLen)
	}
	rep.Data = data.Buf[:rep.DataLength]
	return rep, nil
}

func (c *Context) submitRead(req *ReadRequest) func(*PDU) error {
	return func(pdu *PDU) error {
		if err := c.validateReadRequest(req); err != nil {
			return err
		}
		if err := c.encodeReadRequest(pdu, req); err != nil {
			return err
		}
		return c.registerReadBuffers(pdu, req)
	}
}

// SubmitRead encodes and queues a READ. The reply data is written into
// req.Buf. Encode and queue failures are returned here and cb never fires;
// otherwise cb fires once with the *ReadReply.
func (c *Context) SubmitRead(req *ReadRequest, cb Callback, cbData interface{}) error {
	_, err := c.submit(SMB2_READ, cb, cbData, c.submitRead(req))
	return err
}

// ReadAsync submits a READ and returns a Future for its reply.
func (c *Context) ReadAsync(req *ReadRequest) (*Future[*ReadReply], error) {
	return submitFuture[*ReadReply](c, SMB2_READ, c.submitRead(req))
}

// Read submits a READ and waits for the reply.
func (c *Context) Read(ctx context.Context, req *ReadRequest) (*ReadReply, error) {
	f, err := c.ReadAsync(req)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}
