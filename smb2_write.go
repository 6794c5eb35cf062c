package smb2core

import (
	"context"

	"github.com/cockroachdb/errors"
)

// WRITE request layout:
//
//	0  StructureSize (2) = 49
//	2  DataOffset (2)
//	4  Length (4)
//	8  Offset (8)
//	16 FileId (16)
//	32 Channel (4)
//	36 RemainingBytes (4)
//	40 WriteChannelInfoOffset (2)
//	42 WriteChannelInfoLength (2)
//	44 Flags (4)
//	48 Buffer (variable)
//
// WRITE response layout:
//
//	0  StructureSize (2) = 17
//	2  Reserved (2)
//	4  Count (4)
//	8  Remaining (4)
//	12 WriteChannelInfoOffset (2)
//	14 WriteChannelInfoLength (2)
const (
	writeRequestFixedLen = SMB2_WRITE_REQUEST_SIZE &^ 1
	writeReplyFixedLen   = SMB2_WRITE_REPLY_SIZE &^ 1
)

// WriteRequest writes Data at Offset. Data is sent without copying and
// must stay unchanged until the callback fires or the PDU is freed.
type WriteRequest struct {
	Offset         uint64
	FileID         FileID
	Channel        uint32
	RemainingBytes uint32
	Flags          uint32
	Data           []byte
}

// WriteReply is the decoded WRITE response.
type WriteReply struct {
	Count     uint32
	Remaining uint32
}

func (c *Context) encodeWriteRequest(pdu *PDU, req *WriteRequest) error {
	if uint64(len(req.Data)) > uint64(c.config.MaxWriteSize) {
		return errors.Wrapf(ErrInvalidRequest, "write of %d bytes exceeds maximum %d", len(req.Data), c.config.MaxWriteSize)
	}

	hdr, err := c.alloc.appendOwned(&pdu.out, writeRequestFixedLen)
	if err != nil {
		return errors.Wrap(err, "write header")
	}

	w := newFieldWriter(hdr)
	w.u16(0, SMB2_WRITE_REQUEST_SIZE)
	w.u16(2, SMB2HeaderSize+writeRequestFixedLen)
	w.u32(4, uint32(len(req.Data)))
	w.u64(8, req.Offset)
	w.bytes(16, req.FileID[:])
	w.u32(32, req.Channel)
	w.u32(36, req.RemainingBytes)
	w.u32(44, req.Flags)
	if err := w.Err(); err != nil {
		return err
	}

	if len(req.Data) == 0 {
		pdu.out.AppendFiller()
		return nil
	}
	pdu.out.Append(req.Data, nil)
	// Length carries the real size; the pad byte keeps the message even.
	pdu.out.PadTo(2)
	return nil
}

func decodeWriteReply(pdu *PDU) (*WriteReply, error) {
	seg := pdu.in.At(0)
	if seg == nil {
		return nil, mismatchf("empty write reply")
	}

	r := newFieldReader(seg)
	size := r.u16(0)
	rep := &WriteReply{
		Count:     r.u32(4),
		Remaining: r.u32(8),
	}
	r.u16(14)
	if err := r.Err(); err != nil {
		return nil, mismatchf("write reply of %d bytes is shorter than its fixed part (%d): %v",
			seg.Len(), writeReplyFixedLen, err)
	}
	if size != SMB2_WRITE_REPLY_SIZE {
		return nil, mismatchf("unexpected size of write reply: expected %d, got %d",
			SMB2_WRITE_REPLY_SIZE, size)
	}
	return rep, nil
}

// SubmitWrite encodes and queues a WRITE. Encode and queue failures are
// returned here and cb never fires; otherwise cb fires once with the
// *WriteReply.
func (c *Context) SubmitWrite(req *WriteRequest, cb Callback, cbData interface{}) error {
	_, err := c.submit(SMB2_WRITE, cb, cbData, func(pdu *PDU) error {
		return c.encodeWriteRequest(pdu, req)
	})
	return err
}

// WriteAsync submits a WRITE and returns a Future for its reply.
func (c *Context) WriteAsync(req *WriteRequest) (*Future[*WriteReply], error) {
	return submitFuture[*WriteReply](c, SMB2_WRITE, func(pdu *PDU) error {
		return c.encodeWriteRequest(pdu, req)
	})
}

// Write submits a WRITE and waits for the reply.
func (c *Context) Write(ctx context.Context, req *WriteRequest) (*WriteReply, error) {
	f, err := c.WriteAsync(req)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}
