package smb2core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// CLOSE request layout:
//
//	0  StructureSize (2) = 24
//	2  Flags (2)
//	4  Reserved (4)
//	8  FileId (16)
//
// CLOSE response layout:
//
//	0  StructureSize (2) = 60
//	2  Flags (2)
//	4  Reserved (4)
//	8  CreationTime (8)
//	16 LastAccessTime (8)
//	24 LastWriteTime (8)
//	32 ChangeTime (8)
//	40 AllocationSize (8)
//	48 EndofFile (8)
//	56 FileAttributes (4)
const (
	closeRequestFixedLen = SMB2_CLOSE_REQUEST_SIZE
	closeReplyFixedLen   = SMB2_CLOSE_REPLY_SIZE
)

// CloseRequest closes an open handle.
type CloseRequest struct {
	// Flags may carry SMB2_CLOSE_FLAG_POSTQUERY_ATTRIB to have the server
	// fill in the attribute fields of the reply.
	Flags  uint16
	FileID FileID
}

// CloseReply is the decoded CLOSE response. The attribute fields are zero
// unless the request asked for them.
type CloseReply struct {
	Flags          uint16
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize uint64
	EndOfFile      uint64
	FileAttributes uint32
}

// ModTime returns LastWriteTime as a time.Time.
func (r *CloseReply) ModTime() time.Time {
	return FiletimeToTime(r.LastWriteTime)
}

func (c *Context) encodeCloseRequest(pdu *PDU, req *CloseRequest) error {
	hdr, err := c.alloc.appendOwned(&pdu.out, closeRequestFixedLen)
	if err != nil {
		return errors.Wrap(err, "close header")
	}

	w := newFieldWriter(hdr)
	w.u16(0, SMB2_CLOSE_REQUEST_SIZE)
	w.u16(2, req.Flags)
	w.bytes(8, req.FileID[:])
	return w.Err()
}

func decodeCloseReply(pdu *PDU) (*CloseReply, error) {
	seg := pdu.in.At(0)
	if seg == nil {
		return nil, mismatchf("empty close reply")
	}

	r := newFieldReader(seg)
	size := r.u16(0)
	if err := r.Err(); err != nil {
		return nil, mismatchf("close reply: %v", err)
	}
	if size != SMB2_CLOSE_REPLY_SIZE {
		return nil, mismatchf("unexpected size of close reply: expected %d, got %d",
			SMB2_CLOSE_REPLY_SIZE, size)
	}

	rep := &CloseReply{
		Flags:          r.u16(2),
		CreationTime:   r.u64(8),
		LastAccessTime: r.u64(16),
		LastWriteTime:  r.u64(24),
		ChangeTime:     r.u64(32),
		AllocationSize: r.u64(40),
		EndOfFile:      r.u64(48),
		FileAttributes: r.u32(56),
	}
	if err := r.Err(); err != nil {
		return nil, mismatchf("close reply of %d bytes is shorter than its fixed part (%d): %v",
			seg.Len(), closeReplyFixedLen, err)
	}
	return rep, nil
}

// SubmitClose encodes and queues a CLOSE. Encode and queue failures are
// returned here and cb never fires; otherwise cb fires once with the
// *CloseReply.
func (c *Context) SubmitClose(req *CloseRequest, cb Callback, cbData interface{}) error {
	_, err := c.submit(SMB2_CLOSE, cb, cbData, func(pdu *PDU) error {
		return c.encodeCloseRequest(pdu, req)
	})
	return err
}

// CloseAsync submits a CLOSE and returns a Future for its reply.
func (c *Context) CloseAsync(req *CloseRequest) (*Future[*CloseReply], error) {
	return submitFuture[*CloseReply](c, SMB2_CLOSE, func(pdu *PDU) error {
		return c.encodeCloseRequest(pdu, req)
	})
}

// CloseFile submits a CLOSE and waits for the reply.
func (c *Context) CloseFile(ctx context.Context, req *CloseRequest) (*CloseReply, error) {
	f, err := c.CloseAsync(req)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}
