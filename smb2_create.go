package smb2core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// CREATE request layout (offsets from the start of the request body):
//
//	0  StructureSize (2) = 57
//	2  SecurityFlags (1)
//	3  RequestedOplockLevel (1)
//	4  ImpersonationLevel (4)
//	8  SmbCreateFlags (8)
//	16 Reserved (8)
//	24 DesiredAccess (4)
//	28 FileAttributes (4)
//	32 ShareAccess (4)
//	36 CreateDisposition (4)
//	40 CreateOptions (4)
//	44 NameOffset (2)
//	46 NameLength (2)
//	48 CreateContextsOffset (4)
//	52 CreateContextsLength (4)
//	56 Buffer (variable)
const (
	createRequestFixedLen = SMB2_CREATE_REQUEST_SIZE &^ 1
	createReplyFixedLen   = SMB2_CREATE_REPLY_SIZE &^ 1
)

// CreateRequest opens or creates a file or directory.
type CreateRequest struct {
	SecurityFlags        uint8
	RequestedOplockLevel uint8
	ImpersonationLevel   uint32
	SmbCreateFlags       uint64
	DesiredAccess        uint32
	FileAttributes       uint32
	ShareAccess          uint32
	CreateDisposition    uint32
	CreateOptions        uint32

	// Name is the path relative to the share, using backslashes. Empty
	// opens the share root.
	Name string

	// Create contexts are not supported. Both must stay zero/nil or the
	// request fails with ErrNotImplemented.
	CreateContextLength uint32
	CreateContext       []byte
}

// CreateReply is the decoded CREATE response.
type CreateReply struct {
	OplockLevel         uint8
	Flags               uint8
	CreateAction        uint32
	CreationTime        uint64 // FILETIME
	LastAccessTime      uint64 // FILETIME
	LastWriteTime       uint64 // FILETIME
	ChangeTime          uint64 // FILETIME
	AllocationSize      uint64
	EndOfFile           uint64
	FileAttributes      uint32
	FileID              FileID
	CreateContextLength uint32
}

// Created reports whether the server created a new file.
func (r *CreateReply) Created() bool {
	return r.CreateAction == FILE_CREATED
}

// ModTime returns LastWriteTime as a time.Time.
func (r *CreateReply) ModTime() time.Time {
	return FiletimeToTime(r.LastWriteTime)
}

// BirthTime returns CreationTime as a time.Time.
func (r *CreateReply) BirthTime() time.Time {
	return FiletimeToTime(r.CreationTime)
}

// Attributes returns FileAttributes as a bit set.
func (r *CreateReply) Attributes() Attributes {
	return Attributes(r.FileAttributes)
}

// IsDir reports whether the opened object is a directory.
func (r *CreateReply) IsDir() bool {
	return r.Attributes().IsDir()
}

func (c *Context) encodeCreateRequest(pdu *PDU, req *CreateRequest) error {
	hdr, err := c.alloc.appendOwned(&pdu.out, createRequestFixedLen)
	if err != nil {
		return errors.Wrap(err, "create header")
	}

	var name []byte
	if req.Name != "" {
		name, _, err = UTF8ToUTF16LE(req.Name)
		if err != nil {
			return err
		}
		if len(name) > 0xFFFF {
			return errors.Wrapf(ErrInvalidRequest, "name is %d bytes, limit is 65535", len(name))
		}
	}

	w := newFieldWriter(hdr)
	w.u16(0, SMB2_CREATE_REQUEST_SIZE)
	w.u8(2, req.SecurityFlags)
	w.u8(3, req.RequestedOplockLevel)
	w.u32(4, req.ImpersonationLevel)
	w.u64(8, req.SmbCreateFlags)
	w.u32(24, req.DesiredAccess)
	w.u32(28, req.FileAttributes)
	w.u32(32, req.ShareAccess)
	w.u32(36, req.CreateDisposition)
	w.u32(40, req.CreateOptions)
	// The name always sits right after the fixed part.
	w.u16(44, SMB2HeaderSize+createRequestFixedLen)
	w.u16(46, uint16(len(name)))
	w.u32(52, req.CreateContextLength)
	if err := w.Err(); err != nil {
		return err
	}

	if len(name) > 0 {
		seg, err := c.alloc.appendOwned(&pdu.out, len(name))
		if err != nil {
			return errors.Wrap(err, "create name")
		}
		copy(seg.Buf, name)
	}

	if req.CreateContextLength != 0 || len(req.CreateContext) != 0 {
		return notImplementedf("create contexts")
	}

	// The buffer must hold at least one byte even when the name is empty
	// and there are no create contexts.
	if len(name) == 0 {
		pdu.out.AppendFiller()
	}
	return nil
}

// CREATE response layout:
//
//	0  StructureSize (2) = 89
//	2  OplockLevel (1)
//	3  Flags (1)
//	4  CreateAction (4)
//	8  CreationTime (8)
//	16 LastAccessTime (8)
//	24 LastWriteTime (8)
//	32 ChangeTime (8)
//	40 AllocationSize (8)
//	48 EndofFile (8)
//	56 FileAttributes (4)
//	60 Reserved2 (4)
//	64 FileId (16)
//	80 CreateContextsOffset (4)
//	84 CreateContextsLength (4)
//	88 Buffer (variable)
func decodeCreateReply(pdu *PDU) (*CreateReply, error) {
	seg := pdu.in.At(0)
	if seg == nil {
		return nil, mismatchf("empty create reply")
	}

	size, err := seg.GetUint16(0)
	if err != nil {
		return nil, mismatchf("create reply: %v", err)
	}
	if size != SMB2_CREATE_REPLY_SIZE {
		return nil, mismatchf("unexpected size of create reply: expected %d, got %d",
			SMB2_CREATE_REPLY_SIZE, size)
	}
	if seg.Len() < createReplyFixedLen {
		return nil, mismatchf("create reply of %d bytes is shorter than its fixed part (%d)",
			seg.Len(), createReplyFixedLen)
	}

	r := newFieldReader(seg)
	rep := &CreateReply{
		OplockLevel:         r.u8(2),
		Flags:               r.u8(3),
		CreateAction:        r.u32(4),
		CreationTime:        r.u64(8),
		LastAccessTime:      r.u64(16),
		LastWriteTime:       r.u64(24),
		ChangeTime:          r.u64(32),
		AllocationSize:      r.u64(40),
		EndOfFile:           r.u64(48),
		FileAttributes:      r.u32(56),
		FileID:              r.fileID(64),
		CreateContextLength: r.u32(84),
	}
	if err := r.Err(); err != nil {
		return nil, mismatchf("create reply: %v", err)
	}

	if rep.CreateContextLength != 0 {
		return nil, notImplementedf("create contexts in reply (%d bytes)", rep.CreateContextLength)
	}
	return rep, nil
}

// SubmitCreate encodes and queues a CREATE. Encode and queue failures are
// returned here and cb never fires; otherwise cb fires once with the
// *CreateReply.
func (c *Context) SubmitCreate(req *CreateRequest, cb Callback, cbData interface{}) error {
	_, err := c.submit(SMB2_CREATE, cb, cbData, func(pdu *PDU) error {
		return c.encodeCreateRequest(pdu, req)
	})
	return err
}

// CreateAsync submits a CREATE and returns a Future for its reply.
func (c *Context) CreateAsync(req *CreateRequest) (*Future[*CreateReply], error) {
	return submitFuture[*CreateReply](c, SMB2_CREATE, func(pdu *PDU) error {
		return c.encodeCreateRequest(pdu, req)
	})
}

// Create submits a CREATE and waits for the reply.
func (c *Context) Create(ctx context.Context, req *CreateRequest) (*CreateReply, error) {
	f, err := c.CreateAsync(req)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}
