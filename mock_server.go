package smb2core

import (
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/absfs/absfs"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// MockServer is an in-process Transport that answers CREATE, READ, WRITE
// and CLOSE from an absfs.FileSystem. Replies are held until Deliver or
// DeliverReverse is called, unless auto delivery is enabled, so tests can
// control completion order.
type MockServer struct {
	fs       absfs.FileSystem
	log      logrus.FieldLogger
	handles  *fileHandleMap
	readOnly bool

	mu        sync.Mutex
	pending   []pendingReply
	nextMsgID uint64
	auto      bool
	queueErr  error
	mutate    func(cmd Command, raw []byte) []byte
	closed    bool
}

type pendingReply struct {
	pdu *PDU
	raw []byte
}

// NewMockServer serves files from fsys. A nil logger discards output.
func NewMockServer(fsys absfs.FileSystem, logger logrus.FieldLogger) *MockServer {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &MockServer{
		fs:        fsys,
		log:       logger.WithField("component", "mock-server"),
		handles:   newFileHandleMap(),
		nextMsgID: 1,
	}
}

// SetReadOnly makes every modifying CREATE and every WRITE fail with
// STATUS_ACCESS_DENIED.
func (s *MockServer) SetReadOnly(readOnly bool) {
	s.readOnly = readOnly
}

// SetAutoDeliver makes the server deliver each reply from its own goroutine
// as soon as the PDU is queued.
func (s *MockServer) SetAutoDeliver(auto bool) {
	s.mu.Lock()
	s.auto = auto
	s.mu.Unlock()
}

// FailQueue makes every later QueuePDU return err. Pass nil to stop.
func (s *MockServer) FailQueue(err error) {
	s.mu.Lock()
	s.queueErr = err
	s.mu.Unlock()
}

// MutateReplies installs fn to rewrite each raw reply before it is held.
// Pass nil to stop.
func (s *MockServer) MutateReplies(fn func(cmd Command, raw []byte) []byte) {
	s.mu.Lock()
	s.mutate = fn
	s.mu.Unlock()
}

// Pending returns the number of replies waiting for delivery.
func (s *MockServer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// OpenHandles returns the number of files currently open on the server.
func (s *MockServer) OpenHandles() int {
	return s.handles.count()
}

// QueuePDU implements Transport. The request is executed immediately; the
// reply is held.
func (s *MockServer) QueuePDU(pdu *PDU) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("mock server closed")
	}
	if s.queueErr != nil {
		err := s.queueErr
		s.mu.Unlock()
		return err
	}
	msgID := s.nextMsgID
	s.nextMsgID++
	mutate := s.mutate
	s.mu.Unlock()

	body, status := s.dispatch(pdu.Command(), pdu.Out().Bytes())
	hdr := &Header{
		Status:        status,
		Command:       pdu.Command(),
		CreditRequest: 1,
		Flags:         SMB2_FLAGS_SERVER_TO_REDIR,
		MessageID:     msgID,
	}
	raw := append(hdr.Marshal(), body...)
	if mutate != nil {
		raw = mutate(pdu.Command(), raw)
	}

	s.mu.Lock()
	auto := s.auto
	if !auto {
		s.pending = append(s.pending, pendingReply{pdu: pdu, raw: raw})
	}
	s.mu.Unlock()

	if auto {
		go s.deliver(pendingReply{pdu: pdu, raw: raw})
	}
	return nil
}

// Deliver hands every held reply to its context in queue order and returns
// the combined OnReply errors.
func (s *MockServer) Deliver() error {
	var err error
	for _, r := range s.take() {
		err = multierr.Append(err, s.deliver(r))
	}
	return err
}

// DeliverReverse is Deliver in reverse queue order.
func (s *MockServer) DeliverReverse() error {
	replies := s.take()
	var err error
	for i := len(replies) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.deliver(replies[i]))
	}
	return err
}

func (s *MockServer) take() []pendingReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	replies := s.pending
	s.pending = nil
	return replies
}

// deliver skips PDUs freed while their reply was in flight, as a real
// transport drops replies it can no longer correlate.
func (s *MockServer) deliver(r pendingReply) error {
	if r.pdu.State() == PDUFreed {
		s.log.WithField("command", r.pdu.Command().String()).Debug("dropping reply for freed PDU")
		return nil
	}
	return r.pdu.Context().OnReply(r.pdu, r.raw)
}

// Close drops held replies and closes every open file.
func (s *MockServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	return s.handles.releaseAll()
}

func (s *MockServer) dispatch(cmd Command, req []byte) ([]byte, NTStatus) {
	switch cmd {
	case SMB2_CREATE:
		return s.handleCreate(req)
	case SMB2_READ:
		return s.handleRead(req)
	case SMB2_WRITE:
		return s.handleWrite(req)
	case SMB2_CLOSE:
		return s.handleClose(req)
	default:
		return buildErrorResponse(), STATUS_NOT_SUPPORTED
	}
}

// buildErrorResponse creates an empty error response payload
func buildErrorResponse() []byte {
	w := NewByteWriter(SMB2_ERROR_REPLY_SIZE)
	w.WriteUint16(SMB2_ERROR_REPLY_SIZE) // StructureSize
	w.WriteOneByte(0)                    // ErrorContextCount
	w.WriteOneByte(0)                    // Reserved
	w.WriteUint32(0)                     // ByteCount
	w.WriteOneByte(0)                    // ErrorData (1 byte for structure)
	return w.Bytes()
}

func (s *MockServer) handleCreate(req []byte) ([]byte, NTStatus) {
	r := NewByteReader(req)
	if r.ReadUint16() != SMB2_CREATE_REQUEST_SIZE {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	r.Skip(2) // SecurityFlags, RequestedOplockLevel
	r.Skip(4) // ImpersonationLevel
	r.Skip(8) // SmbCreateFlags
	r.Skip(8) // Reserved
	desiredAccess := r.ReadUint32()
	r.Skip(4) // FileAttributes
	shareAccess := r.ReadUint32()
	disposition := r.ReadUint32()
	options := r.ReadUint32()
	nameOffset := r.ReadUint16()
	nameLength := r.ReadUint16()
	r.Skip(4) // CreateContextsOffset
	if r.ReadUint32() != 0 {
		return buildErrorResponse(), STATUS_NOT_SUPPORTED
	}
	if r.Err() != nil {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}

	var name string
	if nameLength > 0 {
		start := int(nameOffset) - SMB2HeaderSize
		if start < 0 || start+int(nameLength) > len(req) {
			return buildErrorResponse(), STATUS_INVALID_PARAMETER
		}
		decoded, err := UTF16LEToUTF8(req[start : start+int(nameLength)])
		if err != nil {
			return buildErrorResponse(), STATUS_OBJECT_NAME_INVALID
		}
		name = decoded
	}
	filename, nameErr := sharePath(name)
	if nameErr != nil {
		return buildErrorResponse(), STATUS_OBJECT_NAME_INVALID
	}

	log := s.log.WithFields(logrus.Fields{
		"path":        filename,
		"disposition": disposition,
		"access":      desiredAccess,
	})
	log.Debug("CREATE")

	wantDir := options&FILE_DIRECTORY_FILE != 0
	wantFile := options&FILE_NON_DIRECTORY_FILE != 0

	if !s.handles.checkShareAccess(filename, desiredAccess, shareAccess) {
		return buildErrorResponse(), STATUS_SHARING_VIOLATION
	}

	info, statErr := s.fs.Stat(filename)
	existed := statErr == nil
	if existed {
		if wantDir && !info.IsDir() {
			return buildErrorResponse(), STATUS_NOT_A_DIRECTORY
		}
		if wantFile && info.IsDir() {
			return buildErrorResponse(), STATUS_FILE_IS_A_DIRECTORY
		}
	}

	var (
		file         absfs.File
		err          error
		createAction uint32
	)
	switch disposition {
	case FILE_OPEN:
		if !existed {
			return buildErrorResponse(), STATUS_OBJECT_NAME_NOT_FOUND
		}
		file, err = s.open(filename, info.IsDir())
		createAction = FILE_OPENED

	case FILE_CREATE:
		if existed {
			return buildErrorResponse(), STATUS_OBJECT_NAME_COLLISION
		}
		if s.readOnly {
			return buildErrorResponse(), STATUS_ACCESS_DENIED
		}
		file, err = s.create(filename, wantDir)
		createAction = FILE_CREATED

	case FILE_OPEN_IF:
		if existed {
			file, err = s.open(filename, info.IsDir())
			createAction = FILE_OPENED
			break
		}
		if s.readOnly {
			return buildErrorResponse(), STATUS_ACCESS_DENIED
		}
		file, err = s.create(filename, wantDir)
		createAction = FILE_CREATED

	case FILE_OVERWRITE, FILE_OVERWRITE_IF, FILE_SUPERSEDE:
		if !existed && disposition == FILE_OVERWRITE {
			return buildErrorResponse(), STATUS_OBJECT_NAME_NOT_FOUND
		}
		if s.readOnly {
			return buildErrorResponse(), STATUS_ACCESS_DENIED
		}
		if existed && info.IsDir() {
			return buildErrorResponse(), STATUS_FILE_IS_A_DIRECTORY
		}
		file, err = s.fs.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
		switch {
		case !existed:
			createAction = FILE_CREATED
		case disposition == FILE_SUPERSEDE:
			createAction = FILE_SUPERSEDED
		default:
			createAction = FILE_OVERWRITTEN
		}

	default:
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	if err != nil {
		log.WithError(err).Debug("CREATE failed")
		return buildErrorResponse(), mapGoErrorToNTStatus(err)
	}

	info, err = file.Stat()
	if err != nil {
		file.Close()
		return buildErrorResponse(), mapGoErrorToNTStatus(err)
	}

	of := s.handles.allocate(file, filename, info.IsDir(), desiredAccess, shareAccess,
		options&FILE_DELETE_ON_CLOSE != 0)
	log.WithField("file_id", of.id.String()).Debug("file opened")

	w := NewByteWriter(SMB2_CREATE_REPLY_SIZE)
	w.WriteUint16(SMB2_CREATE_REPLY_SIZE)
	w.WriteOneByte(SMB2_OPLOCK_LEVEL_NONE)
	w.WriteOneByte(0) // Flags
	w.WriteUint32(createAction)
	writeFileInfo(w, info)
	w.WriteUint32(0) // Reserved2
	w.WriteFileID(of.id)
	w.WriteUint32(0) // CreateContextsOffset
	w.WriteUint32(0) // CreateContextsLength
	return w.Bytes(), STATUS_SUCCESS
}

// writeFileInfo writes the four times, both sizes and the attributes in
// the order CREATE and CLOSE replies share.
func writeFileInfo(w *ByteWriter, info fs.FileInfo) {
	mtime := TimeToFiletime(info.ModTime())
	w.WriteUint64(mtime) // CreationTime
	w.WriteUint64(mtime) // LastAccessTime
	w.WriteUint64(mtime) // LastWriteTime
	w.WriteUint64(mtime) // ChangeTime

	size := info.Size()
	w.WriteUint64(uint64((size + 4095) &^ 4095)) // AllocationSize
	w.WriteUint64(uint64(size))                  // EndOfFile

	attrs := AttributesFromMode(info.Mode())
	if strings.HasPrefix(info.Name(), ".") {
		attrs |= Attributes(FILE_ATTRIBUTE_HIDDEN)
	}
	w.WriteUint32(uint32(attrs))
}

func (s *MockServer) open(path string, isDir bool) (absfs.File, error) {
	if isDir {
		return s.fs.OpenFile(path, os.O_RDONLY, 0)
	}
	file, err := s.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		file, err = s.fs.OpenFile(path, os.O_RDONLY, 0)
	}
	return file, err
}

func (s *MockServer) create(path string, dir bool) (absfs.File, error) {
	if !dir {
		return s.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	}
	if err := s.fs.Mkdir(path, 0755); err != nil {
		return nil, err
	}
	return s.fs.OpenFile(path, os.O_RDONLY, 0)
}

func (s *MockServer) handleRead(req []byte) ([]byte, NTStatus) {
	r := NewByteReader(req)
	if r.ReadUint16() != SMB2_READ_REQUEST_SIZE {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	r.Skip(2) // Padding, Flags
	length := r.ReadUint32()
	offset := r.ReadUint64()
	fileID := r.ReadFileID()
	if r.Err() != nil {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}

	of := s.handles.get(fileID)
	if of == nil {
		return buildErrorResponse(), STATUS_FILE_CLOSED
	}
	if of.isDir {
		return buildErrorResponse(), STATUS_INVALID_DEVICE_REQUEST
	}
	if length > MaxReadSize {
		length = MaxReadSize
	}
	if info, err := of.file.Stat(); err == nil && length > 0 && int64(offset) >= info.Size() {
		return buildErrorResponse(), STATUS_END_OF_FILE
	}

	if seeker, ok := of.file.(io.Seeker); ok {
		if _, err := seeker.Seek(int64(offset), io.SeekStart); err != nil {
			return buildErrorResponse(), mapGoErrorToNTStatus(err)
		}
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(of.file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return buildErrorResponse(), mapGoErrorToNTStatus(err)
	}
	if n == 0 && length > 0 {
		return buildErrorResponse(), STATUS_END_OF_FILE
	}
	s.log.WithFields(logrus.Fields{"path": of.path, "offset": offset, "bytes": n}).Debug("READ")

	w := NewByteWriter(readReplyFixedLen + n)
	w.WriteUint16(SMB2_READ_REPLY_SIZE)
	w.WriteOneByte(readDataOffset)
	w.WriteOneByte(0)        // Reserved
	w.WriteUint32(uint32(n)) // DataLength
	w.WriteUint32(0)         // DataRemaining
	w.WriteUint32(0)         // Reserved2
	w.WriteBytes(buf[:n])
	return w.Bytes(), STATUS_SUCCESS
}

func (s *MockServer) handleWrite(req []byte) ([]byte, NTStatus) {
	r := NewByteReader(req)
	if r.ReadUint16() != SMB2_WRITE_REQUEST_SIZE {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	dataOffset := r.ReadUint16()
	length := r.ReadUint32()
	offset := r.ReadUint64()
	fileID := r.ReadFileID()
	if r.Err() != nil {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}

	of := s.handles.get(fileID)
	if of == nil {
		return buildErrorResponse(), STATUS_FILE_CLOSED
	}
	if s.readOnly || mapGenericAccess(of.access)&(FILE_WRITE_DATA|FILE_APPEND_DATA) == 0 {
		return buildErrorResponse(), STATUS_ACCESS_DENIED
	}

	start := int(dataOffset) - SMB2HeaderSize
	if start < 0 || start+int(length) > len(req) {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	data := req[start : start+int(length)]

	if seeker, ok := of.file.(io.Seeker); ok {
		if _, err := seeker.Seek(int64(offset), io.SeekStart); err != nil {
			return buildErrorResponse(), mapGoErrorToNTStatus(err)
		}
	}
	n, err := of.file.Write(data)
	if err != nil {
		return buildErrorResponse(), mapGoErrorToNTStatus(err)
	}
	s.log.WithFields(logrus.Fields{"path": of.path, "offset": offset, "bytes": n}).Debug("WRITE")

	w := NewByteWriter(writeReplyFixedLen)
	w.WriteUint16(SMB2_WRITE_REPLY_SIZE)
	w.WriteUint16(0)         // Reserved
	w.WriteUint32(uint32(n)) // Count
	w.WriteUint32(0)         // Remaining
	w.WriteUint16(0)         // WriteChannelInfoOffset
	w.WriteUint16(0)         // WriteChannelInfoLength
	return w.Bytes(), STATUS_SUCCESS
}

func (s *MockServer) handleClose(req []byte) ([]byte, NTStatus) {
	r := NewByteReader(req)
	if r.ReadUint16() != SMB2_CLOSE_REQUEST_SIZE {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}
	flags := r.ReadUint16()
	r.Skip(4) // Reserved
	fileID := r.ReadFileID()
	if r.Err() != nil {
		return buildErrorResponse(), STATUS_INVALID_PARAMETER
	}

	of := s.handles.get(fileID)
	if of == nil {
		return buildErrorResponse(), STATUS_FILE_CLOSED
	}

	var info fs.FileInfo
	if flags&SMB2_CLOSE_FLAG_POSTQUERY_ATTRIB != 0 {
		info, _ = of.file.Stat()
	}

	log := s.log.WithField("path", of.path)
	if err := s.handles.release(fileID); err != nil {
		log.WithError(err).Warn("CLOSE: failed to close file")
	}
	if of.deleteOnClose {
		if err := s.fs.Remove(of.path); err != nil {
			log.WithError(err).Warn("CLOSE: delete on close failed")
		}
	}
	log.Debug("CLOSE")

	w := NewByteWriter(SMB2_CLOSE_REPLY_SIZE)
	w.WriteUint16(SMB2_CLOSE_REPLY_SIZE)
	w.WriteUint16(flags)
	w.WriteUint32(0) // Reserved
	if info != nil {
		writeFileInfo(w, info)
	} else {
		// 4 times, 2 sizes and the attributes
		w.WriteZeros(52)
	}
	return w.Bytes(), STATUS_SUCCESS
}

// mapGoErrorToNTStatus maps Go errors to NT status codes
func mapGoErrorToNTStatus(err error) NTStatus {
	switch {
	case err == nil:
		return STATUS_SUCCESS
	case errors.Is(err, fs.ErrNotExist):
		return STATUS_OBJECT_NAME_NOT_FOUND
	case errors.Is(err, fs.ErrExist):
		return STATUS_OBJECT_NAME_COLLISION
	case errors.Is(err, fs.ErrPermission):
		return STATUS_ACCESS_DENIED
	case errors.Is(err, fs.ErrInvalid):
		return STATUS_INVALID_PARAMETER
	case errors.Is(err, fs.ErrClosed):
		return STATUS_FILE_CLOSED
	case errors.Is(err, io.EOF):
		return STATUS_END_OF_FILE
	}
	return STATUS_INVALID_DEVICE_REQUEST
}
