package smb2core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/absfs/memfs"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockServer(t *testing.T, files map[string]string) (*MockServer, *memfs.FileSystem) {
	t.Helper()
	fs, err := memfs.NewFS()
	require.NoError(t, err, "memfs")

	for name, content := range files {
		f, err := fs.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	return NewMockServer(fs, nil), fs
}

// openFile runs a CREATE through the server and returns its reply.
func openTestFile(t *testing.T, c *Context, srv *MockServer, req *CreateRequest) (*CreateReply, error) {
	t.Helper()
	f, err := c.CreateAsync(req)
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	return f.Wait(context.Background())
}

func TestMockServer_CreateReadWriteClose(t *testing.T) {
	srv, fs := setupMockServer(t, map[string]string{"/afile.txt": "hello, world"})
	c := newTestContext(t, srv, nil)
	ctx := context.Background()

	created, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "afile.txt",
		DesiredAccess:     GENERIC_READ | GENERIC_WRITE,
		ShareAccess:       FILE_SHARE_READ,
		CreateDisposition: FILE_OPEN,
	})
	require.NoError(t, err)
	assert.Equal(t, FILE_OPENED, created.CreateAction)
	assert.Equal(t, uint64(12), created.EndOfFile)
	assert.False(t, created.FileID.IsZero())
	assert.False(t, created.IsDir())
	assert.Equal(t, 1, srv.OpenHandles())

	buf := make([]byte, 64)
	rf, err := c.ReadAsync(&ReadRequest{Length: 64, FileID: created.FileID, Buf: buf})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	read, err := rf.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), read.DataLength)
	assert.Equal(t, "hello, world", string(read.Data))
	assert.Equal(t, "hello, world", string(buf[:12]))

	wf, err := c.WriteAsync(&WriteRequest{Offset: 7, FileID: created.FileID, Data: []byte("gopher!")})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	written, err := wf.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), written.Count)

	cf, err := c.CloseAsync(&CloseRequest{Flags: SMB2_CLOSE_FLAG_POSTQUERY_ATTRIB, FileID: created.FileID})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	closed, err := cf.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), closed.EndOfFile)
	assert.Equal(t, 0, srv.OpenHandles())

	f, err := fs.Open("/afile.txt")
	require.NoError(t, err)
	defer f.Close()
	got := make([]byte, 32)
	n, _ := f.Read(got)
	assert.Equal(t, "hello, gopher!", string(got[:n]))

	assert.Equal(t, 0, c.Outstanding())
	assert.Equal(t, int64(0), c.BufferBytesInUse())
}

func TestMockServer_CreateDispositions(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		disposition uint32
		options     uint32
		wantStatus  NTStatus
		wantAction  uint32
	}{
		{"open existing", "exists.txt", FILE_OPEN, 0, STATUS_SUCCESS, FILE_OPENED},
		{"open missing", "missing.txt", FILE_OPEN, 0, STATUS_OBJECT_NAME_NOT_FOUND, 0},
		{"create new", "new.txt", FILE_CREATE, 0, STATUS_SUCCESS, FILE_CREATED},
		{"create existing", "exists.txt", FILE_CREATE, 0, STATUS_OBJECT_NAME_COLLISION, 0},
		{"open_if missing", "new.txt", FILE_OPEN_IF, 0, STATUS_SUCCESS, FILE_CREATED},
		{"open_if existing", "exists.txt", FILE_OPEN_IF, 0, STATUS_SUCCESS, FILE_OPENED},
		{"overwrite existing", "exists.txt", FILE_OVERWRITE, 0, STATUS_SUCCESS, FILE_OVERWRITTEN},
		{"overwrite missing", "missing.txt", FILE_OVERWRITE, 0, STATUS_OBJECT_NAME_NOT_FOUND, 0},
		{"overwrite_if missing", "new.txt", FILE_OVERWRITE_IF, 0, STATUS_SUCCESS, FILE_CREATED},
		{"supersede existing", "exists.txt", FILE_SUPERSEDE, 0, STATUS_SUCCESS, FILE_SUPERSEDED},
		{"directory on a file", "exists.txt", FILE_OPEN, FILE_DIRECTORY_FILE, STATUS_NOT_A_DIRECTORY, 0},
		{"create directory", "newdir", FILE_CREATE, FILE_DIRECTORY_FILE, STATUS_SUCCESS, FILE_CREATED},
		{"bad disposition", "exists.txt", 42, 0, STATUS_INVALID_PARAMETER, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupMockServer(t, map[string]string{"/exists.txt": "data"})
			c := newTestContext(t, srv, nil)

			rep, err := openTestFile(t, c, srv, &CreateRequest{
				Name:              tt.file,
				DesiredAccess:     GENERIC_READ,
				ShareAccess:       FILE_SHARE_READ | FILE_SHARE_WRITE,
				CreateDisposition: tt.disposition,
				CreateOptions:     tt.options,
			})
			if tt.wantStatus != STATUS_SUCCESS {
				assert.True(t, errors.Is(err, tt.wantStatus), "error = %v, want %v", err, tt.wantStatus)
				assert.Nil(t, rep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, rep.CreateAction)
		})
	}
}

func TestMockServer_ShareRoot(t *testing.T) {
	srv, _ := setupMockServer(t, nil)
	c := newTestContext(t, srv, nil)

	rep, err := openTestFile(t, c, srv, &CreateRequest{
		DesiredAccess:     FILE_READ_ATTRIBUTES,
		ShareAccess:       FILE_SHARE_READ,
		CreateDisposition: FILE_OPEN,
		CreateOptions:     FILE_DIRECTORY_FILE,
	})
	require.NoError(t, err)
	assert.True(t, rep.IsDir())
	assert.True(t, rep.Attributes().Has(FILE_ATTRIBUTE_DIRECTORY))
}

func TestMockServer_NonASCIIName(t *testing.T) {
	srv, fs := setupMockServer(t, nil)
	c := newTestContext(t, srv, nil)

	_, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "résumé 日本.txt",
		DesiredAccess:     GENERIC_WRITE,
		CreateDisposition: FILE_CREATE,
	})
	require.NoError(t, err)

	_, err = fs.Stat("/résumé 日本.txt")
	assert.NoError(t, err)
}

func TestMockServer_NameLeavesShare(t *testing.T) {
	srv, _ := setupMockServer(t, nil)
	c := newTestContext(t, srv, nil)

	_, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              `docs\..\..\etc\passwd`,
		DesiredAccess:     GENERIC_READ,
		CreateDisposition: FILE_OPEN,
	})
	assert.True(t, errors.Is(err, STATUS_OBJECT_NAME_INVALID), "error = %v", err)
	assert.Equal(t, 0, srv.OpenHandles())
}

func TestMockServer_ReadPastEnd(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/short.txt": "abc"})
	c := newTestContext(t, srv, nil)

	created, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "short.txt",
		DesiredAccess:     GENERIC_READ,
		CreateDisposition: FILE_OPEN,
	})
	require.NoError(t, err)

	f, err := c.ReadAsync(&ReadRequest{Length: 16, Offset: 100, FileID: created.FileID, Buf: make([]byte, 16)})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	_, err = f.Wait(context.Background())
	assert.True(t, errors.Is(err, STATUS_END_OF_FILE), "error = %v", err)
}

func TestMockServer_ClosedHandle(t *testing.T) {
	srv, _ := setupMockServer(t, nil)
	c := newTestContext(t, srv, nil)

	f, err := c.ReadAsync(&ReadRequest{Length: 4, FileID: fileIDOf(0x42), Buf: make([]byte, 4)})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	_, err = f.Wait(context.Background())
	assert.True(t, errors.Is(err, STATUS_FILE_CLOSED), "error = %v", err)
}

func TestMockServer_ReadOnly(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/ro.txt": "x"})
	srv.SetReadOnly(true)
	c := newTestContext(t, srv, nil)

	_, err := openTestFile(t, c, srv, &CreateRequest{Name: "new.txt", CreateDisposition: FILE_CREATE})
	assert.True(t, errors.Is(err, STATUS_ACCESS_DENIED), "error = %v", err)

	created, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "ro.txt",
		DesiredAccess:     GENERIC_ALL,
		CreateDisposition: FILE_OPEN,
	})
	require.NoError(t, err)

	wf, err := c.WriteAsync(&WriteRequest{FileID: created.FileID, Data: []byte("y")})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	_, err = wf.Wait(context.Background())
	assert.True(t, errors.Is(err, STATUS_ACCESS_DENIED), "error = %v", err)
}

func TestMockServer_SharingViolation(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/locked.txt": "x"})
	c := newTestContext(t, srv, nil)

	_, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "locked.txt",
		DesiredAccess:     GENERIC_WRITE,
		CreateDisposition: FILE_OPEN,
	})
	require.NoError(t, err)

	_, err = openTestFile(t, c, srv, &CreateRequest{
		Name:              "locked.txt",
		DesiredAccess:     GENERIC_READ,
		ShareAccess:       FILE_SHARE_READ | FILE_SHARE_WRITE,
		CreateDisposition: FILE_OPEN,
	})
	assert.True(t, errors.Is(err, STATUS_SHARING_VIOLATION), "error = %v", err)
}

func TestMockServer_DeleteOnClose(t *testing.T) {
	srv, fs := setupMockServer(t, map[string]string{"/tmp.txt": "x"})
	c := newTestContext(t, srv, nil)
	ctx := context.Background()

	created, err := openTestFile(t, c, srv, &CreateRequest{
		Name:              "tmp.txt",
		DesiredAccess:     GENERIC_ALL,
		CreateDisposition: FILE_OPEN,
		CreateOptions:     FILE_DELETE_ON_CLOSE,
	})
	require.NoError(t, err)

	cf, err := c.CloseAsync(&CloseRequest{FileID: created.FileID})
	require.NoError(t, err)
	require.NoError(t, srv.Deliver())
	rep, err := cf.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rep.EndOfFile, "attributes not requested")

	_, err = fs.Stat("/tmp.txt")
	assert.Error(t, err)
}

func TestMockServer_DeliverReverse(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/a.txt": "a", "/b.txt": "b"})
	c := newTestContext(t, srv, nil)
	rec := &callRecorder{}

	for _, name := range []string{"a.txt", "b.txt"} {
		require.NoError(t, c.SubmitCreate(&CreateRequest{
			Name:              name,
			DesiredAccess:     GENERIC_READ,
			ShareAccess:       FILE_SHARE_READ,
			CreateDisposition: FILE_OPEN,
		}, rec.cb, name))
	}
	assert.Equal(t, 2, srv.Pending())
	require.NoError(t, srv.DeliverReverse())

	require.Len(t, rec.calls, 2)
	assert.Equal(t, "b.txt", rec.calls[0].data)
	assert.Equal(t, "a.txt", rec.calls[1].data)
	assert.Equal(t, 0, srv.Pending())
}

func TestMockServer_FreedPDUDropped(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/a.txt": "a"})
	c := newTestContext(t, srv, nil)
	rec := &callRecorder{}

	pdu, err := c.submit(SMB2_CREATE, rec.cb, nil, func(p *PDU) error {
		return c.encodeCreateRequest(p, &CreateRequest{Name: "a.txt", CreateDisposition: FILE_OPEN})
	})
	require.NoError(t, err)
	c.FreePDU(pdu)

	assert.NoError(t, srv.Deliver())
	assert.Equal(t, 0, rec.count())
}

func TestMockServer_MutatedReply(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/a.txt": "a"})
	srv.MutateReplies(func(cmd Command, raw []byte) []byte {
		le.PutUint16(raw[SMB2HeaderSize:], 88)
		return raw
	})
	c := newTestContext(t, srv, nil)

	f, err := c.CreateAsync(&CreateRequest{Name: "a.txt", CreateDisposition: FILE_OPEN})
	require.NoError(t, err)
	err = srv.Deliver()
	assert.True(t, errors.Is(err, ErrProtocolMismatch), "Deliver() error = %v", err)

	_, err = f.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrBadMessage), "error = %v", err)
}

func TestMockServer_FailQueue(t *testing.T) {
	srv, _ := setupMockServer(t, nil)
	refused := errors.New("link down")
	srv.FailQueue(refused)
	c := newTestContext(t, srv, nil)

	_, err := c.CreateAsync(&CreateRequest{Name: "a.txt"})
	assert.True(t, errors.Is(err, ErrQueue), "error = %v", err)
	assert.True(t, errors.Is(err, refused), "error = %v", err)
	assert.Equal(t, 0, srv.Pending())

	srv.FailQueue(nil)
	_, err = c.CreateAsync(&CreateRequest{Name: "a.txt", CreateDisposition: FILE_OPEN_IF})
	assert.NoError(t, err)
}

func TestMockServer_AutoDeliver(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/auto.txt": "automatic"})
	srv.SetAutoDeliver(true)
	c := newTestContext(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := c.Create(ctx, &CreateRequest{
		Name:              "auto.txt",
		DesiredAccess:     GENERIC_READ,
		CreateDisposition: FILE_OPEN,
	})
	require.NoError(t, err)

	buf := make([]byte, 9)
	read, err := c.Read(ctx, &ReadRequest{Length: 9, FileID: created.FileID, Buf: buf})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(read.Data, []byte("automatic")))

	_, err = c.CloseFile(ctx, &CloseRequest{FileID: created.FileID})
	require.NoError(t, err)
}

func TestMockServer_ContextCloseClosesServer(t *testing.T) {
	srv, _ := setupMockServer(t, map[string]string{"/a.txt": "a"})
	c := newTestContext(t, srv, nil)

	_, err := openTestFile(t, c, srv, &CreateRequest{Name: "a.txt", CreateDisposition: FILE_OPEN})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.OpenHandles())

	_, err = c.CreateAsync(&CreateRequest{Name: "a.txt", DesiredAccess: GENERIC_READ, ShareAccess: FILE_SHARE_READ, CreateDisposition: FILE_OPEN})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, srv.OpenHandles())
	assert.Equal(t, 0, srv.Pending())
	assert.Equal(t, 0, c.Outstanding())
}

func TestCheckShareCompatibility(t *testing.T) {
	tests := []struct {
		name                          string
		newAccess, newShare           uint32
		existingAccess, existingShare uint32
		want                          bool
	}{
		{"readers sharing read", FILE_READ_DATA, FILE_SHARE_READ, FILE_READ_DATA, FILE_SHARE_READ, true},
		{"writer against read-only share", FILE_WRITE_DATA, FILE_SHARE_READ, FILE_READ_DATA, FILE_SHARE_READ, false},
		{"reader against exclusive writer", FILE_READ_DATA, FILE_SHARE_READ, FILE_WRITE_DATA, 0, false},
		{"generic read maps to read data", GENERIC_READ, FILE_SHARE_READ, GENERIC_READ, FILE_SHARE_READ, true},
		{"delete without share delete", DELETE, FILE_SHARE_READ | FILE_SHARE_DELETE, FILE_READ_DATA, FILE_SHARE_READ, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkShareCompatibility(tt.newAccess, tt.newShare, tt.existingAccess, tt.existingShare)
			if got != tt.want {
				t.Errorf("checkShareCompatibility() = %v, want %v", got, tt.want)
			}
		})
	}
}
