// Package smb2core implements the protocol core of an SMB2/3 client: the
// request/reply lifecycle of individual commands and the binary codecs
// that turn typed requests into scatter/gather segment chains and reply
// bytes back into typed replies.
//
// # Overview
//
// A Context owns the per-connection state. Each command submission
// allocates a PDU, encodes the request into the PDU's outbound chain,
// registers any caller buffers on its inbound chain and hands it to a
// Transport. The transport frames the chain behind an SMB2 header, sends
// it, correlates the reply by message id and calls Context.OnReply. The
// PDU's callback then fires exactly once and the PDU is freed.
//
// Connection setup (NEGOTIATE, SESSION_SETUP, TREE_CONNECT), signing,
// encryption and socket I/O are the transport's business.
//
// # Commands
//
// CREATE, READ, WRITE and CLOSE are supported. Each has three entry
// points:
//
//	err := c.SubmitCreate(req, cb, cbData)  // callback style
//	f, err := c.CreateAsync(req)            // Future
//	rep, err := c.Create(ctx, req)          // blocking
//
// READ data lands directly in the caller's buffer: the inbound chain holds
// a 16-byte segment for the fixed reply followed by req.Buf[:req.Length].
// WRITE data is sent from the caller's slice without copying.
//
// # Callbacks
//
// A callback receives the reply header status and the typed reply
// (*CreateReply, *ReadReply, *WriteReply or *CloseReply). When a reply
// cannot be decoded the callback receives StatusBadMessage and a nil
// reply. When the server answers with an error response the callback
// receives the error status and a nil reply. Encode and queue failures
// are returned from the submit call and the callback never fires. Freeing
// a PDU or closing the Context never fires callbacks.
//
// # Testing
//
// MockServer is a Transport that executes requests against an
// absfs.FileSystem and holds the replies until Deliver or DeliverReverse,
// which makes completion order and fault injection easy to control:
//
//	fs, _ := memfs.NewFS()
//	srv := smb2core.NewMockServer(fs, nil)
//	c, _ := smb2core.NewContext(srv, nil)
//	f, _ := c.CreateAsync(&smb2core.CreateRequest{
//	    Name:              "afile.txt",
//	    DesiredAccess:     smb2core.GENERIC_READ | smb2core.GENERIC_WRITE,
//	    CreateDisposition: smb2core.FILE_OPEN_IF,
//	})
//	srv.Deliver()
//	rep, err := f.Wait(ctx)
package smb2core
