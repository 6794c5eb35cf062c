package smb2core

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Transport accepts encoded PDUs for sending. It frames each PDU's
// outbound chain behind an SMB2 header, correlates the reply by message id
// and hands the raw reply back through Context.OnReply.
type Transport interface {
	QueuePDU(pdu *PDU) error
}

// Context is the per-connection state of the protocol core.
type Context struct {
	config    Config
	transport Transport
	alloc     *bufferAllocator
	log       logrus.FieldLogger
	metrics   *Metrics

	mu          sync.Mutex
	outstanding map[*PDU]struct{}
	closed      bool
	lastErr     string
}

// NewContext creates a Context that queues PDUs on transport. A nil config
// uses the defaults.
func NewContext(transport Transport, config *Config) (*Context, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	var cfg Config
	if config != nil {
		cfg = *config
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Context{
		config:      cfg,
		transport:   transport,
		alloc:       newBufferAllocator(cfg.MaxBufferBytes),
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		outstanding: make(map[*PDU]struct{}),
	}, nil
}

// LastError returns the message of the most recent failure on this context.
func (c *Context) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetError records a failure message for LastError.
func (c *Context) SetError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// fail records err for LastError and returns it.
func (c *Context) fail(err error) error {
	c.SetError("%v", err)
	return err
}

// Outstanding returns the number of allocated, not yet freed PDUs.
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// BufferBytesInUse returns the bytes currently held by owned segments.
func (c *Context) BufferBytesInUse() int64 {
	return c.alloc.InUse()
}

// AllocatePDU creates an empty PDU for cmd. It fails with ErrAllocation when
// MaxInFlight PDUs are outstanding, and with ErrClosed after Close.
func (c *Context) AllocatePDU(cmd Command, cb Callback, cbData interface{}) (*PDU, error) {
	if _, ok := replyDecoders[cmd]; !ok {
		return nil, c.fail(wrapCommandError("allocate", cmd, notImplementedf("no codec for command")))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.fail(wrapCommandError("allocate", cmd, ErrClosed))
	}
	if len(c.outstanding) >= c.config.MaxInFlight {
		n := len(c.outstanding)
		c.mu.Unlock()
		c.metrics.pduFailed(cmd, stageAllocate)
		return nil, c.fail(wrapCommandError("allocate", cmd,
			errors.Wrapf(ErrAllocation, "%d PDUs in flight", n)))
	}
	pdu := &PDU{
		ctx:     c,
		command: cmd,
		cb:      cb,
		cbData:  cbData,
		state:   PDUAllocated,
	}
	c.outstanding[pdu] = struct{}{}
	c.mu.Unlock()

	c.metrics.pduAllocated()
	return pdu, nil
}

// FreePDU releases the PDU's buffers and forgets it. The callback is never
// invoked by FreePDU. Freeing a PDU that already completed or was already
// freed does nothing.
func (c *Context) FreePDU(pdu *PDU) {
	if pdu == nil {
		return
	}
	prev, ok := pdu.claim(PDUFreed)
	if !ok {
		return
	}
	if prev == PDUQueued {
		c.metrics.pduFailed(pdu.command, stageFreed)
		c.log.WithFields(logrus.Fields{
			"command":   pdu.command.String(),
			"pdu_state": prev.String(),
		}).Debug("PDU freed before reply")
	}
	c.release(pdu)
}

// release drops both chains and the outstanding entry.
func (c *Context) release(pdu *PDU) {
	pdu.out.Release()
	pdu.in.Release()

	c.mu.Lock()
	_, present := c.outstanding[pdu]
	delete(c.outstanding, pdu)
	c.mu.Unlock()

	if present {
		c.metrics.pduReleased()
	}
}

// QueuePDU hands an encoded PDU to the transport. On failure the PDU is
// freed and the error returned; the callback does not fire.
func (c *Context) QueuePDU(pdu *PDU) error {
	n := pdu.out.Len()
	if err := c.transport.QueuePDU(pdu); err != nil {
		c.metrics.pduFailed(pdu.command, stageQueue)
		c.log.WithFields(logrus.Fields{
			"command": pdu.command.String(),
		}).WithError(err).Error("transport refused PDU")
		c.FreePDU(pdu)
		return c.fail(wrapCommandError("queue", pdu.command, errors.Mark(errors.Wrap(err, "queue"), ErrQueue)))
	}
	pdu.setState(PDUQueued)
	c.metrics.pduQueued(pdu.command, n)
	return nil
}

// submit allocates a PDU, runs encode on it and queues it. The PDU is
// returned so futures can cancel it.
func (c *Context) submit(cmd Command, cb Callback, cbData interface{}, encode func(*PDU) error) (*PDU, error) {
	pdu, err := c.AllocatePDU(cmd, cb, cbData)
	if err != nil {
		return nil, err
	}

	if err := encode(pdu); err != nil {
		c.metrics.pduFailed(cmd, stageEncode)
		c.FreePDU(pdu)
		return nil, c.fail(wrapCommandError("encode", cmd, err))
	}
	pdu.setState(PDUEncoded)

	if err := c.QueuePDU(pdu); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"command": cmd.String(),
		"bytes":   pdu.out.Len(),
	}).Debug("PDU queued")
	return pdu, nil
}

// OnReply processes a reply for pdu. raw is the complete reply message as
// read off the wire, starting with the 64-byte SMB2 header. The callback
// fires exactly once: with StatusBadMessage and a nil reply when the reply
// cannot be decoded, otherwise with the header status and the typed reply.
// The PDU is freed afterwards. The returned error reports decode failures
// to the transport; it does not need further handling.
func (c *Context) OnReply(pdu *PDU, raw []byte) error {
	if pdu == nil {
		return errors.Wrap(ErrInvalidRequest, "nil PDU")
	}
	if _, ok := pdu.claim(PDUCompleted); !ok {
		return wrapCommandError("reply", pdu.command, errors.Wrap(ErrInvalidRequest, "PDU already completed or freed"))
	}
	defer c.release(pdu)

	reply, err := c.decodeReply(pdu, raw)
	fields := logrus.Fields{
		"command": pdu.command.String(),
		"status":  pdu.status.String(),
	}
	if pdu.header != nil {
		fields["message_id"] = pdu.header.MessageID
	}

	if err != nil {
		err = c.fail(wrapCommandError("decode", pdu.command, err))
		pdu.mu.Lock()
		pdu.state = PDUFailed
		pdu.mu.Unlock()
		c.log.WithFields(fields).WithError(err).Warn("malformed reply")
		c.metrics.pduCompleted(pdu.command, outcomeBadMessage)
		if pdu.cb != nil {
			pdu.cb(StatusBadMessage, nil, pdu.cbData)
		}
		return err
	}

	outcome := outcomeSuccess
	if reply == nil {
		outcome = outcomeStatus
	}
	c.log.WithFields(fields).Debug("PDU completed")
	c.metrics.pduCompleted(pdu.command, outcome)
	if pdu.cb != nil {
		pdu.cb(pdu.status, reply, pdu.cbData)
	}
	return nil
}

// decodeReply validates the header, lands the body on the inbound chain and
// runs the command decoder. A nil reply with nil error is an error reply.
func (c *Context) decodeReply(pdu *PDU, raw []byte) (interface{}, error) {
	hdr, err := UnmarshalHeader(raw)
	if err != nil {
		return nil, err
	}
	if !hdr.IsResponse() {
		return nil, mismatchf("message %d is not a response", hdr.MessageID)
	}
	if hdr.Command != pdu.command {
		return nil, mismatchf("reply command %s for %s request", hdr.Command, pdu.command)
	}
	pdu.header = hdr
	pdu.status = hdr.Status

	body := raw[SMB2HeaderSize:]
	if next := int(hdr.NextCommand); next > SMB2HeaderSize && next < len(raw) {
		body = raw[SMB2HeaderSize:next]
	}
	if err := c.land(pdu, body); err != nil {
		return nil, err
	}

	if hdr.Status.IsError() && isErrorReply(pdu) {
		return nil, decodeErrorReply(pdu)
	}
	return replyDecoders[pdu.command](pdu)
}

// land copies the reply body into the inbound chain. Pre-registered
// segments are filled first; whatever is left goes into a new owned segment.
func (c *Context) land(pdu *PDU, body []byte) error {
	pdu.received = len(body)
	n := pdu.in.Scatter(body)
	if n == len(body) {
		return nil
	}
	v, err := c.alloc.appendOwned(&pdu.in, len(body)-n)
	if err != nil {
		return err
	}
	copy(v.Buf, body[n:])
	return nil
}

// Close frees every outstanding PDU without invoking callbacks and closes
// the transport when it is an io.Closer. Later allocations fail.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := make([]*PDU, 0, len(c.outstanding))
	for pdu := range c.outstanding {
		pending = append(pending, pdu)
	}
	c.mu.Unlock()

	for _, pdu := range pending {
		c.FreePDU(pdu)
	}
	if len(pending) > 0 {
		c.log.WithField("pdus", len(pending)).Info("abandoned outstanding PDUs on close")
	}

	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Wait blocks until the reply arrives or ctx ends. When ctx ends first the
// PDU is freed and ctx.Err() returned; the callback will not fire later.
// If OnReply already owns the PDU, Wait waits for it and returns its result,
// so a returned Wait never races with the reply landing in caller buffers.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
	}

	f.ctx.FreePDU(f.pdu)
	if f.pdu.State() != PDUFreed {
		// OnReply claimed the PDU first and fires the callback before
		// it returns.
		<-f.done
		return f.reply, f.err
	}
	var zero T
	return zero, ctx.Err()
}

// submitFuture submits through a Future-resolving callback.
func submitFuture[T any](c *Context, cmd Command, encode func(*PDU) error) (*Future[T], error) {
	f := newFuture[T](c)
	pdu, err := c.submit(cmd, f.callback, nil, encode)
	if err != nil {
		return nil, err
	}
	f.pdu = pdu
	return f, nil
}
