package smb2core

import (
	"sync"
)

// Callback is invoked exactly once per PDU that reaches the transport and
// gets a reply. status is the reply header status, or StatusBadMessage when
// the reply could not be decoded; reply is the typed reply (*CreateReply,
// *ReadReply, ...) or nil.
type Callback func(status NTStatus, reply interface{}, cbData interface{})

// PDUState is the lifecycle position of a PDU.
type PDUState int

const (
	PDUAllocated PDUState = iota
	PDUEncoded
	PDUQueued
	PDUCompleted
	PDUFailed
	PDUFreed
)

func (s PDUState) String() string {
	switch s {
	case PDUAllocated:
		return "allocated"
	case PDUEncoded:
		return "encoded"
	case PDUQueued:
		return "queued"
	case PDUCompleted:
		return "completed"
	case PDUFailed:
		return "failed"
	case PDUFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// PDU is one request/reply exchange. It owns its outbound and inbound
// chains exclusively until it is freed.
type PDU struct {
	ctx     *Context
	command Command
	cb      Callback
	cbData  interface{}

	out IOVecChain
	in  IOVecChain

	// Set when the reply header is parsed.
	header   *Header
	status   NTStatus
	received int // reply body bytes landed on in

	mu    sync.Mutex
	state PDUState
	// done is set by whichever of completion or free gets there first.
	done bool
}

// Context returns the connection context the PDU was allocated on.
func (p *PDU) Context() *Context {
	return p.ctx
}

// Command returns the PDU's opcode.
func (p *PDU) Command() Command {
	return p.command
}

// Out returns the outbound chain: the encoded request body the transport
// must send after the SMB2 header.
func (p *PDU) Out() *IOVecChain {
	return &p.out
}

// In returns the inbound chain. Segments registered here before the reply
// arrives receive the reply body in order.
func (p *PDU) In() *IOVecChain {
	return &p.in
}

// CallbackData returns the opaque value passed at allocation.
func (p *PDU) CallbackData() interface{} {
	return p.cbData
}

// Status returns the reply header status, once a reply was processed.
func (p *PDU) Status() NTStatus {
	return p.status
}

// ReplyHeader returns the parsed reply header, or nil before delivery.
func (p *PDU) ReplyHeader() *Header {
	return p.header
}

// State returns the current lifecycle state.
func (p *PDU) State() PDUState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PDU) setState(s PDUState) {
	p.mu.Lock()
	if !p.done {
		p.state = s
	}
	p.mu.Unlock()
}

// claim marks the PDU finished and moves it to s. It returns the previous
// state and false when another path already claimed it.
func (p *PDU) claim(s PDUState) (PDUState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.state
	if p.done {
		return prev, false
	}
	p.done = true
	p.state = s
	return prev, true
}

// Future resolves exactly once with the typed reply of a submitted PDU.
type Future[T any] struct {
	ctx  *Context
	pdu  *PDU
	once sync.Once
	done chan struct{}

	reply T
	err   error
}

func newFuture[T any](c *Context) *Future[T] {
	return &Future[T]{ctx: c, done: make(chan struct{})}
}

// callback is the Callback a Future submits with.
func (f *Future[T]) callback(status NTStatus, reply interface{}, _ interface{}) {
	f.once.Do(func() {
		if reply != nil {
			f.reply = reply.(T)
		}
		f.err = statusError(status)
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
