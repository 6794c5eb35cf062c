package smb2core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrAllocation indicates a buffer or PDU could not be allocated.
	// Fatal for the request, never for the context.
	ErrAllocation = errors.New("allocation failed")

	// ErrEncoding indicates a name could not be converted to UTF-16LE.
	ErrEncoding = errors.New("encoding failed")

	// ErrNotImplemented indicates an unsupported protocol extension was
	// requested or returned (create contexts, channel info).
	ErrNotImplemented = errors.New("not implemented")

	// ErrProtocolMismatch indicates a reply whose fixed layout does not
	// match what the command expects.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrQueue indicates the transport refused to accept a PDU.
	ErrQueue = errors.New("queue failed")

	// ErrOutOfBounds indicates a field access beyond a segment's length.
	ErrOutOfBounds = errors.New("field access out of bounds")

	// ErrInvalidRequest indicates a request that cannot be encoded as given.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrClosed indicates the context has been closed.
	ErrClosed = errors.New("context closed")

	// ErrBadMessage is returned by Future.Wait when the reply could not be
	// decoded.
	ErrBadMessage = errors.New("bad message")
)

// CommandError records an error and the operation and command that caused it.
type CommandError struct {
	Op      string
	Command Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// wrapCommandError wraps an error with operation and command information.
func wrapCommandError(op string, cmd Command, err error) error {
	if err == nil {
		return nil
	}

	// If it's already a CommandError for the same command, don't double-wrap
	var ce *CommandError
	if errors.As(err, &ce) && ce.Command == cmd {
		return err
	}

	return &CommandError{
		Op:      op,
		Command: cmd,
		Err:     err,
	}
}

// mismatchf builds a ProtocolMismatch error with a formatted detail.
func mismatchf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolMismatch, format, args...)
}

// notImplementedf builds an UnsupportedFeature error with a formatted detail.
func notImplementedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotImplemented, format, args...)
}

// statusError converts a reply status into the error returned by
// Future.Wait. Success and the informational BUFFER_OVERFLOW are not errors.
func statusError(status NTStatus) error {
	switch {
	case status == STATUS_SUCCESS:
		return nil
	case status == StatusBadMessage:
		return ErrBadMessage
	case status.IsError():
		return status
	}
	return nil
}
