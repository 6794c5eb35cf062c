package smb2core

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestCommandError(t *testing.T) {
	baseErr := errors.New("base error")
	cmdErr := &CommandError{
		Op:      "queue",
		Command: SMB2_READ,
		Err:     baseErr,
	}

	expected := "queue READ: base error"
	if cmdErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", cmdErr.Error(), expected)
	}
	if unwrapped := cmdErr.Unwrap(); unwrapped != baseErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, baseErr)
	}
	if !errors.Is(cmdErr, baseErr) {
		t.Error("errors.Is does not see through CommandError")
	}
}

func TestWrapCommandError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		cmd     Command
		err     error
		wantNil bool
		wantOp  string
		cause   error
	}{
		{
			name:    "nil error returns nil",
			op:      "encode",
			cmd:     SMB2_CREATE,
			err:     nil,
			wantNil: true,
		},
		{
			name:   "wraps basic error",
			op:     "encode",
			cmd:    SMB2_CREATE,
			err:    ErrEncoding,
			wantOp: "encode",
			cause:  ErrEncoding,
		},
		{
			name:   "same command is not wrapped twice",
			op:     "queue",
			cmd:    SMB2_WRITE,
			err:    &CommandError{Op: "encode", Command: SMB2_WRITE, Err: ErrInvalidRequest},
			wantOp: "encode",
			cause:  ErrInvalidRequest,
		},
		{
			name:   "different command is wrapped",
			op:     "queue",
			cmd:    SMB2_CLOSE,
			err:    &CommandError{Op: "encode", Command: SMB2_WRITE, Err: ErrInvalidRequest},
			wantOp: "queue",
			cause:  ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wrapCommandError(tt.op, tt.cmd, tt.err)

			if tt.wantNil {
				if result != nil {
					t.Errorf("wrapCommandError() = %v, want nil", result)
				}
				return
			}

			var ce *CommandError
			if !errors.As(result, &ce) {
				t.Fatalf("wrapCommandError() returned %T, want *CommandError", result)
			}
			if ce.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", ce.Op, tt.wantOp)
			}
			if !errors.Is(result, tt.cause) {
				t.Errorf("wrapped error lost its cause %v", tt.cause)
			}
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	if err := mismatchf("size %d", 3); !errors.Is(err, ErrProtocolMismatch) {
		t.Errorf("mismatchf() = %v, want ErrProtocolMismatch", err)
	}
	if err := notImplementedf("create contexts"); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("notImplementedf() = %v, want ErrNotImplemented", err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status NTStatus
		want   error
	}{
		{STATUS_SUCCESS, nil},
		{STATUS_BUFFER_OVERFLOW, nil},
		{StatusBadMessage, ErrBadMessage},
		{STATUS_ACCESS_DENIED, STATUS_ACCESS_DENIED},
		{STATUS_END_OF_FILE, STATUS_END_OF_FILE},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			got := statusError(tt.status)
			if got != tt.want {
				t.Errorf("statusError(%v) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNTStatus(t *testing.T) {
	if got := STATUS_SHARING_VIOLATION.Error(); got != "smb2: STATUS_SHARING_VIOLATION" {
		t.Errorf("Error() = %q", got)
	}
	if got := NTStatus(0xC0001234).String(); got != "STATUS_0xC0001234" {
		t.Errorf("String() = %q", got)
	}
	if !STATUS_FILE_CLOSED.IsError() {
		t.Error("STATUS_FILE_CLOSED should be an error")
	}
	if STATUS_BUFFER_OVERFLOW.IsError() {
		t.Error("STATUS_BUFFER_OVERFLOW is a warning, not an error")
	}
	if !STATUS_SUCCESS.IsSuccess() || STATUS_PENDING.IsSuccess() {
		t.Error("IsSuccess mismatch")
	}
}
