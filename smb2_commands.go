package smb2core

// Command is an SMB2 command opcode.
type Command uint16

// SMB2 Command opcodes
const (
	SMB2_NEGOTIATE       Command = 0x0000
	SMB2_SESSION_SETUP   Command = 0x0001
	SMB2_LOGOFF          Command = 0x0002
	SMB2_TREE_CONNECT    Command = 0x0003
	SMB2_TREE_DISCONNECT Command = 0x0004
	SMB2_CREATE          Command = 0x0005
	SMB2_CLOSE           Command = 0x0006
	SMB2_FLUSH           Command = 0x0007
	SMB2_READ            Command = 0x0008
	SMB2_WRITE           Command = 0x0009
	SMB2_LOCK            Command = 0x000A
	SMB2_IOCTL           Command = 0x000B
	SMB2_CANCEL          Command = 0x000C
	SMB2_ECHO            Command = 0x000D
	SMB2_QUERY_DIRECTORY Command = 0x000E
	SMB2_CHANGE_NOTIFY   Command = 0x000F
	SMB2_QUERY_INFO      Command = 0x0010
	SMB2_SET_INFO        Command = 0x0011
	SMB2_OPLOCK_BREAK    Command = 0x0012
)

var commandNames = [...]string{
	SMB2_NEGOTIATE:       "NEGOTIATE",
	SMB2_SESSION_SETUP:   "SESSION_SETUP",
	SMB2_LOGOFF:          "LOGOFF",
	SMB2_TREE_CONNECT:    "TREE_CONNECT",
	SMB2_TREE_DISCONNECT: "TREE_DISCONNECT",
	SMB2_CREATE:          "CREATE",
	SMB2_CLOSE:           "CLOSE",
	SMB2_FLUSH:           "FLUSH",
	SMB2_READ:            "READ",
	SMB2_WRITE:           "WRITE",
	SMB2_LOCK:            "LOCK",
	SMB2_IOCTL:           "IOCTL",
	SMB2_CANCEL:          "CANCEL",
	SMB2_ECHO:            "ECHO",
	SMB2_QUERY_DIRECTORY: "QUERY_DIRECTORY",
	SMB2_CHANGE_NOTIFY:   "CHANGE_NOTIFY",
	SMB2_QUERY_INFO:      "QUERY_INFO",
	SMB2_SET_INFO:        "SET_INFO",
	SMB2_OPLOCK_BREAK:    "OPLOCK_BREAK",
}

// String returns the human-readable name for an SMB2 command
func (c Command) String() string {
	if !c.IsValid() {
		return "UNKNOWN"
	}
	return commandNames[c]
}

// IsValid returns true if the command is a valid SMB2 command
func (c Command) IsValid() bool {
	return c <= SMB2_OPLOCK_BREAK
}

// replyDecoder decodes the inbound chain of a completed PDU into the typed
// reply handed to its callback.
type replyDecoder func(pdu *PDU) (interface{}, error)

// replyDecoders maps each command this package can submit to its decoder.
// Commands without an entry cannot be allocated.
var replyDecoders = map[Command]replyDecoder{
	SMB2_CREATE: func(pdu *PDU) (interface{}, error) {
		return decodeCreateReply(pdu)
	},
	SMB2_READ: func(pdu *PDU) (interface{}, error) {
		return decodeReadReply(pdu)
	},
	SMB2_WRITE: func(pdu *PDU) (interface{}, error) {
		return decodeWriteReply(pdu)
	},
	SMB2_CLOSE: func(pdu *PDU) (interface{}, error) {
		return decodeCloseReply(pdu)
	},
}
