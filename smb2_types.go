package smb2core

import (
	"encoding/hex"
	"fmt"
	"time"
)

// SMB2 Protocol constants
const (
	// SMB2 protocol signature
	SMB2ProtocolID = "\xFESMB"

	// SMB2 header size
	SMB2HeaderSize = 64

	// FileIDSize is the length of the opaque file handle identifier.
	FileIDSize = 16

	// Maximum sizes
	MaxReadSize  = 8 * 1024 * 1024 // 8MB
	MaxWriteSize = 8 * 1024 * 1024 // 8MB
)

// Fixed structure sizes as declared in the StructureSize field of each
// message. Odd values include the first byte of the variable buffer; the
// fixed part actually sent is the value rounded down to an even number.
const (
	SMB2_CREATE_REQUEST_SIZE = 57
	SMB2_CREATE_REPLY_SIZE   = 89
	SMB2_READ_REQUEST_SIZE   = 49
	SMB2_READ_REPLY_SIZE     = 17
	SMB2_WRITE_REQUEST_SIZE  = 49
	SMB2_WRITE_REPLY_SIZE    = 17
	SMB2_CLOSE_REQUEST_SIZE  = 24
	SMB2_CLOSE_REPLY_SIZE    = 60
	SMB2_ERROR_REPLY_SIZE    = 9
)

// NT Status codes
type NTStatus uint32

const (
	STATUS_SUCCESS                  NTStatus = 0x00000000
	STATUS_PENDING                  NTStatus = 0x00000103
	STATUS_BUFFER_OVERFLOW          NTStatus = 0x80000005
	STATUS_NO_MORE_FILES            NTStatus = 0x80000006
	STATUS_INVALID_PARAMETER        NTStatus = 0xC000000D
	STATUS_NO_SUCH_FILE             NTStatus = 0xC000000F
	STATUS_INVALID_DEVICE_REQUEST   NTStatus = 0xC0000010
	STATUS_END_OF_FILE              NTStatus = 0xC0000011
	STATUS_ACCESS_DENIED            NTStatus = 0xC0000022
	STATUS_OBJECT_NAME_INVALID      NTStatus = 0xC0000033
	STATUS_OBJECT_NAME_NOT_FOUND    NTStatus = 0xC0000034
	STATUS_OBJECT_NAME_COLLISION    NTStatus = 0xC0000035
	STATUS_OBJECT_PATH_NOT_FOUND    NTStatus = 0xC000003A
	STATUS_SHARING_VIOLATION        NTStatus = 0xC0000043
	STATUS_INSUFFICIENT_RESOURCES   NTStatus = 0xC000009A
	STATUS_FILE_IS_A_DIRECTORY      NTStatus = 0xC00000BA
	STATUS_NOT_SUPPORTED            NTStatus = 0xC00000BB
	STATUS_INVALID_NETWORK_RESPONSE NTStatus = 0xC00000C3
	STATUS_NOT_A_DIRECTORY          NTStatus = 0xC0000103
	STATUS_CANCELLED                NTStatus = 0xC0000120
	STATUS_FILE_CLOSED              NTStatus = 0xC0000128
)

// StatusBadMessage is the status handed to a callback when a reply could
// not be decoded. The typed reply is always nil in that case.
const StatusBadMessage = STATUS_INVALID_NETWORK_RESPONSE

// IsSuccess returns true if status indicates success
func (s NTStatus) IsSuccess() bool {
	return s == STATUS_SUCCESS
}

// IsError returns true if status indicates an error (high bit set)
func (s NTStatus) IsError() bool {
	return s&0xC0000000 == 0xC0000000
}

var statusNames = map[NTStatus]string{
	STATUS_SUCCESS:                  "STATUS_SUCCESS",
	STATUS_PENDING:                  "STATUS_PENDING",
	STATUS_BUFFER_OVERFLOW:          "STATUS_BUFFER_OVERFLOW",
	STATUS_NO_MORE_FILES:            "STATUS_NO_MORE_FILES",
	STATUS_INVALID_PARAMETER:        "STATUS_INVALID_PARAMETER",
	STATUS_NO_SUCH_FILE:             "STATUS_NO_SUCH_FILE",
	STATUS_INVALID_DEVICE_REQUEST:   "STATUS_INVALID_DEVICE_REQUEST",
	STATUS_END_OF_FILE:              "STATUS_END_OF_FILE",
	STATUS_ACCESS_DENIED:            "STATUS_ACCESS_DENIED",
	STATUS_OBJECT_NAME_INVALID:      "STATUS_OBJECT_NAME_INVALID",
	STATUS_OBJECT_NAME_NOT_FOUND:    "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:    "STATUS_OBJECT_NAME_COLLISION",
	STATUS_OBJECT_PATH_NOT_FOUND:    "STATUS_OBJECT_PATH_NOT_FOUND",
	STATUS_SHARING_VIOLATION:        "STATUS_SHARING_VIOLATION",
	STATUS_INSUFFICIENT_RESOURCES:   "STATUS_INSUFFICIENT_RESOURCES",
	STATUS_FILE_IS_A_DIRECTORY:      "STATUS_FILE_IS_A_DIRECTORY",
	STATUS_NOT_SUPPORTED:            "STATUS_NOT_SUPPORTED",
	STATUS_INVALID_NETWORK_RESPONSE: "STATUS_INVALID_NETWORK_RESPONSE",
	STATUS_NOT_A_DIRECTORY:          "STATUS_NOT_A_DIRECTORY",
	STATUS_CANCELLED:                "STATUS_CANCELLED",
	STATUS_FILE_CLOSED:              "STATUS_FILE_CLOSED",
}

// String returns the status name
func (s NTStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_0x%08X", uint32(s))
}

// Error lets a non-success status travel as a Go error.
func (s NTStatus) Error() string {
	return "smb2: " + s.String()
}

// SMB2 Header flags
const (
	SMB2_FLAGS_SERVER_TO_REDIR    uint32 = 0x00000001 // Response flag
	SMB2_FLAGS_ASYNC_COMMAND      uint32 = 0x00000002
	SMB2_FLAGS_RELATED_OPERATIONS uint32 = 0x00000004 // Compound request
	SMB2_FLAGS_SIGNED             uint32 = 0x00000008
)

// FileID is the 16-byte opaque handle returned by CREATE. It is copied
// byte-for-byte and never interpreted as integers.
type FileID [FileIDSize]byte

// IsZero returns true if the FileID is all zero bytes.
func (f FileID) IsZero() bool {
	return f == FileID{}
}

// String returns the handle as lowercase hex.
func (f FileID) String() string {
	return hex.EncodeToString(f[:])
}

// Windows FILETIME helpers
// FILETIME is 100-nanosecond intervals since January 1, 1601 UTC

const (
	// Offset between Unix epoch (1970) and Windows epoch (1601) in 100-ns intervals
	windowsEpochOffset = 116444736000000000

	filetimeTicksPerSecond = 10000000
)

// TimeToFiletime converts a Go time.Time to Windows FILETIME. Times before
// 1601 map to 0.
func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ticks := t.Unix()*filetimeTicksPerSecond + int64(t.Nanosecond()/100)
	if ticks < -windowsEpochOffset {
		return 0
	}
	return uint64(ticks + windowsEpochOffset)
}

// FiletimeToTime converts a Windows FILETIME to Go time.Time
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	if ft < windowsEpochOffset {
		d := windowsEpochOffset - ft
		return time.Unix(-int64(d/filetimeTicksPerSecond), -int64(d%filetimeTicksPerSecond)*100)
	}
	d := ft - windowsEpochOffset
	return time.Unix(int64(d/filetimeTicksPerSecond), int64(d%filetimeTicksPerSecond)*100)
}

// SMB2 Access Mask (desired access rights)
const (
	FILE_READ_DATA         uint32 = 0x00000001
	FILE_WRITE_DATA        uint32 = 0x00000002
	FILE_APPEND_DATA       uint32 = 0x00000004
	FILE_READ_EA           uint32 = 0x00000008
	FILE_WRITE_EA          uint32 = 0x00000010
	FILE_EXECUTE           uint32 = 0x00000020
	FILE_DELETE_CHILD      uint32 = 0x00000040
	FILE_READ_ATTRIBUTES   uint32 = 0x00000080
	FILE_WRITE_ATTRIBUTES  uint32 = 0x00000100
	DELETE                 uint32 = 0x00010000
	READ_CONTROL           uint32 = 0x00020000
	WRITE_DAC              uint32 = 0x00040000
	WRITE_OWNER            uint32 = 0x00080000
	SYNCHRONIZE            uint32 = 0x00100000
	ACCESS_SYSTEM_SECURITY uint32 = 0x01000000
	MAXIMUM_ALLOWED        uint32 = 0x02000000
	GENERIC_ALL            uint32 = 0x10000000
	GENERIC_EXECUTE        uint32 = 0x20000000
	GENERIC_WRITE          uint32 = 0x40000000
	GENERIC_READ           uint32 = 0x80000000
)

// SMB2 Share Access
const (
	FILE_SHARE_READ   uint32 = 0x00000001
	FILE_SHARE_WRITE  uint32 = 0x00000002
	FILE_SHARE_DELETE uint32 = 0x00000004
)

// SMB2 Create Disposition
const (
	FILE_SUPERSEDE    uint32 = 0x00000000 // If exists, replace; if not, create
	FILE_OPEN         uint32 = 0x00000001 // Open existing file
	FILE_CREATE       uint32 = 0x00000002 // Create new file; fail if exists
	FILE_OPEN_IF      uint32 = 0x00000003 // Open if exists; create if not
	FILE_OVERWRITE    uint32 = 0x00000004 // Open and overwrite; fail if not exists
	FILE_OVERWRITE_IF uint32 = 0x00000005 // Open and overwrite; create if not
)

// SMB2 Create Options
const (
	FILE_DIRECTORY_FILE            uint32 = 0x00000001
	FILE_WRITE_THROUGH             uint32 = 0x00000002
	FILE_SEQUENTIAL_ONLY           uint32 = 0x00000004
	FILE_NO_INTERMEDIATE_BUFFERING uint32 = 0x00000008
	FILE_SYNCHRONOUS_IO_ALERT      uint32 = 0x00000010
	FILE_SYNCHRONOUS_IO_NONALERT   uint32 = 0x00000020
	FILE_NON_DIRECTORY_FILE        uint32 = 0x00000040
	FILE_COMPLETE_IF_OPLOCKED      uint32 = 0x00000100
	FILE_NO_EA_KNOWLEDGE           uint32 = 0x00000200
	FILE_RANDOM_ACCESS             uint32 = 0x00000800
	FILE_DELETE_ON_CLOSE           uint32 = 0x00001000
	FILE_OPEN_BY_FILE_ID           uint32 = 0x00002000
	FILE_OPEN_FOR_BACKUP_INTENT    uint32 = 0x00004000
	FILE_NO_COMPRESSION            uint32 = 0x00008000
	FILE_OPEN_REPARSE_POINT        uint32 = 0x00200000
	FILE_OPEN_NO_RECALL            uint32 = 0x00400000
)

// SMB2 Create Action (returned in CREATE response)
const (
	FILE_SUPERSEDED  uint32 = 0x00000000
	FILE_OPENED      uint32 = 0x00000001
	FILE_CREATED     uint32 = 0x00000002
	FILE_OVERWRITTEN uint32 = 0x00000003
)

// SMB2 Oplock levels
const (
	SMB2_OPLOCK_LEVEL_NONE      uint8 = 0x00
	SMB2_OPLOCK_LEVEL_II        uint8 = 0x01
	SMB2_OPLOCK_LEVEL_EXCLUSIVE uint8 = 0x08
	SMB2_OPLOCK_LEVEL_BATCH     uint8 = 0x09
	SMB2_OPLOCK_LEVEL_LEASE     uint8 = 0xFF
)

// SMB2 Impersonation levels
const (
	SMB2_IMPERSONATION_ANONYMOUS      uint32 = 0x00000000
	SMB2_IMPERSONATION_IDENTIFICATION uint32 = 0x00000001
	SMB2_IMPERSONATION_IMPERSONATION  uint32 = 0x00000002
	SMB2_IMPERSONATION_DELEGATE       uint32 = 0x00000003
)

// SMB2 Read flags
const (
	SMB2_READFLAG_READ_UNBUFFERED    uint8 = 0x01
	SMB2_READFLAG_REQUEST_COMPRESSED uint8 = 0x02
)

// SMB2 Write flags
const (
	SMB2_WRITEFLAG_WRITE_THROUGH    uint32 = 0x00000001
	SMB2_WRITEFLAG_WRITE_UNBUFFERED uint32 = 0x00000002
)

// SMB2 Channel values for READ/WRITE
const (
	SMB2_CHANNEL_NONE               uint32 = 0x00000000
	SMB2_CHANNEL_RDMA_V1            uint32 = 0x00000001
	SMB2_CHANNEL_RDMA_V1_INVALIDATE uint32 = 0x00000002
)

// SMB2 Close flags
const (
	SMB2_CLOSE_FLAG_POSTQUERY_ATTRIB uint16 = 0x0001
)
