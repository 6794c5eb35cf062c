package smb2core

import (
	"io/fs"
	"strings"
)

// Windows file attribute flags (MS-FSCC 2.6), as carried in the
// FileAttributes field of CREATE requests and replies.
const (
	FILE_ATTRIBUTE_READONLY            uint32 = 0x00000001
	FILE_ATTRIBUTE_HIDDEN              uint32 = 0x00000002
	FILE_ATTRIBUTE_SYSTEM              uint32 = 0x00000004
	FILE_ATTRIBUTE_DIRECTORY           uint32 = 0x00000010
	FILE_ATTRIBUTE_ARCHIVE             uint32 = 0x00000020
	FILE_ATTRIBUTE_DEVICE              uint32 = 0x00000040
	FILE_ATTRIBUTE_NORMAL              uint32 = 0x00000080
	FILE_ATTRIBUTE_TEMPORARY           uint32 = 0x00000100
	FILE_ATTRIBUTE_SPARSE_FILE         uint32 = 0x00000200
	FILE_ATTRIBUTE_REPARSE_POINT       uint32 = 0x00000400
	FILE_ATTRIBUTE_COMPRESSED          uint32 = 0x00000800
	FILE_ATTRIBUTE_OFFLINE             uint32 = 0x00001000
	FILE_ATTRIBUTE_NOT_CONTENT_INDEXED uint32 = 0x00002000
	FILE_ATTRIBUTE_ENCRYPTED           uint32 = 0x00004000
)

// Attributes is a FileAttributes bit set.
type Attributes uint32

var attributeNames = []struct {
	bit  uint32
	name string
}{
	{FILE_ATTRIBUTE_READONLY, "ReadOnly"},
	{FILE_ATTRIBUTE_HIDDEN, "Hidden"},
	{FILE_ATTRIBUTE_SYSTEM, "System"},
	{FILE_ATTRIBUTE_DIRECTORY, "Directory"},
	{FILE_ATTRIBUTE_ARCHIVE, "Archive"},
	{FILE_ATTRIBUTE_DEVICE, "Device"},
	{FILE_ATTRIBUTE_TEMPORARY, "Temporary"},
	{FILE_ATTRIBUTE_SPARSE_FILE, "Sparse"},
	{FILE_ATTRIBUTE_REPARSE_POINT, "ReparsePoint"},
	{FILE_ATTRIBUTE_COMPRESSED, "Compressed"},
	{FILE_ATTRIBUTE_OFFLINE, "Offline"},
	{FILE_ATTRIBUTE_NOT_CONTENT_INDEXED, "NotContentIndexed"},
	{FILE_ATTRIBUTE_ENCRYPTED, "Encrypted"},
}

// Has reports whether every bit in flag is set.
func (a Attributes) Has(flag uint32) bool {
	return uint32(a)&flag == flag
}

// IsDir reports whether the directory bit is set.
func (a Attributes) IsDir() bool {
	return a.Has(FILE_ATTRIBUTE_DIRECTORY)
}

// String lists the set flags, or "Normal" when none are.
func (a Attributes) String() string {
	var names []string
	for _, n := range attributeNames {
		if a.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "Normal"
	}
	return strings.Join(names, ", ")
}

// Mode maps the attributes to a Unix file mode. The mapping is lossy in
// both directions.
func (a Attributes) Mode() fs.FileMode {
	mode := fs.FileMode(0666)
	if a.Has(FILE_ATTRIBUTE_READONLY) {
		mode = 0444
	}

	if a.IsDir() {
		if a.Has(FILE_ATTRIBUTE_READONLY) {
			mode = fs.ModeDir | 0555
		} else {
			mode = fs.ModeDir | 0777
		}
	}

	if a.Has(FILE_ATTRIBUTE_REPARSE_POINT) {
		mode |= fs.ModeSymlink
	}
	if a.Has(FILE_ATTRIBUTE_DEVICE) {
		mode |= fs.ModeDevice
	}
	return mode
}

// AttributesFromMode maps a Unix file mode to FileAttributes. NORMAL is
// only returned on its own.
func AttributesFromMode(mode fs.FileMode) Attributes {
	var attrs uint32

	if mode&0222 == 0 {
		attrs |= FILE_ATTRIBUTE_READONLY
	}
	if mode.IsDir() {
		attrs |= FILE_ATTRIBUTE_DIRECTORY
	}
	if mode&fs.ModeSymlink != 0 {
		attrs |= FILE_ATTRIBUTE_REPARSE_POINT
	}
	if mode&fs.ModeDevice != 0 {
		attrs |= FILE_ATTRIBUTE_DEVICE
	}
	// Regular files carry the archive bit.
	if mode.IsRegular() {
		attrs |= FILE_ATTRIBUTE_ARCHIVE
	}
	if attrs == 0 {
		attrs = FILE_ATTRIBUTE_NORMAL
	}
	return Attributes(attrs)
}
