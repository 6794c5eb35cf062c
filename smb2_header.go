package smb2core

import (
	"github.com/cockroachdb/errors"
)

// Header is the fixed 64-byte SMB2 sync header. Framing and correlation
// are done by the transport; this package reads the header of a delivered
// reply to learn its status and to check it belongs to the PDU.
type Header struct {
	ProtocolID    [4]byte  // 0xFE 'S' 'M' 'B'
	StructureSize uint16   // Always 64
	CreditCharge  uint16   // Number of credits consumed
	Status        NTStatus // NT status code (response) or channel sequence (request)
	Command       Command  // SMB2 command code
	CreditRequest uint16   // Credits requested (request) or granted (response)
	Flags         uint32   // Flags
	NextCommand   uint32   // Offset to next command in compound
	MessageID     uint64   // Unique message identifier
	Reserved      uint32   // Reserved (or AsyncID high bits)
	TreeID        uint32   // Tree identifier
	SessionID     uint64   // Session identifier
	Signature     [16]byte // Message signature (if signed)
}

// IsResponse returns true if this is a response message
func (h *Header) IsResponse() bool {
	return h.Flags&SMB2_FLAGS_SERVER_TO_REDIR != 0
}

// Marshal encodes the header to bytes
func (h *Header) Marshal() []byte {
	w := NewByteWriter(SMB2HeaderSize)
	w.WriteBytes([]byte(SMB2ProtocolID))
	w.WriteUint16(SMB2HeaderSize)
	w.WriteUint16(h.CreditCharge)
	w.WriteUint32(uint32(h.Status))
	w.WriteUint16(uint16(h.Command))
	w.WriteUint16(h.CreditRequest)
	w.WriteUint32(h.Flags)
	w.WriteUint32(h.NextCommand)
	w.WriteUint64(h.MessageID)
	w.WriteUint32(h.Reserved)
	w.WriteUint32(h.TreeID)
	w.WriteUint64(h.SessionID)
	w.WriteBytes(h.Signature[:])
	return w.Bytes()
}

// UnmarshalHeader decodes an SMB2 header from the start of data.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < SMB2HeaderSize {
		return nil, mismatchf("message of %d bytes is shorter than the SMB2 header", len(data))
	}

	r := NewByteReader(data)
	h := &Header{}
	copy(h.ProtocolID[:], r.ReadBytes(4))
	h.StructureSize = r.ReadUint16()
	h.CreditCharge = r.ReadUint16()
	h.Status = NTStatus(r.ReadUint32())
	h.Command = Command(r.ReadUint16())
	h.CreditRequest = r.ReadUint16()
	h.Flags = r.ReadUint32()
	h.NextCommand = r.ReadUint32()
	h.MessageID = r.ReadUint64()
	h.Reserved = r.ReadUint32()
	h.TreeID = r.ReadUint32()
	h.SessionID = r.ReadUint64()
	copy(h.Signature[:], r.ReadBytes(16))
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(ErrProtocolMismatch, err.Error())
	}

	if string(h.ProtocolID[:]) != SMB2ProtocolID {
		return nil, mismatchf("bad protocol id % x", h.ProtocolID[:])
	}
	if h.StructureSize != SMB2HeaderSize {
		return nil, mismatchf("header structure size %d, want %d", h.StructureSize, SMB2HeaderSize)
	}
	return h, nil
}
