package smb2core

// Servers answer a failed request with the generic 9-byte ERROR response
// instead of the command's own reply layout:
//
//	0  StructureSize (2) = 9
//	2  ErrorContextCount (1)
//	3  Reserved (1)
//	4  ByteCount (4)
//	8  ErrorData (variable, at least one byte)

// isErrorReply reports whether the first inbound segment starts with the
// ERROR response layout.
func isErrorReply(pdu *PDU) bool {
	seg := pdu.in.At(0)
	if seg == nil {
		return false
	}
	size, err := seg.GetUint16(0)
	return err == nil && size == SMB2_ERROR_REPLY_SIZE
}

// decodeErrorReply checks the ERROR response is complete enough to trust
// its status. Error data and error contexts are not interpreted.
func decodeErrorReply(pdu *PDU) error {
	r := newFieldReader(pdu.in.At(0))
	r.u8(2)
	r.u32(4)
	if err := r.Err(); err != nil {
		return mismatchf("truncated error response for %s: %v", pdu.command, err)
	}
	return nil
}
