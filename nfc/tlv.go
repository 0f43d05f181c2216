package nfc

// TLV types used in Type 2 tag memory.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// TLVEncode wraps data in a TLV followed by a terminator TLV.
func TLVEncode(data []byte, tlvType byte) []byte {
	out := make([]byte, 0, len(data)+5)
	out = append(out, tlvType)
	if len(data) < 0xFF {
		out = append(out, byte(len(data)))
	} else {
		out = append(out, 0xFF, byte(len(data)>>8), byte(len(data)))
	}
	out = append(out, data...)
	return append(out, TLVTerminator)
}

// tlvHeader returns the value length and the offset of the value relative
// to the type byte at data[0].
func tlvHeader(data []byte) (length, valueOffset int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] != 0xFF {
		return int(data[1]), 2, true
	}
	if len(data) < 4 {
		return 0, 0, false
	}
	return int(data[2])<<8 | int(data[3]), 4, true
}

// TLVFindNDEF walks a TLV area and returns the first NDEF message TLV.
// complete is false when the area ends before the value does, so the caller
// can read more memory and retry.
func TLVFindNDEF(data []byte) (msg []byte, found, complete bool) {
	for off := 0; off < len(data); {
		switch data[off] {
		case TLVNull:
			off++
			continue
		case TLVTerminator:
			return nil, false, true
		}
		length, vo, ok := tlvHeader(data[off:])
		if !ok {
			return nil, false, false
		}
		start := off + vo
		if start+length > len(data) {
			return nil, data[off] == TLVNDEF, false
		}
		if data[off] == TLVNDEF {
			return data[start : start+length], true, true
		}
		off = start + length
	}
	return nil, false, false
}
