package nfc

import "encoding/binary"

// Transceiver exchanges one raw frame with the selected tag.
type Transceiver func(tx []byte) ([]byte, error)

// NFC Forum Type 2 layout (Ultralight, NTAG).
const (
	type2LockPage = 2
	type2CCPage   = 3
	type2DataPage = 4
	type2Magic    = 0xE1
	type2Version  = 0x10

	// type2DefaultDataSize is the data area of a plain Ultralight.
	type2DefaultDataSize = 48
)

func type2Read(tx Transceiver, page int) ([]byte, error) {
	resp, err := tx([]byte{cmdRead, byte(page)})
	if err != nil {
		return nil, err
	}
	res, err := Decode(OpUltralightReadPages, resp)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func type2Write(tx Transceiver, page int, data []byte) error {
	frame := append([]byte{cmdUltralightWrite, byte(page)}, data[:UltralightPageSize]...)
	resp, err := tx(frame)
	if err != nil {
		return err
	}
	_, err = Decode(OpUltralightWritePage, resp)
	return err
}

// type2CC reads and checks the capability container, returning it along
// with the data area size in bytes.
func type2CC(tx Transceiver, op string) ([]byte, int, error) {
	pages, err := type2Read(tx, type2CCPage)
	if err != nil {
		return nil, 0, err
	}
	cc := pages[:4]
	if cc[0] != type2Magic {
		return nil, 0, NewTagRejectedError(op, "tag is not NDEF formatted (CC %X)", cc)
	}
	return cc, int(cc[2]) * 8, nil
}

// Type2ReadNDEF reads the NDEF message TLV from a Type 2 tag.
func Type2ReadNDEF(tx Transceiver) ([]byte, error) {
	const op = "NdefRead"
	_, size, err := type2CC(tx, op)
	if err != nil {
		return nil, err
	}
	var area []byte
	for page := type2DataPage; len(area) < size; page += 4 {
		chunk, err := type2Read(tx, page)
		if err != nil {
			return nil, err
		}
		area = append(area, chunk...)
		if len(area) > size {
			area = area[:size]
		}
		msg, found, complete := TLVFindNDEF(area)
		if complete {
			if !found {
				return []byte{}, nil
			}
			return clone(msg), nil
		}
	}
	return nil, NewMalformedResponseError(op, "NDEF TLV runs past the %d byte data area", size)
}

// Type2WriteNDEF writes msg as the NDEF message TLV of a Type 2 tag.
func Type2WriteNDEF(tx Transceiver, msg []byte) error {
	const op = "NdefWrite"
	cc, size, err := type2CC(tx, op)
	if err != nil {
		return err
	}
	if cc[3]&0x0F != 0 {
		return NewTagRejectedError(op, "tag is read-only")
	}
	return type2WriteArea(tx, op, msg, size)
}

func type2WriteArea(tx Transceiver, op string, msg []byte, size int) error {
	tlv := TLVEncode(msg, TLVNDEF)
	if len(tlv) > size {
		return NewCapacityExceededError(op, "message of %d bytes does not fit %d byte data area", len(msg), size)
	}
	for len(tlv)%UltralightPageSize != 0 {
		tlv = append(tlv, TLVNull)
	}
	for i := 0; i < len(tlv); i += UltralightPageSize {
		if err := type2Write(tx, type2DataPage+i/UltralightPageSize, tlv[i:i+UltralightPageSize]); err != nil {
			return err
		}
	}
	return nil
}

// Type2MakeReadOnly sets the CC write access and static lock bits.
func Type2MakeReadOnly(tx Transceiver) error {
	const op = "NdefMakeReadOnly"
	pages, err := type2Read(tx, type2LockPage)
	if err != nil {
		return err
	}
	lock := clone(pages[0:4])
	cc := clone(pages[4:8])
	if cc[0] != type2Magic {
		return NewTagRejectedError(op, "tag is not NDEF formatted")
	}
	cc[3] = 0x0F
	if err := type2Write(tx, type2CCPage, cc); err != nil {
		return err
	}
	lock[2], lock[3] = 0xFF, 0xFF
	return type2Write(tx, type2LockPage, lock)
}

// Type2Format writes a fresh capability container for a data area of size
// bytes, then msg.
func Type2Format(tx Transceiver, msg []byte, size int, readOnly bool) error {
	const op = "NdefFormat"
	if size <= 0 {
		size = type2DefaultDataSize
	}
	cc := []byte{type2Magic, type2Version, byte(size / 8), 0x00}
	if err := type2Write(tx, type2CCPage, cc); err != nil {
		return err
	}
	if err := type2WriteArea(tx, op, msg, size); err != nil {
		return err
	}
	if readOnly {
		return Type2MakeReadOnly(tx)
	}
	return nil
}

func type4Exchange(tx Transceiver, op string, apdu []byte) ([]byte, error) {
	resp, err := tx(apdu)
	if err != nil {
		return nil, err
	}
	r, err := ParseAPDUResponse(resp)
	if err != nil {
		return nil, NewMalformedResponseError(op, "apdu response of %d bytes", len(resp))
	}
	if !r.IsSuccess() {
		if sw := r.StatusWord(); sw == SWNotEnoughMemory || sw == SWWrongLength {
			return nil, NewCapacityExceededError(op, "status word %04X", sw)
		}
		return nil, NewTagRejectedError(op, "status word %04X", r.StatusWord())
	}
	return r.Data, nil
}

// type4Select selects the NDEF application and reads the capability
// container, leaving the NDEF file selected.
func type4Select(tx Transceiver, op string) (Type4Capability, error) {
	if _, err := type4Exchange(tx, op, SelectByAIDAPDU(AIDNdefApplication)); err != nil {
		return Type4Capability{}, err
	}
	if _, err := type4Exchange(tx, op, SelectByFIDAPDU(FIDCapability)); err != nil {
		return Type4Capability{}, err
	}
	cc, err := type4Exchange(tx, op, ReadBinaryAPDU(0, 15))
	if err != nil {
		return Type4Capability{}, err
	}
	capability, err := ParseType4Capability(cc)
	if err != nil {
		return Type4Capability{}, WrapError(ErrCodeMalformedResponse, op, "bad capability container", err)
	}
	if _, err := type4Exchange(tx, op, SelectByFIDAPDU(capability.FileID)); err != nil {
		return Type4Capability{}, err
	}
	return capability, nil
}

// Type4ReadNDEF runs the NFC Forum Type 4 read procedure.
func Type4ReadNDEF(tx Transceiver) ([]byte, error) {
	const op = "NdefRead"
	capability, err := type4Select(tx, op)
	if err != nil {
		return nil, err
	}
	nlen, err := type4Exchange(tx, op, ReadBinaryAPDU(0, 2))
	if err != nil {
		return nil, err
	}
	if len(nlen) < 2 {
		return nil, NewMalformedResponseError(op, "NLEN response of %d bytes", len(nlen))
	}
	total := int(binary.BigEndian.Uint16(nlen))
	if capability.MaxFileSize > 0 && total > int(capability.MaxFileSize)-2 {
		return nil, NewMalformedResponseError(op, "NLEN %d exceeds file size %d", total, capability.MaxFileSize)
	}

	msg := make([]byte, 0, total)
	for len(msg) < total {
		chunk := total - len(msg)
		if chunk > int(capability.MaxRead) {
			chunk = int(capability.MaxRead)
		}
		data, err := type4Exchange(tx, op, ReadBinaryAPDU(uint16(2+len(msg)), byte(chunk)))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, NewMalformedResponseError(op, "empty read at offset %d", 2+len(msg))
		}
		msg = append(msg, data...)
	}
	return msg[:total], nil
}

// Type4WriteNDEF runs the NFC Forum Type 4 update procedure.
func Type4WriteNDEF(tx Transceiver, msg []byte) error {
	const op = "NdefWrite"
	capability, err := type4Select(tx, op)
	if err != nil {
		return err
	}
	if capability.ReadOnly {
		return NewTagRejectedError(op, "NDEF file is read-only")
	}
	if capability.MaxFileSize > 0 && len(msg)+2 > int(capability.MaxFileSize) {
		return NewCapacityExceededError(op, "message of %d bytes exceeds file size %d", len(msg), capability.MaxFileSize)
	}
	if _, err := type4Exchange(tx, op, UpdateBinaryAPDU(0, []byte{0, 0})); err != nil {
		return err
	}
	for off := 0; off < len(msg); {
		end := off + int(capability.MaxWrite)
		if end > len(msg) {
			end = len(msg)
		}
		if _, err := type4Exchange(tx, op, UpdateBinaryAPDU(uint16(2+off), msg[off:end])); err != nil {
			return err
		}
		off = end
	}
	n := []byte{byte(len(msg) >> 8), byte(len(msg))}
	_, err = type4Exchange(tx, op, UpdateBinaryAPDU(0, n))
	return err
}

// type4WriteAccessOffset is the write access byte of the NDEF File Control
// TLV when it directly follows the CC header.
const type4WriteAccessOffset = 14

// Type4MakeReadOnly locks the NDEF file by setting its write access
// condition in the capability container.
func Type4MakeReadOnly(tx Transceiver) error {
	const op = "NdefMakeReadOnly"
	if _, err := type4Exchange(tx, op, SelectByAIDAPDU(AIDNdefApplication)); err != nil {
		return err
	}
	if _, err := type4Exchange(tx, op, SelectByFIDAPDU(FIDCapability)); err != nil {
		return err
	}
	cc, err := type4Exchange(tx, op, ReadBinaryAPDU(0, 15))
	if err != nil {
		return err
	}
	capability, err := ParseType4Capability(cc)
	if err != nil {
		return WrapError(ErrCodeMalformedResponse, op, "bad capability container", err)
	}
	if capability.ReadOnly {
		return nil
	}
	if cc[7] != 0x04 {
		return NewTagRejectedError(op, "unexpected CC layout")
	}
	_, err = type4Exchange(tx, op, UpdateBinaryAPDU(type4WriteAccessOffset, []byte{0xFF}))
	return err
}
