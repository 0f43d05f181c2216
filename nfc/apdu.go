package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// APDU status words
const (
	SW1Success     = 0x90
	SW2Success     = 0x00
	SW1MoreData    = 0x61 // More data available
	SW1WrongLength = 0x6C // Wrong Le field

	SWFileNotFound     uint16 = 0x6A82
	SWNotEnoughMemory  uint16 = 0x6A84
	SWWrongLength      uint16 = 0x6700
	SWSecurityStatus   uint16 = 0x6982
	SWConditionsNotMet uint16 = 0x6985
)

// Common APDU command classes
const (
	CLAStandard = 0x00 // Standard ISO7816-4
	CLADESFire  = 0x90 // DESFire native command wrapper
)

const (
	INSSelectFile   = 0xA4
	INSReadBinary   = 0xB0
	INSUpdateBinary = 0xD6
)

// NFC Forum Type 4 NDEF application and file identifiers.
var (
	AIDNdefApplication = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}
	FIDCapability      = []byte{0xE1, 0x03}
	FIDNdefDefault     = []byte{0xE1, 0x04}
)

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// HasMoreData returns true if more data is available (SW1=61)
func (r APDUResponse) HasMoreData() bool {
	return r.SW1 == SW1MoreData
}

// Error returns an error if the response is not successful
func (r APDUResponse) Error() error {
	if r.IsSuccess() || r.HasMoreData() {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// StatusWord returns the 2-byte status word as uint16
func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

var errShortAPDU = errors.New("response too short")

// ParseAPDUResponse parses a raw response into APDUResponse
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errShortAPDU
	}
	return APDUResponse{
		Data: append([]byte(nil), raw[:len(raw)-2]...),
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs a short APDU command
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}

	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}

	if le != nil {
		cmd = append(cmd, *le)
	}

	return cmd
}

// ValidateAPDU checks the structure of a short C-APDU (cases 1 to 4).
func ValidateAPDU(cmd []byte) error {
	switch {
	case len(cmd) < 4:
		return fmt.Errorf("apdu header needs 4 bytes, got %d", len(cmd))
	case len(cmd) == 4, len(cmd) == 5:
		return nil
	}
	lc := int(cmd[4])
	if lc == 0 {
		return fmt.Errorf("extended apdu not supported")
	}
	if rest := len(cmd) - 5 - lc; rest != 0 && rest != 1 {
		return fmt.Errorf("apdu Lc=%d does not match body length %d", lc, len(cmd)-5)
	}
	return nil
}

// SelectByAIDAPDU selects an application by name.
func SelectByAIDAPDU(aid []byte) []byte {
	le := byte(0x00)
	return BuildAPDU(CLAStandard, INSSelectFile, 0x04, 0x00, aid, &le)
}

// SelectByFIDAPDU selects an elementary file by identifier.
func SelectByFIDAPDU(fid []byte) []byte {
	return BuildAPDU(CLAStandard, INSSelectFile, 0x00, 0x0C, fid, nil)
}

// ReadBinaryAPDU reads length bytes at a 15-bit offset.
func ReadBinaryAPDU(offset uint16, length byte) []byte {
	p1 := byte((offset >> 8) & 0x7F)
	p2 := byte(offset & 0xFF)
	return BuildAPDU(CLAStandard, INSReadBinary, p1, p2, nil, &length)
}

// UpdateBinaryAPDU writes data at a 15-bit offset.
func UpdateBinaryAPDU(offset uint16, data []byte) []byte {
	p1 := byte((offset >> 8) & 0x7F)
	p2 := byte(offset & 0xFF)
	return BuildAPDU(CLAStandard, INSUpdateBinary, p1, p2, data, nil)
}

// Type4Capability is the parsed NDEF File Control TLV of a Type 4 CC file.
type Type4Capability struct {
	MaxRead     uint16 // MLe
	MaxWrite    uint16 // MLc
	FileID      []byte
	MaxFileSize uint16
	ReadOnly    bool
}

// ParseType4Capability parses the capability container file.
func ParseType4Capability(cc []byte) (Type4Capability, error) {
	if len(cc) < 15 {
		return Type4Capability{}, fmt.Errorf("CC file too short (expected at least 15 bytes, got %d)", len(cc))
	}
	if cc[2] < 0x20 {
		return Type4Capability{}, fmt.Errorf("CC mapping version %02X not supported", cc[2])
	}
	out := Type4Capability{
		MaxRead:  binary.BigEndian.Uint16(cc[3:5]),
		MaxWrite: binary.BigEndian.Uint16(cc[5:7]),
	}
	for i := 7; i+1 < len(cc); {
		tag, l := cc[i], int(cc[i+1])
		if i+2+l > len(cc) {
			return Type4Capability{}, fmt.Errorf("CC TLV at %d truncated", i)
		}
		if tag == 0x04 && l >= 6 {
			v := cc[i+2 : i+2+l]
			out.FileID = append([]byte(nil), v[0:2]...)
			out.MaxFileSize = binary.BigEndian.Uint16(v[2:4])
			out.ReadOnly = v[5] != 0x00
			if out.MaxRead == 0 || out.MaxRead > DefaultMaxTransceiveLength {
				out.MaxRead = DefaultMaxTransceiveLength
			}
			if out.MaxWrite == 0 || out.MaxWrite > DefaultMaxTransceiveLength {
				out.MaxWrite = DefaultMaxTransceiveLength
			}
			return out, nil
		}
		i += 2 + l
	}
	return Type4Capability{}, fmt.Errorf("NDEF File Control TLV (0x04) not found in CC")
}
