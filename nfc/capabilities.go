package nfc

import "strings"

// Capabilities describes what a connected tag accepts.
type Capabilities struct {
	Writable            bool     `json:"writable"`
	CanMakeReadOnly     bool     `json:"canMakeReadOnly"`
	MaxNdefSize         int      `json:"maxNdefSize,omitempty"`
	MaxTransceiveLength int      `json:"maxTransceiveLength,omitempty"`
	ClassicSectors      int      `json:"classicSectors,omitempty"`
	Family              string   `json:"family,omitempty"` // "MIFARE Classic", "NTAG", "Type 4", ...
	Opcodes             []Opcode `json:"opcodes"`
}

// Supports reports whether op may be issued against the tag.
func (c Capabilities) Supports(op Opcode) bool {
	for _, o := range c.Opcodes {
		if o == op {
			return true
		}
	}
	return false
}

var (
	ndefOpcodes = []Opcode{OpNdefRead, OpNdefWrite, OpNdefMakeReadOnly, OpNdefStatus}

	classicOpcodes = []Opcode{
		OpClassicAuthA, OpClassicAuthB, OpClassicReadBlock, OpClassicWriteBlock,
		OpClassicIncrement, OpClassicDecrement, OpClassicTransfer, OpClassicSectorCount,
	}

	ultralightOpcodes = []Opcode{OpUltralightReadPages, OpUltralightWritePage}

	rawOpcodes = []Opcode{OpTransceive, OpGetMaxTransceiveLength}
)

func concatOpcodes(sets ...[]Opcode) []Opcode {
	var out []Opcode
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// InferCapabilities derives capabilities and technology list from a tag
// family string as reported by a radio driver ("MIFARE Classic 1K",
// "NTAG215", "DESFire EV1", "Type 4", ...).
func InferCapabilities(family string) (Capabilities, []TechKind) {
	lower := strings.ToLower(family)
	caps := Capabilities{MaxTransceiveLength: DefaultMaxTransceiveLength}

	switch {
	case strings.Contains(lower, "classic"):
		caps.Family = "MIFARE Classic"
		caps.Writable = true
		caps.ClassicSectors = ClassicSectors1K
		caps.MaxNdefSize = 716
		if strings.Contains(lower, "4k") {
			caps.ClassicSectors = ClassicSectors4K
			caps.MaxNdefSize = 3356
		} else if strings.Contains(lower, "mini") {
			caps.ClassicSectors = ClassicSectorsMini
			caps.MaxNdefSize = 0
		}
		caps.Opcodes = concatOpcodes(rawOpcodes, classicOpcodes)
		return caps, []TechKind{TechMifareClassic, TechNfcA}

	case strings.Contains(lower, "desfire"):
		caps.Family = "DESFire"
		caps.Writable = true
		caps.CanMakeReadOnly = true
		caps.MaxNdefSize = 8192
		caps.Opcodes = concatOpcodes(rawOpcodes, []Opcode{OpAPDU}, ndefOpcodes)
		return caps, []TechKind{TechIsoDep, TechNfcA, TechNdef}

	case strings.Contains(lower, "ultralight"):
		caps.Family = "MIFARE Ultralight"
		caps.Writable = true
		caps.CanMakeReadOnly = true
		caps.MaxNdefSize = 46
		if strings.HasSuffix(lower, " c") || strings.Contains(lower, "ultralight c") || strings.Contains(lower, "ultralightc") {
			caps.MaxNdefSize = 137
		}
		caps.Opcodes = concatOpcodes(rawOpcodes, ultralightOpcodes, ndefOpcodes)
		return caps, []TechKind{TechMifareUltralight, TechNfcA, TechNdef}

	case strings.Contains(lower, "ntag"):
		caps.Family = "NTAG"
		caps.Writable = true
		caps.CanMakeReadOnly = true
		switch {
		case strings.Contains(lower, "213"):
			caps.MaxNdefSize = 144
		case strings.Contains(lower, "215"):
			caps.MaxNdefSize = 504
		case strings.Contains(lower, "216"):
			caps.MaxNdefSize = 888
		default:
			caps.MaxNdefSize = 144
		}
		caps.Opcodes = concatOpcodes(rawOpcodes, ultralightOpcodes, ndefOpcodes)
		return caps, []TechKind{TechMifareUltralight, TechNfcA, TechNdef}

	case strings.Contains(lower, "type4") || strings.Contains(lower, "type 4") || strings.Contains(lower, "iso14443-4"):
		caps.Family = "Type 4"
		caps.Writable = true
		caps.CanMakeReadOnly = true
		caps.MaxNdefSize = 2046
		caps.Opcodes = concatOpcodes(rawOpcodes, []Opcode{OpAPDU}, ndefOpcodes)
		return caps, []TechKind{TechIsoDep, TechNfcA, TechNdef}

	case strings.Contains(lower, "felica"):
		caps.Family = "FeliCa"
		caps.Opcodes = append([]Opcode(nil), rawOpcodes...)
		return caps, []TechKind{TechFelica, TechNfcF}

	case strings.Contains(lower, "15693") || strings.Contains(lower, "icode"):
		caps.Family = "ISO 15693"
		caps.Opcodes = append([]Opcode(nil), rawOpcodes...)
		return caps, []TechKind{TechIso15693, TechNfcV}
	}

	// Unknown ISO 14443-A target: raw exchange only.
	caps.Family = "Unknown"
	caps.Opcodes = append([]Opcode(nil), rawOpcodes...)
	return caps, []TechKind{TechNfcA}
}

// WithFormatable marks an unformatted NDEF-capable tag: NdefFormat replaces
// the regular NDEF opcodes.
func (c Capabilities) WithFormatable() Capabilities {
	out := c
	out.Opcodes = nil
	for _, op := range c.Opcodes {
		switch op {
		case OpNdefRead, OpNdefWrite, OpNdefMakeReadOnly:
			continue
		}
		out.Opcodes = append(out.Opcodes, op)
	}
	out.Opcodes = append(out.Opcodes, OpNdefFormat, OpNdefFormatReadOnly)
	return out
}
