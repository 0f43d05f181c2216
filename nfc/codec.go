package nfc

import "strings"

// Opcode names a tag command.
type Opcode string

const (
	OpTransceive             Opcode = "transceive"
	OpAPDU                   Opcode = "apdu"
	OpNdefRead               Opcode = "ndefRead"
	OpNdefWrite              Opcode = "ndefWrite"
	OpNdefMakeReadOnly       Opcode = "ndefMakeReadOnly"
	OpNdefStatus             Opcode = "ndefStatus"
	OpNdefFormat             Opcode = "ndefFormat"
	OpNdefFormatReadOnly     Opcode = "ndefFormatReadOnly"
	OpClassicAuthA           Opcode = "classicAuthA"
	OpClassicAuthB           Opcode = "classicAuthB"
	OpClassicReadBlock       Opcode = "classicReadBlock"
	OpClassicWriteBlock      Opcode = "classicWriteBlock"
	OpClassicIncrement       Opcode = "classicIncrement"
	OpClassicDecrement       Opcode = "classicDecrement"
	OpClassicTransfer        Opcode = "classicTransfer"
	OpClassicSectorCount     Opcode = "classicSectorCount"
	OpUltralightReadPages    Opcode = "ultralightReadPages"
	OpUltralightWritePage    Opcode = "ultralightWritePage"
	OpGetMaxTransceiveLength Opcode = "getMaxTransceiveLength"
)

var allOpcodes = []Opcode{
	OpTransceive, OpAPDU, OpNdefRead, OpNdefWrite, OpNdefMakeReadOnly, OpNdefStatus,
	OpNdefFormat, OpNdefFormatReadOnly, OpClassicAuthA, OpClassicAuthB, OpClassicReadBlock,
	OpClassicWriteBlock, OpClassicIncrement, OpClassicDecrement, OpClassicTransfer,
	OpClassicSectorCount, OpUltralightReadPages, OpUltralightWritePage, OpGetMaxTransceiveLength,
}

// Opcodes lists every opcode the codec understands.
func Opcodes() []Opcode {
	return append([]Opcode(nil), allOpcodes...)
}

func ParseOpcode(s string) (Opcode, error) {
	for _, op := range allOpcodes {
		if strings.EqualFold(string(op), s) {
			return op, nil
		}
	}
	return "", NewInvalidArgumentError("ParseOpcode", "unknown opcode %q", s)
}

// Local reports whether the opcode is answered from cached tag state
// without touching the radio.
func (op Opcode) Local() bool {
	switch op {
	case OpNdefStatus, OpClassicSectorCount, OpGetMaxTransceiveLength:
		return true
	}
	return false
}

// FrameKind tells the radio how to carry a frame.
type FrameKind int

const (
	// FrameRaw is sent to the tag as is.
	FrameRaw FrameKind = iota
	// The NDEF kinds ask the radio to run its NDEF procedure for the tag type.
	FrameNdefRead
	FrameNdefWrite
	FrameNdefMakeReadOnly
	FrameNdefFormat
	FrameNdefFormatReadOnly
)

func (k FrameKind) String() string {
	switch k {
	case FrameRaw:
		return "raw"
	case FrameNdefRead:
		return "ndefRead"
	case FrameNdefWrite:
		return "ndefWrite"
	case FrameNdefMakeReadOnly:
		return "ndefMakeReadOnly"
	case FrameNdefFormat:
		return "ndefFormat"
	case FrameNdefFormatReadOnly:
		return "ndefFormatReadOnly"
	}
	return "unknown"
}

// Frame is an encoded command ready for the radio.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// NdefStatus mirrors the platform NDEF status values.
type NdefStatus int

const (
	NdefNotSupported NdefStatus = 1
	NdefReadWrite    NdefStatus = 2
	NdefReadOnly     NdefStatus = 3
)

// NdefStatusResult is the answer to OpNdefStatus.
type NdefStatusResult struct {
	Status   NdefStatus `json:"status"`
	Capacity int        `json:"capacity"`
}

// Result is a decoded command response.
type Result struct {
	Data       []byte            `json:"data,omitempty"`
	StatusWord uint16            `json:"sw,omitempty"`
	Value      int               `json:"value,omitempty"`
	Ndef       *NdefStatusResult `json:"ndef,omitempty"`
}

// Encode validates a command against the tag capabilities and builds the
// frame to submit. uid is needed for Classic authentication.
func Encode(op Opcode, payload []byte, caps Capabilities, uid []byte) (Frame, error) {
	name := string(op)
	if !caps.Supports(op) {
		return Frame{}, NewTagRejectedError(name, "operation not supported by tag")
	}
	if op.Local() {
		return Frame{}, NewInvalidArgumentError(name, "answered locally")
	}

	switch op {
	case OpTransceive:
		if len(payload) == 0 {
			return Frame{}, NewInvalidArgumentError(name, "empty payload")
		}
		if err := checkTransceiveLength(name, payload, caps); err != nil {
			return Frame{}, err
		}
		return rawFrame(payload), nil

	case OpAPDU:
		if err := ValidateAPDU(payload); err != nil {
			return Frame{}, WrapError(ErrCodeInvalidArgument, name, "invalid command apdu", err)
		}
		if err := checkTransceiveLength(name, payload, caps); err != nil {
			return Frame{}, err
		}
		return rawFrame(payload), nil

	case OpNdefRead:
		return Frame{Kind: FrameNdefRead}, nil

	case OpNdefWrite:
		if !caps.Writable {
			return Frame{}, NewTagRejectedError(name, "tag is read-only")
		}
		if caps.MaxNdefSize > 0 && len(payload) > caps.MaxNdefSize {
			return Frame{}, NewCapacityExceededError(name, "message of %d bytes exceeds capacity %d", len(payload), caps.MaxNdefSize)
		}
		return Frame{Kind: FrameNdefWrite, Data: clone(payload)}, nil

	case OpNdefMakeReadOnly:
		if !caps.CanMakeReadOnly || !caps.Writable {
			return Frame{}, NewTagRejectedError(name, "tag cannot be made read-only")
		}
		return Frame{Kind: FrameNdefMakeReadOnly}, nil

	case OpNdefFormat, OpNdefFormatReadOnly:
		if caps.MaxNdefSize > 0 && len(payload) > caps.MaxNdefSize {
			return Frame{}, NewCapacityExceededError(name, "message of %d bytes exceeds capacity %d", len(payload), caps.MaxNdefSize)
		}
		kind := FrameNdefFormat
		if op == OpNdefFormatReadOnly {
			kind = FrameNdefFormatReadOnly
		}
		return Frame{Kind: kind, Data: clone(payload)}, nil

	case OpClassicAuthA, OpClassicAuthB:
		if len(payload) != 1+ClassicKeyLength {
			return Frame{}, NewInvalidArgumentError(name, "payload must be sector byte plus %d key bytes", ClassicKeyLength)
		}
		sector := int(payload[0])
		if err := checkClassicSector(name, sector, caps.ClassicSectors); err != nil {
			return Frame{}, err
		}
		keyType := byte(cmdClassicAuthA)
		if op == OpClassicAuthB {
			keyType = cmdClassicAuthB
		}
		frame, err := classicAuthFrame(keyType, ClassicSectorToBlock(sector), payload[1:], uid)
		if err != nil {
			return Frame{}, WrapError(ErrCodeInvalidArgument, name, "bad auth parameters", err)
		}
		return rawFrame(frame), nil

	case OpClassicReadBlock, OpClassicTransfer:
		if len(payload) != 1 {
			return Frame{}, NewInvalidArgumentError(name, "payload must be a single block index")
		}
		if err := checkClassicBlock(name, int(payload[0]), caps.ClassicSectors); err != nil {
			return Frame{}, err
		}
		cmd := byte(cmdRead)
		if op == OpClassicTransfer {
			cmd = cmdClassicTransfer
		}
		return rawFrame([]byte{cmd, payload[0]}), nil

	case OpClassicWriteBlock:
		if len(payload) != 1+ClassicBlockSize {
			return Frame{}, NewInvalidArgumentError(name, "payload must be block index plus %d bytes", ClassicBlockSize)
		}
		if err := checkClassicBlock(name, int(payload[0]), caps.ClassicSectors); err != nil {
			return Frame{}, err
		}
		return rawFrame(append([]byte{cmdClassicWrite}, payload...)), nil

	case OpClassicIncrement, OpClassicDecrement:
		if len(payload) != 1+ClassicValueLength {
			return Frame{}, NewInvalidArgumentError(name, "payload must be block index plus %d value bytes", ClassicValueLength)
		}
		if err := checkClassicBlock(name, int(payload[0]), caps.ClassicSectors); err != nil {
			return Frame{}, err
		}
		cmd := byte(cmdClassicIncrement)
		if op == OpClassicDecrement {
			cmd = cmdClassicDecrement
		}
		return rawFrame(append([]byte{cmd}, payload...)), nil

	case OpUltralightReadPages:
		if len(payload) != 1 {
			return Frame{}, NewInvalidArgumentError(name, "payload must be a single page index")
		}
		return rawFrame([]byte{cmdRead, payload[0]}), nil

	case OpUltralightWritePage:
		if len(payload) != 1+UltralightPageSize {
			return Frame{}, NewInvalidArgumentError(name, "payload must be page index plus %d bytes", UltralightPageSize)
		}
		if !caps.Writable {
			return Frame{}, NewTagRejectedError(name, "tag is read-only")
		}
		return rawFrame(append([]byte{cmdUltralightWrite}, payload...)), nil
	}

	return Frame{}, NewTagRejectedError(name, "operation not supported")
}

// Decode turns a raw tag response into a Result or a typed error.
func Decode(op Opcode, resp []byte) (Result, error) {
	name := string(op)
	switch op {
	case OpTransceive:
		if len(resp) == 0 {
			return Result{}, NewMalformedResponseError(name, "empty response")
		}
		return Result{Data: clone(resp)}, nil

	case OpAPDU:
		r, err := ParseAPDUResponse(resp)
		if err != nil {
			return Result{}, NewMalformedResponseError(name, "response of %d bytes has no status word", len(resp))
		}
		sw := r.StatusWord()
		switch {
		case r.IsSuccess(), r.HasMoreData():
			return Result{Data: r.Data, StatusWord: sw}, nil
		case sw == SWNotEnoughMemory || sw == SWWrongLength:
			return Result{}, NewCapacityExceededError(name, "status word %04X", sw)
		}
		return Result{}, NewTagRejectedError(name, "status word %04X", sw)

	case OpNdefRead:
		return Result{Data: clone(resp)}, nil

	case OpNdefWrite, OpNdefMakeReadOnly, OpNdefFormat, OpNdefFormatReadOnly,
		OpClassicAuthA, OpClassicAuthB, OpClassicTransfer, OpClassicWriteBlock,
		OpClassicIncrement, OpClassicDecrement, OpUltralightWritePage:
		return Result{}, decodeAck(name, resp)

	case OpClassicReadBlock, OpUltralightReadPages:
		switch {
		case len(resp) == 1:
			return Result{}, NewTagRejectedError(name, "tag answered NAK %02X", resp[0])
		case len(resp) < ClassicBlockSize:
			return Result{}, NewMalformedResponseError(name, "expected %d bytes, got %d", ClassicBlockSize, len(resp))
		}
		return Result{Data: clone(resp[:ClassicBlockSize])}, nil
	}
	return Result{}, NewTagRejectedError(name, "operation not supported")
}

// Answer resolves a local opcode from cached capabilities.
func Answer(op Opcode, caps Capabilities) (Result, error) {
	switch op {
	case OpNdefStatus:
		st := NdefStatusResult{Status: NdefNotSupported, Capacity: caps.MaxNdefSize}
		if caps.Supports(OpNdefRead) {
			st.Status = NdefReadOnly
			if caps.Writable {
				st.Status = NdefReadWrite
			}
		}
		return Result{Ndef: &st}, nil
	case OpClassicSectorCount:
		if caps.ClassicSectors == 0 {
			return Result{}, NewTagRejectedError(string(op), "not a MIFARE Classic tag")
		}
		return Result{Value: caps.ClassicSectors}, nil
	case OpGetMaxTransceiveLength:
		return Result{Value: caps.MaxTransceiveLength}, nil
	}
	return Result{}, NewInvalidArgumentError(string(op), "not a local opcode")
}

// ApplyResult updates cached capabilities after a successful command.
func ApplyResult(op Opcode, caps Capabilities) Capabilities {
	switch op {
	case OpNdefFormat, OpNdefFormatReadOnly:
		caps = formatted(caps)
	}
	switch op {
	case OpNdefMakeReadOnly, OpNdefFormatReadOnly:
		caps.Writable = false
		caps.CanMakeReadOnly = false
	}
	return caps
}

// formatted swaps the format opcodes of a freshly formatted tag for the
// regular NDEF set.
func formatted(caps Capabilities) Capabilities {
	out := caps
	out.Opcodes = nil
	for _, op := range caps.Opcodes {
		switch op {
		case OpNdefFormat, OpNdefFormatReadOnly, OpNdefStatus:
			continue
		}
		out.Opcodes = append(out.Opcodes, op)
	}
	out.Opcodes = append(out.Opcodes, ndefOpcodes...)
	out.Writable = true
	out.CanMakeReadOnly = true
	return out
}

func decodeAck(op string, resp []byte) error {
	switch {
	case len(resp) == 0:
		return nil
	case len(resp) == 1 && resp[0]&0x0F == mifareACK:
		return nil
	case len(resp) == 1:
		return NewTagRejectedError(op, "tag answered NAK %02X", resp[0])
	}
	return NewMalformedResponseError(op, "unexpected %d byte response", len(resp))
}

func checkTransceiveLength(op string, payload []byte, caps Capabilities) error {
	if caps.MaxTransceiveLength > 0 && len(payload) > caps.MaxTransceiveLength {
		return NewCapacityExceededError(op, "frame of %d bytes exceeds max transceive length %d", len(payload), caps.MaxTransceiveLength)
	}
	return nil
}

func rawFrame(b []byte) Frame {
	return Frame{Kind: FrameRaw, Data: clone(b)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
