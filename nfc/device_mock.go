package nfc

import (
	"bytes"
	"fmt"
	"sync"
)

// MockDevice is a test implementation of Device that simulates NFC hardware.
//
// Example:
//
//	mock := NewMockDevice()
//	tag := NewMockType2Tag(144, true)
//	mock.AddTag(Target{UID: uid, Family: CardTypeMifareUltralight})
//	mock.TransceiveFunc = tag.Transceive
type MockDevice struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// DeviceConnection is the simulated connection string returned by Connection()
	DeviceConnection string

	// IsOpen tracks whether the device is currently open
	IsOpen bool

	// InitError, if set, will be returned by InitiatorInit()
	InitError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// TransceiveFunc allows custom transceive behavior for testing
	// If nil, returns TransceiveResponse or TransceiveError
	TransceiveFunc func([]byte) ([]byte, error)

	// TransceiveResponse is the default response for Transceive calls
	TransceiveResponse []byte

	// TransceiveError, if set, will be returned by Transceive()
	TransceiveError error

	// Tags is the list of targets in the simulated field
	Tags []Target

	// TargetsError, if set, will be returned by Targets()
	TargetsError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockDevice creates a new MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock NFC Reader",
		DeviceConnection: "mock:usb:001",
		IsOpen:           true,
		CallLog:          make([]string, 0),
	}
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")
	if !m.IsOpen {
		return fmt.Errorf("device already closed")
	}
	m.IsOpen = false
	return m.CloseError
}

func (m *MockDevice) InitiatorInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "InitiatorInit")
	if !m.IsOpen {
		return fmt.Errorf("device not open")
	}
	return m.InitError
}

func (m *MockDevice) String() string {
	return m.DeviceName
}

func (m *MockDevice) Connection() string {
	return m.DeviceConnection
}

// Targets returns a copy of the simulated field.
func (m *MockDevice) Targets() ([]Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Targets")
	if !m.IsOpen {
		return nil, fmt.Errorf("device not open")
	}
	if m.TargetsError != nil {
		return nil, m.TargetsError
	}
	return append([]Target(nil), m.Tags...), nil
}

// Select fails when no target with uid is in the field.
func (m *MockDevice) Select(uid []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Select")
	for _, t := range m.Tags {
		if bytes.Equal(t.UID, uid) {
			return nil
		}
	}
	return fmt.Errorf("target %X not present", uid)
}

func (m *MockDevice) Transceive(txData []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("Transceive(%d bytes)", len(txData)))
	if !m.IsOpen {
		return nil, fmt.Errorf("device not open")
	}
	if m.TransceiveFunc != nil {
		return m.TransceiveFunc(txData)
	}
	if m.TransceiveError != nil {
		return nil, m.TransceiveError
	}
	return m.TransceiveResponse, nil
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// AddTag puts a target into the field.
func (m *MockDevice) AddTag(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tags = append(m.Tags, t)
}

// ClearTags empties the field.
func (m *MockDevice) ClearTags() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tags = nil
}

// MockType2Tag emulates the page memory of an NFC Forum Type 2 tag
// (Ultralight/NTAG) behind READ and WRITE commands.
type MockType2Tag struct {
	mu  sync.Mutex
	mem []byte
}

// NewMockType2Tag returns a tag with a data area of dataSize bytes. A
// formatted tag carries a capability container and an empty NDEF TLV.
func NewMockType2Tag(dataSize int, formatted bool) *MockType2Tag {
	t := &MockType2Tag{mem: make([]byte, 16+dataSize)}
	if formatted {
		copy(t.mem[12:], []byte{type2Magic, type2Version, byte(dataSize / 8), 0x00})
		copy(t.mem[16:], []byte{TLVNDEF, 0x00, TLVTerminator})
	}
	return t
}

// Memory returns a copy of the whole tag memory.
func (t *MockType2Tag) Memory() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.mem...)
}

func (t *MockType2Tag) locked() bool {
	return t.mem[10] == 0xFF && t.mem[11] == 0xFF
}

// Transceive answers READ with four pages (wrapping at the end of memory)
// and WRITE with an ACK. The lock and CC pages are one-time programmable.
func (t *MockType2Tag) Transceive(tx []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pages := len(t.mem) / UltralightPageSize
	if len(tx) < 2 || int(tx[1]) >= pages {
		return []byte{0x00}, nil
	}
	page := int(tx[1])
	switch tx[0] {
	case cmdRead:
		out := make([]byte, 0, 16)
		for i := 0; i < 4; i++ {
			p := (page + i) % pages
			out = append(out, t.mem[p*4:p*4+4]...)
		}
		return out, nil
	case cmdUltralightWrite:
		if len(tx) != 2+UltralightPageSize || page < type2LockPage {
			return []byte{0x00}, nil
		}
		data := tx[2:]
		off := page * 4
		switch {
		case page == type2LockPage:
			t.mem[off+2] |= data[2]
			t.mem[off+3] |= data[3]
		case page == type2CCPage:
			for i := range data {
				t.mem[off+i] |= data[i]
			}
		case t.locked():
			return []byte{0x00}, nil
		default:
			copy(t.mem[off:], data)
		}
		return []byte{mifareACK}, nil
	}
	return []byte{0x00}, nil
}

// MockType4Tag emulates the NFC Forum Type 4 NDEF application: SELECT,
// READ BINARY and UPDATE BINARY over the CC and NDEF files.
type MockType4Tag struct {
	mu       sync.Mutex
	cc       []byte
	ndef     []byte
	selected []byte
	appOpen  bool

	// Commands records every APDU received.
	Commands [][]byte
}

// NewMockType4Tag returns a tag with an NDEF file of fileSize bytes and
// the given read/write chunk limits.
func NewMockType4Tag(fileSize int, maxRead, maxWrite uint16) *MockType4Tag {
	cc := []byte{
		0x00, 0x0F, 0x20,
		byte(maxRead >> 8), byte(maxRead),
		byte(maxWrite >> 8), byte(maxWrite),
		0x04, 0x06, FIDNdefDefault[0], FIDNdefDefault[1],
		byte(fileSize >> 8), byte(fileSize), 0x00, 0x00,
	}
	return &MockType4Tag{cc: cc, ndef: make([]byte, fileSize)}
}

// Message returns the NDEF message currently stored.
func (t *MockType4Tag) Message() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := int(t.ndef[0])<<8 | int(t.ndef[1])
	return append([]byte(nil), t.ndef[2:2+n]...)
}

// SetMessage stores msg with its NLEN prefix.
func (t *MockType4Tag) SetMessage(msg []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ndef[0], t.ndef[1] = byte(len(msg)>>8), byte(len(msg))
	copy(t.ndef[2:], msg)
}

// ReadOnly reports the write access condition of the NDEF file.
func (t *MockType4Tag) ReadOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cc[type4WriteAccessOffset] != 0x00
}

func (t *MockType4Tag) file() []byte {
	switch {
	case bytes.Equal(t.selected, FIDCapability):
		return t.cc
	case bytes.Equal(t.selected, FIDNdefDefault):
		return t.ndef
	}
	return nil
}

func (t *MockType4Tag) Transceive(tx []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Commands = append(t.Commands, append([]byte(nil), tx...))

	sw := func(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
	if len(tx) < 4 {
		return sw(SWWrongLength), nil
	}
	offset := int(tx[2])<<8 | int(tx[3])
	switch tx[1] {
	case INSSelectFile:
		if len(tx) < 5 || len(tx) < 5+int(tx[4]) {
			return sw(SWWrongLength), nil
		}
		id := tx[5 : 5+int(tx[4])]
		if tx[2] == 0x04 {
			t.appOpen = bytes.Equal(id, AIDNdefApplication)
			if !t.appOpen {
				return sw(SWFileNotFound), nil
			}
			return sw(0x9000), nil
		}
		if !t.appOpen || (!bytes.Equal(id, FIDCapability) && !bytes.Equal(id, FIDNdefDefault)) {
			return sw(SWFileNotFound), nil
		}
		t.selected = append([]byte(nil), id...)
		return sw(0x9000), nil

	case INSReadBinary:
		f := t.file()
		if f == nil || len(tx) != 5 {
			return sw(SWConditionsNotMet), nil
		}
		end := offset + int(tx[4])
		if end > len(f) {
			return sw(SWWrongLength), nil
		}
		return append(append([]byte(nil), f[offset:end]...), 0x90, 0x00), nil

	case INSUpdateBinary:
		f := t.file()
		if f == nil || len(tx) < 5 {
			return sw(SWConditionsNotMet), nil
		}
		data := tx[5:]
		if bytes.Equal(t.selected, FIDNdefDefault) && t.cc[type4WriteAccessOffset] != 0x00 {
			return sw(SWSecurityStatus), nil
		}
		if offset+len(data) > len(f) {
			return sw(SWNotEnoughMemory), nil
		}
		copy(f[offset:], data)
		return sw(0x9000), nil
	}
	return sw(0x6D00), nil
}
