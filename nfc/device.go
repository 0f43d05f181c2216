package nfc

import (
	"encoding/hex"
	"strings"
)

// Target is a tag found in the reader field.
type Target struct {
	UID []byte
	// Family is one of the CardType names, or "ISO14443-4" for a generic
	// Type 4 target.
	Family string
	Sak    byte
}

// UIDHex returns the UID as upper-case hex.
func (t Target) UIDHex() string {
	return strings.ToUpper(hex.EncodeToString(t.UID))
}

// Device represents an NFC reader/writer hardware device.
//
// The libnfc radio drives a Device from a single goroutine; implementations
// need not be safe for concurrent use.
//
// Example:
//
//	device, err := nfc.OpenDevice("")
//	defer device.Close()
type Device interface {
	Close() error
	InitiatorInit() error
	String() string
	Connection() string
	// Targets lists the tags currently in the field.
	Targets() ([]Target, error)
	// Select activates the target with uid so Transceive reaches it.
	Select(uid []byte) error
	Transceive(txData []byte) ([]byte, error)
}
