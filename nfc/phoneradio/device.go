package phoneradio

import (
	"fmt"
	"sync"
	"time"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Sender delivers bridge messages to one phone. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(msgType string, payload any) error
	Close() error
}

// Device is one registered phone.
type Device struct {
	id           string
	name         string
	platform     string
	appVersion   string
	capabilities protocol.DeviceCapabilities
	sender       Sender

	mu       sync.RWMutex
	lastSeen time.Time
	state    nfc.RadioState
	closed   bool
}

func newDevice(id string, req protocol.DeviceRegistrationRequest, sender Sender, now time.Time) *Device {
	return &Device{
		id:           id,
		name:         req.DeviceName,
		platform:     req.Platform,
		appVersion:   req.AppVersion,
		capabilities: req.Capabilities,
		sender:       sender,
		lastSeen:     now,
		state:        nfc.RadioOn,
	}
}

func (d *Device) ID() string       { return d.id }
func (d *Device) Name() string     { return d.name }
func (d *Device) Platform() string { return d.platform }

// String returns a human-readable device name.
func (d *Device) String() string {
	return fmt.Sprintf("%s [%s]", d.name, d.id)
}

func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *Device) touch(now time.Time) {
	d.mu.Lock()
	d.lastSeen = now
	d.mu.Unlock()
}

// State is the NFC adapter state last reported by the phone.
func (d *Device) State() nfc.RadioState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Device) setState(st nfc.RadioState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == st {
		return false
	}
	d.state = st
	return true
}

func (d *Device) send(msgType string, payload any) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return fmt.Errorf("device %s is closed", d.id)
	}
	return d.sender.Send(msgType, payload)
}

// close is idempotent.
func (d *Device) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.sender.Close()
}
