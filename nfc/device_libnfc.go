package nfc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
)

const (
	// DeviceEnumRetries is how often ListDevices asks libnfc before giving up.
	DeviceEnumRetries = 3

	familyISO14443A4 = "ISO14443-4"
)

var modISO14443a = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}

// libnfcDevice implements Device using an actual nfc.Device from libnfc.
type libnfcDevice struct {
	device nfc.Device
}

// OpenDevice opens a libnfc device. An empty connection string picks the
// first reader libnfc finds.
func OpenDevice(conn string) (Device, error) {
	dev, err := nfc.Open(conn)
	if err != nil {
		return nil, fmt.Errorf("open nfc device %q: %w", conn, err)
	}
	return &libnfcDevice{device: dev}, nil
}

// ListDevices returns the connection strings of attached readers.
func ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

func (d *libnfcDevice) Close() error {
	return d.device.Close()
}

func (d *libnfcDevice) InitiatorInit() error {
	return d.device.InitiatorInit()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

func (d *libnfcDevice) Connection() string {
	return d.device.Connection()
}

func (d *libnfcDevice) Transceive(txData []byte) ([]byte, error) {
	var rxData [262]byte // Max buffer size for NFC
	count, err := d.device.InitiatorTransceiveBytes(txData, rxData[:], 0)
	if err != nil {
		return nil, fmt.Errorf("libnfcDevice.Transceive: %w", err)
	}
	return append([]byte(nil), rxData[:count]...), nil
}

func (d *libnfcDevice) Select(uid []byte) error {
	if _, err := d.device.InitiatorSelectPassiveTarget(modISO14443a, uid); err != nil {
		return fmt.Errorf("select target %X: %w", uid, err)
	}
	return nil
}

// Targets first asks freefare to classify MIFARE tags, then lists all
// ISO14443A targets to pick up Type 4 tags freefare does not know.
func (d *libnfcDevice) Targets() ([]Target, error) {
	var found []Target
	seen := make(map[string]bool)

	ffTags, ffErr := freefare.GetTags(d.device)
	for _, tag := range ffTags {
		uid := strings.ToUpper(tag.UID())
		raw, err := hex.DecodeString(uid)
		if err != nil || seen[uid] {
			continue
		}
		seen[uid] = true
		found = append(found, Target{UID: raw, Family: freefareFamily(tag)})
	}

	targets, listErr := d.device.InitiatorListPassiveTargets(modISO14443a)
	if listErr != nil {
		if ffErr != nil && len(found) == 0 {
			return nil, fmt.Errorf("error from freefare (%v) AND passive targets (%w)", ffErr, listErr)
		}
		return found, nil
	}
	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uid := append([]byte(nil), isoA.UID[:isoA.UIDLen]...)
		key := strings.ToUpper(hex.EncodeToString(uid))
		if seen[key] {
			for i := range found {
				if found[i].UIDHex() == key {
					found[i].Sak = isoA.Sak
				}
			}
			continue
		}
		// SAK bit 5 marks ISO14443-4 compliance.
		if isoA.Sak&0x20 != 0 {
			seen[key] = true
			found = append(found, Target{UID: uid, Family: familyISO14443A4, Sak: isoA.Sak})
		}
	}
	return found, nil
}

func freefareFamily(tag freefare.Tag) string {
	switch tag.Type() {
	case freefare.Classic1k:
		return CardTypeMifareClassic1K
	case freefare.Classic4k:
		return CardTypeMifareClassic4K
	case freefare.Ultralight:
		return CardTypeMifareUltralight
	case freefare.UltralightC:
		return CardTypeMifareUltralightC
	case freefare.DESFire:
		return CardTypeDesfire
	}
	return fmt.Sprintf("Unknown tag type: %d", tag.Type())
}
