package phoneradio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

func TestConvertTagData(t *testing.T) {
	data := tagData("s1")
	data.MaxNdefSize = 137
	data.NdefMessage = []byte{0xD1, 0x01, 0x00}

	raw, err := ConvertTagData(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0xA1, 0xB2, 0xC3}, raw.UID)
	assert.Equal(t, nfc.TechMifareUltralight, raw.Kind)
	assert.Equal(t, []nfc.TechKind{nfc.TechMifareUltralight, nfc.TechNfcA, nfc.TechNdef}, raw.TechTypes)
	assert.Equal(t, data.NdefMessage, raw.Ndef)

	caps := raw.Capabilities
	assert.Equal(t, "NTAG", caps.Family)
	assert.Equal(t, 137, caps.MaxNdefSize, "measured size wins")
	assert.True(t, caps.Writable)
	assert.False(t, caps.CanMakeReadOnly, "phone said the tag cannot be locked")
	assert.True(t, caps.Supports(nfc.OpUltralightReadPages))
}

func TestConvertTagData_InfersTechs(t *testing.T) {
	raw, err := ConvertTagData(protocol.DeviceTagData{UID: "0102030405060708", TechKind: "IsoDep", Family: "DESFire EV1", TechTypes: []string{"Bogus"}})
	require.NoError(t, err)
	_, inferred := nfc.InferCapabilities("DESFire EV1")
	assert.Equal(t, inferred, raw.TechTypes)
	assert.Equal(t, nfc.TechIsoDep, raw.Kind)
}

func TestConvertTagData_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data protocol.DeviceTagData
	}{
		{"empty uid", protocol.DeviceTagData{TechKind: "NfcA"}},
		{"bad uid", protocol.DeviceTagData{UID: "zz", TechKind: "NfcA"}},
		{"no tech", protocol.DeviceTagData{UID: "0102"}},
		{"unknown tech", protocol.DeviceTagData{UID: "0102", TechKind: "Barcode"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertTagData(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestErrorFromInfo(t *testing.T) {
	assert.NoError(t, ErrorFromInfo("command", nil))

	err := ErrorFromInfo("command", &protocol.ErrorInfo{Code: "capacityExceeded", Message: "too big"})
	assert.Equal(t, nfc.ErrCodeCapacityExceeded, nfc.GetErrorCode(err))
	assert.Contains(t, err.Error(), "too big")

	err = ErrorFromInfo("session", &protocol.ErrorInfo{Code: "TagConnectionLost"})
	assert.Equal(t, nfc.ErrCodeTagRejected, nfc.GetErrorCode(err))
}
