package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferCapabilities(t *testing.T) {
	tests := []struct {
		family   string
		wantFam  string
		wantKind TechKind
		ndefSize int
		sectors  int
		supports []Opcode
		rejects  []Opcode
	}{
		{CardTypeMifareClassic1K, "MIFARE Classic", TechMifareClassic, 716, 16,
			[]Opcode{OpClassicAuthA, OpClassicSectorCount, OpTransceive}, []Opcode{OpNdefRead, OpAPDU}},
		{CardTypeMifareClassic4K, "MIFARE Classic", TechMifareClassic, 3356, 40, nil, nil},
		{CardTypeNtag215, "NTAG", TechMifareUltralight, 504, 0,
			[]Opcode{OpUltralightReadPages, OpNdefWrite}, []Opcode{OpClassicReadBlock}},
		{CardTypeMifareUltralightC, "MIFARE Ultralight", TechMifareUltralight, 137, 0, nil, nil},
		{CardTypeDesfire, "DESFire", TechIsoDep, 8192, 0, []Opcode{OpAPDU, OpNdefRead}, nil},
		{"ISO14443-4", "Type 4", TechIsoDep, 2046, 0, []Opcode{OpAPDU}, []Opcode{OpUltralightWritePage}},
		{"FeliCa Lite-S", "FeliCa", TechFelica, 0, 0, []Opcode{OpTransceive}, []Opcode{OpNdefRead}},
		{"Something else", "Unknown", TechNfcA, 0, 0, []Opcode{OpTransceive, OpGetMaxTransceiveLength}, []Opcode{OpAPDU}},
	}
	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			caps, techs := InferCapabilities(tt.family)
			require.NotEmpty(t, techs)
			assert.Equal(t, tt.wantFam, caps.Family)
			assert.Equal(t, tt.wantKind, techs[0])
			assert.Equal(t, tt.ndefSize, caps.MaxNdefSize)
			assert.Equal(t, tt.sectors, caps.ClassicSectors)
			assert.Equal(t, DefaultMaxTransceiveLength, caps.MaxTransceiveLength)
			for _, op := range tt.supports {
				assert.True(t, caps.Supports(op), op)
			}
			for _, op := range tt.rejects {
				assert.False(t, caps.Supports(op), op)
			}
		})
	}
}

func TestWithFormatable(t *testing.T) {
	caps := ntagCaps().WithFormatable()

	assert.True(t, caps.Supports(OpNdefFormat))
	assert.True(t, caps.Supports(OpNdefFormatReadOnly))
	assert.True(t, caps.Supports(OpNdefStatus))
	assert.False(t, caps.Supports(OpNdefRead))
	assert.False(t, caps.Supports(OpNdefWrite))
	// the source set is left alone
	assert.True(t, ntagCaps().Supports(OpNdefRead))
}

func TestClassicGeometry(t *testing.T) {
	assert.Equal(t, 64, ClassicBlockCount(ClassicSectors1K))
	assert.Equal(t, 256, ClassicBlockCount(ClassicSectors4K))

	assert.Equal(t, 0, ClassicSectorToBlock(0))
	assert.Equal(t, 60, ClassicSectorToBlock(15))
	assert.Equal(t, 128, ClassicSectorToBlock(32))
	assert.Equal(t, 240, ClassicSectorToBlock(39))

	assert.Equal(t, 15, ClassicBlockToSector(63))
	assert.Equal(t, 32, ClassicBlockToSector(143))
	assert.Equal(t, 33, ClassicBlockToSector(144))

	assert.Equal(t, 3, ClassicTrailerBlock(0))
	assert.Equal(t, 143, ClassicTrailerBlock(32))
	assert.Equal(t, 255, ClassicTrailerBlock(39))

	for sector := 0; sector < ClassicSectors4K; sector++ {
		assert.Equal(t, sector, ClassicBlockToSector(ClassicSectorToBlock(sector)))
		assert.Equal(t, sector, ClassicBlockToSector(ClassicTrailerBlock(sector)))
	}
}

func TestClassicAuthFrame(t *testing.T) {
	_, err := classicAuthFrame(cmdClassicAuthA, 4, KeyDefault, []byte{1, 2})
	assert.Error(t, err)

	frame, err := classicAuthFrame(cmdClassicAuthB, 8, KeyMAD, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x61, 8, 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xDE, 0xAD, 0xBE, 0xEF}, frame)
}

func TestBuildAPDU(t *testing.T) {
	assert.Equal(t,
		[]byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00},
		SelectByAIDAPDU(AIDNdefApplication))
	assert.Equal(t, []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}, SelectByFIDAPDU(FIDCapability))
	assert.Equal(t, []byte{0x00, 0xB0, 0x01, 0x02, 0x10}, ReadBinaryAPDU(0x0102, 0x10))
	assert.Equal(t, []byte{0x00, 0xD6, 0x00, 0x02, 0x02, 0xAA, 0xBB}, UpdateBinaryAPDU(2, []byte{0xAA, 0xBB}))
}

func TestValidateAPDU(t *testing.T) {
	assert.NoError(t, ValidateAPDU([]byte{0x00, 0x84, 0x00, 0x00}))
	assert.NoError(t, ValidateAPDU([]byte{0x00, 0x84, 0x00, 0x00, 0x08}))
	assert.NoError(t, ValidateAPDU(SelectByFIDAPDU(FIDNdefDefault)))
	assert.NoError(t, ValidateAPDU(SelectByAIDAPDU(AIDNdefApplication)))
	assert.Error(t, ValidateAPDU([]byte{0x00}))
	assert.Error(t, ValidateAPDU([]byte{0x00, 0xD6, 0x00, 0x00, 0x03, 0x01}))
	assert.Error(t, ValidateAPDU([]byte{0x00, 0xD6, 0x00, 0x00, 0x00, 0x01, 0x00}))
}

func TestParseAPDUResponse(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x90, 0x00}
	r, err := ParseAPDUResponse(raw)
	require.NoError(t, err)
	assert.True(t, r.IsSuccess())
	assert.NoError(t, r.Error())
	raw[0] = 0xFF
	assert.Equal(t, []byte{0x01, 0x02}, r.Data, "data is copied")

	r, err = ParseAPDUResponse([]byte{0x6A, 0x82})
	require.NoError(t, err)
	assert.Equal(t, SWFileNotFound, r.StatusWord())
	assert.Error(t, r.Error())

	_, err = ParseAPDUResponse([]byte{0x90})
	assert.Error(t, err)
}

func TestParseType4Capability(t *testing.T) {
	cc := []byte{0x00, 0x0F, 0x20, 0x00, 0x3B, 0x00, 0x34, 0x04, 0x06, 0xE1, 0x04, 0x08, 0x00, 0x00, 0x00}
	capability, err := ParseType4Capability(cc)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3B), capability.MaxRead)
	assert.Equal(t, uint16(0x34), capability.MaxWrite)
	assert.Equal(t, FIDNdefDefault, capability.FileID)
	assert.Equal(t, uint16(0x0800), capability.MaxFileSize)
	assert.False(t, capability.ReadOnly)

	cc[14] = 0xFF
	capability, err = ParseType4Capability(cc)
	require.NoError(t, err)
	assert.True(t, capability.ReadOnly)

	_, err = ParseType4Capability(cc[:10])
	assert.Error(t, err)

	old := append([]byte(nil), cc...)
	old[2] = 0x10
	_, err = ParseType4Capability(old)
	assert.Error(t, err)
}
