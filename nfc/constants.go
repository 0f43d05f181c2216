package nfc

import "time"

// Radio kinds selectable from configuration.
const (
	RadioKindLibnfc = "libnfc"
	RadioKindPhone  = "phone"
	RadioKindNone   = "none"
)

// Card family names reported by radio drivers; InferCapabilities accepts them.
const (
	CardTypeMifareClassic1K   = "MIFARE Classic 1K"
	CardTypeMifareClassic4K   = "MIFARE Classic 4K"
	CardTypeMifareUltralight  = "MIFARE Ultralight"
	CardTypeMifareUltralightC = "MIFARE Ultralight C"
	CardTypeNtag213           = "NTAG213"
	CardTypeNtag215           = "NTAG215"
	CardTypeNtag216           = "NTAG216"
	CardTypeDesfire           = "DESFire"
	CardTypeType4             = "Type4"
)

const (
	// ClassicBlockSize is the size of a MIFARE Classic block.
	ClassicBlockSize = 16
	// UltralightPageSize is the size of a MIFARE Ultralight page.
	UltralightPageSize = 4
	// ClassicKeyLength is the length of a MIFARE Classic sector key.
	ClassicKeyLength = 6
	// ClassicValueLength is the operand length of increment/decrement.
	ClassicValueLength = 4

	ClassicSectorsMini = 5
	ClassicSectors1K   = 16
	ClassicSectors4K   = 40

	// DefaultMaxTransceiveLength matches the PN53x frame buffer.
	DefaultMaxTransceiveLength = 253
)

const (
	// DefaultCommandTimeout bounds a single tag command.
	DefaultCommandTimeout = 20 * time.Second
	// DefaultPresenceInterval is how often polling radios re-check a connected tag.
	DefaultPresenceInterval = 250 * time.Millisecond
)

// Common MIFARE Classic keys
var (
	// KeyDefault is the factory default key (all 0xFF)
	KeyDefault = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	// KeyNFCForum is the NFC Forum public key for NDEF
	KeyNFCForum = []byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	// KeyMAD is the MAD (MIFARE Application Directory) key
	KeyMAD = []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
)
