package nfc

import "fmt"

// MIFARE native command bytes.
const (
	cmdClassicAuthA     = 0x60
	cmdClassicAuthB     = 0x61
	cmdRead             = 0x30
	cmdClassicWrite     = 0xA0
	cmdClassicTransfer  = 0xB0
	cmdClassicDecrement = 0xC0
	cmdClassicIncrement = 0xC1
	cmdUltralightWrite  = 0xA2

	mifareACK = 0x0A
)

// ClassicBlockCount returns the number of blocks on a card with the given
// sector count.
func ClassicBlockCount(sectors int) int {
	if sectors <= 32 {
		return sectors * 4
	}
	return 128 + (sectors-32)*16
}

// ClassicBlocksInSector returns how many blocks a sector spans. Sectors 32
// and above on 4K cards are 16 blocks long.
func ClassicBlocksInSector(sector int) int {
	if sector < 32 {
		return 4
	}
	return 16
}

// ClassicSectorToBlock returns the first block of sector.
func ClassicSectorToBlock(sector int) int {
	if sector < 32 {
		return sector * 4
	}
	return 128 + (sector-32)*16
}

// ClassicBlockToSector returns the sector holding block.
func ClassicBlockToSector(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

// ClassicTrailerBlock returns the sector trailer block of sector.
func ClassicTrailerBlock(sector int) int {
	return ClassicSectorToBlock(sector) + ClassicBlocksInSector(sector) - 1
}

func checkClassicSector(op string, sector, sectors int) error {
	if sectors <= 0 {
		sectors = ClassicSectors1K
	}
	if sector < 0 || sector >= sectors {
		return NewInvalidArgumentError(op, "sector %d out of range [0,%d)", sector, sectors)
	}
	return nil
}

func checkClassicBlock(op string, block, sectors int) error {
	if sectors <= 0 {
		sectors = ClassicSectors1K
	}
	if n := ClassicBlockCount(sectors); block < 0 || block >= n {
		return NewInvalidArgumentError(op, "block %d out of range [0,%d)", block, n)
	}
	return nil
}

// classicAuthFrame builds the authentication command. The PN53x expects the
// last four UID bytes after the key.
func classicAuthFrame(keyType byte, block int, key, uid []byte) ([]byte, error) {
	if len(key) != ClassicKeyLength {
		return nil, fmt.Errorf("key must be %d bytes, got %d", ClassicKeyLength, len(key))
	}
	if len(uid) < 4 {
		return nil, fmt.Errorf("uid must be at least 4 bytes, got %d", len(uid))
	}
	frame := make([]byte, 0, 12)
	frame = append(frame, keyType, byte(block))
	frame = append(frame, key...)
	frame = append(frame, uid[len(uid)-4:]...)
	return frame, nil
}
