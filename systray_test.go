package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nedpals/davi-nfc-bridge/nfc"
)

func TestErrorTitle_UsesCodeName(t *testing.T) {
	assert.Equal(t, "Error: Busy", errorTitle(nfc.NewBusyError("transceive")))
	assert.Equal(t, "Error: HardwareUnavailable", errorTitle(nfc.NewHardwareUnavailableError("StartSession", errors.New("off"))))
	assert.Equal(t, "Error: ErrorCode(99)", errorTitle(&nfc.NFCError{Code: 99}))
}
