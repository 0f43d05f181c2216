package main

import _ "embed"

// Tray icons, one per manager phase group.
var (
	//go:embed assets/idle.png
	iconIdle []byte
	//go:embed assets/polling.png
	iconPolling []byte
	//go:embed assets/connected.png
	iconConnected []byte
	//go:embed assets/error.png
	iconError []byte
)
