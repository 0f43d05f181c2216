package phoneradio

import "time"

// Device timing constants
const (
	DeviceTimeout     = 30 * time.Second // Device inactivity timeout
	HeartbeatInterval = 10 * time.Second // Expected heartbeat frequency
	CleanupInterval   = 15 * time.Second // Cleanup check interval
)

// ModeRadio is the /ws?mode= value phones connect with.
const ModeRadio = "radio"

var supportedPlatforms = map[string]bool{"ios": true, "android": true}
