package protocol

import "time"

// Message types exchanged with a phone acting as the bridge radio.
// Phone to bridge:
const (
	DeviceRegister           = "registerDevice"
	DeviceHeartbeat          = "deviceHeartbeat"
	DeviceSessionActive      = "sessionActive"
	DeviceTagScanned         = "tagScanned"
	DeviceTagRemoved         = "tagRemoved"
	DeviceCommandResult      = "commandResult"
	DeviceSessionInvalidated = "sessionInvalidated"
	DeviceRadioState         = "radioState"
	DeviceActivity           = "activityContinued"
)

// Bridge to phone:
const (
	DeviceRegisterResponse = "registerDeviceResponse"
	DeviceBeginPolling     = "beginPolling"
	DeviceEndPolling       = "endPolling"
	DeviceSubmit           = "submit"
	DeviceSetAlertMessage  = "setAlertMessage"
	DeviceError            = "error"
)

// DeviceCapabilities defines the capabilities of a connected NFC device.
type DeviceCapabilities struct {
	CanRead  bool     `json:"canRead"`
	CanWrite bool     `json:"canWrite"`
	Techs    []string `json:"techs"` // "NfcA", "IsoDep", "MifareClassic", ...
}

// DeviceRegistrationRequest is sent by a device to register with the bridge.
type DeviceRegistrationRequest struct {
	DeviceName   string             `json:"deviceName"`   // e.g., "John's iPhone 12"
	Platform     string             `json:"platform"`     // "ios" or "android"
	AppVersion   string             `json:"appVersion"`   // e.g., "1.0.0"
	Capabilities DeviceCapabilities `json:"capabilities"` // Device capabilities
	Metadata     map[string]string  `json:"metadata"`     // Optional metadata
}

// DeviceRegistrationResponse is sent by the bridge after successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"` // Unique device identifier (UUID)
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the bridge.
type ServerInfo struct {
	Version string   `json:"version"`
	Opcodes []string `json:"opcodes"`
}

// DeviceHeartbeatPayload is sent by a device periodically.
type DeviceHeartbeatPayload struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
}

// BeginPollingPayload asks the device to start a reader session.
type BeginPollingPayload struct {
	Session                  string   `json:"session"`
	Techs                    string   `json:"techs"`
	TechFilter               []string `json:"techFilter,omitempty"`
	AlertMessage             string   `json:"alertMessage,omitempty"`
	InvalidateAfterFirstRead bool     `json:"invalidateAfterFirstRead,omitempty"`
}

type EndPollingPayload struct {
	Session string `json:"session"`
}

// SubmitPayload carries one encoded command frame. Frame names the frame
// kind ("raw", "ndefRead", "ndefWrite", ...).
type SubmitPayload struct {
	Session string `json:"session"`
	Seq     uint64 `json:"seq"`
	UID     string `json:"uid"`
	Frame   string `json:"frame"`
	Data    []byte `json:"data,omitempty"`
}

// DeviceSessionPayload identifies the session a device notification
// belongs to. Notifications for a session the bridge no longer polls for
// are dropped.
type DeviceSessionPayload struct {
	Session string     `json:"session"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// DeviceTagData is sent by a device when a tag enters the field.
type DeviceTagData struct {
	Session             string    `json:"session"`
	UID                 string    `json:"uid"`       // Tag UID (hex format)
	TechKind            string    `json:"techKind"`  // Technology the session connected
	TechTypes           []string  `json:"techTypes"` // All technologies the tag exposes
	Family              string    `json:"family,omitempty"`
	NdefMessage         []byte    `json:"ndefMessage,omitempty"`
	MaxNdefSize         int       `json:"maxNdefSize,omitempty"`
	Writable            bool      `json:"writable"`
	CanMakeReadOnly     bool      `json:"canMakeReadOnly"`
	MaxTransceiveLength int       `json:"maxTransceiveLength,omitempty"`
	ScannedAt           time.Time `json:"scannedAt"`
}

// DeviceActivityPayload reports a tag that launched or resumed the phone
// app outside any bridge session.
type DeviceActivityPayload struct {
	Tag DeviceTagData `json:"tag"`
	// Launch is set when the tag launched the app.
	Launch bool `json:"launch"`
	// Resume asks the bridge to start a session for the tag.
	Resume       bool   `json:"resume"`
	Techs        string `json:"techs,omitempty"`
	AlertMessage string `json:"alertMessage,omitempty"`
}

// DeviceTagRemovedData is sent by a device when a tag leaves the NFC field.
type DeviceTagRemovedData struct {
	Session   string    `json:"session"`
	UID       string    `json:"uid"`
	RemovedAt time.Time `json:"removedAt"`
}

// DeviceCommandResultData answers a SubmitPayload with the same Seq.
type DeviceCommandResultData struct {
	Session string     `json:"session"`
	Seq     uint64     `json:"seq"`
	Data    []byte     `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// DeviceRadioStatePayload reports the phone NFC adapter power state:
// "off", "turning_on", "on" or "turning_off".
type DeviceRadioStatePayload struct {
	State string `json:"state"`
}
