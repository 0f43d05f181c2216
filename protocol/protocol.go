// Package protocol provides the wire types spoken by the bridge websocket.
// This package is designed to be importable without pulling in the nfc
// package or any hardware dependencies.
package protocol

// Request types sent by callers on /ws.
const (
	TypeStartSession       = "startSession"
	TypeCancelSession      = "cancelSession"
	TypeIssueCommand       = "issueCommand"
	TypeSetAlertMessage    = "setAlertMessage"
	TypeSetTimeout         = "setTimeout"
	TypeGetTag             = "getTag"
	TypeGetBackgroundTag   = "getBackgroundTag"
	TypeClearBackgroundTag = "clearBackgroundTag"
	TypeRadioStatus        = "radioStatus"
)

// Event types pushed to callers. They match the nfc event kinds.
const (
	EventSessionStarted    = "sessionStarted"
	EventTagDiscovered     = "tagDiscovered"
	EventCommandCompleted  = "commandCompleted"
	EventSessionEnded      = "sessionEnded"
	EventError             = "error"
	EventRadioStateChanged = "radioStateChanged"
	EventBackgroundTag     = "backgroundTag"
)

// Error codes carried in Response.Code when the failure happened before
// the request reached the session manager.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
