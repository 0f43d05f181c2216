package protocol

import "time"

// Request is an incoming message from a websocket client.
type Request struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Message is an outgoing message that is not a reply, such as the commands
// the bridge sends to a phone radio.
type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// EventMessage is pushed to every subscribed client. Seq increases by one
// per event published by the bridge, so gaps mean the client lagged and
// events were dropped.
type EventMessage struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// StartSessionPayload is the payload of a startSession request. Techs is
// "ndef" or "tag".
type StartSessionPayload struct {
	Techs                    string   `json:"techs"`
	AlertMessage             string   `json:"alertMessage,omitempty"`
	InvalidateAfterFirstRead bool     `json:"invalidateAfterFirstRead,omitempty"`
	PollTimeoutMs            int64    `json:"pollTimeoutMs,omitempty"`
	TechFilter               []string `json:"techFilter,omitempty"`
}

// SessionPayload answers startSession.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// IssueCommandPayload is the payload of an issueCommand request.
type IssueCommandPayload struct {
	Opcode string `json:"opcode"`
	Data   []byte `json:"data,omitempty"`
}

// CommandPayload answers issueCommand. The result arrives later as a
// commandCompleted event with the same command id.
type CommandPayload struct {
	CommandID uint64 `json:"commandId"`
	Opcode    string `json:"opcode"`
}

type AlertMessagePayload struct {
	Message string `json:"message"`
}

type TimeoutPayload struct {
	TimeoutMs int64 `json:"timeoutMs"`
}

// TagInfo describes a connected or background tag.
type TagInfo struct {
	ID           string           `json:"id"`
	UID          string           `json:"uid"`
	TechKind     string           `json:"techKind"`
	TechTypes    []string         `json:"techTypes"`
	Capabilities CapabilitiesInfo `json:"capabilities"`
	NdefMessage  []byte           `json:"ndefMessage,omitempty"`
}

type CapabilitiesInfo struct {
	Writable            bool     `json:"writable"`
	CanMakeReadOnly     bool     `json:"canMakeReadOnly"`
	MaxNdefSize         int      `json:"maxNdefSize,omitempty"`
	MaxTransceiveLength int      `json:"maxTransceiveLength,omitempty"`
	ClassicSectors      int      `json:"classicSectors,omitempty"`
	Family              string   `json:"family,omitempty"`
	Opcodes             []string `json:"opcodes"`
}

// ErrorInfo is a typed bridge error on the wire. Code is the nfc error
// code name, for example "Busy" or "Timeout".
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandResultInfo is the payload of a commandCompleted event.
type CommandResultInfo struct {
	CommandID  uint64          `json:"commandId"`
	Opcode     string          `json:"opcode"`
	Data       []byte          `json:"data,omitempty"`
	StatusWord uint16          `json:"sw,omitempty"`
	Value      int             `json:"value,omitempty"`
	Ndef       *NdefStatusInfo `json:"ndef,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
}

// NdefStatusInfo answers ndefStatus. Status is 1 (not supported),
// 2 (read/write) or 3 (read only).
type NdefStatusInfo struct {
	Status   int `json:"status"`
	Capacity int `json:"capacity"`
}

type SessionEndedInfo struct {
	Reason string `json:"reason"`
}

type RadioStateInfo struct {
	State string `json:"state"`
}

// RadioStatusInfo answers radioStatus.
type RadioStatusInfo struct {
	Name      string `json:"name"`
	Supported bool   `json:"supported"`
	Enabled   bool   `json:"enabled"`
	Phase     string `json:"phase"`
}
