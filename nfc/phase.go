package nfc

import "fmt"

// Phase is the session lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseTagConnected
	PhaseCommandInFlight
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePolling:
		return "polling"
	case PhaseTagConnected:
		return "tagConnected"
	case PhaseCommandInFlight:
		return "commandInFlight"
	case PhaseClosing:
		return "closing"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerTagDetected
	TriggerIssueCommand
	TriggerResponse
	TriggerTagLost
	TriggerInvalidated
	TriggerCancel
	TriggerPollTimeout
	TriggerCommandTimeout
	TriggerRadioError
	TriggerTeardown
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerTagDetected:
		return "tagDetected"
	case TriggerIssueCommand:
		return "issueCommand"
	case TriggerResponse:
		return "response"
	case TriggerTagLost:
		return "tagLost"
	case TriggerInvalidated:
		return "invalidated"
	case TriggerCancel:
		return "cancel"
	case TriggerPollTimeout:
		return "pollTimeout"
	case TriggerCommandTimeout:
		return "commandTimeout"
	case TriggerRadioError:
		return "radioError"
	case TriggerTeardown:
		return "teardown"
	}
	return fmt.Sprintf("Trigger(%d)", int(t))
}

type edge struct {
	from    Phase
	trigger Trigger
}

// transitions is the complete state table. Pairs missing from it are
// rejected.
var transitions = map[edge]Phase{
	{PhaseIdle, TriggerStart}: PhasePolling,

	{PhasePolling, TriggerTagDetected}: PhaseTagConnected,
	{PhasePolling, TriggerCancel}:      PhaseClosing,
	{PhasePolling, TriggerPollTimeout}: PhaseClosing,
	{PhasePolling, TriggerInvalidated}: PhaseClosing,
	{PhasePolling, TriggerRadioError}:  PhaseClosing,

	{PhaseTagConnected, TriggerIssueCommand}: PhaseCommandInFlight,
	{PhaseTagConnected, TriggerTagLost}:      PhaseClosing,
	{PhaseTagConnected, TriggerInvalidated}:  PhaseClosing,
	{PhaseTagConnected, TriggerCancel}:       PhaseClosing,
	{PhaseTagConnected, TriggerRadioError}:   PhaseClosing,

	{PhaseCommandInFlight, TriggerResponse}:       PhaseTagConnected,
	{PhaseCommandInFlight, TriggerTagLost}:        PhaseClosing,
	{PhaseCommandInFlight, TriggerInvalidated}:    PhaseClosing,
	{PhaseCommandInFlight, TriggerCancel}:         PhaseClosing,
	{PhaseCommandInFlight, TriggerCommandTimeout}: PhaseClosing,
	{PhaseCommandInFlight, TriggerRadioError}:     PhaseClosing,

	{PhaseClosing, TriggerTeardown}: PhaseIdle,
}

// Next returns the phase reached from `from` on trigger t.
func Next(from Phase, t Trigger) (Phase, bool) {
	to, ok := transitions[edge{from, t}]
	return to, ok
}

// EndReason explains why a session ended.
type EndReason string

const (
	EndCancelled      EndReason = "cancelled"
	EndTagLost        EndReason = "tagLost"
	EndInvalidated    EndReason = "invalidated"
	EndTimeout        EndReason = "timeout"
	EndCommandTimeout EndReason = "commandTimeout"
	EndRadioError     EndReason = "radioError"
	EndFirstRead      EndReason = "firstRead"
	EndShutdown       EndReason = "shutdown"
)
