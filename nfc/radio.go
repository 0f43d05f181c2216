package nfc

import "context"

// RadioStatus reports whether the radio can poll at all.
type RadioStatus struct {
	Name      string `json:"name"`
	Supported bool   `json:"supported"`
	Enabled   bool   `json:"enabled"`
}

// RadioState is the power state reported by radios that track it.
type RadioState string

const (
	RadioOff        RadioState = "off"
	RadioTurningOn  RadioState = "turning_on"
	RadioOn         RadioState = "on"
	RadioTurningOff RadioState = "turning_off"
)

// PollRequest describes the session a radio is asked to poll for.
type PollRequest struct {
	Session                  string
	Techs                    TechSet
	Filter                   []TechKind
	AlertMessage             string
	InvalidateAfterFirstRead bool
}

// Delegate receives radio notifications for one session. Methods may be
// called from any goroutine and never block.
type Delegate interface {
	SessionActive()
	TagDetected(tag RawTag)
	TagLost()
	CommandCompleted(id uint64, response []byte, err error)
	SessionInvalidated(err error)
	RadioError(err error)
}

// Radio is the NFC hardware the manager drives.
//
// BeginPolling, EndPolling, Submit and SetAlertMessage are called from the
// manager strand and must return promptly; results are reported through the
// Delegate.
type Radio interface {
	Status() RadioStatus
	BeginPolling(ctx context.Context, req PollRequest, d Delegate) error
	EndPolling() error
	Submit(tag TagRef, id uint64, frame Frame) error
	SetAlertMessage(msg string) error
}

// ActiveReporter is implemented by radios that confirm polling through
// Delegate.SessionActive. Radios without it are considered active as soon as
// BeginPolling returns.
type ActiveReporter interface {
	ReportsSessionActive() bool
}

// RadioStateNotifier is implemented by radios that report power changes.
type RadioStateNotifier interface {
	OnStateChange(fn func(RadioState))
}

// NoRadio is used when the bridge runs without hardware; every session
// start fails with HardwareUnavailable.
type NoRadio struct{}

func (NoRadio) Status() RadioStatus { return RadioStatus{Name: RadioKindNone} }

func (NoRadio) BeginPolling(context.Context, PollRequest, Delegate) error {
	return NewHardwareUnavailableError("BeginPolling", nil)
}

func (NoRadio) EndPolling() error { return nil }

func (NoRadio) Submit(TagRef, uint64, Frame) error {
	return NewHardwareUnavailableError("Submit", nil)
}

func (NoRadio) SetAlertMessage(string) error { return nil }
