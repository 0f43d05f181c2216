package nfc

import (
	"context"
	"sync"
)

// SubmittedFrame records one Submit call on a MockRadio.
type SubmittedFrame struct {
	Tag   TagRef
	ID    uint64
	Frame Frame
}

// MockRadio is a scriptable Radio for tests and the simulator.
//
// Tests drive the session through the helper methods, which call the
// delegate of the current session exactly as a hardware driver would:
//
//	radio := NewMockRadio()
//	m := NewManager(Options{Radio: radio})
//	m.StartSession(ctx, TechSetTag, SessionOptions{})
//	radio.Detect(RawTag{UID: uid, Kind: TechNfcA, Capabilities: caps})
type MockRadio struct {
	Supported bool
	Enabled   bool
	// ReportsActive makes the manager wait for Activate before it emits
	// SessionStarted.
	ReportsActive bool

	// BeginError, if set, is returned by BeginPolling.
	BeginError error
	// SubmitError, if set, is returned by Submit.
	SubmitError error
	// Responder, if set, answers every submitted frame asynchronously. When
	// nil, commands stay pending until Respond is called.
	Responder func(tag TagRef, frame Frame) ([]byte, error)

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu        sync.Mutex
	delegate  Delegate
	request   PollRequest
	alert     string
	submitted []SubmittedFrame
	onState   func(RadioState)
}

// NewMockRadio returns a supported, enabled mock radio.
func NewMockRadio() *MockRadio {
	return &MockRadio{Supported: true, Enabled: true}
}

func (r *MockRadio) log(call string) {
	r.CallLog = append(r.CallLog, call)
}

func (r *MockRadio) Status() RadioStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RadioStatus{Name: "mock", Supported: r.Supported, Enabled: r.Enabled}
}

func (r *MockRadio) ReportsSessionActive() bool {
	return r.ReportsActive
}

func (r *MockRadio) BeginPolling(ctx context.Context, req PollRequest, d Delegate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log("BeginPolling")
	if r.BeginError != nil {
		return r.BeginError
	}
	r.delegate = d
	r.request = req
	r.alert = req.AlertMessage
	return nil
}

func (r *MockRadio) EndPolling() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log("EndPolling")
	r.delegate = nil
	return nil
}

func (r *MockRadio) Submit(tag TagRef, id uint64, frame Frame) error {
	r.mu.Lock()
	r.log("Submit")
	if r.SubmitError != nil {
		err := r.SubmitError
		r.mu.Unlock()
		return err
	}
	r.submitted = append(r.submitted, SubmittedFrame{Tag: tag, ID: id, Frame: frame})
	responder, d := r.Responder, r.delegate
	r.mu.Unlock()

	if responder != nil && d != nil {
		go func() {
			resp, err := responder(tag, frame)
			d.CommandCompleted(id, resp, err)
		}()
	}
	return nil
}

func (r *MockRadio) SetAlertMessage(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log("SetAlertMessage")
	r.alert = msg
	return nil
}

func (r *MockRadio) OnStateChange(fn func(RadioState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// Delegate returns the delegate of the session being polled, or nil.
func (r *MockRadio) Delegate() Delegate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delegate
}

// Request returns the last poll request.
func (r *MockRadio) Request() PollRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.request
}

// AlertMessage returns the prompt last set on the radio.
func (r *MockRadio) AlertMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alert
}

// Submitted returns every frame submitted so far.
func (r *MockRadio) Submitted() []SubmittedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SubmittedFrame(nil), r.submitted...)
}

// LastSubmitted returns the most recent submitted frame.
func (r *MockRadio) LastSubmitted() (SubmittedFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.submitted) == 0 {
		return SubmittedFrame{}, false
	}
	return r.submitted[len(r.submitted)-1], true
}

func (r *MockRadio) with(fn func(Delegate)) bool {
	d := r.Delegate()
	if d == nil {
		return false
	}
	fn(d)
	return true
}

// Activate reports the session as active.
func (r *MockRadio) Activate() bool {
	return r.with(func(d Delegate) { d.SessionActive() })
}

// Detect reports a tag.
func (r *MockRadio) Detect(tag RawTag) bool {
	return r.with(func(d Delegate) { d.TagDetected(tag) })
}

// Lose reports the connected tag as removed.
func (r *MockRadio) Lose() bool {
	return r.with(func(d Delegate) { d.TagLost() })
}

// Respond completes command id.
func (r *MockRadio) Respond(id uint64, resp []byte, err error) bool {
	return r.with(func(d Delegate) { d.CommandCompleted(id, resp, err) })
}

// Invalidate ends the session from the radio side.
func (r *MockRadio) Invalidate(err error) bool {
	return r.with(func(d Delegate) { d.SessionInvalidated(err) })
}

// Fail reports an unrecoverable radio error.
func (r *MockRadio) Fail(err error) bool {
	return r.with(func(d Delegate) { d.RadioError(err) })
}

// SetState reports a power state change.
func (r *MockRadio) SetState(st RadioState) {
	r.mu.Lock()
	fn := r.onState
	r.Enabled = st == RadioOn
	r.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
