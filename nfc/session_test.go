package nfc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommandTimeout = 5 * time.Second

type harness struct {
	t     *testing.T
	radio *MockRadio
	clock *FakeClock
	m     *Manager
	sub   *Subscription

	mu          sync.Mutex
	transitions []Transition
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:     t,
		radio: NewMockRadio(),
		clock: NewFakeClock(epoch),
	}
	h.m = NewManager(Options{
		Radio:          h.radio,
		Clock:          h.clock,
		CommandTimeout: testCommandTimeout,
		OnTransition: func(tr Transition) {
			h.mu.Lock()
			h.transitions = append(h.transitions, tr)
			h.mu.Unlock()
		},
	})
	h.sub = h.m.Subscribe(Unbounded())
	t.Cleanup(func() { h.m.Close() })
	return h
}

func (h *harness) start(techs TechSet, opts SessionOptions) string {
	h.t.Helper()
	id, err := h.m.StartSession(context.Background(), techs, opts)
	require.NoError(h.t, err)
	ev := h.next(EventSessionStarted)
	assert.Equal(h.t, id, ev.Session)
	return id
}

// connect starts a tag session and reports an NTAG.
func (h *harness) connect() TagSummary {
	h.t.Helper()
	h.start(TechSetTag, SessionOptions{})
	require.True(h.t, h.radio.Detect(ntagTag()))
	ev := h.next(EventTagDiscovered)
	require.NotNil(h.t, ev.Tag)
	return *ev.Tag
}

// next receives the next event and checks its kind.
func (h *harness) next(kind EventKind) Event {
	h.t.Helper()
	ev := recv(h.t, h.sub)
	require.Equal(h.t, kind, ev.Kind)
	return ev
}

// sync waits until everything queued on the strand so far has run.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.m.do(context.Background(), "sync", func() {}))
}

func (h *harness) issue(op Opcode, payload []byte) *PendingCommand {
	h.t.Helper()
	p, err := h.m.IssueCommand(context.Background(), op, payload)
	require.NoError(h.t, err)
	return p
}

func (h *harness) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Phase, 0, len(h.transitions))
	for _, tr := range h.transitions {
		out = append(out, tr.To)
	}
	return out
}

func ntagTag() RawTag {
	caps, techs := InferCapabilities(CardTypeNtag213)
	return RawTag{UID: testUID, Kind: techs[0], TechTypes: techs, Capabilities: caps}
}

func waitResult(t *testing.T, p *PendingCommand) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestManager_TagDiscovered(t *testing.T) {
	h := newHarness(t)

	tag := h.connect()
	assert.Equal(t, "04A1B2C3D4E5F6", tag.UID)
	assert.Equal(t, TechMifareUltralight, tag.Kind)
	assert.Equal(t, 144, tag.Capabilities.MaxNdefSize)
	assert.Equal(t, PhaseTagConnected, h.m.Phase())

	got, err := h.m.Tag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tag.ID, got.ID)
	assert.Equal(t, []Phase{PhasePolling, PhaseTagConnected}, h.phases())
	assert.Equal(t, TechSetTag, h.radio.Request().Techs)
}

func TestManager_CommandRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpUltralightReadPages, []byte{4})
	assert.Equal(t, PhaseCommandInFlight, h.m.Phase())
	sent, ok := h.radio.LastSubmitted()
	require.True(t, ok)
	assert.Equal(t, p.ID(), sent.ID)
	assert.Equal(t, []byte{cmdRead, 4}, sent.Frame.Data)
	assert.Equal(t, testUID, sent.Tag.UID)

	page := make([]byte, 16)
	page[0] = 0x03
	require.True(t, h.radio.Respond(p.ID(), page, nil))

	ev := h.next(EventCommandCompleted)
	require.NotNil(t, ev.Command.Result)
	assert.Equal(t, p.ID(), ev.Command.ID)
	assert.Nil(t, ev.Command.Err)

	res, err := waitResult(t, p)
	require.NoError(t, err)
	assert.Equal(t, page, res.Data)
	assert.Equal(t, CommandSucceeded, p.State())
	assert.Equal(t, PhaseTagConnected, h.m.Phase())
}

func TestManager_SecondCommandIsBusy(t *testing.T) {
	h := newHarness(t)
	h.connect()

	first := h.issue(OpTransceive, []byte{0x30, 0x04})
	_, err := h.m.IssueCommand(context.Background(), OpTransceive, []byte{0x30, 0x08})
	assert.True(t, IsBusyError(err))
	assert.Len(t, h.radio.Submitted(), 1)

	require.True(t, h.radio.Respond(first.ID(), []byte{0x00}, nil))
	ev := h.next(EventCommandCompleted)
	assert.Equal(t, first.ID(), ev.Command.ID)
	noEvent(t, h.sub)
}

func TestManager_CommandTimeoutEndsSession(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpNdefWrite, helloRecord)
	h.clock.Advance(testCommandTimeout)

	ev := h.next(EventCommandCompleted)
	require.NotNil(t, ev.Command.Err)
	assert.Equal(t, ErrCodeTimeout, ev.Command.Err.Code)
	ended := h.next(EventSessionEnded)
	assert.Equal(t, EndCommandTimeout, ended.Reason)

	_, err := waitResult(t, p)
	assert.True(t, IsTimeoutError(err))
	assert.Equal(t, CommandTimedOut, p.State())

	h.sync()
	assert.Equal(t, PhaseIdle, h.m.Phase())
	_, ok := h.m.SessionID()
	assert.False(t, ok)
	assert.Contains(t, h.radio.CallLog, "EndPolling")

	// A response arriving after the timeout changes nothing.
	assert.False(t, h.radio.Respond(p.ID(), nil, nil))
	noEvent(t, h.sub)
}

func TestManager_SessionTimeoutOverride(t *testing.T) {
	h := newHarness(t)
	h.connect()
	require.NoError(t, h.m.SetCommandTimeout(context.Background(), time.Second))

	h.issue(OpNdefRead, nil)
	h.clock.Advance(time.Second)
	assert.Equal(t, ErrCodeTimeout, h.next(EventCommandCompleted).Command.Err.Code)

	err := h.m.SetCommandTimeout(context.Background(), 0)
	assert.Equal(t, ErrCodeInvalidArgument, GetErrorCode(err))
}

func TestManager_TagLostWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpTransceive, []byte{0x30, 0x04})
	stale := h.radio.Delegate()
	require.True(t, h.radio.Lose())

	ev := h.next(EventCommandCompleted)
	assert.Equal(t, ErrCodeCancelled, ev.Command.Err.Code)
	assert.Equal(t, EndTagLost, h.next(EventSessionEnded).Reason)

	_, err := waitResult(t, p)
	assert.True(t, IsCancelledError(err))
	assert.Equal(t, CommandCancelled, p.State())

	// Late callbacks from the ended session are dropped.
	stale.CommandCompleted(p.ID(), []byte{0x0A}, nil)
	stale.TagDetected(ntagTag())
	h.sync()
	noEvent(t, h.sub)
	assert.Equal(t, PhaseIdle, h.m.Phase())
	assert.Equal(t, []Phase{PhasePolling, PhaseTagConnected, PhaseCommandInFlight, PhaseClosing, PhaseIdle}, h.phases())
}

func TestManager_TagLostWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.connect()

	require.True(t, h.radio.Lose())
	assert.Equal(t, EndTagLost, h.next(EventSessionEnded).Reason)
	h.sync()

	_, err := h.m.Tag(context.Background())
	assert.True(t, IsNotConnectedError(err))
}

func TestManager_IssueWithoutTag(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.IssueCommand(context.Background(), OpTransceive, []byte{0x30})
	assert.True(t, IsNotConnectedError(err))

	h.start(TechSetTag, SessionOptions{})
	_, err = h.m.IssueCommand(context.Background(), OpTransceive, []byte{0x30})
	assert.True(t, IsNotConnectedError(err))
	assert.Equal(t, PhasePolling, h.m.Phase())
	assert.Empty(t, h.radio.Submitted())
	noEvent(t, h.sub)
}

func TestManager_RejectedCommandsEmitNothing(t *testing.T) {
	h := newHarness(t)
	h.connect()

	_, err := h.m.IssueCommand(context.Background(), OpClassicReadBlock, []byte{4})
	assert.Equal(t, ErrCodeTagRejected, GetErrorCode(err))
	_, err = h.m.IssueCommand(context.Background(), OpNdefWrite, make([]byte, 1000))
	assert.Equal(t, ErrCodeCapacityExceeded, GetErrorCode(err))

	assert.Equal(t, PhaseTagConnected, h.m.Phase())
	noEvent(t, h.sub)
}

func TestManager_LocalOpcodes(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpGetMaxTransceiveLength, nil)
	res, err := waitResult(t, p)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTransceiveLength, res.Value)
	assert.Equal(t, p.ID(), h.next(EventCommandCompleted).Command.ID)

	p = h.issue(OpNdefStatus, nil)
	res, err = waitResult(t, p)
	require.NoError(t, err)
	require.NotNil(t, res.Ndef)
	assert.Equal(t, NdefReadWrite, res.Ndef.Status)
	h.next(EventCommandCompleted)

	_, err = h.m.IssueCommand(context.Background(), OpClassicSectorCount, nil)
	assert.Equal(t, ErrCodeTagRejected, GetErrorCode(err))

	assert.Empty(t, h.radio.Submitted())
	assert.Equal(t, PhaseTagConnected, h.m.Phase())
}

func TestManager_MakeReadOnlyUpdatesCapabilities(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpNdefMakeReadOnly, nil)
	require.True(t, h.radio.Respond(p.ID(), nil, nil))
	h.next(EventCommandCompleted)

	tag, err := h.m.Tag(context.Background())
	require.NoError(t, err)
	assert.False(t, tag.Capabilities.Writable)

	_, err = h.m.IssueCommand(context.Background(), OpNdefWrite, helloRecord)
	assert.Equal(t, ErrCodeTagRejected, GetErrorCode(err))
}

func TestManager_MalformedResponseKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpUltralightReadPages, []byte{4})
	require.True(t, h.radio.Respond(p.ID(), []byte{0x01, 0x02}, nil))
	ev := h.next(EventCommandCompleted)
	assert.Equal(t, ErrCodeMalformedResponse, ev.Command.Err.Code)

	_, err := waitResult(t, p)
	assert.True(t, IsDecodeError(err))
	assert.Equal(t, CommandFailed, p.State())
	assert.Equal(t, PhaseTagConnected, h.m.Phase())
}

func TestManager_SubmitFailureCompletesCommand(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.radio.SubmitError = errors.New("link down")

	p := h.issue(OpTransceive, []byte{0x30, 0x04})
	_, err := waitResult(t, p)
	assert.Equal(t, ErrCodeTagRejected, GetErrorCode(err))
	assert.Equal(t, p.ID(), h.next(EventCommandCompleted).Command.ID)
	assert.Equal(t, PhaseTagConnected, h.m.Phase())
}

func TestManager_RadioErrorWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpTransceive, []byte{0x30, 0x04})
	require.True(t, h.radio.Fail(errors.New("field collapsed")))

	assert.NotNil(t, h.next(EventError).Err)
	assert.Equal(t, ErrCodeCancelled, h.next(EventCommandCompleted).Command.Err.Code)
	assert.Equal(t, EndRadioError, h.next(EventSessionEnded).Reason)
	_, err := waitResult(t, p)
	assert.True(t, IsCancelledError(err))
}

func TestManager_AlreadyActive(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{})

	_, err := h.m.StartSession(context.Background(), TechSetNDEF, SessionOptions{})
	assert.Equal(t, ErrCodeAlreadyActive, GetErrorCode(err))
	assert.Equal(t, PhasePolling, h.m.Phase())
}

func TestManager_HardwareUnavailable(t *testing.T) {
	h := newHarness(t)
	h.radio.Enabled = false

	_, err := h.m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	assert.True(t, IsHardwareUnavailableError(err))
	assert.NotContains(t, h.radio.CallLog, "BeginPolling")

	h.radio.Enabled = true
	h.radio.BeginError = errors.New("device busy")
	_, err = h.m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	assert.True(t, IsHardwareUnavailableError(err))
	assert.Equal(t, PhaseIdle, h.m.Phase())
	noEvent(t, h.sub)

	h.radio.BeginError = nil
	h.start(TechSetTag, SessionOptions{})
}

func TestManager_NoRadio(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	_, err := m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	assert.True(t, IsHardwareUnavailableError(err))
	assert.Equal(t, RadioKindNone, m.RadioStatus().Name)
}

func TestManager_CancelSession(t *testing.T) {
	h := newHarness(t)
	h.connect()

	p := h.issue(OpTransceive, []byte{0x30, 0x04})
	require.NoError(t, h.m.CancelSession(context.Background()))
	assert.Equal(t, ErrCodeCancelled, h.next(EventCommandCompleted).Command.Err.Code)
	assert.Equal(t, EndCancelled, h.next(EventSessionEnded).Reason)
	assert.Equal(t, PhaseIdle, h.m.Phase())
	_, err := waitResult(t, p)
	assert.True(t, IsCancelledError(err))

	err = h.m.CancelSession(context.Background())
	assert.Equal(t, ErrCodeNoActiveSession, GetErrorCode(err))
}

func TestManager_CancelWinsOverQueuedCallbacks(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{})

	release := make(chan struct{})
	h.m.strand.Post(func() { <-release })
	require.True(t, h.radio.Detect(ntagTag()))

	done := make(chan error, 1)
	go func() { done <- h.m.CancelSession(context.Background()) }()
	require.Eventually(t, func() bool {
		s := h.m.current.Load()
		return s != nil && s.cancelled.Load()
	}, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, EndCancelled, h.next(EventSessionEnded).Reason)
	noEvent(t, h.sub)
	assert.NotContains(t, h.phases(), PhaseTagConnected)
}

func TestManager_StaleGenerationDropped(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{})
	old := h.radio.Delegate()
	require.NoError(t, h.m.CancelSession(context.Background()))
	h.next(EventSessionEnded)

	h.start(TechSetTag, SessionOptions{})
	old.TagDetected(ntagTag())
	old.RadioError(errors.New("late"))
	h.sync()

	assert.Equal(t, PhasePolling, h.m.Phase())
	noEvent(t, h.sub)
}

func TestManager_CommandIDsUniqueAcrossSessions(t *testing.T) {
	h := newHarness(t)
	h.connect()
	first := h.issue(OpTransceive, []byte{0x30})
	require.NoError(t, h.m.CancelSession(context.Background()))
	h.next(EventCommandCompleted)
	h.next(EventSessionEnded)

	h.connect()
	second := h.issue(OpTransceive, []byte{0x30})
	assert.Greater(t, second.ID(), first.ID())
}

func TestManager_InvalidateAfterFirstRead(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetNDEF, SessionOptions{InvalidateAfterFirstRead: true})
	assert.True(t, h.radio.Request().InvalidateAfterFirstRead)

	tag := ntagTag()
	tag.Kind = TechNdef
	tag.Ndef = helloRecord
	require.True(t, h.radio.Detect(tag))

	ev := h.next(EventTagDiscovered)
	assert.Equal(t, helloRecord, ev.Tag.Ndef)
	assert.Equal(t, EndFirstRead, h.next(EventSessionEnded).Reason)
	h.sync()
	assert.Equal(t, PhaseIdle, h.m.Phase())
}

func TestManager_RadioInvalidation(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetNDEF, SessionOptions{})

	require.True(t, h.radio.Invalidate(NewCancelledError("scan", nil)))
	assert.Equal(t, EndCancelled, h.next(EventSessionEnded).Reason)

	h.start(TechSetNDEF, SessionOptions{})
	require.True(t, h.radio.Invalidate(errors.New("sheet dismissed")))
	h.next(EventError)
	assert.Equal(t, EndInvalidated, h.next(EventSessionEnded).Reason)
}

func TestManager_TechFilter(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{Techs: []TechKind{TechIsoDep}})

	require.True(t, h.radio.Detect(ntagTag()))
	h.sync()
	assert.Equal(t, PhasePolling, h.m.Phase())
	noEvent(t, h.sub)

	caps, techs := InferCapabilities(CardTypeType4)
	require.True(t, h.radio.Detect(RawTag{UID: testUID, Kind: TechIsoDep, TechTypes: techs, Capabilities: caps}))
	assert.Equal(t, TechIsoDep, h.next(EventTagDiscovered).Tag.Kind)
}

func TestManager_SecondTagIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.connect()

	other := ntagTag()
	other.UID = []byte{0x01, 0x02, 0x03, 0x04}
	require.True(t, h.radio.Detect(other))
	h.sync()
	noEvent(t, h.sub)

	tag, err := h.m.Tag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.UID, tag.UID)
}

func TestManager_PollTimeout(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{PollTimeout: time.Minute})

	h.clock.Advance(time.Minute)
	assert.Equal(t, EndTimeout, h.next(EventSessionEnded).Reason)
	h.sync()
	assert.Equal(t, PhaseIdle, h.m.Phase())
}

func TestManager_PollTimeoutIgnoredOnceConnected(t *testing.T) {
	h := newHarness(t)
	h.start(TechSetTag, SessionOptions{PollTimeout: time.Minute})
	require.True(t, h.radio.Detect(ntagTag()))
	h.next(EventTagDiscovered)

	h.clock.Advance(time.Minute)
	h.sync()
	noEvent(t, h.sub)
	assert.Equal(t, PhaseTagConnected, h.m.Phase())
}

func TestManager_WaitsForRadioActivation(t *testing.T) {
	h := newHarness(t)
	h.radio.ReportsActive = true
	m := NewManager(Options{Radio: h.radio, Clock: h.clock})
	defer m.Close()
	sub := m.Subscribe(Unbounded())

	_, err := m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	require.NoError(t, err)
	noEvent(t, sub)

	require.True(t, h.radio.Activate())
	assert.Equal(t, EventSessionStarted, recv(t, sub).Kind)
	require.True(t, h.radio.Activate())
	require.True(t, h.radio.Detect(ntagTag()))
	assert.Equal(t, EventTagDiscovered, recv(t, sub).Kind)
}

func TestManager_RadioSwitchedOff(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.radio.SetState(RadioOff)
	assert.Equal(t, RadioOff, h.next(EventRadioStateChanged).RadioState)
	assert.True(t, IsHardwareUnavailableError(h.next(EventError).Err))
	assert.Equal(t, EndRadioError, h.next(EventSessionEnded).Reason)

	h.sync()
	_, err := h.m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	assert.True(t, IsHardwareUnavailableError(err))

	h.radio.SetState(RadioOn)
	assert.Equal(t, RadioOn, h.next(EventRadioStateChanged).RadioState)
	h.sync()
	h.start(TechSetTag, SessionOptions{})
}

func TestManager_SetAlertMessage(t *testing.T) {
	h := newHarness(t)
	err := h.m.SetAlertMessage(context.Background(), "hold near reader")
	assert.Equal(t, ErrCodeNoActiveSession, GetErrorCode(err))

	h.start(TechSetNDEF, SessionOptions{AlertMessage: "scan a tag"})
	assert.Equal(t, "scan a tag", h.radio.AlertMessage())
	require.NoError(t, h.m.SetAlertMessage(context.Background(), "hold near reader"))
	assert.Equal(t, "hold near reader", h.radio.AlertMessage())
}

func TestManager_ExecuteAndClose(t *testing.T) {
	h := newHarness(t)
	h.radio.Responder = func(_ TagRef, f Frame) ([]byte, error) {
		return append([]byte{0xAA}, f.Data...), nil
	}
	h.connect()

	res, err := h.m.Execute(context.Background(), OpTransceive, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x01}, res.Data)

	h.radio.Responder = nil
	p := h.issue(OpTransceive, []byte{0x02})
	require.NoError(t, h.m.Close())
	_, err = waitResult(t, p)
	assert.True(t, IsCancelledError(err))

	_, err = h.m.StartSession(context.Background(), TechSetTag, SessionOptions{})
	assert.True(t, IsHardwareUnavailableError(err))
}
