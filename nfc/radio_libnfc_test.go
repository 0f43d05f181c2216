package nfc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPresence = 100 * time.Millisecond

type delegateEvent struct {
	kind string
	tag  RawTag
	id   uint64
	resp []byte
	err  error
}

// chanDelegate records radio callbacks in arrival order.
type chanDelegate chan delegateEvent

func (d chanDelegate) SessionActive()         { d <- delegateEvent{kind: "active"} }
func (d chanDelegate) TagDetected(tag RawTag) { d <- delegateEvent{kind: "tag", tag: tag} }
func (d chanDelegate) TagLost()               { d <- delegateEvent{kind: "lost"} }
func (d chanDelegate) CommandCompleted(id uint64, resp []byte, err error) {
	d <- delegateEvent{kind: "completed", id: id, resp: resp, err: err}
}
func (d chanDelegate) SessionInvalidated(err error) { d <- delegateEvent{kind: "invalidated", err: err} }
func (d chanDelegate) RadioError(err error)         { d <- delegateEvent{kind: "radioError", err: err} }

type libnfcFixture struct {
	t     *testing.T
	dev   *MockDevice
	clock *FakeClock
	radio *LibnfcRadio
	d     chanDelegate
}

func newLibnfcFixture(t *testing.T) *libnfcFixture {
	f := &libnfcFixture{
		t:     t,
		dev:   NewMockDevice(),
		clock: NewFakeClock(epoch),
		d:     make(chanDelegate, 64),
	}
	f.radio = NewLibnfcRadio(LibnfcOptions{
		Open:             func(string) (Device, error) { return f.dev, nil },
		Clock:            f.clock,
		PresenceInterval: testPresence,
	})
	t.Cleanup(func() { f.radio.Close() })
	return f
}

func (f *libnfcFixture) begin(techs TechSet) {
	f.t.Helper()
	require.NoError(f.t, f.radio.BeginPolling(context.Background(), PollRequest{Session: "s1", Techs: techs}, f.d))
	f.await("active")
}

// await advances the clock one presence interval at a time until the
// delegate reports kind.
func (f *libnfcFixture) await(kind string) delegateEvent {
	f.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-f.d:
			require.Equal(f.t, kind, ev.kind, "unexpected callback")
			return ev
		case <-time.After(2 * time.Millisecond):
			f.clock.Advance(testPresence)
		}
	}
	f.t.Fatalf("no %s callback", kind)
	return delegateEvent{}
}

func (f *libnfcFixture) submit(id uint64, frame Frame) delegateEvent {
	f.t.Helper()
	require.NoError(f.t, f.radio.Submit(TagRef{UID: testUID}, id, frame))
	ev := f.await("completed")
	require.Equal(f.t, id, ev.id)
	return ev
}

func (f *libnfcFixture) addType2(dataSize int, formatted bool) *MockType2Tag {
	tag := NewMockType2Tag(dataSize, formatted)
	f.dev.AddTag(Target{UID: testUID, Family: CardTypeNtag213, Sak: 0x00})
	f.dev.TransceiveFunc = tag.Transceive
	return tag
}

func TestLibnfcRadio_Status(t *testing.T) {
	f := newLibnfcFixture(t)
	st := f.radio.Status()
	assert.True(t, st.Supported)
	assert.True(t, st.Enabled)
	assert.Equal(t, RadioKindLibnfc, st.Name)
	assert.Contains(t, f.dev.GetCallLog(), "InitiatorInit")

	broken := NewLibnfcRadio(LibnfcOptions{
		Open: func(string) (Device, error) { return nil, errors.New("no reader") },
	})
	assert.False(t, broken.Status().Enabled)
	err := broken.BeginPolling(context.Background(), PollRequest{}, make(chanDelegate, 1))
	assert.True(t, IsHardwareUnavailableError(err))
	assert.True(t, IsNotConnectedError(broken.Submit(TagRef{}, 1, Frame{})))
}

func TestLibnfcRadio_NdefDiscovery(t *testing.T) {
	f := newLibnfcFixture(t)
	tag := f.addType2(144, true)
	require.NoError(t, Type2WriteNDEF(tag.Transceive, helloRecord))

	f.begin(TechSetNDEF)
	ev := f.await("tag")
	assert.Equal(t, testUID, ev.tag.UID)
	assert.Equal(t, TechNdef, ev.tag.Kind)
	assert.Equal(t, helloRecord, ev.tag.Ndef)
	assert.Equal(t, 141, ev.tag.Capabilities.MaxNdefSize)
	assert.True(t, ev.tag.Capabilities.Writable)
	assert.True(t, ev.tag.HasTech(TechMifareUltralight))
}

func TestLibnfcRadio_NdefWriteAndRead(t *testing.T) {
	f := newLibnfcFixture(t)
	f.addType2(144, true)
	f.begin(TechSetTag)
	ev := f.await("tag")
	assert.Empty(t, ev.tag.Ndef)

	msg := []byte{0xD1, 0x01, 0x01, 0x54, 0x00}
	assert.NoError(t, f.submit(1, Frame{Kind: FrameNdefWrite, Data: msg}).err)

	read := f.submit(2, Frame{Kind: FrameNdefRead})
	require.NoError(t, read.err)
	assert.Equal(t, msg, read.resp)
}

func TestLibnfcRadio_RawTransceive(t *testing.T) {
	f := newLibnfcFixture(t)
	tag := f.addType2(144, true)
	f.begin(TechSetTag)
	f.await("tag")

	ev := f.submit(7, Frame{Kind: FrameRaw, Data: []byte{cmdRead, 3}})
	require.NoError(t, ev.err)
	assert.Equal(t, tag.Memory()[12:28], ev.resp)
}

func TestLibnfcRadio_SubmitForOtherTag(t *testing.T) {
	f := newLibnfcFixture(t)
	f.addType2(144, true)
	f.begin(TechSetTag)
	f.await("tag")

	require.NoError(t, f.radio.Submit(TagRef{UID: []byte{0x01}}, 3, Frame{Kind: FrameNdefRead}))
	ev := f.await("completed")
	assert.True(t, IsNotConnectedError(ev.err))
}

func TestLibnfcRadio_TagLost(t *testing.T) {
	f := newLibnfcFixture(t)
	f.addType2(144, true)
	f.begin(TechSetTag)
	f.await("tag")

	f.dev.ClearTags()
	f.await("lost")

	// The session is over for this radio run even if the tag returns.
	f.dev.AddTag(Target{UID: testUID, Family: CardTypeNtag213})
	for i := 0; i < 5; i++ {
		f.clock.Advance(testPresence)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.d)
}

func TestLibnfcRadio_FormatUnformattedTag(t *testing.T) {
	f := newLibnfcFixture(t)
	f.addType2(48, false)
	f.begin(TechSetTag)

	ev := f.await("tag")
	caps := ev.tag.Capabilities
	assert.True(t, ev.tag.HasTech(TechNdefFormatable))
	assert.True(t, caps.Supports(OpNdefFormat))
	assert.False(t, caps.Supports(OpNdefRead))

	assert.NoError(t, f.submit(1, Frame{Kind: FrameNdefFormat, Data: helloRecord}).err)
	read := f.submit(2, Frame{Kind: FrameNdefRead})
	require.NoError(t, read.err)
	assert.Equal(t, helloRecord, read.resp)
}

func TestLibnfcRadio_Type4(t *testing.T) {
	f := newLibnfcFixture(t)
	tag := NewMockType4Tag(512, 64, 64)
	tag.SetMessage(helloRecord)
	f.dev.AddTag(Target{UID: testUID, Family: CardTypeType4, Sak: 0x20})
	f.dev.TransceiveFunc = tag.Transceive

	f.begin(TechSetNDEF)
	ev := f.await("tag")
	assert.Equal(t, helloRecord, ev.tag.Ndef)
	assert.Equal(t, 510, ev.tag.Capabilities.MaxNdefSize)
	assert.True(t, ev.tag.HasTech(TechIsoDep))

	assert.NoError(t, f.submit(1, Frame{Kind: FrameNdefMakeReadOnly}).err)
	assert.True(t, tag.ReadOnly())

	format := f.submit(2, Frame{Kind: FrameNdefFormat})
	assert.Equal(t, ErrCodeTagRejected, GetErrorCode(format.err))
}

func TestLibnfcRadio_ListingFailuresEndWithRadioError(t *testing.T) {
	f := newLibnfcFixture(t)
	f.dev.mu.Lock()
	f.dev.TargetsError = errors.New("usb timeout")
	f.dev.mu.Unlock()

	f.begin(TechSetTag)
	ev := f.await("radioError")
	assert.True(t, IsHardwareUnavailableError(ev.err))
	assert.Contains(t, f.dev.GetCallLog(), "Close")
}

func TestLibnfcRadio_EndPollingStopsLoop(t *testing.T) {
	f := newLibnfcFixture(t)
	f.begin(TechSetTag)
	require.NoError(t, f.radio.EndPolling())
	assert.True(t, IsNotConnectedError(f.radio.Submit(TagRef{UID: testUID}, 1, Frame{})))

	// A new run waits for the previous one before reporting activity.
	f.begin(TechSetNDEF)
	require.NoError(t, f.radio.Close())
	assert.Contains(t, f.dev.GetCallLog(), "Close")
}

func TestLibnfcRadio_WithManager(t *testing.T) {
	f := newLibnfcFixture(t)
	f.addType2(144, true)
	m := NewManager(Options{Radio: f.radio, Clock: f.clock})
	defer m.Close()
	sub := m.Subscribe(Unbounded())

	_, err := m.StartSession(context.Background(), TechSetNDEF, SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, EventSessionStarted, recv(t, sub).Kind)

	var discovered Event
	require.Eventually(t, func() bool {
		f.clock.Advance(testPresence)
		select {
		case discovered = <-sub.C:
			return true
		default:
			return false
		}
	}, 3*time.Second, 2*time.Millisecond)
	assert.Equal(t, EventTagDiscovered, discovered.Kind)

	_, err = m.Execute(context.Background(), OpNdefWrite, helloRecord)
	require.NoError(t, err)
	res, err := m.Execute(context.Background(), OpNdefRead, nil)
	require.NoError(t, err)
	assert.Equal(t, helloRecord, res.Data)

	f.dev.ClearTags()
	require.Eventually(t, func() bool {
		f.clock.Advance(testPresence)
		return m.Phase() == PhaseIdle
	}, 3*time.Second, 2*time.Millisecond)
}
