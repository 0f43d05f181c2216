// Package phoneradio lets a phone app act as the bridge NFC radio. The
// phone connects to /ws?mode=radio, registers, and from then on receives
// polling and submit requests and reports tags and command results back.
package phoneradio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Options configures a Radio.
type Options struct {
	Logger logrus.FieldLogger
	Clock  nfc.Clock
	// InactivityTimeout unregisters phones that stopped sending heartbeats.
	InactivityTimeout time.Duration
}

// pollRun is the session a phone is currently polling for.
type pollRun struct {
	req      nfc.PollRequest
	delegate nfc.Delegate
	device   *Device
	tag      []byte
}

// Radio implements nfc.Radio on top of registered phones. The most
// recently registered phone serves new sessions.
type Radio struct {
	log     logrus.FieldLogger
	clock   nfc.Clock
	timeout time.Duration

	mu      sync.Mutex
	devices map[string]*Device
	order   []string
	poll    *pollRun
	alert   string
	onState func(nfc.RadioState)
	// onActivity receives tags that launched or resumed a phone app.
	onActivity func(nfc.Activity)

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

var (
	_ nfc.Radio              = (*Radio)(nil)
	_ nfc.ActiveReporter     = (*Radio)(nil)
	_ nfc.RadioStateNotifier = (*Radio)(nil)
)

// New creates a phone radio and starts its inactivity cleanup routine.
func New(opts Options) *Radio {
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = l
	}
	if opts.Clock == nil {
		opts.Clock = nfc.NewRealClock()
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DeviceTimeout
	}
	r := &Radio{
		log:         opts.Logger.WithField("radio", nfc.RadioKindPhone),
		clock:       opts.Clock,
		timeout:     opts.InactivityTimeout,
		devices:     make(map[string]*Device),
		stopCleanup: make(chan struct{}),
	}
	r.startCleanupRoutine()
	return r
}

// Register adds a phone and makes it the radio for the next session.
func (r *Radio) Register(req protocol.DeviceRegistrationRequest, sender Sender) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if !supportedPlatforms[req.Platform] {
		return nil, fmt.Errorf("invalid platform: %s (must be 'ios' or 'android')", req.Platform)
	}

	dev := newDevice(uuid.New().String(), req, sender, r.clock.Now())

	r.mu.Lock()
	before := r.stateLocked()
	r.devices[dev.id] = dev
	r.order = append(r.order, dev.id)
	after := r.stateLocked()
	notify := r.onState
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"device":   dev.id,
		"platform": req.Platform,
		"app":      req.AppVersion,
	}).Infof("device registered: %s", dev.name)
	if notify != nil && before != after {
		notify(after)
	}
	return dev, nil
}

// Unregister removes a phone. A session polled by it ends with a radio
// error.
func (r *Radio) Unregister(deviceID string) error {
	r.mu.Lock()
	dev, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("device not found: %s", deviceID)
	}
	before := r.stateLocked()
	delete(r.devices, deviceID)
	for i, id := range r.order {
		if id == deviceID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	var lost nfc.Delegate
	if r.poll != nil && r.poll.device == dev {
		lost = r.poll.delegate
		r.poll = nil
	}
	after := r.stateLocked()
	notify := r.onState
	r.mu.Unlock()

	if err := dev.close(); err != nil {
		r.log.WithError(err).WithField("device", deviceID).Debug("closing device")
	}
	r.log.WithField("device", deviceID).Infof("device unregistered: %s", dev.name)

	if lost != nil {
		lost.RadioError(nfc.NewHardwareUnavailableError("phone", errors.New("device disconnected")))
	}
	if notify != nil && before != after {
		notify(after)
	}
	return nil
}

// Device retrieves a device by ID.
func (r *Radio) Device(deviceID string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[deviceID]
	return dev, ok
}

// Devices lists registered phones ordered by name.
func (r *Radio) Devices() []*Device {
	r.mu.Lock()
	out := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Heartbeat updates a device's last-seen timestamp.
func (r *Radio) Heartbeat(deviceID string) error {
	dev, ok := r.Device(deviceID)
	if !ok {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	dev.touch(r.clock.Now())
	return nil
}

// Close unregisters every phone and stops the cleanup routine.
func (r *Radio) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCleanup)
		for _, dev := range r.Devices() {
			_ = r.Unregister(dev.id)
		}
	})
	return nil
}

// currentLocked returns the phone serving sessions. Callers hold r.mu.
func (r *Radio) currentLocked() *Device {
	if len(r.order) == 0 {
		return nil
	}
	return r.devices[r.order[len(r.order)-1]]
}

func (r *Radio) stateLocked() nfc.RadioState {
	dev := r.currentLocked()
	if dev == nil {
		return nfc.RadioOff
	}
	return dev.State()
}

func (r *Radio) Status() nfc.RadioStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev := r.currentLocked()
	return nfc.RadioStatus{
		Name:      nfc.RadioKindPhone,
		Supported: dev != nil,
		Enabled:   dev != nil && dev.State() == nfc.RadioOn,
	}
}

// ReportsSessionActive is true: a phone confirms its reader session with a
// sessionActive message.
func (r *Radio) ReportsSessionActive() bool { return true }

func (r *Radio) OnStateChange(fn func(nfc.RadioState)) {
	r.mu.Lock()
	r.onState = fn
	r.mu.Unlock()
}

// OnActivity sets the receiver of phone activities. Without one, activity
// reports are rejected.
func (r *Radio) OnActivity(fn func(nfc.Activity)) {
	r.mu.Lock()
	r.onActivity = fn
	r.mu.Unlock()
}

func (r *Radio) BeginPolling(ctx context.Context, req nfc.PollRequest, d nfc.Delegate) error {
	const op = "BeginPolling"
	r.mu.Lock()
	dev := r.currentLocked()
	if dev == nil {
		r.mu.Unlock()
		return nfc.NewHardwareUnavailableError(op, errors.New("no phone registered"))
	}
	if req.AlertMessage == "" {
		req.AlertMessage = r.alert
	}
	r.poll = &pollRun{req: req, delegate: d, device: dev}
	r.mu.Unlock()

	filter := make([]string, len(req.Filter))
	for i, k := range req.Filter {
		filter[i] = string(k)
	}
	err := dev.send(protocol.DeviceBeginPolling, protocol.BeginPollingPayload{
		Session:                  req.Session,
		Techs:                    string(req.Techs),
		TechFilter:               filter,
		AlertMessage:             req.AlertMessage,
		InvalidateAfterFirstRead: req.InvalidateAfterFirstRead,
	})
	if err != nil {
		r.mu.Lock()
		r.poll = nil
		r.mu.Unlock()
		return nfc.NewHardwareUnavailableError(op, err)
	}
	r.log.WithFields(logrus.Fields{"device": dev.id, "session": req.Session}).Debug("polling started")
	return nil
}

func (r *Radio) EndPolling() error {
	r.mu.Lock()
	run := r.poll
	r.poll = nil
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.device.send(protocol.DeviceEndPolling, protocol.EndPollingPayload{Session: run.req.Session})
}

func (r *Radio) Submit(tag nfc.TagRef, id uint64, frame nfc.Frame) error {
	const op = "Submit"
	r.mu.Lock()
	run := r.poll
	connected := run != nil && run.tag != nil
	r.mu.Unlock()
	if !connected {
		return nfc.NewNotConnectedError(op)
	}
	err := run.device.send(protocol.DeviceSubmit, protocol.SubmitPayload{
		Session: run.req.Session,
		Seq:     id,
		UID:     protocol.FormatUID(tag.UID),
		Frame:   frame.Kind.String(),
		Data:    frame.Data,
	})
	if err != nil {
		return nfc.NewTransceiveError(op, err)
	}
	return nil
}

// SetAlertMessage updates the scan prompt of a running session and is used
// as the default prompt for later ones.
func (r *Radio) SetAlertMessage(msg string) error {
	r.mu.Lock()
	r.alert = msg
	run := r.poll
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.device.send(protocol.DeviceSetAlertMessage, protocol.AlertMessagePayload{Message: msg})
}

// run returns the poll run a session notification from dev refers to, or
// nil when it is stale.
func (r *Radio) run(dev *Device, session string) *pollRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poll == nil || r.poll.device != dev || r.poll.req.Session != session {
		return nil
	}
	return r.poll
}

func (r *Radio) sessionActive(dev *Device, p protocol.DeviceSessionPayload) {
	if run := r.run(dev, p.Session); run != nil {
		run.delegate.SessionActive()
	}
}

func (r *Radio) tagScanned(dev *Device, data protocol.DeviceTagData) error {
	run := r.run(dev, data.Session)
	if run == nil {
		return fmt.Errorf("no session %q polling on device %s", data.Session, dev.id)
	}
	raw, err := ConvertTagData(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	run.tag = raw.UID
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"device": dev.id, "uid": protocol.FormatUIDColon(raw.UID)}).Debug("tag scanned")
	run.delegate.TagDetected(raw)
	return nil
}

func (r *Radio) tagRemoved(dev *Device, data protocol.DeviceTagRemovedData) {
	run := r.run(dev, data.Session)
	if run == nil {
		return
	}
	r.mu.Lock()
	run.tag = nil
	r.mu.Unlock()
	run.delegate.TagLost()
}

func (r *Radio) commandResult(dev *Device, res protocol.DeviceCommandResultData) {
	if run := r.run(dev, res.Session); run != nil {
		run.delegate.CommandCompleted(res.Seq, res.Data, ErrorFromInfo("command", res.Error))
	}
}

func (r *Radio) sessionInvalidated(dev *Device, p protocol.DeviceSessionPayload) {
	run := r.run(dev, p.Session)
	if run == nil {
		return
	}
	r.mu.Lock()
	if r.poll == run {
		r.poll = nil
	}
	r.mu.Unlock()
	run.delegate.SessionInvalidated(ErrorFromInfo("session", p.Error))
}

func (r *Radio) activity(dev *Device, p protocol.DeviceActivityPayload) error {
	r.mu.Lock()
	fn := r.onActivity
	r.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("activity continuation not supported")
	}
	raw, err := ConvertTagData(p.Tag)
	if err != nil {
		return err
	}
	techs, err := nfc.ParseTechSet(p.Techs)
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"device": dev.id, "uid": protocol.FormatUIDColon(raw.UID), "resume": p.Resume}).Info("phone activity continued")
	fn(nfc.Activity{
		Tag:     &raw,
		Launch:  p.Launch,
		Resume:  p.Resume,
		Techs:   techs,
		Options: nfc.SessionOptions{AlertMessage: p.AlertMessage},
	})
	return nil
}

func (r *Radio) radioState(dev *Device, st nfc.RadioState) {
	if !dev.setState(st) {
		return
	}
	r.mu.Lock()
	current := r.currentLocked() == dev
	notify := r.onState
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"device": dev.id, "state": st}).Info("phone radio state changed")
	if current && notify != nil {
		notify(st)
	}
}

// startCleanupRoutine starts a background goroutine to cleanup inactive devices.
func (r *Radio) startCleanupRoutine() {
	ticker := r.clock.NewTicker(CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				r.cleanupInactiveDevices()
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded inactivity timeout.
func (r *Radio) cleanupInactiveDevices() {
	now := r.clock.Now()
	for _, dev := range r.Devices() {
		if since := now.Sub(dev.LastSeen()); since > r.timeout {
			r.log.WithField("device", dev.id).Infof("cleaning up inactive device (last seen %v ago)", since)
			_ = r.Unregister(dev.id)
		}
	}
}
