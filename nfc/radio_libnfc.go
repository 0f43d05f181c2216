package nfc

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LibnfcOptions configures a LibnfcRadio.
type LibnfcOptions struct {
	// Device is the libnfc connection string. Empty picks the first reader.
	Device string
	// Open replaces OpenDevice, mainly for tests.
	Open   func(conn string) (Device, error)
	Clock  Clock
	Logger logrus.FieldLogger
	// PresenceInterval is the polling and presence check period.
	PresenceInterval time.Duration
	// MaxPollErrors is how many consecutive listing failures end a session
	// with a radio error.
	MaxPollErrors int
}

// LibnfcRadio drives a USB reader through libnfc. One goroutine per
// session owns the device: it lists targets until one connects, runs
// submitted frames and checks that the tag is still present on idle ticks.
type LibnfcRadio struct {
	opts  LibnfcOptions
	clock Clock
	log   logrus.FieldLogger

	mu    sync.Mutex
	dev   Device
	run   *pollRun
	last  chan struct{}
	alert string
}

type pollRun struct {
	req    PollRequest
	d      Delegate
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan radioJob
	done   chan struct{}
}

type radioJob struct {
	tag   TagRef
	id    uint64
	frame Frame
}

// connectedTag is the loop's view of the selected target.
type connectedTag struct {
	target   Target
	type4    bool
	dataSize int
}

// NewLibnfcRadio returns a radio that opens its device lazily.
func NewLibnfcRadio(opts LibnfcOptions) *LibnfcRadio {
	if opts.Open == nil {
		opts.Open = OpenDevice
	}
	if opts.Clock == nil {
		opts.Clock = NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = DefaultPresenceInterval
	}
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = 3
	}
	return &LibnfcRadio{
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger.WithField("radio", RadioKindLibnfc),
	}
}

func (r *LibnfcRadio) device() (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := r.opts.Open(r.opts.Device)
	if err != nil {
		return nil, err
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, err
	}
	r.log.WithField("device", dev.String()).Info("nfc device opened")
	r.dev = dev
	return dev, nil
}

func (r *LibnfcRadio) dropDevice(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == dev {
		r.dev = nil
		if err := dev.Close(); err != nil {
			r.log.WithError(err).Debug("close device")
		}
	}
}

// Status opens the device if needed; a reader that cannot be opened is
// reported as disabled.
func (r *LibnfcRadio) Status() RadioStatus {
	_, err := r.device()
	if err != nil {
		r.log.WithError(err).Debug("device unavailable")
	}
	return RadioStatus{Name: RadioKindLibnfc, Supported: true, Enabled: err == nil}
}

func (r *LibnfcRadio) ReportsSessionActive() bool { return true }

func (r *LibnfcRadio) BeginPolling(ctx context.Context, req PollRequest, d Delegate) error {
	dev, err := r.device()
	if err != nil {
		return NewHardwareUnavailableError("BeginPolling", err)
	}

	r.mu.Lock()
	if r.run != nil {
		r.run.cancel()
	}
	prev := r.last
	runCtx, cancel := context.WithCancel(ctx)
	run := &pollRun{
		req:    req,
		d:      d,
		ctx:    runCtx,
		cancel: cancel,
		jobs:   make(chan radioJob, 1),
		done:   make(chan struct{}),
	}
	r.run = run
	r.last = run.done
	r.alert = req.AlertMessage
	r.mu.Unlock()

	go r.loop(dev, run, prev)
	return nil
}

func (r *LibnfcRadio) EndPolling() error {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()
	if run != nil {
		run.cancel()
	}
	return nil
}

func (r *LibnfcRadio) Submit(tag TagRef, id uint64, frame Frame) error {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return NewNotConnectedError("Submit")
	}
	select {
	case run.jobs <- radioJob{tag: tag, id: id, frame: frame}:
		return nil
	default:
		return NewBusyError("Submit")
	}
}

// SetAlertMessage is kept for the session; USB readers have no prompt.
func (r *LibnfcRadio) SetAlertMessage(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alert = msg
	return nil
}

// Close stops polling and releases the device.
func (r *LibnfcRadio) Close() error {
	r.EndPolling()
	r.mu.Lock()
	last, dev := r.last, r.dev
	r.dev = nil
	r.mu.Unlock()
	if last != nil {
		<-last
	}
	if dev != nil {
		return dev.Close()
	}
	return nil
}

func (r *LibnfcRadio) loop(dev Device, run *pollRun, prev chan struct{}) {
	defer close(run.done)
	if prev != nil {
		<-prev
	}
	log := r.log.WithField("session", run.req.Session)
	run.d.SessionActive()

	ticker := r.clock.NewTicker(r.opts.PresenceInterval)
	defer ticker.Stop()

	var tag *connectedTag
	failures := 0
	lost := false
	busy := false
	for {
		select {
		case <-run.ctx.Done():
			return

		case job := <-run.jobs:
			busy = true
			if tag == nil || !bytes.Equal(tag.target.UID, job.tag.UID) {
				run.d.CommandCompleted(job.id, nil, NewNotConnectedError("Submit"))
				continue
			}
			resp, err := r.execute(dev, tag, job.frame)
			if err != nil {
				log.WithError(err).WithField("seq", job.id).Debug("frame failed")
			}
			run.d.CommandCompleted(job.id, resp, err)

		case <-ticker.C():
			switch {
			case lost:
			case tag == nil:
				targets, err := dev.Targets()
				if err != nil {
					failures++
					log.WithError(err).WithField("failures", failures).Warn("listing targets failed")
					if failures >= r.opts.MaxPollErrors {
						r.dropDevice(dev)
						run.d.RadioError(NewHardwareUnavailableError("poll", err))
						return
					}
					continue
				}
				failures = 0
				for _, t := range targets {
					ct, raw, err := r.connect(dev, run.req, t)
					if err != nil {
						log.WithError(err).WithField("uid", t.UIDHex()).Debug("target not usable")
						continue
					}
					tag = ct
					run.d.TagDetected(raw)
					break
				}
			case busy:
				// A command ran since the last tick; the tag answered.
				busy = false
			default:
				if err := dev.Select(tag.target.UID); err != nil {
					log.WithField("uid", tag.target.UIDHex()).Info("tag left the field")
					tag = nil
					lost = true
					run.d.TagLost()
				}
			}
		}
	}
}

// connect selects a target and works out what it can do. NDEF sessions
// read the message during discovery.
func (r *LibnfcRadio) connect(dev Device, req PollRequest, t Target) (*connectedTag, RawTag, error) {
	if err := dev.Select(t.UID); err != nil {
		return nil, RawTag{}, err
	}
	caps, techs := InferCapabilities(t.Family)
	ct := &connectedTag{target: t}
	for _, k := range techs {
		if k == TechIsoDep {
			ct.type4 = true
		}
	}
	tx := Transceiver(dev.Transceive)

	switch {
	case caps.Supports(OpUltralightReadPages) && caps.Supports(OpNdefRead):
		cc, size, err := type2CC(tx, "discover")
		switch {
		case GetErrorCode(err) == ErrCodeTagRejected:
			caps = caps.WithFormatable()
			techs = append(techs, TechNdefFormatable)
		case err != nil:
			return nil, RawTag{}, err
		default:
			ct.dataSize = size
			caps.MaxNdefSize = ndefCapacity(size)
			caps.Writable = cc[3]&0x0F == 0
			caps.CanMakeReadOnly = caps.Writable
		}

	case ct.type4 && caps.Supports(OpNdefRead):
		capability, err := type4Select(tx, "discover")
		if err != nil {
			caps = withoutNdef(caps)
			break
		}
		if capability.MaxFileSize > 2 {
			caps.MaxNdefSize = int(capability.MaxFileSize) - 2
		}
		caps.Writable = !capability.ReadOnly
		caps.CanMakeReadOnly = caps.Writable
	}

	raw := RawTag{UID: t.UID, Kind: techs[0], TechTypes: techs, Capabilities: caps}
	if req.Techs == TechSetNDEF && caps.Supports(OpNdefRead) {
		msg, err := r.readNdef(tx, ct)
		if err != nil {
			return nil, RawTag{}, err
		}
		raw.Kind = TechNdef
		raw.Ndef = msg
	}
	return ct, raw, nil
}

func (r *LibnfcRadio) readNdef(tx Transceiver, ct *connectedTag) ([]byte, error) {
	if ct.type4 {
		return Type4ReadNDEF(tx)
	}
	return Type2ReadNDEF(tx)
}

func (r *LibnfcRadio) execute(dev Device, ct *connectedTag, f Frame) ([]byte, error) {
	tx := Transceiver(dev.Transceive)
	switch f.Kind {
	case FrameRaw:
		return dev.Transceive(f.Data)
	case FrameNdefRead:
		return r.readNdef(tx, ct)
	case FrameNdefWrite:
		if ct.type4 {
			return nil, Type4WriteNDEF(tx, f.Data)
		}
		return nil, Type2WriteNDEF(tx, f.Data)
	case FrameNdefMakeReadOnly:
		if ct.type4 {
			return nil, Type4MakeReadOnly(tx)
		}
		return nil, Type2MakeReadOnly(tx)
	case FrameNdefFormat, FrameNdefFormatReadOnly:
		if ct.type4 {
			return nil, NewTagRejectedError("NdefFormat", "formatting Type 4 tags is not supported")
		}
		err := Type2Format(tx, f.Data, ct.dataSize, f.Kind == FrameNdefFormatReadOnly)
		if err == nil && ct.dataSize == 0 {
			ct.dataSize = type2DefaultDataSize
		}
		return nil, err
	}
	return nil, NewTagRejectedError("Submit", "unknown frame kind %s", f.Kind)
}

// ndefCapacity is the largest message that fits a TLV area of size bytes.
func ndefCapacity(size int) int {
	n := size - 3
	if n >= 0xFF {
		n = size - 5
	}
	if n < 0 {
		return 0
	}
	return n
}

func withoutNdef(caps Capabilities) Capabilities {
	out := caps
	out.Opcodes = nil
	for _, op := range caps.Opcodes {
		switch op {
		case OpNdefRead, OpNdefWrite, OpNdefMakeReadOnly, OpNdefStatus:
			continue
		}
		out.Opcodes = append(out.Opcodes, op)
	}
	out.MaxNdefSize = 0
	return out
}
